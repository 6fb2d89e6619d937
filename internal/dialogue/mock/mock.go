// Package mock provides a test double for [dialogue.Responder].
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/charlie/internal/dialogue"
)

// Responder is a mock [dialogue.Responder].
type Responder struct {
	mu sync.Mutex

	// Reply is returned by Respond when Err is nil. May be nil.
	Reply *dialogue.Reply

	// Err, if non-nil, is returned from Respond.
	Err error

	// Requests records every request in order.
	Requests []dialogue.Request

	// Forgotten records every session passed to Forget.
	Forgotten []string
}

var (
	_ dialogue.Responder        = (*Responder)(nil)
	_ dialogue.SessionForgetter = (*Responder)(nil)
)

// Respond implements [dialogue.Responder].
func (r *Responder) Respond(ctx context.Context, req dialogue.Request) (*dialogue.Reply, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Requests = append(r.Requests, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.Reply, r.Err
}

// Forget implements [dialogue.SessionForgetter].
func (r *Responder) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Forgotten = append(r.Forgotten, sessionID)
}

// Calls returns a copy of the recorded requests.
func (r *Responder) Calls() []dialogue.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.Requests)
}

// ForgottenSessions returns a copy of the sessions passed to Forget.
func (r *Responder) ForgottenSessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.Forgotten)
}
