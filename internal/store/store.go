// Package store defines the durable conversation message log.
//
// Every [voice.Message] a conversation produces (system markers, user
// utterances and assistant replies) is appended under its session ID. The
// log is write-mostly: the live conversation keeps its own in-memory copy
// and the store serves history and search requests afterwards.
//
// [Memory] is the in-process implementation used when no database is
// configured. The postgres subpackage provides the persistent one.
package store

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/charlie/internal/voice"
)

// ErrNotFound is returned by [MessageLog.List] for an unknown session.
var ErrNotFound = errors.New("store: session not found")

// Entry is a stored message together with the conversation it belongs to.
type Entry struct {
	SessionID string        `json:"session_id"`
	UserID    string        `json:"user_id,omitempty"`
	Message   voice.Message `json:"message"`
}

// SearchOpts narrows a [MessageLog.Search]. All non-zero fields are applied
// as AND conditions.
type SearchOpts struct {
	// SessionID restricts the search to one conversation.
	SessionID string

	// UserID restricts the search to one user's conversations.
	UserID string

	// Role restricts results to messages of one author.
	Role voice.Role

	// After and Before bound the message timestamp (both exclusive).
	After  time.Time
	Before time.Time

	// Limit caps the number of results. Zero applies DefaultSearchLimit.
	Limit int
}

// DefaultSearchLimit is applied when [SearchOpts.Limit] is zero.
const DefaultSearchLimit = 50

// MessageLog persists conversation messages. Implementations must be safe
// for concurrent use.
type MessageLog interface {
	// Append stores msg under sessionID. Appending a message whose ID is
	// already stored is a no-op.
	Append(ctx context.Context, sessionID, userID string, msg voice.Message) error

	// List returns the messages of sessionID ordered by timestamp, or
	// [ErrNotFound].
	List(ctx context.Context, sessionID string) ([]voice.Message, error)

	// Search returns messages whose text matches every word of query,
	// oldest first.
	Search(ctx context.Context, query string, opts SearchOpts) ([]Entry, error)
}

// Memory is an in-process [MessageLog]. Its contents are lost on restart.
type Memory struct {
	mu      sync.RWMutex
	entries []Entry
	ids     map[string]struct{}
}

var _ MessageLog = (*Memory)(nil)

// NewMemory returns an empty in-process log.
func NewMemory() *Memory {
	return &Memory{ids: make(map[string]struct{})}
}

// Append implements [MessageLog].
func (m *Memory) Append(_ context.Context, sessionID, userID string, msg voice.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.ids[msg.ID]; dup {
		return nil
	}
	m.ids[msg.ID] = struct{}{}
	m.entries = append(m.entries, Entry{SessionID: sessionID, UserID: userID, Message: msg})
	return nil
}

// List implements [MessageLog].
func (m *Memory) List(_ context.Context, sessionID string) ([]voice.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var msgs []voice.Message
	for _, e := range m.entries {
		if e.SessionID == sessionID {
			msgs = append(msgs, e.Message)
		}
	}
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	slices.SortStableFunc(msgs, func(a, b voice.Message) int { return a.Timestamp.Compare(b.Timestamp) })
	return msgs, nil
}

// Search implements [MessageLog] with case-insensitive word matching.
func (m *Memory) Search(_ context.Context, query string, opts SearchOpts) ([]Entry, error) {
	words := strings.Fields(strings.ToLower(query))
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Entry{}
	for _, e := range m.entries {
		if !opts.matches(e) || !containsAll(strings.ToLower(e.Message.Text), words) {
			continue
		}
		out = append(out, e)
	}
	slices.SortStableFunc(out, func(a, b Entry) int { return a.Message.Timestamp.Compare(b.Message.Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (o SearchOpts) matches(e Entry) bool {
	switch {
	case o.SessionID != "" && e.SessionID != o.SessionID:
		return false
	case o.UserID != "" && e.UserID != o.UserID:
		return false
	case o.Role != "" && e.Message.Role != o.Role:
		return false
	case !o.After.IsZero() && !e.Message.Timestamp.After(o.After):
		return false
	case !o.Before.IsZero() && !e.Message.Timestamp.Before(o.Before):
		return false
	}
	return true
}

func containsAll(text string, words []string) bool {
	for _, w := range words {
		if !strings.Contains(text, w) {
			return false
		}
	}
	return true
}
