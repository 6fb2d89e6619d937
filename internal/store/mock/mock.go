// Package mock provides a test double for [store.MessageLog].
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/charlie/internal/store"
	"github.com/MrWong99/charlie/internal/voice"
)

// MessageLog records appended entries and returns configurable errors.
type MessageLog struct {
	mu sync.Mutex

	// AppendErr, if non-nil, is returned by Append. The entry is still
	// recorded.
	AppendErr error

	// ListResult and ListErr are returned by List.
	ListResult []voice.Message
	ListErr    error

	// SearchResult and SearchErr are returned by Search.
	SearchResult []store.Entry
	SearchErr    error

	appended []store.Entry
	queries  []string
}

var _ store.MessageLog = (*MessageLog)(nil)

// Append implements [store.MessageLog].
func (m *MessageLog) Append(_ context.Context, sessionID, userID string, msg voice.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appended = append(m.appended, store.Entry{SessionID: sessionID, UserID: userID, Message: msg})
	return m.AppendErr
}

// List implements [store.MessageLog].
func (m *MessageLog) List(context.Context, string) ([]voice.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.ListResult), m.ListErr
}

// Search implements [store.MessageLog].
func (m *MessageLog) Search(_ context.Context, query string, _ store.SearchOpts) ([]store.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, query)
	return slices.Clone(m.SearchResult), m.SearchErr
}

// Appended returns a copy of every entry passed to Append.
func (m *MessageLog) Appended() []store.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.appended)
}

// Queries returns every query passed to Search.
func (m *MessageLog) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.queries)
}
