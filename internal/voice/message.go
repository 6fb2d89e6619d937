package voice

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role is the author of a [Message].
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one immutable entry of the conversation log.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage returns a message with a fresh ID.
func NewMessage(role Role, text string, at time.Time) Message {
	return Message{ID: uuid.NewString(), Role: role, Text: text, Timestamp: at}
}

// Log is an append-only conversation log. It is safe for concurrent use;
// writers are expected to be a single controller loop.
type Log struct {
	mu   sync.RWMutex
	msgs []Message
}

// Append adds m to the end of the log.
func (l *Log) Append(m Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, m)
}

// Messages returns a copy of the log in order.
func (l *Log) Messages() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.msgs)
}

// Clear empties the log.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = nil
}
