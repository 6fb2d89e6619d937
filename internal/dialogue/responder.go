package dialogue

import (
	"context"

	"github.com/MrWong99/charlie/pkg/audio"
)

// Request is the transcribed user turn sent to a [Responder].
type Request struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`

	// Role is the author of Text. Always "user" for voice turns.
	Role string `json:"role"`
}

// Reply is the assistant answer to a [Request].
type Reply struct {
	Text string

	// Audio is the spoken form of Text. Empty when the responder only
	// produces text.
	Audio audio.Utterance
}

// Responder generates the assistant reply for a user turn.
//
// Implementations must be safe for concurrent use and must honour ctx
// cancellation.
type Responder interface {
	Respond(ctx context.Context, req Request) (*Reply, error)
}

// SessionForgetter is implemented by responders that keep per-session state.
// Forget drops that state once a conversation ended.
type SessionForgetter interface {
	Forget(sessionID string)
}

// ResponderFunc adapts a function to [Responder].
type ResponderFunc func(ctx context.Context, req Request) (*Reply, error)

// Respond implements [Responder].
func (f ResponderFunc) Respond(ctx context.Context, req Request) (*Reply, error) {
	return f(ctx, req)
}
