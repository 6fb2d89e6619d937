// Package tts defines the Provider interface for Text-to-Speech backends.
//
// The assistant speaks one reply per turn, so synthesis is a single call that
// returns the whole utterance. Providers that stream internally (ElevenLabs)
// collect their output before returning.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/charlie/pkg/audio"
)

// Voice identifies a provider voice.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Metadata holds provider-specific voice attributes (gender, accent, ...).
	Metadata map[string]string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with voice and returns 16-bit PCM. Empty text
	// yields an empty utterance and a nil error.
	Synthesize(ctx context.Context, text string, voice Voice) (audio.Utterance, error)

	// ListVoices returns the voices available from this provider.
	ListVoices(ctx context.Context) ([]Voice, error)
}
