// Package stt defines the Transcriber interface for speech-to-text backends.
//
// A Transcriber turns one finalized utterance into text. Backends range from a
// local whisper.cpp model to hosted APIs (Deepgram, OpenAI); all of them
// receive the complete utterance at once because the voice engine only
// transcribes after it decided the user finished speaking.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/charlie/pkg/audio"
)

// ErrUnsupportedFormat is returned when a backend cannot accept the PCM
// format of an utterance.
var ErrUnsupportedFormat = errors.New("stt: unsupported audio format")

// Transcript is the recognition result for one utterance.
type Transcript struct {
	// Text is the recognized speech. Empty when nothing was recognized.
	Text string

	// Confidence is the overall confidence in [0, 1]. Zero means the backend
	// does not report confidence.
	Confidence float64

	// Words carries per-word detail when the backend provides it.
	Words []WordDetail

	// Language is the detected or configured language, if known.
	Language string

	// Duration is the length of the transcribed audio.
	Duration time.Duration
}

// WordDetail holds per-word metadata.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Transcriber is the abstraction over any STT backend.
type Transcriber interface {
	// Transcribe recognizes the speech in u. A successful call with no
	// recognizable speech returns a Transcript with empty Text and a nil error.
	Transcribe(ctx context.Context, u audio.Utterance) (Transcript, error)
}

// KeywordBoost biases recognition toward a domain term, such as the
// assistant's name. Boost is backend-specific; Deepgram accepts values in
// roughly [-10, 10].
type KeywordBoost struct {
	Keyword string
	Boost   float64
}
