package voice

import (
	"context"
	"time"

	"github.com/MrWong99/charlie/pkg/audio"
)

// EndReason records why a turn was ended.
type EndReason string

const (
	EndSilence     EndReason = "silence"
	EndMaxDuration EndReason = "max_duration"
	EndManual      EndReason = "manual"
)

// Turn is the finalized user utterance handed to the [Pipeline].
type Turn struct {
	SessionID string
	UserID    string

	// Index is the 1-based position of the turn in the conversation.
	Index int

	Audio audio.Utterance

	// Spoke is true when the classifier confirmed speech during recording.
	Spoke bool

	Reason EndReason
}

// OutcomeKind discriminates [Outcome].
type OutcomeKind int

const (
	// OutcomeNoSpeech: nothing transcribable in the utterance.
	OutcomeNoSpeech OutcomeKind = iota

	// OutcomeResponse: the assistant answered, possibly with audio.
	OutcomeResponse

	// OutcomeFailure: transcription or response generation failed.
	OutcomeFailure
)

// String returns the metric label of k.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNoSpeech:
		return "no_speech"
	case OutcomeResponse:
		return "response"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Outcome is the result of processing one turn.
type Outcome struct {
	Kind OutcomeKind

	// Text is the assistant reply for OutcomeResponse.
	Text string

	// Speech is the synthesized reply. Empty when the responder returned
	// text only.
	Speech audio.Utterance

	// Messages are the user and assistant messages created for the turn.
	// They are appended to the log only if the outcome is applied.
	Messages []Message

	// Err is the failure reason for OutcomeFailure.
	Err error
}

// NoSpeech returns an [OutcomeNoSpeech] outcome.
func NoSpeech() Outcome { return Outcome{Kind: OutcomeNoSpeech} }

// Response returns an [OutcomeResponse] outcome.
func Response(text string, speech audio.Utterance, msgs ...Message) Outcome {
	return Outcome{Kind: OutcomeResponse, Text: text, Speech: speech, Messages: msgs}
}

// Failure returns an [OutcomeFailure] outcome carrying err.
func Failure(err error) Outcome { return Outcome{Kind: OutcomeFailure, Err: err} }

// Pipeline turns a recorded utterance into an outcome. Process must honour ctx
// cancellation; the controller cancels it when the conversation stops.
type Pipeline interface {
	Process(ctx context.Context, turn Turn) Outcome
}

// PipelineFunc adapts a function to [Pipeline].
type PipelineFunc func(ctx context.Context, turn Turn) Outcome

// Process implements [Pipeline].
func (f PipelineFunc) Process(ctx context.Context, turn Turn) Outcome { return f(ctx, turn) }

// NoticeKind classifies user-visible notices.
type NoticeKind string

const (
	NoticePermissionDenied NoticeKind = "permission_denied"
	NoticeCaptureFailed    NoticeKind = "capture_failed"
	NoticeNetworkFailure   NoticeKind = "network_failure"
)

// Notice is a transient, auto-dismissing message for the user.
type Notice struct {
	Kind NoticeKind    `json:"kind"`
	Text string        `json:"text"`
	TTL  time.Duration `json:"ttl"`
}

// TurnReport summarizes a processed turn for metrics.
type TurnReport struct {
	SessionID  string
	Index      int
	Reason     EndReason
	Outcome    OutcomeKind
	Latency    time.Duration
	AudioBytes int
}

// Hooks receive controller notifications. Every hook runs on the controller
// loop and must not block. Nil hooks are skipped.
type Hooks struct {
	OnState   func(from, to State)
	OnLevel   func(level float64)
	OnMessage func(sessionID string, m Message)
	OnNotice  func(n Notice)
	OnTurn    func(r TurnReport)
}
