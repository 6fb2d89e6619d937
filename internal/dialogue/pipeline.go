// Package dialogue turns a recorded user turn into the assistant's answer.
//
// [Pipeline] implements [voice.Pipeline] with two sequential calls: an
// [stt.Transcriber] recognizes the utterance and a [Responder] produces the
// reply. The responder is never called when recognition yields no usable
// text. Errors are reported as a failure outcome; retry and resume policy
// belongs to the turn controller.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/charlie/internal/transcript"
	"github.com/MrWong99/charlie/internal/voice"
	"github.com/MrWong99/charlie/pkg/provider/stt"
)

var (
	// ErrTranscription wraps failures of the speech-to-text call.
	ErrTranscription = errors.New("dialogue: transcription failed")

	// ErrResponse wraps failures of the response call.
	ErrResponse = errors.New("dialogue: response failed")
)

// Stage names passed to a [LatencyObserver].
const (
	StageTranscribe = "transcribe"
	StageRespond    = "respond"
)

// LatencyObserver is notified after every external call.
type LatencyObserver func(stage string, d time.Duration, err error)

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithCorrector applies keyword correction to every transcript before it is
// sent to the responder.
func WithCorrector(c *transcript.Corrector) Option {
	return func(p *Pipeline) { p.corrector = c }
}

// WithMinConfidence treats transcripts whose reported confidence is below
// floor as no speech. A transcript with zero confidence is accepted because
// most backends do not report it.
func WithMinConfidence(floor float64) Option {
	return func(p *Pipeline) { p.minConfidence = floor }
}

// WithLatencyObserver installs a callback for provider latency.
func WithLatencyObserver(fn LatencyObserver) Option {
	return func(p *Pipeline) { p.observe = fn }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithNow overrides the timestamp source of created messages.
func WithNow(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline is the [voice.Pipeline] backed by a transcriber and a responder.
type Pipeline struct {
	stt       stt.Transcriber
	responder Responder

	corrector     *transcript.Corrector
	minConfidence float64
	observe       LatencyObserver
	log           *slog.Logger
	now           func() time.Time
}

var _ voice.Pipeline = (*Pipeline)(nil)

// NewPipeline returns a Pipeline. Both collaborators are required.
func NewPipeline(tr stt.Transcriber, r Responder, opts ...Option) (*Pipeline, error) {
	if tr == nil {
		return nil, errors.New("dialogue: transcriber is required")
	}
	if r == nil {
		return nil, errors.New("dialogue: responder is required")
	}
	p := &Pipeline{
		stt:       tr,
		responder: r,
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Process transcribes turn, asks the responder for a reply and returns the
// outcome together with the user and assistant messages.
func (p *Pipeline) Process(ctx context.Context, turn voice.Turn) voice.Outcome {
	start := time.Now()
	tr, err := p.stt.Transcribe(ctx, turn.Audio)
	p.record(StageTranscribe, start, err)
	if err != nil {
		return voice.Failure(fmt.Errorf("%w: %w", ErrTranscription, err))
	}

	text := strings.TrimSpace(tr.Text)
	if text == "" {
		p.log.Debug("dialogue: empty transcript", "session_id", turn.SessionID, "turn", turn.Index)
		return voice.NoSpeech()
	}
	if tr.Confidence > 0 && tr.Confidence < p.minConfidence {
		p.log.Debug("dialogue: transcript below confidence floor",
			"session_id", turn.SessionID, "turn", turn.Index, "confidence", tr.Confidence)
		return voice.NoSpeech()
	}

	if p.corrector != nil {
		tr.Text = text
		res := p.corrector.Correct(tr)
		for _, c := range res.Corrections {
			p.log.Debug("dialogue: corrected keyword", "session_id", turn.SessionID,
				"original", c.Original, "corrected", c.Corrected, "confidence", c.Confidence)
		}
		text = res.Text
	}
	userMsg := voice.NewMessage(voice.RoleUser, text, p.now())

	start = time.Now()
	reply, err := p.responder.Respond(ctx, Request{
		Text:      text,
		SessionID: turn.SessionID,
		UserID:    turn.UserID,
		Role:      string(voice.RoleUser),
	})
	p.record(StageRespond, start, err)
	if err != nil {
		return voice.Failure(fmt.Errorf("%w: %w", ErrResponse, err))
	}
	if reply == nil || strings.TrimSpace(reply.Text) == "" {
		return voice.Failure(fmt.Errorf("%w: empty reply", ErrResponse))
	}

	answer := strings.TrimSpace(reply.Text)
	return voice.Response(answer, reply.Audio,
		userMsg,
		voice.NewMessage(voice.RoleAssistant, answer, p.now()),
	)
}

// Forget releases per-session responder state.
func (p *Pipeline) Forget(sessionID string) {
	if f, ok := p.responder.(SessionForgetter); ok {
		f.Forget(sessionID)
	}
}

func (p *Pipeline) record(stage string, start time.Time, err error) {
	if p.observe != nil {
		p.observe(stage, time.Since(start), err)
	}
}
