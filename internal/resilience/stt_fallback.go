package resilience

import (
	"context"

	"github.com/MrWong99/charlie/pkg/audio"
	"github.com/MrWong99/charlie/pkg/provider/stt"
)

// STTFallback implements [stt.Transcriber] with automatic failover across
// multiple STT backends. Each backend has its own circuit breaker.
type STTFallback struct {
	*FallbackGroup[stt.Transcriber]
}

var _ stt.Transcriber = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Transcribe sends u to the first healthy backend. The utterance is immutable
// so every attempt sees the same audio.
func (f *STTFallback) Transcribe(ctx context.Context, u audio.Utterance) (stt.Transcript, error) {
	return ExecuteWithResult(ctx, f.FallbackGroup, func(ctx context.Context, t stt.Transcriber) (stt.Transcript, error) {
		return t.Transcribe(ctx, u)
	})
}
