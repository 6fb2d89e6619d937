// Package mock provides a test double for [stt.Transcriber].
//
// Example:
//
//	tr := &mock.Transcriber{Result: stt.Transcript{Text: "hello", Confidence: 0.9}}
//	got, _ := tr.Transcribe(ctx, utterance)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/charlie/pkg/audio"
	"github.com/MrWong99/charlie/pkg/provider/stt"
)

// Transcriber is a mock [stt.Transcriber]. It returns Result and Err and
// records every utterance it was given.
type Transcriber struct {
	mu sync.Mutex

	// Result is returned by Transcribe when Err is nil.
	Result stt.Transcript

	// Err, if non-nil, is returned from Transcribe.
	Err error

	// Calls records every utterance passed to Transcribe.
	Calls []audio.Utterance
}

var _ stt.Transcriber = (*Transcriber)(nil)

// Transcribe implements [stt.Transcriber].
func (t *Transcriber) Transcribe(ctx context.Context, u audio.Utterance) (stt.Transcript, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = append(t.Calls, u)
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, err
	}
	if t.Err != nil {
		return stt.Transcript{}, t.Err
	}
	return t.Result, nil
}

// CallCount returns the number of Transcribe calls.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}
