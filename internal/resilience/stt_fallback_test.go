package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/charlie/pkg/audio"
	"github.com/MrWong99/charlie/pkg/provider/stt"
	sttmock "github.com/MrWong99/charlie/pkg/provider/stt/mock"
)

func TestSTTFallback_Transcribe(t *testing.T) {
	t.Parallel()

	utt := audio.Utterance{Data: make([]byte, 3200), Format: audio.DefaultFormat}
	tests := []struct {
		name          string
		primaryErr    error
		secondaryErr  error
		wantText      string
		wantErr       error
		wantSecondary int
	}{
		{name: "primary succeeds", wantText: "from primary"},
		{name: "failover", primaryErr: errors.New("primary down"), wantText: "from secondary", wantSecondary: 1},
		{name: "all fail", primaryErr: errors.New("primary down"), secondaryErr: errors.New("secondary down"), wantErr: ErrAllFailed, wantSecondary: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			primary := &sttmock.Transcriber{Result: stt.Transcript{Text: "from primary"}, Err: tc.primaryErr}
			secondary := &sttmock.Transcriber{Result: stt.Transcript{Text: "from secondary"}, Err: tc.secondaryErr}

			fb := NewSTTFallback(primary, "primary", FallbackConfig{
				CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
			})
			fb.AddFallback("secondary", secondary)

			got, err := fb.Transcribe(context.Background(), utt)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if got.Text != tc.wantText {
				t.Errorf("text = %q, want %q", got.Text, tc.wantText)
			}
			if primary.CallCount() != 1 {
				t.Errorf("primary called %d times, want 1", primary.CallCount())
			}
			if secondary.CallCount() != tc.wantSecondary {
				t.Errorf("secondary called %d times, want %d", secondary.CallCount(), tc.wantSecondary)
			}
			if tc.wantSecondary > 0 && len(secondary.Calls[0].Data) != len(utt.Data) {
				t.Error("fallback did not receive the same utterance")
			}
		})
	}
}

func TestSTTFallback_EmptyTranscriptIsNotAFailure(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Transcriber{}
	secondary := &sttmock.Transcriber{Result: stt.Transcript{Text: "should not be used"}}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	got, err := fb.Transcribe(context.Background(), audio.Utterance{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "" || secondary.CallCount() != 0 {
		t.Errorf("silence from the primary should be final, got %+v", got)
	}
}
