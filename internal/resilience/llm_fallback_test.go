package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/charlie/pkg/provider/llm"
	llmmock "github.com/MrWong99/charlie/pkg/provider/llm/mock"
)

func TestLLMFallback_Complete(t *testing.T) {
	t.Parallel()

	primaryOK := &llm.CompletionResponse{Content: "hello from primary"}
	tests := []struct {
		name          string
		primaryResp   *llm.CompletionResponse
		primaryErr    error
		secondaryErr  error
		want          string
		wantErr       error
		wantSecondary int
	}{
		{name: "primary succeeds", primaryResp: primaryOK, want: "hello from primary"},
		{name: "primary error", primaryErr: errors.New("rate limited"), want: "hello from secondary", wantSecondary: 1},
		{name: "nil response fails over", want: "hello from secondary", wantSecondary: 1},
		{name: "all fail", primaryErr: errors.New("down"), secondaryErr: errors.New("down too"), wantErr: ErrAllFailed, wantSecondary: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			primary := &llmmock.Provider{CompleteResponse: tc.primaryResp, CompleteErr: tc.primaryErr}
			secondary := &llmmock.Provider{
				CompleteResponse: &llm.CompletionResponse{Content: "hello from secondary"},
				CompleteErr:      tc.secondaryErr,
			}
			fb := NewLLMFallback(primary, "primary", FallbackConfig{
				CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
			})
			fb.AddFallback("secondary", secondary)

			req := llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}}
			resp, err := fb.Complete(context.Background(), req)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if tc.wantErr == nil && resp.Content != tc.want {
				t.Errorf("content = %q, want %q", resp.Content, tc.want)
			}
			if n := len(secondary.Calls()); n != tc.wantSecondary {
				t.Errorf("secondary called %d times, want %d", n, tc.wantSecondary)
			}
		})
	}
}

func TestLLMFallback_CountTokensUsesPrimary(t *testing.T) {
	t.Parallel()
	fb := NewLLMFallback(&llmmock.Provider{TokenCount: 42}, "primary", FallbackConfig{})
	fb.AddFallback("secondary", &llmmock.Provider{TokenCount: 7})

	n, err := fb.CountTokens([]llm.Message{{Role: llm.RoleUser, Content: "hello"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 42 {
		t.Errorf("tokens = %d, want 42", n)
	}
}

func TestLLMFallback_Capabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		primary   llm.ModelCapabilities
		fallbacks []llm.ModelCapabilities
		want      llm.ModelCapabilities
	}{
		{
			name:    "primary only",
			primary: llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4096},
			want:    llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4096},
		},
		{
			name:      "smallest window wins",
			primary:   llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4096},
			fallbacks: []llm.ModelCapabilities{{ContextWindow: 8192, MaxOutputTokens: 8192}},
			want:      llm.ModelCapabilities{ContextWindow: 8192, MaxOutputTokens: 4096},
		},
		{
			name:      "unknown limits ignored",
			primary:   llm.ModelCapabilities{},
			fallbacks: []llm.ModelCapabilities{{ContextWindow: 32_000}, {}},
			want:      llm.ModelCapabilities{ContextWindow: 32_000},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fb := NewLLMFallback(&llmmock.Provider{ModelCapabilities: tc.primary}, "primary", FallbackConfig{})
			for i, c := range tc.fallbacks {
				fb.AddFallback(string(rune('a'+i)), &llmmock.Provider{ModelCapabilities: c})
			}
			if got := fb.Capabilities(); got != tc.want {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}
