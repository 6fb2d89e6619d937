// Package llm defines the Provider interface for Large Language Model backends.
//
// The voice engine only needs one thing from a model: a complete reply to the
// conversation so far. Provider therefore exposes a blocking completion plus
// the token accounting the responder uses to keep history inside the model's
// context window.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"strings"
)

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (for multi-speaker contexts).
	Name string
}

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the user and drives the response.
	Messages []Message

	// SystemPrompt is injected before the history. Providers without a
	// dedicated system field prepend it as a system-role message.
	SystemPrompt string

	// Temperature controls output randomness in [0.0, 2.0]. Zero leaves the
	// provider default in place.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// ModelCapabilities describes the limits of a model.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the context-window cost of messages. The result
	// need not be exact but should not undercount.
	CountTokens(messages []Message) (int, error)

	// Capabilities returns static metadata about the configured model.
	Capabilities() ModelCapabilities
}

// EstimateTokens approximates the token count of messages at four characters
// per token plus a small per-message overhead for role and formatting.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
	}
	return total
}

// LookupCapabilities returns the limits of well-known model families.
// Unknown models get a conservative 8k window.
func LookupCapabilities(model string) ModelCapabilities {
	lower := strings.ToLower(model)
	for _, e := range knownModels {
		if strings.Contains(lower, e.prefix) {
			return e.caps
		}
	}
	return ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 2_048}
}

// knownModels is ordered so that more specific names match first.
var knownModels = []struct {
	prefix string
	caps   ModelCapabilities
}{
	{"gpt-4o-mini", ModelCapabilities{128_000, 16_384}},
	{"gpt-4o", ModelCapabilities{128_000, 16_384}},
	{"gpt-4.1", ModelCapabilities{1_047_576, 32_768}},
	{"gpt-4-turbo", ModelCapabilities{128_000, 4_096}},
	{"gpt-4", ModelCapabilities{8_192, 4_096}},
	{"gpt-3.5-turbo", ModelCapabilities{16_385, 4_096}},
	{"o1-mini", ModelCapabilities{128_000, 65_536}},
	{"o3-mini", ModelCapabilities{200_000, 100_000}},
	{"claude", ModelCapabilities{200_000, 8_192}},
	{"gemini-1.5-pro", ModelCapabilities{2_097_152, 8_192}},
	{"gemini", ModelCapabilities{1_048_576, 8_192}},
	{"llama3", ModelCapabilities{8_192, 2_048}},
	{"mistral", ModelCapabilities{32_000, 4_096}},
}
