package dialogue

import (
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/charlie/pkg/provider/llm"
)

// History is the chat history of one conversation as sent to the model.
//
// Only completed exchanges are stored: a user message is added together with
// the assistant answer, so a failed turn leaves no trace. All methods are
// safe for concurrent use.
type History struct {
	mu       sync.Mutex
	messages []llm.Message
}

// Add appends one exchange.
func (h *History) Add(user, assistant llm.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, user, assistant)
}

// Messages returns a copy of the history.
func (h *History) Messages() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.messages)
}

// Len returns the number of stored messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// Window returns the history followed by next, with the oldest exchanges
// dropped until count reports no more than budget tokens. next is never
// dropped; when it alone exceeds budget the returned slice holds only next.
// The stored history is trimmed as well so later turns do not pay for the
// same messages again.
func (h *History) Window(next llm.Message, budget int, count func([]llm.Message) (int, error)) ([]llm.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for {
		msgs := append(slices.Clone(h.messages), next)
		n, err := count(msgs)
		if err != nil {
			return nil, fmt.Errorf("dialogue: count tokens: %w", err)
		}
		if n <= budget || len(h.messages) == 0 {
			return msgs, nil
		}
		// Drop a whole exchange so the window always starts with a user turn.
		drop := min(2, len(h.messages))
		h.messages = slices.Delete(h.messages, 0, drop)
	}
}

// Reset clears the history.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
}
