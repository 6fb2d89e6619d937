package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/MrWong99/charlie/pkg/provider/llm"
	"github.com/MrWong99/charlie/pkg/provider/tts"
)

// defaultOutputReserve is the completion budget assumed when neither the
// request nor the model declare one.
const defaultOutputReserve = 1024

// LLMConfig describes the assistant persona.
type LLMConfig struct {
	// Name is the assistant's name. It is substituted for {name} in Persona.
	Name string

	// Persona is the system prompt.
	Persona string

	// Temperature and MaxTokens are forwarded to every completion request.
	Temperature float64
	MaxTokens   int
}

// LLMOption configures an [LLMResponder].
type LLMOption func(*LLMResponder)

// WithSpeech synthesizes every reply with p using voice.
func WithSpeech(p tts.Provider, voice tts.Voice) LLMOption {
	return func(r *LLMResponder) {
		r.tts = p
		r.voice = voice
	}
}

// WithResponderLogger sets the logger. Defaults to [slog.Default].
func WithResponderLogger(l *slog.Logger) LLMOption {
	return func(r *LLMResponder) { r.log = l }
}

// LLMResponder answers with a language model and keeps a chat history per
// conversation. When a text-to-speech provider is configured the reply is
// also synthesized.
type LLMResponder struct {
	llm    llm.Provider
	cfg    LLMConfig
	system string
	tts    tts.Provider
	voice  tts.Voice
	log    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*History
}

var (
	_ Responder        = (*LLMResponder)(nil)
	_ SessionForgetter = (*LLMResponder)(nil)
)

// NewLLMResponder returns an LLMResponder for the given model.
func NewLLMResponder(p llm.Provider, cfg LLMConfig, opts ...LLMOption) (*LLMResponder, error) {
	if p == nil {
		return nil, errors.New("dialogue: llm provider is required")
	}
	r := &LLMResponder{
		llm:      p,
		cfg:      cfg,
		system:   strings.ReplaceAll(cfg.Persona, "{name}", cfg.Name),
		log:      slog.Default(),
		sessions: make(map[string]*History),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Respond implements [Responder].
func (r *LLMResponder) Respond(ctx context.Context, req Request) (*Reply, error) {
	h := r.history(req.SessionID)
	user := llm.Message{Role: llm.RoleUser, Content: req.Text}

	msgs, err := h.Window(user, r.budget(), r.llm.CountTokens)
	if err != nil {
		return nil, err
	}

	resp, err := r.llm.Complete(ctx, llm.CompletionRequest{
		Messages:     msgs,
		SystemPrompt: r.system,
		Temperature:  r.cfg.Temperature,
		MaxTokens:    r.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("dialogue: complete: %w", err)
	}
	if resp == nil {
		return nil, errors.New("dialogue: complete: empty response")
	}
	text := strings.TrimSpace(resp.Content)
	h.Add(user, llm.Message{Role: llm.RoleAssistant, Content: text})

	reply := &Reply{Text: text}
	if r.tts == nil || text == "" {
		return reply, nil
	}
	speech, err := r.tts.Synthesize(ctx, text, r.voice)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("dialogue: synthesize: %w", err)
		}
		r.log.Warn("dialogue: speech synthesis failed, replying with text only",
			"session_id", req.SessionID, "err", err)
		return reply, nil
	}
	reply.Audio = speech
	return reply, nil
}

// Forget implements [SessionForgetter].
func (r *LLMResponder) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Sessions returns the number of conversations with stored history.
func (r *LLMResponder) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *LLMResponder) history(sessionID string) *History {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.sessions[sessionID]
	if !ok {
		h = &History{}
		r.sessions[sessionID] = h
	}
	return h
}

// budget is the number of prompt tokens available for history: the context
// window minus the system prompt and the room reserved for the answer. An
// unknown context window leaves history untrimmed.
func (r *LLMResponder) budget() int {
	caps := r.llm.Capabilities()
	if caps.ContextWindow <= 0 {
		return math.MaxInt
	}
	reserve := r.cfg.MaxTokens
	if reserve <= 0 {
		reserve = caps.MaxOutputTokens
	}
	if reserve <= 0 {
		reserve = defaultOutputReserve
	}
	system := 0
	if r.system != "" {
		system = llm.EstimateTokens([]llm.Message{{Role: llm.RoleSystem, Content: r.system}})
	}
	return caps.ContextWindow - reserve - system
}
