// Package openai provides a transcriber backed by the OpenAI audio
// transcription endpoint (whisper-1, gpt-4o-transcribe) or any compatible
// server such as faster-whisper-server.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/charlie/pkg/audio"
	"github.com/MrWong99/charlie/pkg/provider/stt"
)

var _ stt.Transcriber = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the transcription model. Defaults to whisper-1.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the ISO-639-1 language hint.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.reqOpts = append(p.reqOpts, option.WithBaseURL(url)) }
}

// WithPrompt biases recognition toward the vocabulary in prompt, such as the
// assistant's name.
func WithPrompt(prompt string) Option {
	return func(p *Provider) { p.prompt = prompt }
}

// Provider implements stt.Transcriber with the OpenAI audio API.
type Provider struct {
	client   oai.Client
	model    string
	language string
	prompt   string
	reqOpts  []option.RequestOption
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	p := &Provider{
		model:   string(oai.AudioModelWhisper1),
		reqOpts: []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(1)},
	}
	for _, o := range opts {
		o(p)
	}
	p.client = oai.NewClient(p.reqOpts...)
	return p, nil
}

// Transcribe implements [stt.Transcriber].
func (p *Provider) Transcribe(ctx context.Context, u audio.Utterance) (stt.Transcript, error) {
	if u.Empty() {
		return stt.Transcript{}, nil
	}

	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(u.WAV()), "audio.wav", "audio/wav"),
		Model:          oai.AudioModel(p.model),
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	if p.language != "" {
		params.Language = oai.String(p.language)
	}
	if p.prompt != "" {
		params.Prompt = oai.String(p.prompt)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("openai stt: transcribe: %w", err)
	}

	return stt.Transcript{
		Text:     strings.TrimSpace(resp.Text),
		Language: p.language,
		Duration: u.Duration(),
	}, nil
}
