// Package remote implements a [dialogue.Responder] that delegates reply
// generation to an external HTTP service.
//
// The service receives
//
//	POST {base}/v1/respond
//	{"text": "...", "session_id": "...", "user_id": "...", "role": "user"}
//
// and answers with
//
//	{"text": "...", "audio": "<base64 16-bit PCM or WAV>", "sample_rate": 24000, "channels": 1}
//
// The audio fields are optional. WAV payloads are detected by their RIFF
// header; raw PCM uses sample_rate and channels, defaulting to 16 kHz mono.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/charlie/internal/dialogue"
	"github.com/MrWong99/charlie/pkg/audio"
)

const (
	respondPath    = "/v1/respond"
	defaultTimeout = 30 * time.Second

	// maxErrorBody bounds how much of an error response is quoted.
	maxErrorBody = 512
)

// Option is a functional option for [Client].
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithTimeout bounds every request. Ignored when WithHTTPClient is used.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// Client is the remote responder. It is safe for concurrent use.
type Client struct {
	base    string
	apiKey  string
	timeout time.Duration
	http    *http.Client
}

var _ dialogue.Responder = (*Client)(nil)

// New returns a Client for the service at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("remote: base URL must not be empty")
	}
	c := &Client{
		base:    strings.TrimRight(baseURL, "/"),
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: c.timeout}
	}
	return c, nil
}

type respondBody struct {
	Text       string `json:"text"`
	Audio      string `json:"audio,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// Respond implements [dialogue.Responder].
func (c *Client) Respond(ctx context.Context, req dialogue.Request) (*dialogue.Reply, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("remote: encode request: %w", err)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+respondPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		hreq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("remote: respond: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("remote: respond: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var body respondBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("remote: decode response: %w", err)
	}

	reply := &dialogue.Reply{Text: body.Text}
	if body.Audio == "" {
		return reply, nil
	}
	raw, err := base64.StdEncoding.DecodeString(body.Audio)
	if err != nil {
		return nil, fmt.Errorf("remote: decode audio: %w", err)
	}
	reply.Audio, err = toUtterance(raw, body.SampleRate, body.Channels)
	if err != nil {
		return nil, fmt.Errorf("remote: decode audio: %w", err)
	}
	return reply, nil
}

func toUtterance(raw []byte, sampleRate, channels int) (audio.Utterance, error) {
	if bytes.HasPrefix(raw, []byte("RIFF")) {
		return audio.DecodeWAV(raw)
	}
	f := audio.DefaultFormat
	if sampleRate > 0 {
		f.SampleRate = sampleRate
	}
	if channels > 0 {
		f.Channels = channels
	}
	return audio.Utterance{Data: raw, Format: f}, nil
}
