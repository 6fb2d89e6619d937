// Package deepgram provides a Deepgram-backed transcriber using the Deepgram
// live WebSocket API. Each utterance opens a short-lived stream: the PCM is
// written in chunks, CloseStream flushes the recognizer, and the final
// results are joined into one transcript.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/charlie/pkg/audio"
	"github.com/MrWong99/charlie/pkg/provider/stt"
	"github.com/coder/websocket"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// chunkBytes is 100ms of 16 kHz mono PCM.
	chunkBytes = 3200
)

var _ stt.Transcriber = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithKeywords boosts recognition of the given terms.
func WithKeywords(kws []stt.KeywordBoost) Option {
	return func(p *Provider) {
		p.keywords = kws
	}
}

// WithEndpoint overrides the WebSocket endpoint. Used by tests and for
// self-hosted Deepgram deployments.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Transcriber backed by the Deepgram live API.
type Provider struct {
	apiKey   string
	endpoint string
	model    string
	language string
	keywords []stt.KeywordBoost
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		endpoint: deepgramEndpoint,
		model:    defaultModel,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements [stt.Transcriber].
func (p *Provider) Transcribe(ctx context.Context, u audio.Utterance) (stt.Transcript, error) {
	if u.Empty() {
		return stt.Transcript{}, nil
	}

	wsURL, err := p.buildURL(u.Format)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	// The reader runs concurrently so Deepgram never blocks on a full
	// send window while we are still writing audio.
	type readResult struct {
		t   stt.Transcript
		err error
	}
	done := make(chan readResult, 1)
	go func() {
		t, err := collect(ctx, conn)
		done <- readResult{t, err}
	}()

	for off := 0; off < len(u.Data); off += chunkBytes {
		end := min(off+chunkBytes, len(u.Data))
		if err := conn.Write(ctx, websocket.MessageBinary, u.Data[off:end]); err != nil {
			return stt.Transcript{}, fmt.Errorf("deepgram: write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: close stream: %w", err)
	}

	select {
	case r := <-done:
		if r.err != nil {
			return stt.Transcript{}, r.err
		}
		r.t.Language = p.language
		r.t.Duration = u.Duration()
		conn.Close(websocket.StatusNormalClosure, "done")
		return r.t, nil
	case <-ctx.Done():
		return stt.Transcript{}, ctx.Err()
	}
}

// collect reads Results messages until Deepgram closes the stream and joins
// the final segments.
func collect(ctx context.Context, conn *websocket.Conn) (stt.Transcript, error) {
	var (
		parts []string
		words []stt.WordDetail
		conf  float64
		n     int
	)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			if ctx.Err() != nil {
				return stt.Transcript{}, ctx.Err()
			}
			return stt.Transcript{}, fmt.Errorf("deepgram: read: %w", err)
		}

		seg, final, ok := parseDeepgramResponse(msg)
		if !ok || !final {
			continue
		}
		if seg.Text != "" {
			parts = append(parts, seg.Text)
			conf += seg.Confidence
			n++
		}
		words = append(words, seg.Words...)
	}

	t := stt.Transcript{
		Text:  strings.Join(parts, " "),
		Words: words,
	}
	if n > 0 {
		t.Confidence = conf / float64(n)
	}
	return t, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given format.
func (p *Provider) buildURL(f audio.Format) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(f.SampleRate))
	if f.Channels > 0 {
		q.Set("channels", strconv.Itoa(f.Channels))
	}

	for _, kw := range p.keywords {
		// Deepgram keyword format: word:boost (e.g., "Charlie:5")
		val := fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost)
		q.Add("keywords", val)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message into a
// transcript segment and reports whether the segment is final. ok is false
// when the message should be ignored.
func parseDeepgramResponse(data []byte) (seg stt.Transcript, final, ok bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Transcript{}, false, false
	}
	if resp.Type != "Results" {
		return stt.Transcript{}, false, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false, false
	}

	alt := resp.Channel.Alternatives[0]
	words := make([]stt.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, stt.WordDetail{
			Word:       w.Word,
			Start:      time.Duration(w.Start * float64(time.Second)),
			End:        time.Duration(w.End * float64(time.Second)),
			Confidence: w.Confidence,
		})
	}

	return stt.Transcript{
		Text:       strings.TrimSpace(alt.Transcript),
		Confidence: alt.Confidence,
		Words:      words,
	}, resp.IsFinal, true
}
