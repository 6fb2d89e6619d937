package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/charlie/pkg/audio"
	"github.com/MrWong99/charlie/pkg/provider/tts"
)

// ---- fake server ----

type fakeServer struct {
	mu       sync.Mutex
	received []textMessage
	path     string
}

func (f *fakeServer) messages() []textMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]textMessage(nil), f.received...)
}

// newFakeServer answers the stream-input socket with two audio chunks after
// the end-of-input marker and serves /v1/voices.
func newFakeServer(t *testing.T, chunks ...[]byte) (*httptest.Server, *fakeServer) {
	t.Helper()
	f := &fakeServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/voices", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"voices":[
			{"voice_id":"v1","name":"Rachel","category":"premade","labels":{"accent":"american"}},
			{"voice_id":"v2","name":"Adam","category":"premade"}
		]}`))
	})
	mux.HandleFunc("/v1/text-to-speech/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.path = r.URL.RequestURI()
		f.mu.Unlock()
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var m textMessage
			_ = json.Unmarshal(data, &m)
			f.mu.Lock()
			f.received = append(f.received, m)
			f.mu.Unlock()
			if m.Text == "" {
				break
			}
		}
		for i, c := range chunks {
			resp, _ := json.Marshal(audioResponse{
				Audio:   base64.StdEncoding.EncodeToString(c),
				IsFinal: i == len(chunks)-1,
			})
			if err := conn.Write(ctx, websocket.MessageText, resp); err != nil {
				return
			}
		}
		conn.Close(websocket.StatusNormalClosure, "")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, f
}

func newTestProvider(t *testing.T, srv *httptest.Server) *Provider {
	t.Helper()
	p, err := New("key", WithBaseURLs("ws"+strings.TrimPrefix(srv.URL, "http"), srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// ---- Synthesize ----

func TestSynthesize_CollectsAudio(t *testing.T) {
	srv, f := newFakeServer(t, []byte{1, 2, 3, 4}, []byte{5, 6})
	p := newTestProvider(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	u, err := p.Synthesize(ctx, "  It is noon.  ", tts.Voice{ID: "v1"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !bytes.Equal(u.Data, []byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("pcm: got %v", u.Data)
	}
	if u.Format != audio.DefaultFormat {
		t.Errorf("format: got %v", u.Format)
	}

	msgs := f.messages()
	if len(msgs) != 3 {
		t.Fatalf("messages sent: got %d, want 3", len(msgs))
	}
	if msgs[0].XiAPIKey != "key" || msgs[0].VoiceSettings == nil {
		t.Errorf("first message must authenticate and configure the voice: %+v", msgs[0])
	}
	if msgs[1].Text != "It is noon. " {
		t.Errorf("text message: got %q", msgs[1].Text)
	}
	if !strings.Contains(f.path, "/v1/text-to-speech/v1/stream-input") ||
		!strings.Contains(f.path, "output_format=pcm_16000") {
		t.Errorf("stream URL: got %q", f.path)
	}
}

func TestSynthesize_EmptyTextSkipsDial(t *testing.T) {
	p, _ := New("key", WithBaseURLs("ws://127.0.0.1:1", "http://127.0.0.1:1"))
	u, err := p.Synthesize(context.Background(), "   ", tts.Voice{ID: "v1"})
	if err != nil || !u.Empty() {
		t.Fatalf("expected empty utterance without error, got %d bytes, %v", len(u.Data), err)
	}
}

func TestSynthesize_RequiresVoice(t *testing.T) {
	p, _ := New("key")
	if _, err := p.Synthesize(context.Background(), "hi", tts.Voice{}); err == nil {
		t.Fatal("expected error for empty voice ID")
	}
}

// ---- ListVoices ----

func TestListVoices(t *testing.T) {
	srv, _ := newFakeServer(t)
	p := newTestProvider(t, srv)

	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("expected 2 voices, got %d", len(voices))
	}
	if voices[0].ID != "v1" || voices[0].Name != "Rachel" {
		t.Errorf("voice[0]: got %+v", voices[0])
	}
	if voices[0].Metadata["accent"] != "american" || voices[0].Metadata["category"] != "premade" {
		t.Errorf("voice[0] metadata: got %v", voices[0].Metadata)
	}
}

func TestListVoices_Unauthorized(t *testing.T) {
	srv, _ := newFakeServer(t)
	p, _ := New("wrong", WithBaseURLs("ws://unused", srv.URL))
	if _, err := p.ListVoices(context.Background()); err == nil {
		t.Fatal("expected error for HTTP 401")
	}
}

// ---- Constructor ----

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		opts    []Option
		wantErr bool
	}{
		{name: "defaults", key: "key"},
		{name: "empty key", key: "", wantErr: true},
		{name: "24k output", key: "key", opts: []Option{WithOutputFormat("pcm_24000")}},
		{name: "mp3 output rejected", key: "key", opts: []Option{WithOutputFormat("mp3_44100_128")}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.key, tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
