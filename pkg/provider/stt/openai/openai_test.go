package openai_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/charlie/pkg/audio"
	"github.com/MrWong99/charlie/pkg/provider/stt/openai"
)

func TestTranscribe(t *testing.T) {
	t.Parallel()
	var (
		gotModel, gotLang string
		gotFile           []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel = r.FormValue("model")
		gotLang = r.FormValue("language")
		if f, _, err := r.FormFile("file"); err == nil {
			gotFile, _ = io.ReadAll(f)
			f.Close()
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":" Turn on the lights. "}`))
	}))
	t.Cleanup(srv.Close)

	p, err := openai.New("sk-test", openai.WithBaseURL(srv.URL+"/"), openai.WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	u := audio.Utterance{Data: make([]byte, 3200), Format: audio.DefaultFormat}
	got, err := p.Transcribe(context.Background(), u)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "Turn on the lights." {
		t.Errorf("text: got %q", got.Text)
	}
	if gotModel != "whisper-1" || gotLang != "en" {
		t.Errorf("form: model=%q language=%q", gotModel, gotLang)
	}
	if len(gotFile) != 44+len(u.Data) {
		t.Errorf("uploaded %d bytes, want WAV of %d", len(gotFile), 44+len(u.Data))
	}
}

func TestTranscribe_EmptyUtterance(t *testing.T) {
	t.Parallel()
	p, _ := openai.New("sk-test", openai.WithBaseURL("http://127.0.0.1:1/"))
	got, err := p.Transcribe(context.Background(), audio.Utterance{})
	if err != nil || got.Text != "" {
		t.Fatalf("expected empty transcript, got %q, %v", got.Text, err)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"invalid file"}}`, http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	p, _ := openai.New("sk-test", openai.WithBaseURL(srv.URL+"/"))
	u := audio.Utterance{Data: make([]byte, 320), Format: audio.DefaultFormat}
	if _, err := p.Transcribe(context.Background(), u); err == nil {
		t.Fatal("expected error for HTTP 400")
	}
}

func TestNew_EmptyKey(t *testing.T) {
	t.Parallel()
	if _, err := openai.New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}
