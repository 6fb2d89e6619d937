package wsaudio_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/charlie/internal/voice"
	"github.com/MrWong99/charlie/pkg/audio"
	"github.com/MrWong99/charlie/pkg/audio/wsaudio"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

type harness struct {
	conn   *wsaudio.Conn
	client *websocket.Conn
	runErr chan error
}

// newHarness starts a server wrapping every accepted socket in a
// [wsaudio.Conn] and dials it. Both ends are torn down with the test.
func newHarness(t *testing.T, opts ...wsaudio.Option) *harness {
	t.Helper()
	connCh := make(chan *wsaudio.Conn, 1)
	runErr := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		c := wsaudio.New(ws, opts...)
		connCh <- c
		runErr <- c.Run(context.Background())
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.CloseNow() })

	select {
	case c := <-connCh:
		return &harness{conn: c, client: client, runErr: runErr}
	case <-time.After(3 * time.Second):
		t.Fatal("server never accepted the connection")
		return nil
	}
}

// read returns the next frame the client receives.
func (h *harness) read(t *testing.T) (websocket.MessageType, []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	typ, data, err := h.client.Read(ctx)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	return typ, data
}

// readMessage returns the next text frame decoded as a server message.
func (h *harness) readMessage(t *testing.T) wsaudio.ServerMessage {
	t.Helper()
	typ, data := h.read(t)
	if typ != websocket.MessageText {
		t.Fatalf("got %v frame, want text", typ)
	}
	var m wsaudio.ServerMessage
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode server message: %v", err)
	}
	return m
}

func (h *harness) send(t *testing.T, m wsaudio.ClientMessage) {
	t.Helper()
	data, _ := json.Marshal(m)
	h.write(t, websocket.MessageText, data)
}

func (h *harness) write(t *testing.T, typ websocket.MessageType, data []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := h.client.Write(ctx, typ, data); err != nil {
		t.Fatalf("client write: %v", err)
	}
}

type acquireResult struct {
	stream audio.Stream
	err    error
}

func (h *harness) acquire(ctx context.Context) <-chan acquireResult {
	ch := make(chan acquireResult, 1)
	go func() {
		s, err := h.conn.Acquire(ctx)
		ch <- acquireResult{s, err}
	}()
	return ch
}

// openMic runs the open handshake and returns the server side stream.
func (h *harness) openMic(t *testing.T, format *wsaudio.AudioFormat) audio.Stream {
	t.Helper()
	res := h.acquire(context.Background())
	if m := h.readMessage(t); m.Type != wsaudio.TypeMicOpen {
		t.Fatalf("got %q, want mic_open", m.Type)
	}
	h.send(t, wsaudio.ClientMessage{Type: wsaudio.TypeMicReady, Audio: format})
	r := waitFor(t, res)
	if r.err != nil {
		t.Fatalf("Acquire: %v", r.err)
	}
	return r.stream
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
		var zero T
		return zero
	}
}

// tone returns n mono samples of a constant non-zero level.
func tone(n int) []byte {
	b := make([]byte, n*2)
	for i := range n {
		v := int16(8000)
		if i%2 == 1 {
			v = -8000
		}
		b[i*2] = byte(v)
		b[i*2+1] = byte(uint16(v) >> 8)
	}
	return b
}

// ── Capture ───────────────────────────────────────────────────────────────────

func TestAcquire_AnnouncesTargetFormat(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	res := h.acquire(context.Background())
	m := h.readMessage(t)
	if m.Type != wsaudio.TypeMicOpen {
		t.Fatalf("type = %q, want %q", m.Type, wsaudio.TypeMicOpen)
	}
	want := wsaudio.AudioFormat{Encoding: wsaudio.EncodingPCM, SampleRateHz: 16000, Channels: 1}
	if m.Audio == nil || *m.Audio != want {
		t.Fatalf("audio = %+v, want %+v", m.Audio, want)
	}
	h.send(t, wsaudio.ClientMessage{Type: wsaudio.TypeMicReady})
	if r := waitFor(t, res); r.err != nil {
		t.Fatalf("Acquire: %v", r.err)
	}
}

func TestAcquire_ClientRefusals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		reply      wsaudio.ClientMessage
		permission bool
	}{
		{
			name:       "denied",
			reply:      wsaudio.ClientMessage{Type: wsaudio.TypeMicDenied},
			permission: true,
		},
		{
			name:  "device error",
			reply: wsaudio.ClientMessage{Type: wsaudio.TypeMicError, Error: "no input device"},
		},
		{
			name: "unsupported format",
			reply: wsaudio.ClientMessage{
				Type:  wsaudio.TypeMicReady,
				Audio: &wsaudio.AudioFormat{Encoding: "flac", SampleRateHz: 16000, Channels: 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)

			res := h.acquire(context.Background())
			h.readMessage(t)
			h.send(t, tt.reply)

			r := waitFor(t, res)
			if r.err == nil {
				t.Fatal("expected an error")
			}
			if got := errors.Is(r.err, audio.ErrPermissionDenied); got != tt.permission {
				t.Errorf("errors.Is(ErrPermissionDenied) = %v, want %v (err: %v)", got, tt.permission, r.err)
			}
		})
	}
}

func TestAcquire_ContextCancelledClosesMic(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	res := h.acquire(ctx)
	h.readMessage(t)
	cancel()

	r := waitFor(t, res)
	if !errors.Is(r.err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", r.err)
	}
	if m := h.readMessage(t); m.Type != wsaudio.TypeMicClose {
		t.Fatalf("type = %q, want %q", m.Type, wsaudio.TypeMicClose)
	}
}

func TestAcquire_SecondCallWhileOpenFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.openMic(t, nil)

	if _, err := h.conn.Acquire(context.Background()); err == nil {
		t.Fatal("second Acquire succeeded, want error")
	}
}

func TestStream_DeliversAudio(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		format   *wsaudio.AudioFormat
		samples  int
		wantSize int
	}{
		{name: "target format", format: nil, samples: 320, wantSize: 640},
		{
			name:     "resampled",
			format:   &wsaudio.AudioFormat{Encoding: wsaudio.EncodingPCM, SampleRateHz: 32000, Channels: 1},
			samples:  640,
			wantSize: 640,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			s := h.openMic(t, tt.format)

			if s.Format() != audio.DefaultFormat {
				t.Errorf("Format() = %v, want %v", s.Format(), audio.DefaultFormat)
			}
			h.write(t, websocket.MessageBinary, tone(tt.samples))

			chunk := waitFor(t, s.Chunks())
			if len(chunk) != tt.wantSize {
				t.Errorf("chunk size = %d, want %d", len(chunk), tt.wantSize)
			}
			src, err := h.conn.Analyze(s)
			if err != nil {
				t.Fatalf("Analyze: %v", err)
			}
			if src.Energy() <= 0 {
				t.Errorf("Energy() = %v, want > 0", src.Energy())
			}
		})
	}
}

func TestStream_ClientMicClosedEndsStream(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	s := h.openMic(t, nil)

	h.send(t, wsaudio.ClientMessage{Type: wsaudio.TypeMicClosed})

	select {
	case _, ok := <-s.Chunks():
		if ok {
			t.Fatal("received a chunk, want closed channel")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("stream not closed")
	}
	if _, err := h.conn.Analyze(s); !errors.Is(err, audio.ErrStreamClosed) {
		t.Fatalf("Analyze after mic_closed: err = %v, want ErrStreamClosed", err)
	}
}

func TestRelease_ClosesStreamAndNotifiesClient(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	s := h.openMic(t, nil)

	if err := h.conn.Release(s); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, ok := <-s.Chunks(); ok {
		t.Fatal("chunk channel still open")
	}
	if m := h.readMessage(t); m.Type != wsaudio.TypeMicClose {
		t.Fatalf("type = %q, want %q", m.Type, wsaudio.TypeMicClose)
	}
	if err := h.conn.Release(s); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if _, err := h.conn.Analyze(s); !errors.Is(err, audio.ErrStreamClosed) {
		t.Fatalf("Analyze after Release: err = %v, want ErrStreamClosed", err)
	}
}

func TestController_RestartCyclesKeepMicrophone(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	// The client grants every microphone request right away.
	opened := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		for {
			_, data, err := h.client.Read(ctx)
			if err != nil {
				return
			}
			var m wsaudio.ServerMessage
			if json.Unmarshal(data, &m) != nil || m.Type != wsaudio.TypeMicOpen {
				continue
			}
			ready, _ := json.Marshal(wsaudio.ClientMessage{Type: wsaudio.TypeMicReady})
			if h.client.Write(ctx, websocket.MessageText, ready) != nil {
				return
			}
			opened <- struct{}{}
		}
	}()

	var (
		mu      sync.Mutex
		notices []voice.Notice
	)
	ctrl, err := voice.New(
		voice.Deps{
			Capturer: h.conn,
			Player:   h.conn,
			Pipeline: voice.PipelineFunc(func(context.Context, voice.Turn) voice.Outcome { return voice.NoSpeech() }),
		},
		voice.WithHooks(voice.Hooks{OnNotice: func(n voice.Notice) {
			mu.Lock()
			defer mu.Unlock()
			notices = append(notices, n)
		}}),
	)
	if err != nil {
		t.Fatalf("voice.New: %v", err)
	}
	t.Cleanup(ctrl.Close)

	for i := range 50 {
		if err := ctrl.Start(); err != nil {
			t.Fatalf("cycle %d: Start: %v", i, err)
		}
		waitFor(t, opened)
		ctrl.Stop()
	}

	if err := ctrl.Start(); err != nil {
		t.Fatalf("final Start: %v", err)
	}
	waitFor(t, opened)
	deadline := time.Now().Add(3 * time.Second)
	for ctrl.State() != voice.StateListening {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want listening", ctrl.State())
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(notices) != 0 {
		t.Errorf("notices = %+v, want none", notices)
	}
}

// ── Playback ──────────────────────────────────────────────────────────────────

func TestPlay_StreamsChunksAndWaitsForClient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		reply   string
		wantErr bool
	}{
		{name: "played", reply: wsaudio.TypePlaybackDone},
		{name: "failed", reply: wsaudio.TypePlaybackFailed, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)

			// 250ms of 16 kHz mono: two full 100ms frames and a half one.
			u := audio.Utterance{Data: tone(4000), Format: audio.DefaultFormat}
			done := make(chan error, 1)
			go func() { done <- h.conn.Play(context.Background(), u) }()

			start := h.readMessage(t)
			if start.Type != wsaudio.TypePlaybackStart || start.PlaybackID == "" {
				t.Fatalf("first message = %+v, want playback_start with id", start)
			}
			var sizes []int
			for {
				typ, data := h.read(t)
				if typ == websocket.MessageText {
					var end wsaudio.ServerMessage
					_ = json.Unmarshal(data, &end)
					if end.Type != wsaudio.TypePlaybackEnd || end.PlaybackID != start.PlaybackID {
						t.Fatalf("got %+v, want playback_end", end)
					}
					break
				}
				sizes = append(sizes, len(data))
			}
			if want := []int{3200, 3200, 1600}; len(sizes) != 3 || sizes[0] != want[0] || sizes[2] != want[2] {
				t.Errorf("frame sizes = %v, want %v", sizes, want)
			}

			select {
			case err := <-done:
				t.Fatalf("Play returned before the client answered: %v", err)
			default:
			}

			h.send(t, wsaudio.ClientMessage{Type: tt.reply, PlaybackID: start.PlaybackID, Error: "speaker gone"})
			if err := waitFor(t, done); (err != nil) != tt.wantErr {
				t.Fatalf("Play error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPlay_CancelSendsPlaybackCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	u := audio.Utterance{Data: tone(1600), Format: audio.DefaultFormat}
	done := make(chan error, 1)
	go func() { done <- h.conn.Play(ctx, u) }()

	start := h.readMessage(t)
	cancel()

	if err := waitFor(t, done); !errors.Is(err, context.Canceled) {
		t.Fatalf("Play error = %v, want context.Canceled", err)
	}
	for {
		typ, data := h.read(t)
		if typ != websocket.MessageText {
			continue
		}
		var m wsaudio.ServerMessage
		_ = json.Unmarshal(data, &m)
		if m.Type == wsaudio.TypePlaybackCancel {
			if m.PlaybackID != start.PlaybackID {
				t.Errorf("cancel id = %q, want %q", m.PlaybackID, start.PlaybackID)
			}
			return
		}
	}
}

func TestPlay_EmptyUtteranceIsNoop(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if err := h.conn.Play(context.Background(), audio.Utterance{Format: audio.DefaultFormat}); err != nil {
		t.Fatalf("Play: %v", err)
	}
}

// ── Control plane ─────────────────────────────────────────────────────────────

func TestCommands(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	want := []wsaudio.Command{
		wsaudio.CommandStart,
		wsaudio.CommandEndTurn,
		wsaudio.CommandReset,
		wsaudio.CommandStop,
	}
	for _, c := range want {
		h.send(t, wsaudio.ClientMessage{Type: string(c)})
	}
	for i, w := range want {
		if got := waitFor(t, h.conn.Commands()); got != w {
			t.Errorf("command %d = %q, want %q", i, got, w)
		}
	}
}

func TestUnknownMessageGetsError(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.send(t, wsaudio.ClientMessage{Type: "dance"})
	m := h.readMessage(t)
	if m.Type != wsaudio.TypeError || !strings.Contains(m.Error, "dance") {
		t.Fatalf("got %+v, want error mentioning the type", m)
	}
}

func TestSend_DeliversJSON(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if err := h.conn.Send(map[string]any{"type": "state", "state": "listening"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	_, data := h.read(t)
	var got map[string]string
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["state"] != "listening" {
		t.Errorf("state = %q, want listening", got["state"])
	}
}

func TestRun_ClientCloseEndsConnection(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	s := h.openMic(t, nil)

	if err := h.client.Close(websocket.StatusNormalClosure, "bye"); err != nil {
		t.Fatalf("client close: %v", err)
	}
	if err := waitFor(t, h.runErr); err != nil {
		t.Fatalf("Run: %v", err)
	}
	select {
	case <-h.conn.Done():
	default:
		t.Fatal("Done not closed after Run returned")
	}
	if _, ok := <-s.Chunks(); ok {
		t.Fatal("stream still open after disconnect")
	}
	if err := h.conn.Send("late"); !errors.Is(err, wsaudio.ErrClosed) {
		t.Fatalf("Send after close = %v, want ErrClosed", err)
	}
}
