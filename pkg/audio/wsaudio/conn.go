// Package wsaudio carries a voice conversation over a single WebSocket.
//
// The browser owns the microphone and the speaker. A [Conn] asks it to open
// the microphone, receives the captured audio as binary frames and streams
// synthesized speech back, which makes a Conn both an [audio.Capturer] and
// an [audio.Player]. Text frames carry JSON control messages; see
// [ClientMessage] and [ServerMessage]. Conversation commands typed by the
// user (start, stop, end turn, reset) are surfaced on [Conn.Commands], and
// the application can push its own JSON events with [Conn.Send].
//
// Outbound frames pass through two queues: control frames overtake audio
// and events so that a cancelled playback stops promptly.
package wsaudio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/charlie/pkg/audio"
)

// ErrClosed is returned by operations on a connection that has shut down.
var ErrClosed = errors.New("wsaudio: connection closed")

// errPeerClosed ends the read loop on a normal close handshake.
var errPeerClosed = errors.New("wsaudio: peer closed")

// Command is a conversation command sent by the client.
type Command string

const (
	CommandStart   Command = TypeStart
	CommandStop    Command = TypeStop
	CommandEndTurn Command = TypeEndTurn
	CommandReset   Command = TypeReset
)

// Config tunes a [Conn]. Zero fields take defaults.
type Config struct {
	// Target is the PCM format delivered on microphone streams.
	// Default: [audio.DefaultFormat].
	Target audio.Format

	// WriteTimeout bounds a single frame write. Default: 5s.
	WriteTimeout time.Duration

	// PingInterval is the keep-alive period. Default: 20s.
	PingInterval time.Duration

	// ReadLimit caps the size of one inbound frame. Default: 1 MiB.
	ReadLimit int64

	// PlaybackChunk is the duration of audio per outbound binary frame.
	// Default: 100ms.
	PlaybackChunk time.Duration

	// QueueSize is the capacity of each outbound queue. Default: 256.
	QueueSize int
}

func (c *Config) applyDefaults() {
	if c.Target.SampleRate <= 0 || c.Target.Channels <= 0 {
		c.Target = audio.DefaultFormat
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	if c.PlaybackChunk <= 0 {
		c.PlaybackChunk = 100 * time.Millisecond
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
}

// Option configures a [Conn].
type Option func(*Conn)

// WithConfig replaces the default tuning.
func WithConfig(cfg Config) Option {
	return func(c *Conn) { c.cfg = cfg }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Conn) { c.log = l }
}

type frame struct {
	typ  websocket.MessageType
	data []byte
}

type micResult struct {
	stream *micStream
	err    error
}

// Conn is one client connection. Create it with [New] and drive it with
// [Conn.Run].
type Conn struct {
	ws  *websocket.Conn
	cfg Config
	log *slog.Logger

	priority chan frame
	normal   chan frame
	commands chan Command
	done     chan struct{}
	doneOnce sync.Once
	seq      atomic.Uint64

	mu       sync.Mutex
	mic      *micStream
	micWait  chan micResult
	playback map[string]chan error
}

var (
	_ audio.Capturer = (*Conn)(nil)
	_ audio.Player   = (*Conn)(nil)
)

// New wraps an accepted WebSocket.
func New(ws *websocket.Conn, opts ...Option) *Conn {
	c := &Conn{
		ws:       ws,
		log:      slog.Default(),
		commands: make(chan Command, 16),
		done:     make(chan struct{}),
		playback: make(map[string]chan error),
	}
	for _, o := range opts {
		o(c)
	}
	c.cfg.applyDefaults()
	c.priority = make(chan frame, c.cfg.QueueSize)
	c.normal = make(chan frame, c.cfg.QueueSize)
	c.ws.SetReadLimit(c.cfg.ReadLimit)
	return c
}

// Commands delivers the conversation commands sent by the client. The
// channel is never closed; select on [Conn.Done] as well.
func (c *Conn) Commands() <-chan Command { return c.commands }

// Done is closed once [Conn.Run] returned.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Run pumps the connection until the client disconnects, an I/O error
// occurs or ctx is cancelled. A normal close by the client returns nil.
func (c *Conn) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(gctx) })
	g.Go(func() error { return c.writeLoop(gctx) })
	g.Go(func() error { return c.pingLoop(gctx) })
	err := g.Wait()
	c.shutdown()

	switch {
	case errors.Is(err, errPeerClosed):
		_ = c.ws.Close(websocket.StatusNormalClosure, "")
		return nil
	case ctx.Err() != nil:
		_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
		return nil
	default:
		_ = c.ws.CloseNow()
		return err
	}
}

// Send queues v as a JSON text frame behind any queued audio. It blocks
// while the queue is full.
func (c *Conn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wsaudio: encode: %w", err)
	}
	return c.enqueue(context.Background(), c.normal, frame{websocket.MessageText, data})
}

// TrySend is like [Conn.Send] but drops v instead of blocking. Use it for
// high-rate events such as level meters.
func (c *Conn) TrySend(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	select {
	case c.normal <- frame{websocket.MessageText, data}:
		return true
	default:
		return false
	}
}

func (c *Conn) sendControl(m ServerMessage) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.enqueue(context.Background(), c.priority, frame{websocket.MessageText, data})
}

func (c *Conn) enqueue(ctx context.Context, q chan frame, f frame) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case q <- f:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ─── loops ────────────────────────────────────────────────────────────────────

func (c *Conn) readLoop(ctx context.Context) error {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return errPeerClosed
			}
			return fmt.Errorf("wsaudio: read: %w", err)
		}
		if typ == websocket.MessageBinary {
			c.onAudio(data)
			continue
		}
		msg, err := decodeClientMessage(data)
		if err != nil {
			c.log.Warn("wsaudio: ignoring malformed client message", "err", err)
			_ = c.sendControl(ServerMessage{Type: TypeError, Error: err.Error()})
			continue
		}
		c.onMessage(msg)
	}
}

func (c *Conn) writeLoop(ctx context.Context) error {
	for {
		// Control frames always go first.
		select {
		case f := <-c.priority:
			if err := c.write(ctx, f); err != nil {
				return err
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-c.priority:
			if err := c.write(ctx, f); err != nil {
				return err
			}
		case f := <-c.normal:
			if err := c.write(ctx, f); err != nil {
				return err
			}
		}
	}
}

func (c *Conn) write(ctx context.Context, f frame) error {
	wctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	if err := c.ws.Write(wctx, f.typ, f.data); err != nil {
		return fmt.Errorf("wsaudio: write: %w", err)
	}
	return nil
}

func (c *Conn) pingLoop(ctx context.Context) error {
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				return fmt.Errorf("wsaudio: ping: %w", err)
			}
		}
	}
}

// shutdown fails every pending wait and ends the microphone stream.
func (c *Conn) shutdown() {
	c.doneOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mic != nil {
		c.mic.close()
		c.mic = nil
	}
	if c.micWait != nil {
		c.micWait <- micResult{err: ErrClosed}
		c.micWait = nil
	}
	for id, w := range c.playback {
		w <- ErrClosed
		delete(c.playback, id)
	}
}

// ─── inbound dispatch ─────────────────────────────────────────────────────────

func (c *Conn) onMessage(m ClientMessage) {
	switch m.Type {
	case TypeStart, TypeStop, TypeEndTurn, TypeReset:
		select {
		case c.commands <- Command(m.Type):
		default:
			c.log.Warn("wsaudio: dropping client command, consumer is behind", "command", m.Type)
		}
	case TypeMicReady:
		c.onMicReady(m.Audio)
	case TypeMicDenied:
		c.resolveMic(micResult{err: audio.ErrPermissionDenied})
	case TypeMicError:
		c.resolveMic(micResult{err: fmt.Errorf("wsaudio: client microphone error: %s", m.Error)})
	case TypeMicClosed:
		c.onMicClosed()
	case TypePlaybackDone:
		c.resolvePlayback(m.PlaybackID, nil)
	case TypePlaybackFailed:
		c.resolvePlayback(m.PlaybackID, fmt.Errorf("wsaudio: client playback failed: %s", m.Error))
	default:
		c.log.Debug("wsaudio: unknown client message", "type", m.Type)
		_ = c.sendControl(ServerMessage{Type: TypeError, Error: "unknown message type " + m.Type})
	}
}

func (c *Conn) resolvePlayback(id string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.playback[id]; ok {
		w <- err
		delete(c.playback, id)
	}
}
