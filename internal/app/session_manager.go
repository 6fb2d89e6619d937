package app

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/charlie/internal/observe"
	"github.com/MrWong99/charlie/internal/store"
	"github.com/MrWong99/charlie/internal/voice"
	"github.com/MrWong99/charlie/pkg/audio/wsaudio"
)

// ErrAtCapacity is returned by [SessionManager.Reserve] when the
// configured number of voice connections is already open.
var ErrAtCapacity = errors.New("app: conversation limit reached")

// ErrShuttingDown is returned for connections arriving after
// [SessionManager.Close].
var ErrShuttingDown = errors.New("app: shutting down")

// Pipeline is the dialogue pipeline shared by every connection. Forget is
// called when a conversation returns to idle.
type Pipeline interface {
	voice.Pipeline
	Forget(sessionID string)
}

// SessionInfo describes one open voice connection.
type SessionInfo struct {
	// ConnectionID identifies the WebSocket for its whole lifetime.
	ConnectionID string `json:"connection_id"`

	// SessionID is the running conversation, empty while idle.
	SessionID string `json:"session_id,omitempty"`

	UserID    string    `json:"user_id"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	// Pipeline turns recorded turns into replies. Required.
	Pipeline Pipeline

	// Store receives every conversation message. Required.
	Store store.MessageLog

	// Metrics receives turn, state and notice counters. Required.
	Metrics *observe.Metrics

	// Voice is the turn-taking tuning for new connections.
	Voice voice.Config

	// MaxConversations caps concurrently open connections. Zero or less
	// means unlimited.
	MaxConversations int

	// Clock overrides the controller clock. Nil uses the system clock.
	Clock voice.Clock

	// ConnOptions are passed to every [wsaudio.Conn].
	ConnOptions []wsaudio.Option
}

// SessionManager owns the voice connections of the server. Each connection
// gets its own [voice.Controller]; the dialogue pipeline, the message store
// and the metrics are shared.
//
// All exported methods are safe for concurrent use.
type SessionManager struct {
	store    store.MessageLog
	metrics  *observe.Metrics
	limit    int
	clock    voice.Clock
	connOpts []wsaudio.Option

	pipeline atomic.Pointer[Pipeline]
	voiceCfg atomic.Pointer[voice.Config]

	mu       sync.Mutex
	reserved int
	sessions map[string]*session
	closed   bool
	wg       sync.WaitGroup
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) (*SessionManager, error) {
	if cfg.Pipeline == nil || cfg.Store == nil || cfg.Metrics == nil {
		return nil, errors.New("app: session manager needs a pipeline, a store and metrics")
	}
	if err := cfg.Voice.Validate(); err != nil {
		return nil, err
	}
	sm := &SessionManager{
		store:    cfg.Store,
		metrics:  cfg.Metrics,
		limit:    cfg.MaxConversations,
		clock:    cfg.Clock,
		connOpts: cfg.ConnOptions,
		sessions: make(map[string]*session),
	}
	sm.pipeline.Store(&cfg.Pipeline)
	sm.voiceCfg.Store(&cfg.Voice)
	return sm, nil
}

// Reserve claims a connection slot. The returned release func must be called
// exactly once when the connection is gone.
func (sm *SessionManager) Reserve() (release func(), err error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.closed {
		return nil, ErrShuttingDown
	}
	if sm.limit > 0 && sm.reserved >= sm.limit {
		return nil, ErrAtCapacity
	}
	sm.reserved++
	var once sync.Once
	return func() {
		once.Do(func() {
			sm.mu.Lock()
			sm.reserved--
			sm.mu.Unlock()
		})
	}, nil
}

// Active returns the number of reserved connection slots.
func (sm *SessionManager) Active() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.reserved
}

// Limit returns the configured connection cap.
func (sm *SessionManager) Limit() int { return sm.limit }

// SetVoiceConfig replaces the tuning used by connections opened afterwards.
func (sm *SessionManager) SetVoiceConfig(cfg voice.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	sm.voiceCfg.Store(&cfg)
	return nil
}

// SetPipeline swaps the dialogue pipeline. Turns processed after the call
// use p; the per-session state of the previous pipeline is dropped with it.
func (sm *SessionManager) SetPipeline(p Pipeline) {
	if p != nil {
		sm.pipeline.Store(&p)
	}
}

// Process implements [voice.Pipeline] by delegating to the current pipeline.
func (sm *SessionManager) Process(ctx context.Context, turn voice.Turn) voice.Outcome {
	return (*sm.pipeline.Load()).Process(ctx, turn)
}

func (sm *SessionManager) forget(sessionID string) {
	(*sm.pipeline.Load()).Forget(sessionID)
}

// Sessions returns a snapshot of the open connections sorted by start time.
func (sm *SessionManager) Sessions() []SessionInfo {
	sm.mu.Lock()
	out := make([]SessionInfo, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		out = append(out, s.info())
	}
	sm.mu.Unlock()
	slices.SortFunc(out, func(a, b SessionInfo) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ConnectionID, b.ConnectionID)
	})
	return out
}

// Serve drives one accepted WebSocket until the client disconnects or ctx is
// cancelled. The caller must hold a slot from [SessionManager.Reserve].
func (sm *SessionManager) Serve(ctx context.Context, ws *websocket.Conn, userID string) error {
	connID := uuid.NewString()
	ctx = observe.WithLogAttrs(ctx, "connection_id", connID, "user_id", userID)
	log := observe.Logger(ctx)
	conn := wsaudio.New(ws, append([]wsaudio.Option{wsaudio.WithLogger(log)}, sm.connOpts...)...)

	s := newSession(sm, conn, connID, userID, log)
	opts := []voice.Option{
		voice.WithConfig(*sm.voiceCfg.Load()),
		voice.WithHooks(s.hooks()),
		voice.WithUserID(userID),
		voice.WithLogger(log),
	}
	if sm.clock != nil {
		opts = append(opts, voice.WithClock(sm.clock))
	}
	ctrl, err := voice.New(voice.Deps{Capturer: conn, Player: conn, Pipeline: sm}, opts...)
	if err != nil {
		_ = ws.CloseNow()
		return err
	}
	s.ctrl = ctrl

	if !sm.add(s) {
		ctrl.Close()
		_ = ws.CloseNow()
		return ErrShuttingDown
	}
	defer sm.remove(connID)

	sm.metrics.ActiveConnections.Add(ctx, 1)
	defer sm.metrics.ActiveConnections.Add(context.WithoutCancel(ctx), -1)
	log.Info("voice connection opened")

	err = s.run(ctx)
	log.Info("voice connection closed", "err", err)
	return err
}

func (sm *SessionManager) add(s *session) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.closed {
		return false
	}
	sm.sessions[s.connID] = s
	sm.wg.Add(1)
	return true
}

func (sm *SessionManager) remove(connID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if _, ok := sm.sessions[connID]; ok {
		delete(sm.sessions, connID)
		sm.wg.Done()
	}
}

// Close stops every conversation, refuses new connections and waits until
// all connections are gone or ctx is done.
func (sm *SessionManager) Close(ctx context.Context) error {
	sm.mu.Lock()
	sm.closed = true
	open := make([]*session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		open = append(open, s)
	}
	sm.mu.Unlock()

	for _, s := range open {
		s.close()
	}

	done := make(chan struct{})
	go func() {
		sm.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
