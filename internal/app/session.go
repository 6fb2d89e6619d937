package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/charlie/internal/store"
	"github.com/MrWong99/charlie/internal/voice"
	"github.com/MrWong99/charlie/pkg/audio"
	"github.com/MrWong99/charlie/pkg/audio/wsaudio"
)

// Event types pushed to the client next to the audio plane messages of
// [wsaudio].
const (
	EventReady   = "ready"
	EventState   = "state"
	EventLevel   = "level"
	EventMessage = "message"
	EventNotice  = "notice"
	EventTurn    = "turn"
	EventReset   = "reset"
	EventError   = "error"
)

const (
	// persistQueue is the number of messages buffered for the store.
	persistQueue = 128

	// persistTimeout bounds a single store write.
	persistTimeout = 5 * time.Second
)

// Event is a JSON text frame describing the conversation to the client.
type Event struct {
	Type         string         `json:"type"`
	ConnectionID string         `json:"connection_id,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	State        string         `json:"state,omitempty"`
	Message      *voice.Message `json:"message,omitempty"`
	Notice       *NoticeEvent   `json:"notice,omitempty"`
	Turn         *TurnEvent     `json:"turn,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// LevelEvent carries the microphone level for meters. It is separate from
// [Event] because a zero level must still be sent.
type LevelEvent struct {
	Type  string  `json:"type"`
	Level float64 `json:"level"`
}

// NoticeEvent is a transient notice the client shows for TTLMillis.
type NoticeEvent struct {
	Kind      string `json:"kind"`
	Text      string `json:"text"`
	TTLMillis int64  `json:"ttl_ms"`
}

// TurnEvent summarizes a processed turn.
type TurnEvent struct {
	Index         int     `json:"index"`
	Reason        string  `json:"reason"`
	Outcome       string  `json:"outcome"`
	LatencyMillis int64   `json:"latency_ms"`
	AudioSeconds  float64 `json:"audio_seconds"`
}

// session binds one WebSocket to one controller.
type session struct {
	sm        *SessionManager
	conn      *wsaudio.Conn
	ctrl      *voice.Controller
	connID    string
	userID    string
	startedAt time.Time
	log       *slog.Logger

	persistQ chan store.Entry
	stop     chan struct{}
	stopOnce sync.Once

	// current is the conversation in progress. Only touched by hooks, which
	// all run on the controller loop.
	current string
}

func newSession(sm *SessionManager, conn *wsaudio.Conn, connID, userID string, log *slog.Logger) *session {
	return &session{
		sm:        sm,
		conn:      conn,
		connID:    connID,
		userID:    userID,
		startedAt: time.Now().UTC(),
		log:       log,
		persistQ:  make(chan store.Entry, persistQueue),
		stop:      make(chan struct{}),
	}
}

func (s *session) info() SessionInfo {
	return SessionInfo{
		ConnectionID: s.connID,
		SessionID:    s.ctrl.SessionID(),
		UserID:       s.userID,
		State:        s.ctrl.State().String(),
		StartedAt:    s.startedAt,
	}
}

// close asks run to return.
func (s *session) close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// run pumps client commands into the controller until the connection ends.
// On return the controller is closed and every queued message was written.
func (s *session) run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- s.conn.Run(runCtx) }()

	persisted := make(chan struct{})
	go func() {
		defer close(persisted)
		s.persist(ctx)
	}()

	s.emit(Event{Type: EventReady, ConnectionID: s.connID, State: voice.StateIdle.String()})
	s.pump(runCtx)

	s.ctrl.Close()
	cancel()
	close(s.persistQ)
	<-persisted
	return <-runErr
}

func (s *session) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-s.conn.Done():
			return
		case cmd := <-s.conn.Commands():
			s.handle(cmd)
		}
	}
}

func (s *session) handle(cmd wsaudio.Command) {
	s.log.Debug("client command", "command", cmd)
	switch cmd {
	case wsaudio.CommandStart:
		if err := s.ctrl.Start(); err != nil {
			s.emit(Event{Type: EventError, Error: err.Error()})
		}
	case wsaudio.CommandStop:
		s.ctrl.Stop()
	case wsaudio.CommandEndTurn:
		s.ctrl.EndTurn()
	case wsaudio.CommandReset:
		if err := s.ctrl.Reset(); err != nil {
			s.emit(Event{Type: EventError, Error: err.Error()})
			return
		}
		s.emit(Event{Type: EventReset})
	}
}

func (s *session) persist(ctx context.Context) {
	bg := context.WithoutCancel(ctx)
	for e := range s.persistQ {
		pctx, cancel := context.WithTimeout(bg, persistTimeout)
		err := s.sm.store.Append(pctx, e.SessionID, e.UserID, e.Message)
		cancel()
		if err != nil {
			s.log.Warn("failed to persist message", "session_id", e.SessionID, "message_id", e.Message.ID, "err", err)
		}
	}
}

// emit queues ev without blocking the controller loop.
func (s *session) emit(ev Event) {
	if !s.conn.TrySend(ev) {
		s.log.Warn("client is not reading, dropping event", "event", ev.Type)
	}
}

// ─── controller hooks ─────────────────────────────────────────────────────────

func (s *session) hooks() voice.Hooks {
	return voice.Hooks{
		OnState:   s.onState,
		OnLevel:   s.onLevel,
		OnMessage: s.onMessage,
		OnNotice:  s.onNotice,
		OnTurn:    s.onTurn,
	}
}

func (s *session) onState(from, to voice.State) {
	if from == voice.StateIdle {
		s.current = s.ctrl.SessionID()
	}
	s.sm.metrics.RecordStateTransition(context.Background(), from.String(), to.String())
	s.emit(Event{Type: EventState, SessionID: s.current, State: to.String()})
	if to == voice.StateIdle && s.current != "" {
		s.sm.forget(s.current)
		s.current = ""
	}
}

func (s *session) onLevel(level float64) {
	// Levels are best effort; a slow client just sees a choppier meter.
	s.conn.TrySend(LevelEvent{Type: EventLevel, Level: level})
}

func (s *session) onMessage(sessionID string, m voice.Message) {
	s.emit(Event{Type: EventMessage, SessionID: sessionID, Message: &m})
	select {
	case s.persistQ <- store.Entry{SessionID: sessionID, UserID: s.userID, Message: m}:
	default:
		s.log.Warn("message store is behind, dropping message", "session_id", sessionID, "message_id", m.ID)
	}
}

func (s *session) onNotice(n voice.Notice) {
	s.sm.metrics.RecordNotice(context.Background(), string(n.Kind))
	s.emit(Event{Type: EventNotice, SessionID: s.current, Notice: &NoticeEvent{
		Kind:      string(n.Kind),
		Text:      n.Text,
		TTLMillis: n.TTL.Milliseconds(),
	}})
}

func (s *session) onTurn(r voice.TurnReport) {
	spoken := time.Duration(r.AudioBytes) * time.Second / time.Duration(audio.DefaultFormat.BytesPerSecond())
	s.sm.metrics.RecordTurn(context.Background(), string(r.Reason), r.Outcome.String(), r.Latency, spoken)
	s.emit(Event{Type: EventTurn, SessionID: r.SessionID, Turn: &TurnEvent{
		Index:         r.Index,
		Reason:        string(r.Reason),
		Outcome:       r.Outcome.String(),
		LatencyMillis: r.Latency.Milliseconds(),
		AudioSeconds:  spoken.Seconds(),
	}})
}
