// Package voice implements the turn-taking engine of a voice conversation.
//
// A [Controller] owns one conversation at a time. It samples the energy of
// the live microphone stream, classifies frames as voice or silence, decides
// when the user finished speaking, hands the recorded utterance to a
// [Pipeline] and plays the answer back before listening again.
//
// All state lives on a single goroutine that consumes one event queue: user
// commands, sampling ticks, audio chunks, timer expiries and the completions
// of asynchronous work (microphone acquisition, pipeline calls, playback).
// Every asynchronous completion carries the epoch of the conversation that
// started it and is dropped once that conversation was stopped.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/charlie/pkg/audio"
)

var (
	// ErrNotIdle is returned by Start and Reset while a conversation runs.
	ErrNotIdle = errors.New("voice: conversation already active")

	// ErrClosed is returned after [Controller.Close].
	ErrClosed = errors.New("voice: controller closed")
)

// Deps are the collaborators of a [Controller].
type Deps struct {
	Capturer audio.Capturer
	Player   audio.Player
	Pipeline Pipeline
}

// Option configures a [Controller].
type Option func(*Controller)

// WithConfig replaces the default tuning.
func WithConfig(cfg Config) Option {
	return func(c *Controller) { c.cfg = cfg }
}

// WithClock replaces the system clock.
func WithClock(clk Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// WithHooks installs notification hooks.
func WithHooks(h Hooks) Option {
	return func(c *Controller) { c.hooks = h }
}

// WithUserID sets the user identifier passed to the pipeline.
func WithUserID(id string) Option {
	return func(c *Controller) { c.userID = id }
}

// WithLogger sets the base logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// Controller is the turn-taking state machine of one conversation endpoint.
//
// Lifecycle: [New] creates it and starts its event loop, [Controller.Start]
// and [Controller.Stop] begin and end conversations (any number of times),
// and [Controller.Close] disposes it. All methods are safe for concurrent
// use.
type Controller struct {
	deps   Deps
	cfg    Config
	clock  Clock
	hooks  Hooks
	userID string
	log    *slog.Logger

	events    chan event
	quit      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once

	// Read-side mirrors for callers outside the loop.
	stateView   atomic.Int32
	sessionView atomic.Value
	messages    Log

	// Everything below is owned by the loop goroutine.
	state      State
	epoch      uint64
	sessionID  string
	sessCtx    context.Context
	sessCancel context.CancelFunc
	stream     audio.Stream
	sampler    *Sampler
	ticker     Ticker
	classifier *Classifier
	recorder   *Recorder
	endTimer   Timer
	endGen     uint64
	resume     Timer
	inFlight   bool
	turns      int

	// acquiring is set while an Acquire call runs. A Start that arrives in
	// the meantime parks its reply in pendingStart until the result of that
	// call was handled. The capturer never sees two overlapping Acquires.
	acquiring    bool
	pendingStart chan<- error
}

// New validates deps and cfg and starts the controller loop.
func New(deps Deps, opts ...Option) (*Controller, error) {
	if deps.Capturer == nil || deps.Player == nil || deps.Pipeline == nil {
		return nil, errors.New("voice: capturer, player and pipeline are required")
	}
	c := &Controller{
		deps:   deps,
		cfg:    DefaultConfig(),
		clock:  SystemClock(),
		log:    slog.Default(),
		events: make(chan event, 64),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if err := c.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("voice: invalid config: %w", err)
	}
	c.classifier = NewClassifier(c.cfg)
	c.recorder = NewRecorder(audio.DefaultFormat)
	c.sessionView.Store("")

	go c.loop()
	return c, nil
}

// ─── public API ───────────────────────────────────────────────────────────────

// Start begins a conversation: the controller moves to connecting and
// acquires the microphone in the background. It returns [ErrNotIdle] when a
// conversation is already running. When a stopped conversation still waits
// for its microphone, Start blocks until that stream was handed back.
func (c *Controller) Start() error {
	reply := make(chan error, 1)
	if !c.post(evStart{reply: reply}) {
		return ErrClosed
	}
	return c.await(reply)
}

// Stop ends the running conversation and returns once every resource was
// released. Calling Stop while idle, repeatedly, or after Close is a no-op.
func (c *Controller) Stop() {
	done := make(chan struct{})
	if !c.post(evStop{done: done}) {
		return
	}
	select {
	case <-done:
	case <-c.exited:
	}
}

// EndTurn ends the current recording as if the user had stopped speaking.
// Ignored unless a turn is being recorded.
func (c *Controller) EndTurn() {
	c.post(evEndTurn{})
}

// Reset clears the conversation log. Only allowed while idle.
func (c *Controller) Reset() error {
	reply := make(chan error, 1)
	if !c.post(evReset{reply: reply}) {
		return ErrClosed
	}
	return c.await(reply)
}

// Flush blocks until every event queued before the call, and every audio
// chunk already delivered by the stream, has been handled.
func (c *Controller) Flush() {
	done := make(chan struct{})
	if !c.post(evFlush{done: done}) {
		return
	}
	select {
	case <-done:
	case <-c.exited:
	}
}

// Close stops any conversation and terminates the loop. Safe to call more
// than once.
func (c *Controller) Close() {
	c.closeOnce.Do(func() { close(c.quit) })
	<-c.exited
}

// State returns the current conversation state.
func (c *Controller) State() State { return State(c.stateView.Load()) }

// SessionID returns the identifier of the running conversation, or "" when
// idle.
func (c *Controller) SessionID() string { return c.sessionView.Load().(string) }

// Messages returns a copy of the conversation log.
func (c *Controller) Messages() []Message { return c.messages.Messages() }

func (c *Controller) post(ev event) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	case <-c.quit:
		return false
	}
}

func (c *Controller) await(reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	case <-c.exited:
		return ErrClosed
	}
}

// ─── events ───────────────────────────────────────────────────────────────────

type event interface{}

type (
	evStart   struct{ reply chan<- error }
	evStop    struct{ done chan struct{} }
	evEndTurn struct{}
	evReset   struct{ reply chan<- error }
	evFlush   struct{ done chan struct{} }

	evAcquired struct {
		epoch  uint64
		stream audio.Stream
		energy audio.EnergySource
		err    error
	}
	evEndTimer struct {
		epoch uint64
		gen   uint64
	}
	evResume  struct{ epoch uint64 }
	evOutcome struct {
		epoch   uint64
		turn    Turn
		outcome Outcome
		started time.Time
	}
	evPlayed struct {
		epoch uint64
		err   error
	}
)

// ─── loop ─────────────────────────────────────────────────────────────────────

func (c *Controller) loop() {
	defer close(c.exited)
	for {
		var (
			tick   <-chan time.Time
			chunks <-chan []byte
		)
		if c.ticker != nil {
			tick = c.ticker.C()
		}
		if c.stream != nil {
			chunks = c.stream.Chunks()
		}

		select {
		case <-c.quit:
			c.teardown("controller closed")
			return
		case ev := <-c.events:
			c.handle(ev)
		case now := <-tick:
			c.drainChunks()
			c.onTick(now)
		case chunk, ok := <-chunks:
			if !ok {
				c.onStreamLost()
				continue
			}
			c.recorder.Chunk(chunk)
		}
	}
}

func (c *Controller) handle(ev event) {
	switch ev := ev.(type) {
	case evStart:
		c.requestStart(ev.reply)
	case evStop:
		c.teardown("stopped by user")
		close(ev.done)
	case evEndTurn:
		c.endTurn(EndManual)
	case evReset:
		ev.reply <- c.onReset()
	case evFlush:
		c.drainChunks()
		close(ev.done)
	case evAcquired:
		c.onAcquired(ev)
	case evEndTimer:
		c.onEndTimer(ev)
	case evResume:
		c.onResume(ev)
	case evOutcome:
		c.onOutcome(ev)
	case evPlayed:
		c.onPlayed(ev)
	default:
		c.log.Error("voice: unknown event", "type", fmt.Sprintf("%T", ev))
	}
}

// drainChunks records every chunk the stream already delivered without
// blocking.
func (c *Controller) drainChunks() {
	for c.stream != nil {
		select {
		case chunk, ok := <-c.stream.Chunks():
			if !ok {
				c.onStreamLost()
				return
			}
			c.recorder.Chunk(chunk)
		default:
			return
		}
	}
}

// ─── transitions ──────────────────────────────────────────────────────────────

func (c *Controller) requestStart(reply chan<- error) {
	switch {
	case c.state != StateIdle || c.pendingStart != nil:
		reply <- ErrNotIdle
	case c.acquiring:
		c.log.Debug("voice: start deferred until the previous microphone request settles")
		c.pendingStart = reply
	default:
		reply <- c.onStart()
	}
}

func (c *Controller) onStart() error {
	if c.state != StateIdle {
		return ErrNotIdle
	}
	c.epoch++
	c.sessionID = uuid.NewString()
	c.sessionView.Store(c.sessionID)
	c.turns = 0
	c.sessCtx, c.sessCancel = context.WithCancel(context.Background())
	c.setState(StateConnecting)

	epoch, ctx := c.epoch, c.sessCtx
	c.acquiring = true
	go func() {
		s, err := c.deps.Capturer.Acquire(ctx)
		var energy audio.EnergySource
		if err == nil {
			energy, err = c.deps.Capturer.Analyze(s)
			if err != nil {
				c.release(s)
				s = nil
			}
		}
		if !c.post(evAcquired{epoch: epoch, stream: s, energy: energy, err: err}) && s != nil {
			c.release(s)
		}
	}()
	return nil
}

func (c *Controller) onAcquired(ev evAcquired) {
	c.acquiring = false
	if ev.epoch != c.epoch || c.state != StateConnecting {
		if ev.stream != nil {
			c.log.Debug("voice: releasing stream acquired for a stopped conversation", "stream", ev.stream.ID())
			c.release(ev.stream)
		}
		if reply := c.pendingStart; reply != nil {
			c.pendingStart = nil
			reply <- c.onStart()
		}
		return
	}
	if ev.err != nil {
		n := Notice{Kind: NoticeCaptureFailed, Text: "Could not start the microphone.", TTL: c.cfg.NoticeTTL}
		if errors.Is(ev.err, audio.ErrPermissionDenied) {
			n = Notice{Kind: NoticePermissionDenied, Text: "Microphone access was denied.", TTL: c.cfg.NoticeTTL}
		}
		c.log.Warn("voice: microphone acquisition failed", "session_id", c.sessionID, "err", ev.err)
		c.notify(n)
		c.endSession()
		return
	}

	c.stream = ev.stream
	c.recorder = NewRecorder(ev.stream.Format())
	c.sampler = NewSampler(ev.energy, c.cfg.LevelInterval, c.hooks.OnLevel)
	c.ticker = c.clock.NewTicker(c.cfg.SampleInterval)
	c.appendMessage(NewMessage(RoleSystem, "Conversation started", c.clock.Now()))
	c.setState(StateListening)
	c.beginRecording()
	c.log.Info("voice: conversation started", "session_id", c.sessionID, "stream", c.stream.ID())
}

func (c *Controller) onTick(now time.Time) {
	if c.sampler == nil {
		return
	}
	frame := c.sampler.Sample(now)
	if c.state != StateListening || c.inFlight || !c.recorder.Active() {
		return
	}

	v := c.classifier.Observe(frame.Level, c.recorder.Elapsed(now), c.endTimer != nil)
	if v.SpeechStarted {
		c.log.Debug("voice: speech confirmed", "session_id", c.sessionID)
	}
	if v.CancelTimer {
		c.cancelEndTimer()
	}
	if v.ForceEnd {
		c.endTurn(EndMaxDuration)
		return
	}
	if v.ArmTimer {
		c.armEndTimer()
	}
}

func (c *Controller) armEndTimer() {
	c.endGen++
	ev := evEndTimer{epoch: c.epoch, gen: c.endGen}
	c.endTimer = c.clock.AfterFunc(c.cfg.SilenceDuration, func() { c.post(ev) })
}

// cancelEndTimer stops the pending timer and invalidates any expiry that is
// already queued.
func (c *Controller) cancelEndTimer() {
	if c.endTimer != nil {
		c.endTimer.Stop()
		c.endTimer = nil
	}
	c.endGen++
}

func (c *Controller) onEndTimer(ev evEndTimer) {
	if ev.epoch != c.epoch || ev.gen != c.endGen || c.endTimer == nil {
		return
	}
	c.endTimer = nil
	if c.state == StateListening && c.recorder.Active() && !c.inFlight && c.classifier.HasSpoken() {
		c.endTurn(EndSilence)
	}
}

func (c *Controller) endTurn(reason EndReason) {
	if c.state != StateListening || c.inFlight || !c.recorder.Active() {
		return
	}
	c.drainChunks()
	if c.state != StateListening {
		return
	}
	c.cancelEndTimer()
	spoke := c.classifier.HasSpoken()
	utt, ok := c.recorder.Finalize()

	if !ok || (!spoke && len(utt.Data) < c.cfg.MinUtteranceBytes) {
		c.log.Debug("voice: discarding turn without speech",
			"session_id", c.sessionID, "bytes", len(utt.Data), "reason", reason)
		c.beginRecording()
		return
	}

	c.turns++
	turn := Turn{
		SessionID: c.sessionID,
		UserID:    c.userID,
		Index:     c.turns,
		Audio:     utt,
		Spoke:     spoke,
		Reason:    reason,
	}
	c.inFlight = true
	c.setState(StateProcessing)
	c.log.Debug("voice: end of turn", "session_id", c.sessionID, "turn", turn.Index,
		"reason", reason, "duration", utt.Duration())

	epoch, ctx, started := c.epoch, c.sessCtx, c.clock.Now()
	go func() {
		out := c.deps.Pipeline.Process(ctx, turn)
		c.post(evOutcome{epoch: epoch, turn: turn, outcome: out, started: started})
	}()
}

func (c *Controller) onOutcome(ev evOutcome) {
	if ev.epoch != c.epoch || c.state != StateProcessing {
		c.log.Debug("voice: dropping stale pipeline outcome", "turn", ev.turn.Index)
		return
	}
	c.inFlight = false
	if c.hooks.OnTurn != nil {
		c.hooks.OnTurn(TurnReport{
			SessionID:  ev.turn.SessionID,
			Index:      ev.turn.Index,
			Reason:     ev.turn.Reason,
			Outcome:    ev.outcome.Kind,
			Latency:    c.clock.Now().Sub(ev.started),
			AudioBytes: len(ev.turn.Audio.Data),
		})
	}

	switch ev.outcome.Kind {
	case OutcomeResponse:
		for _, m := range ev.outcome.Messages {
			c.appendMessage(m)
		}
		if ev.outcome.Speech.Empty() {
			c.listen()
			return
		}
		c.setState(StateSpeaking)
		epoch, ctx, speech := c.epoch, c.sessCtx, ev.outcome.Speech
		go func() {
			err := c.deps.Player.Play(ctx, speech)
			c.post(evPlayed{epoch: epoch, err: err})
		}()

	case OutcomeFailure:
		c.log.Warn("voice: turn failed", "session_id", c.sessionID, "turn", ev.turn.Index, "err", ev.outcome.Err)
		c.notify(Notice{Kind: NoticeNetworkFailure, Text: "Something went wrong. Listening again shortly.", TTL: c.cfg.NoticeTTL})
		c.setState(StateListening)
		epoch := c.epoch
		c.resume = c.clock.AfterFunc(c.cfg.ResumeDelay, func() { c.post(evResume{epoch: epoch}) })

	default:
		c.listen()
	}
}

func (c *Controller) onResume(ev evResume) {
	if ev.epoch != c.epoch || c.state != StateListening || c.inFlight || c.recorder.Active() {
		return
	}
	c.resume = nil
	c.beginRecording()
}

func (c *Controller) onPlayed(ev evPlayed) {
	if ev.epoch != c.epoch || c.state != StateSpeaking {
		return
	}
	if ev.err != nil {
		c.log.Warn("voice: playback failed", "session_id", c.sessionID, "err", ev.err)
	}
	c.listen()
}

func (c *Controller) onStreamLost() {
	if c.state == StateIdle {
		return
	}
	c.log.Warn("voice: microphone stream ended unexpectedly", "session_id", c.sessionID)
	c.notify(Notice{Kind: NoticeCaptureFailed, Text: "The microphone disconnected.", TTL: c.cfg.NoticeTTL})
	c.stream = nil
	c.teardown("stream lost")
}

func (c *Controller) onReset() error {
	if c.state != StateIdle {
		return ErrNotIdle
	}
	c.messages.Clear()
	return nil
}

// teardown ends the running conversation. It is a no-op while idle.
func (c *Controller) teardown(why string) {
	if c.state == StateIdle {
		return
	}
	c.cancelEndTimer()
	if c.resume != nil {
		c.resume.Stop()
		c.resume = nil
	}
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
	c.sampler = nil
	c.recorder.Finalize()
	if c.stream != nil {
		c.release(c.stream)
		c.stream = nil
	}
	wasActive := c.state != StateConnecting
	if wasActive {
		c.appendMessage(NewMessage(RoleSystem, "Conversation ended", c.clock.Now()))
	}
	c.log.Info("voice: conversation ended", "session_id", c.sessionID, "reason", why)
	c.endSession()
}

// endSession invalidates in-flight work and returns to idle.
func (c *Controller) endSession() {
	if c.sessCancel != nil {
		c.sessCancel()
		c.sessCancel = nil
	}
	c.inFlight = false
	c.epoch++
	c.sessionID = ""
	c.sessionView.Store("")
	c.setState(StateIdle)
}

func (c *Controller) listen() {
	c.setState(StateListening)
	c.beginRecording()
}

func (c *Controller) beginRecording() {
	c.cancelEndTimer()
	if c.sampler != nil {
		c.sampler.Reset()
	}
	c.classifier.Reset()
	c.recorder.Begin(c.clock.Now())
}

func (c *Controller) release(s audio.Stream) {
	if err := c.deps.Capturer.Release(s); err != nil {
		c.log.Warn("voice: release stream", "stream", s.ID(), "err", err)
	}
}

func (c *Controller) setState(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.stateView.Store(int32(to))
	c.log.Debug("voice: state change", "session_id", c.sessionID, "from", from, "to", to)
	if c.hooks.OnState != nil {
		c.hooks.OnState(from, to)
	}
}

func (c *Controller) appendMessage(m Message) {
	c.messages.Append(m)
	if c.hooks.OnMessage != nil {
		c.hooks.OnMessage(c.sessionID, m)
	}
}

func (c *Controller) notify(n Notice) {
	if c.hooks.OnNotice != nil {
		c.hooks.OnNotice(n)
	}
}
