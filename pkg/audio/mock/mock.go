// Package mock provides in-memory implementations of the [audio.Capturer],
// [audio.Stream] and [audio.Player] interfaces for unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on call counts and arguments, and expose exported fields that control
// return values.
//
// Typical usage:
//
//	stream := mock.NewStream("mic-1")
//	capt := &mock.Capturer{Stream: stream}
//	capt.Meter.Set(0.2)
//	player := &mock.Player{}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/charlie/pkg/audio"
)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock [audio.Stream]. Push chunks with [Stream.Push].
type Stream struct {
	id     string
	format audio.Format
	ch     chan []byte

	mu     sync.Mutex
	closed bool
}

var _ audio.Stream = (*Stream)(nil)

// NewStream returns an open stream in [audio.DefaultFormat] with room for 64
// buffered chunks.
func NewStream(id string) *Stream {
	return &Stream{id: id, format: audio.DefaultFormat, ch: make(chan []byte, 64)}
}

// ID implements [audio.Stream].
func (s *Stream) ID() string { return s.id }

// Format implements [audio.Stream].
func (s *Stream) Format() audio.Format { return s.format }

// Chunks implements [audio.Stream].
func (s *Stream) Chunks() <-chan []byte { return s.ch }

// Push delivers chunk to readers of Chunks. It returns
// [audio.ErrStreamClosed] once the stream was closed.
func (s *Stream) Push(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.ErrStreamClosed
	}
	s.ch <- chunk
	return nil
}

// Close closes the chunk channel. Safe to call more than once.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Capturer ─────────────────────────────────────────────────────────────────

// Capturer is a mock [audio.Capturer].
//
// Acquire returns Stream (or AcquireErr). When Gate is non-nil, Acquire blocks
// until Gate is closed or ctx is done, simulating a pending permission prompt.
// Analyze returns Meter so tests control energy readings with Meter.Set. A
// closed mock stream fails with [audio.ErrStreamClosed].
type Capturer struct {
	Stream     *Stream
	AcquireErr error
	Gate       chan struct{}
	Meter      audio.Meter
	ReleaseErr error

	mu                sync.Mutex
	CallCountAcquire  int
	CallCountAnalyze  int
	CallCountRelease  int
	ReleasedStreamIDs []string
}

var _ audio.Capturer = (*Capturer)(nil)

// Acquire implements [audio.Capturer].
func (c *Capturer) Acquire(ctx context.Context) (audio.Stream, error) {
	c.mu.Lock()
	c.CallCountAcquire++
	gate := c.Gate
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.AcquireErr != nil {
		return nil, c.AcquireErr
	}
	return c.Stream, nil
}

// Analyze implements [audio.Capturer].
func (c *Capturer) Analyze(s audio.Stream) (audio.EnergySource, error) {
	c.mu.Lock()
	c.CallCountAnalyze++
	c.mu.Unlock()
	if ms, ok := s.(*Stream); ok && ms.Closed() {
		return nil, audio.ErrStreamClosed
	}
	return &c.Meter, nil
}

// Release implements [audio.Capturer]. The mock stream is closed on release.
func (c *Capturer) Release(s audio.Stream) error {
	c.mu.Lock()
	c.CallCountRelease++
	c.ReleasedStreamIDs = append(c.ReleasedStreamIDs, s.ID())
	err := c.ReleaseErr
	c.mu.Unlock()
	if ms, ok := s.(*Stream); ok {
		ms.Close()
	}
	return err
}

// Releases returns the number of Release calls so far.
func (c *Capturer) Releases() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountRelease
}

// Acquires returns the number of Acquire calls so far.
func (c *Capturer) Acquires() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountAcquire
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a mock [audio.Player].
//
// Play records the utterance and returns PlayErr. When Gate is non-nil, Play
// blocks until Gate is closed or ctx is done; a cancelled context is counted
// in Interrupted.
type Player struct {
	PlayErr error
	Gate    chan struct{}

	mu          sync.Mutex
	Played      []audio.Utterance
	Interrupted int
}

var _ audio.Player = (*Player)(nil)

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, u audio.Utterance) error {
	p.mu.Lock()
	p.Played = append(p.Played, u)
	gate := p.Gate
	err := p.PlayErr
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			p.mu.Lock()
			p.Interrupted++
			p.mu.Unlock()
			return ctx.Err()
		}
	}
	return err
}

// Plays returns the number of Play calls so far.
func (p *Player) Plays() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Played)
}

// Interruptions returns how many playbacks were stopped by cancellation.
func (p *Player) Interruptions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Interrupted
}
