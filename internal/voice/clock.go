package voice

import (
	"slices"
	"sync"
	"time"
)

// Clock abstracts time so the controller's timers and sampling ticks can be
// driven deterministically in tests.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f in its own goroutine once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer

	// NewTicker delivers the current time on C every d.
	NewTicker(d time.Duration) Ticker
}

// Timer is a cancellable one-shot timer.
type Timer interface {
	// Stop prevents the timer from firing. It reports false when the timer
	// already fired or was stopped.
	Stop() bool
}

// Ticker delivers periodic ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// SystemClock returns the wall-clock [Clock].
func SystemClock() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

func (systemClock) NewTicker(d time.Duration) Ticker { return systemTicker{time.NewTicker(d)} }

type systemTicker struct{ t *time.Ticker }

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }

// ─── FakeClock ────────────────────────────────────────────────────────────────

// FakeClock is a manually advanced [Clock] for tests.
//
// Timers fire and tickers tick only inside [FakeClock.Advance]. Timer callbacks
// run synchronously on the goroutine calling Advance. Ticks are delivered on an
// unbuffered channel: Advance blocks until the consumer received each tick or
// the ticker was stopped.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	tickers []*fakeTicker
}

// NewFakeClock returns a FakeClock positioned at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now implements [Clock].
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc implements [Clock].
func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

// NewTicker implements [Clock].
func (c *FakeClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("voice: non-positive ticker interval")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{
		clock:  c,
		period: d,
		next:   c.now.Add(d),
		ch:     make(chan time.Time),
		done:   make(chan struct{}),
	}
	c.tickers = append(c.tickers, t)
	return t
}

// PendingTimers returns the number of timers that have neither fired nor been
// stopped.
func (c *FakeClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Advance moves the clock forward by d, firing every timer and tick that
// falls due on the way in chronological order.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		timer, ticker, at := c.nextDueLocked(target)
		if timer == nil && ticker == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = at
		if timer != nil {
			c.removeTimerLocked(timer)
			c.mu.Unlock()
			timer.fn()
			continue
		}
		ticker.next = ticker.next.Add(ticker.period)
		c.mu.Unlock()
		select {
		case ticker.ch <- at:
		case <-ticker.done:
		}
	}
}

// nextDueLocked returns the earliest timer or ticker due at or before target.
// Timers win ties with tickers.
func (c *FakeClock) nextDueLocked(target time.Time) (*fakeTimer, *fakeTicker, time.Time) {
	var (
		bestTimer  *fakeTimer
		bestTicker *fakeTicker
		best       time.Time
	)
	for _, t := range c.timers {
		if t.at.After(target) {
			continue
		}
		if bestTimer == nil || t.at.Before(best) {
			bestTimer, best = t, t.at
		}
	}
	for _, t := range c.tickers {
		if t.stopped || t.next.After(target) {
			continue
		}
		if (bestTimer == nil && bestTicker == nil) || t.next.Before(best) {
			bestTimer, bestTicker, best = nil, t, t.next
		}
	}
	return bestTimer, bestTicker, best
}

func (c *FakeClock) removeTimerLocked(t *fakeTimer) bool {
	i := slices.Index(c.timers, t)
	if i < 0 {
		return false
	}
	c.timers = slices.Delete(c.timers, i, i+1)
	return true
}

type fakeTimer struct {
	clock *FakeClock
	at    time.Time
	fn    func()
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	return t.clock.removeTimerLocked(t)
}

type fakeTicker struct {
	clock  *FakeClock
	period time.Duration
	next   time.Time
	ch     chan time.Time
	done   chan struct{}

	once    sync.Once
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	t.stopped = true
	t.clock.mu.Unlock()
	t.once.Do(func() { close(t.done) })
}
