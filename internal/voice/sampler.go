package voice

import (
	"time"

	"github.com/MrWong99/charlie/pkg/audio"
)

// Sampler reads the live energy of a stream once per tick and throttles the
// volume level published for meters.
type Sampler struct {
	src       audio.EnergySource
	every     time.Duration
	emit      func(level float64)
	lastEmit  time.Time
	published bool
}

// NewSampler returns a Sampler over src. emit, when non-nil, receives at most
// one level per every.
func NewSampler(src audio.EnergySource, every time.Duration, emit func(level float64)) *Sampler {
	return &Sampler{src: src, every: every, emit: emit}
}

// Sample takes one reading at now. The returned frame is never filtered; only
// the meter notification is throttled.
func (s *Sampler) Sample(now time.Time) audio.Frame {
	level := max(0, min(1, s.src.Energy()))
	if s.emit != nil && (!s.published || now.Sub(s.lastEmit) >= s.every) {
		s.published = true
		s.lastEmit = now
		s.emit(level)
	}
	return audio.Frame{Level: level, At: now}
}

// Reset zeroes a source that keeps the last chunk's level, so the first
// reading of a new recording does not reflect audio from before it.
func (s *Sampler) Reset() {
	if r, ok := s.src.(interface{ Set(level float64) }); ok {
		r.Set(0)
	}
}
