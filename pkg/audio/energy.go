package audio

import (
	"encoding/binary"
	"math"
	"sync/atomic"
)

// fullScale is the largest magnitude a 16-bit sample can take.
const fullScale = 32768.0

// RMS returns the root-mean-square of a 16-bit PCM buffer in sample units
// (0–32768). Returns 0 for buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// Energy returns the RMS of pcm normalized to [0, 1].
func Energy(pcm []byte) float64 {
	e := RMS(pcm) / fullScale
	if e > 1 {
		return 1
	}
	return e
}

// Meter is an [EnergySource] that reports the energy of the most recently
// observed chunk. Capture transports call Observe for every chunk they hand
// out; readers see the latest value without blocking the transport.
type Meter struct {
	bits atomic.Uint64
}

var _ EnergySource = (*Meter)(nil)

// Observe records the energy of chunk.
func (m *Meter) Observe(chunk []byte) {
	m.bits.Store(math.Float64bits(Energy(chunk)))
}

// Set stores a raw level, clamped to [0, 1].
func (m *Meter) Set(level float64) {
	level = max(0, min(1, level))
	m.bits.Store(math.Float64bits(level))
}

// Energy implements [EnergySource].
func (m *Meter) Energy() float64 {
	return math.Float64frombits(m.bits.Load())
}
