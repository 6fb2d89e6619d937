package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Converter normalizes PCM chunks from a client format into a target format.
// It warns once on the first conversion and once on the first malformed chunk.
// Create one per stream; a Converter is not safe for concurrent use.
type Converter struct {
	From Format
	To   Format

	warnConvert sync.Once
	warnCorrupt sync.Once
}

// Convert returns chunk in c.To. Chunks with an odd byte count cannot be
// 16-bit PCM and are dropped (nil is returned).
func (c *Converter) Convert(chunk []byte) []byte {
	if len(chunk)%2 != 0 {
		c.warnCorrupt.Do(func() {
			slog.Warn("audio: dropping malformed pcm chunk", "bytes", len(chunk), "format", c.From.String())
		})
		return nil
	}
	if c.From == c.To {
		return chunk
	}
	c.warnConvert.Do(func() {
		slog.Info("audio: converting client audio", "from", c.From.String(), "to", c.To.String())
	})

	pcm := chunk
	channels := c.From.Channels
	// Down-mix before resampling so only one channel is interpolated.
	if channels == 2 && c.To.Channels == 1 {
		pcm = StereoToMono(pcm)
		channels = 1
	}
	if c.From.SampleRate != c.To.SampleRate {
		if channels == 1 {
			pcm = ResampleMono16(pcm, c.From.SampleRate, c.To.SampleRate)
		} else {
			slog.Warn("audio: cannot resample multi-channel audio", "format", c.From.String())
			return nil
		}
	}
	return pcm
}

// StereoToMono averages each L/R pair of interleaved stereo PCM.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (l + r) / 2
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples mono PCM from srcRate to dstRate with linear
// interpolation. Invalid rates or equal rates return pcm unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	src := len(pcm) / 2
	dst := int(int64(src) * int64(dstRate) / int64(srcRate))
	if dst == 0 {
		return nil
	}

	sample := func(i int) int16 { return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8 }
	out := make([]byte, dst*2)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dst {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := sample(idx)
		s1 := s0
		if idx+1 < src {
			s1 = sample(idx + 1)
		}
		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// String returns e.g. "16000Hz mono".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}
