package wsaudio

import (
	"fmt"

	"layeh.com/gopus"
)

// opusMaxFrameMs is the longest Opus frame duration.
const opusMaxFrameMs = 120

// opusDecoder turns the Opus packets of one microphone stream into
// interleaved little-endian PCM. Each stream gets its own decoder because
// Opus decoding is stateful across packets.
type opusDecoder struct {
	dec       *gopus.Decoder
	frameSize int
}

func newOpusDecoder(rate, channels int) (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(rate, channels)
	if err != nil {
		return nil, fmt.Errorf("wsaudio: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec, frameSize: rate * opusMaxFrameMs / 1000}, nil
}

func (d *opusDecoder) decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, d.frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("wsaudio: opus decode: %w", err)
	}
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b, nil
}
