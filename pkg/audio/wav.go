package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const bitsPerSample = 16

var (
	// ErrNotWAV is returned by DecodeWAV for data that is not a RIFF/WAVE file.
	ErrNotWAV = errors.New("audio: not a WAV file")

	// ErrUnsupportedWAV is returned for WAV files that are not 16-bit PCM.
	ErrUnsupportedWAV = errors.New("audio: unsupported WAV encoding")
)

// WAV wraps u in a canonical 44-byte RIFF/WAVE header so it can be uploaded
// to transcription services that expect a file.
func (u Utterance) WAV() []byte {
	return EncodeWAV(u.Data, u.Format.SampleRate, u.Format.Channels)
}

// EncodeWAV returns pcm prefixed with a PCM WAVE header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	size := len(pcm)

	buf := make([]byte, 44+size)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+size))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // linear PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(size))
	copy(buf[44:], pcm)
	return buf
}

// Float32Mono down-mixes 16-bit PCM with the given channel count into mono
// float32 samples in [-1, 1]. A trailing partial frame is ignored.
func Float32Mono(pcm []byte, channels int) []float32 {
	if channels < 1 {
		channels = 1
	}
	frames := len(pcm) / (2 * channels)
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sum += float32(int16(binary.LittleEndian.Uint16(pcm[idx:]))) / fullScale
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// DecodeWAV extracts the PCM payload of a 16-bit RIFF/WAVE file. Chunks are
// walked rather than assuming a fixed 44-byte header because encoders add
// LIST and fact chunks before the data.
func DecodeWAV(wav []byte) (Utterance, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return Utterance{}, ErrNotWAV
	}

	var (
		f        Format
		foundFmt bool
	)
	offset := 12
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch id {
		case "fmt ":
			if size < 16 || offset+8+16 > len(wav) {
				return Utterance{}, ErrNotWAV
			}
			body := wav[offset+8:]
			if bits := binary.LittleEndian.Uint16(body[14:16]); bits != bitsPerSample {
				return Utterance{}, fmt.Errorf("%w: %d-bit samples", ErrUnsupportedWAV, bits)
			}
			f.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return Utterance{}, ErrNotWAV
			}
			end := min(offset+8+size, len(wav))
			return Utterance{Data: wav[offset+8 : end], Format: f}, nil
		}

		offset += 8 + size
		if size%2 != 0 {
			offset++
		}
	}
	return Utterance{}, ErrNotWAV
}
