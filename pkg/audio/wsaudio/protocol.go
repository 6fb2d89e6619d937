package wsaudio

import (
	"encoding/json"
	"fmt"

	"github.com/MrWong99/charlie/pkg/audio"
)

// Audio encodings a client may announce in [AudioFormat.Encoding].
const (
	EncodingPCM  = "pcm_s16le"
	EncodingOpus = "opus"
)

// Client to server message types.
const (
	TypeStart          = "start"
	TypeStop           = "stop"
	TypeEndTurn        = "end_turn"
	TypeReset          = "reset"
	TypeMicReady       = "mic_ready"
	TypeMicDenied      = "mic_denied"
	TypeMicError       = "mic_error"
	TypeMicClosed      = "mic_closed"
	TypePlaybackDone   = "playback_done"
	TypePlaybackFailed = "playback_failed"
)

// Server to client message types owned by the audio plane.
const (
	TypeMicOpen        = "mic_open"
	TypeMicClose       = "mic_close"
	TypePlaybackStart  = "playback_start"
	TypePlaybackEnd    = "playback_end"
	TypePlaybackCancel = "playback_cancel"
	TypeError          = "error"
)

// AudioFormat describes audio on the wire.
type AudioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

// Format returns the PCM shape of f.
func (f AudioFormat) Format() audio.Format {
	return audio.Format{SampleRate: f.SampleRateHz, Channels: f.Channels}
}

func wireFormat(f audio.Format) *AudioFormat {
	return &AudioFormat{Encoding: EncodingPCM, SampleRateHz: f.SampleRate, Channels: f.Channels}
}

// validate rejects formats the converter cannot handle.
func (f AudioFormat) validate() error {
	switch f.Encoding {
	case EncodingPCM, "":
	case EncodingOpus:
		switch f.SampleRateHz {
		case 8000, 12000, 16000, 24000, 48000:
		default:
			return fmt.Errorf("wsaudio: opus does not support %d Hz", f.SampleRateHz)
		}
	default:
		return fmt.Errorf("wsaudio: unsupported encoding %q", f.Encoding)
	}
	if f.SampleRateHz <= 0 {
		return fmt.Errorf("wsaudio: invalid sample rate %d", f.SampleRateHz)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("wsaudio: invalid channel count %d", f.Channels)
	}
	return nil
}

// ClientMessage is a text frame sent by the browser.
type ClientMessage struct {
	Type       string       `json:"type"`
	Audio      *AudioFormat `json:"audio,omitempty"`
	PlaybackID string       `json:"playback_id,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// ServerMessage is a text frame of the audio plane sent to the browser.
type ServerMessage struct {
	Type       string       `json:"type"`
	Audio      *AudioFormat `json:"audio,omitempty"`
	PlaybackID string       `json:"playback_id,omitempty"`
	Error      string       `json:"error,omitempty"`
}

func decodeClientMessage(data []byte) (ClientMessage, error) {
	var m ClientMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return ClientMessage{}, fmt.Errorf("wsaudio: decode client message: %w", err)
	}
	if m.Type == "" {
		return ClientMessage{}, fmt.Errorf("wsaudio: client message without type")
	}
	return m, nil
}
