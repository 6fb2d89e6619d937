// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/charlie/pkg/audio"
	"github.com/MrWong99/charlie/pkg/provider/stt"
)

// whisper.cpp models are trained on 16 kHz audio.
const nativeSampleRate = 16000

var _ stt.Transcriber = (*NativeProvider)(nil)

// NativeProvider transcribes in-process with the whisper.cpp bindings. The
// model is loaded once and shared; every call creates its own context, so
// concurrent calls do not interfere.
type NativeProvider struct {
	model    whisperlib.Model
	language string
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the transcription language. Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative loads the model at modelPath. The caller must call Close when the
// provider is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &NativeProvider{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements [stt.Transcriber]. Inference is CPU bound and cannot
// be interrupted; ctx is only checked before it starts.
func (p *NativeProvider) Transcribe(ctx context.Context, u audio.Utterance) (stt.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: %w", err)
	}
	if u.Empty() {
		return stt.Transcript{}, nil
	}

	pcm := u.Data
	channels := u.Format.Channels
	if u.Format.SampleRate != nativeSampleRate {
		if channels == 2 {
			pcm = audio.StereoToMono(pcm)
			channels = 1
		}
		if channels != 1 {
			return stt.Transcript{}, fmt.Errorf("whisper: %w: %s", stt.ErrUnsupportedFormat, u.Format)
		}
		pcm = audio.ResampleMono16(pcm, u.Format.SampleRate, nativeSampleRate)
	}
	samples := audio.Float32Mono(pcm, channels)

	wctx, err := p.model.NewContext()
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", p.language, "err", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	return stt.Transcript{
		Text:     cleanText(strings.Join(parts, " ")),
		Language: p.language,
		Duration: u.Duration(),
	}, nil
}
