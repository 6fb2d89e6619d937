// Package audio defines the audio primitives and collaborator interfaces the
// voice engine is built against: capture streams, energy readings, finalized
// utterances and playback.
//
// PCM throughout this package is 16-bit signed little-endian, interleaved
// when multi-channel.
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrPermissionDenied is returned (possibly wrapped) by [Capturer.Acquire]
// when the user refused microphone access.
var ErrPermissionDenied = errors.New("audio: microphone permission denied")

// ErrStreamClosed is returned when operating on a stream that has already
// been released or whose underlying transport went away.
var ErrStreamClosed = errors.New("audio: stream closed")

// Format describes the sample rate and channel count of PCM audio.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is the format the voice engine records and transcribes in.
var DefaultFormat = Format{SampleRate: 16000, Channels: 1}

// BytesPerSecond returns the PCM byte rate of f. Zero for invalid formats.
func (f Format) BytesPerSecond() int {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	return f.SampleRate * f.Channels * 2
}

// Frame is a single energy reading taken from a live stream.
type Frame struct {
	// Level is the normalized energy in [0, 1].
	Level float64

	// At is the time the reading was taken.
	At time.Time
}

// Utterance is the finalized audio payload of one turn.
type Utterance struct {
	// Data is raw PCM in Format.
	Data []byte

	Format Format
}

// Empty reports whether u carries no audio.
func (u Utterance) Empty() bool { return len(u.Data) == 0 }

// Duration returns the playback length of u.
func (u Utterance) Duration() time.Duration {
	bps := u.Format.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(len(u.Data)) * time.Second / time.Duration(bps)
}

// Stream is a live microphone capture held by exactly one conversation.
type Stream interface {
	// ID identifies the stream in logs.
	ID() string

	// Format reports the PCM format of the chunks delivered on Chunks.
	Format() Format

	// Chunks delivers raw PCM chunks in capture order. The channel is closed
	// when the stream is released or the transport is gone.
	Chunks() <-chan []byte
}

// EnergySource yields the current normalized energy of a live stream.
//
// Implementations must be safe for concurrent use.
type EnergySource interface {
	// Energy returns the most recent energy reading in [0, 1].
	Energy() float64
}

// Capturer acquires and releases microphone streams.
//
// Implementations must be safe for concurrent use.
type Capturer interface {
	// Acquire opens a capture stream. It blocks until the user granted or
	// refused access, or ctx is done. A refusal must wrap [ErrPermissionDenied].
	Acquire(ctx context.Context) (Stream, error)

	// Analyze returns the energy reader attached to s. It fails with
	// [ErrStreamClosed] once s was released or its transport went away.
	Analyze(s Stream) (EnergySource, error)

	// Release stops capture and frees s. Releasing an already released stream
	// returns nil.
	Release(s Stream) error
}

// Player plays synthesized speech back to the user.
//
// Implementations must be safe for concurrent use.
type Player interface {
	// Play blocks until u finished playing, playback failed, or ctx is
	// cancelled. Cancelling ctx stops playback in progress.
	Play(ctx context.Context, u Utterance) error
}
