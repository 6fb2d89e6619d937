package voice

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the tuning of the voice activity classifier and the turn
// controller. The zero value is not usable; start from [DefaultConfig].
type Config struct {
	// VoiceThreshold is the energy at or above which a frame counts as voice.
	VoiceThreshold float64

	// SilenceThreshold is the energy at or below which a frame counts as
	// silence before speech was confirmed in the turn. Must be lower than
	// VoiceThreshold.
	SilenceThreshold float64

	// VoiceFrames is the number of consecutive voice frames that confirm
	// speech has started.
	VoiceFrames int

	// SilenceFrames is the number of consecutive not-speaking frames after
	// confirmed speech that arm the end-of-turn timer.
	SilenceFrames int

	// SilenceDuration is how long the armed timer waits before ending the
	// turn. New voice cancels it.
	SilenceDuration time.Duration

	// MaxRecording force-ends a turn with confirmed speech once the recording
	// is older than this. Zero disables the ceiling.
	MaxRecording time.Duration

	// SampleInterval is the energy sampling cadence.
	SampleInterval time.Duration

	// LevelInterval throttles volume level notifications for meters.
	LevelInterval time.Duration

	// MinUtteranceBytes is the payload size under which a turn without
	// confirmed speech is discarded as noise.
	MinUtteranceBytes int

	// ResumeDelay is how long recording stays paused after a failed turn.
	ResumeDelay time.Duration

	// NoticeTTL is how long user-visible notices stay on screen.
	NoticeTTL time.Duration
}

// DefaultConfig returns tuning suited for 16 kHz mono speech.
func DefaultConfig() Config {
	return Config{
		VoiceThreshold:    0.035,
		SilenceThreshold:  0.015,
		VoiceFrames:       5,
		SilenceFrames:     15,
		SilenceDuration:   800 * time.Millisecond,
		MaxRecording:      30 * time.Second,
		SampleInterval:    20 * time.Millisecond,
		LevelInterval:     100 * time.Millisecond,
		MinUtteranceBytes: 8000, // 250ms at 16 kHz mono
		ResumeDelay:       1500 * time.Millisecond,
		NoticeTTL:         4 * time.Second,
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.VoiceThreshold <= 0 || c.VoiceThreshold > 1 {
		errs = append(errs, fmt.Errorf("voice: voice_threshold %v must be in (0, 1]", c.VoiceThreshold))
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold >= c.VoiceThreshold {
		errs = append(errs, fmt.Errorf("voice: silence_threshold %v must be in [0, voice_threshold)", c.SilenceThreshold))
	}
	if c.VoiceFrames < 1 {
		errs = append(errs, fmt.Errorf("voice: voice_frames must be at least 1, got %d", c.VoiceFrames))
	}
	if c.SilenceFrames < 1 {
		errs = append(errs, fmt.Errorf("voice: silence_frames must be at least 1, got %d", c.SilenceFrames))
	}
	if c.SilenceDuration < 0 {
		errs = append(errs, errors.New("voice: silence_duration must not be negative"))
	}
	if c.MaxRecording < 0 {
		errs = append(errs, errors.New("voice: max_recording must not be negative"))
	}
	if c.SampleInterval <= 0 {
		errs = append(errs, errors.New("voice: sample_interval must be positive"))
	}
	if c.LevelInterval < 0 {
		errs = append(errs, errors.New("voice: level_interval must not be negative"))
	}
	if c.MinUtteranceBytes < 0 {
		errs = append(errs, errors.New("voice: min_utterance_bytes must not be negative"))
	}
	if c.ResumeDelay < 0 {
		errs = append(errs, errors.New("voice: resume_delay must not be negative"))
	}
	return errors.Join(errs...)
}
