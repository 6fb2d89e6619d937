package voice

import "time"

// Classification is the judgment of a single energy frame.
type Classification int

const (
	// Silence means the frame counted towards ending the turn.
	Silence Classification = iota

	// Voice means the frame was at or above the voice threshold.
	Voice

	// Decay is the band between the two thresholds before speech was
	// confirmed. It neither confirms speech nor counts as silence.
	Decay
)

// String returns the lower-case name of c.
func (c Classification) String() string {
	switch c {
	case Silence:
		return "silence"
	case Voice:
		return "voice"
	case Decay:
		return "decay"
	default:
		return "unknown"
	}
}

// Verdict tells the controller what to do after a frame was classified.
type Verdict struct {
	Class Classification

	// SpeechStarted is set on the one frame that confirmed speech in the turn.
	SpeechStarted bool

	// CancelTimer asks for the pending end-of-turn timer to be cancelled
	// because the user resumed speaking.
	CancelTimer bool

	// ArmTimer asks for the end-of-turn timer to be armed.
	ArmTimer bool

	// ForceEnd asks for the turn to end immediately because the recording
	// outgrew the maximum duration.
	ForceEnd bool
}

// Classifier turns energy readings into voice, silence and decay judgments
// with hysteresis and frame-count debouncing.
//
// A Classifier belongs to one controller and is only touched from its event
// loop; it is not safe for concurrent use.
type Classifier struct {
	cfg Config

	voiceFrames   int
	silenceFrames int
	hasSpoken     bool
}

// NewClassifier returns a Classifier tuned by cfg.
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{cfg: cfg}
}

// Reset clears counters and the spoken flag for a new recording.
func (c *Classifier) Reset() {
	c.voiceFrames = 0
	c.silenceFrames = 0
	c.hasSpoken = false
}

// HasSpoken reports whether sustained voice was confirmed in the current turn.
func (c *Classifier) HasSpoken() bool { return c.hasSpoken }

// VoiceFrames returns the current consecutive voice frame count.
func (c *Classifier) VoiceFrames() int { return c.voiceFrames }

// SilenceFrames returns the current consecutive silence frame count.
func (c *Classifier) SilenceFrames() int { return c.silenceFrames }

// Observe classifies one frame. elapsed is the age of the current recording
// and timerPending whether an end-of-turn timer is currently armed.
func (c *Classifier) Observe(level float64, elapsed time.Duration, timerPending bool) Verdict {
	var v Verdict

	switch {
	case level >= c.cfg.VoiceThreshold:
		v.Class = Voice
		c.voiceFrames++
		c.silenceFrames = 0
		v.CancelTimer = timerPending
		if !c.hasSpoken && c.voiceFrames >= c.cfg.VoiceFrames {
			c.hasSpoken = true
			v.SpeechStarted = true
		}

	case c.notSpeaking(level):
		v.Class = Silence
		c.silenceFrames++
		c.voiceFrames = 0
		if c.hasSpoken && c.silenceFrames >= c.cfg.SilenceFrames && !timerPending {
			v.ArmTimer = true
		}

	default:
		v.Class = Decay
		if c.voiceFrames > 0 {
			c.voiceFrames--
		}
	}

	if c.hasSpoken && c.cfg.MaxRecording > 0 && elapsed > c.cfg.MaxRecording {
		v.ForceEnd = true
	}
	return v
}

// notSpeaking applies the asymmetric threshold: once speech was confirmed,
// anything under the voice threshold counts; before that only frames at or
// under the silence threshold do.
func (c *Classifier) notSpeaking(level float64) bool {
	if c.hasSpoken {
		return level < c.cfg.VoiceThreshold
	}
	return level <= c.cfg.SilenceThreshold
}
