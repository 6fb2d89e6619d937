package voice

// State is the conversation state owned by a [Controller].
type State int

const (
	// StateIdle: no conversation, no microphone held.
	StateIdle State = iota

	// StateConnecting: waiting for the microphone to be granted.
	StateConnecting

	// StateListening: microphone open, turn being recorded.
	StateListening

	// StateProcessing: utterance handed to the dialogue pipeline; capture is
	// not buffered.
	StateProcessing

	// StateSpeaking: the response is being played back.
	StateSpeaking
)

// String returns the lower-case name used in logs, metrics and client events.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Active reports whether a conversation is running in s.
func (s State) Active() bool { return s != StateIdle }
