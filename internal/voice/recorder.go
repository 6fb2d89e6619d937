package voice

import (
	"time"

	"github.com/MrWong99/charlie/pkg/audio"
)

// Recorder buffers the raw audio of one turn.
//
// Chunks are accepted only between Begin and Finalize. A Recorder is owned by
// a single controller loop and is not safe for concurrent use.
type Recorder struct {
	format  audio.Format
	chunks  [][]byte
	size    int
	active  bool
	started time.Time
}

// NewRecorder returns an inactive recorder for PCM in format.
func NewRecorder(format audio.Format) *Recorder {
	return &Recorder{format: format}
}

// Begin discards any previous buffer and starts accepting chunks.
func (r *Recorder) Begin(now time.Time) {
	r.chunks = nil
	r.size = 0
	r.active = true
	r.started = now
}

// Chunk appends a copy of data. It reports false when the recorder is not
// active.
func (r *Recorder) Chunk(data []byte) bool {
	if !r.active {
		return false
	}
	if len(data) == 0 {
		return true
	}
	r.chunks = append(r.chunks, append([]byte(nil), data...))
	r.size += len(data)
	return true
}

// Finalize stops recording and returns the concatenated payload. ok is false
// when no audio was recorded.
func (r *Recorder) Finalize() (u audio.Utterance, ok bool) {
	defer func() {
		r.chunks = nil
		r.size = 0
		r.active = false
	}()
	if r.size == 0 {
		return audio.Utterance{Format: r.format}, false
	}
	data := make([]byte, 0, r.size)
	for _, c := range r.chunks {
		data = append(data, c...)
	}
	return audio.Utterance{Data: data, Format: r.format}, true
}

// Active reports whether chunks are being accepted.
func (r *Recorder) Active() bool { return r.active }

// Size returns the number of buffered bytes.
func (r *Recorder) Size() int { return r.size }

// Elapsed returns how long the current recording has been running, or zero
// when inactive.
func (r *Recorder) Elapsed(now time.Time) time.Duration {
	if !r.active {
		return 0
	}
	return now.Sub(r.started)
}
