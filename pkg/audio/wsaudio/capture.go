package wsaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/MrWong99/charlie/pkg/audio"
)

// errMicBusy is returned when Acquire is called while a microphone is
// already open or being opened on the same connection.
var errMicBusy = errors.New("wsaudio: microphone already in use")

// chunkBuffer is the number of converted chunks a stream holds before new
// audio is dropped.
const chunkBuffer = 64

// micStream is the server side of one open browser microphone.
type micStream struct {
	id     string
	format audio.Format
	meter  audio.Meter
	conv   *audio.Converter
	opus   *opusDecoder
	log    *slog.Logger

	mu      sync.Mutex
	ch      chan []byte
	closed  bool
	dropped bool
}

var _ audio.Stream = (*micStream)(nil)

func (s *micStream) ID() string            { return s.id }
func (s *micStream) Format() audio.Format  { return s.format }
func (s *micStream) Chunks() <-chan []byte { return s.ch }

// push decodes and converts one binary frame and hands it to the reader.
// A full buffer drops the chunk; the first drop of a stream is logged.
func (s *micStream) push(data []byte) {
	if s.opus != nil {
		pcm, err := s.opus.decode(data)
		if err != nil {
			s.log.Warn("wsaudio: dropping undecodable opus packet", "stream", s.id, "err", err)
			return
		}
		data = pcm
	}
	chunk := s.conv.Convert(data)
	if len(chunk) == 0 {
		return
	}
	s.meter.Observe(chunk)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- chunk:
	default:
		if !s.dropped {
			s.dropped = true
			s.log.Warn("wsaudio: microphone reader is behind, dropping audio", "stream", s.id)
		}
	}
}

func (s *micStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *micStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Acquire implements [audio.Capturer]. It asks the client to open its
// microphone and waits for the answer. A refusal returns an error wrapping
// [audio.ErrPermissionDenied].
func (c *Conn) Acquire(ctx context.Context) (audio.Stream, error) {
	wait := make(chan micResult, 1)
	c.mu.Lock()
	if c.mic != nil || c.micWait != nil {
		c.mu.Unlock()
		return nil, errMicBusy
	}
	c.micWait = wait
	c.mu.Unlock()

	if err := c.sendControl(ServerMessage{Type: TypeMicOpen, Audio: wireFormat(c.cfg.Target)}); err != nil {
		c.abandonMic(wait)
		return nil, err
	}

	select {
	case res := <-wait:
		if res.err != nil {
			return nil, res.err
		}
		return res.stream, nil
	case <-ctx.Done():
		if c.abandonMic(wait) {
			_ = c.sendControl(ServerMessage{Type: TypeMicClose})
			return nil, ctx.Err()
		}
		// The answer raced the cancellation; give the stream back.
		res := <-wait
		if res.stream != nil {
			_ = c.Release(res.stream)
		}
		return nil, ctx.Err()
	}
}

// abandonMic withdraws a pending Acquire. It reports false when the wait was
// already resolved.
func (c *Conn) abandonMic(wait chan micResult) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.micWait != wait {
		return false
	}
	c.micWait = nil
	return true
}

// Analyze implements [audio.Capturer]. A stream that was already released or
// closed by the client fails with [audio.ErrStreamClosed].
func (c *Conn) Analyze(s audio.Stream) (audio.EnergySource, error) {
	ms, ok := s.(*micStream)
	if !ok {
		return nil, fmt.Errorf("wsaudio: foreign stream %T", s)
	}
	if ms.isClosed() {
		return nil, fmt.Errorf("wsaudio: analyze %s: %w", ms.id, audio.ErrStreamClosed)
	}
	return &ms.meter, nil
}

// Release implements [audio.Capturer]. It closes the stream's chunk channel
// and tells the client to stop capturing.
func (c *Conn) Release(s audio.Stream) error {
	ms, ok := s.(*micStream)
	if !ok {
		return fmt.Errorf("wsaudio: foreign stream %T", s)
	}
	c.mu.Lock()
	current := c.mic == ms
	if current {
		c.mic = nil
	}
	c.mu.Unlock()

	ms.close()
	if !current {
		return nil
	}
	if err := c.sendControl(ServerMessage{Type: TypeMicClose}); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}

func (c *Conn) resolveMic(res micResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.micWait == nil {
		c.log.Debug("wsaudio: unsolicited microphone answer ignored")
		return
	}
	if res.stream != nil {
		c.mic = res.stream
	}
	c.micWait <- res
	c.micWait = nil
}

func (c *Conn) onMicReady(f *AudioFormat) {
	stream, err := c.newMicStream(f)
	if err != nil {
		_ = c.sendControl(ServerMessage{Type: TypeError, Error: err.Error()})
		c.resolveMic(micResult{err: err})
		return
	}
	c.resolveMic(micResult{stream: stream})
}

func (c *Conn) newMicStream(f *AudioFormat) (*micStream, error) {
	wire := AudioFormat{Encoding: EncodingPCM, SampleRateHz: c.cfg.Target.SampleRate, Channels: c.cfg.Target.Channels}
	if f != nil {
		wire = *f
	}
	if err := wire.validate(); err != nil {
		return nil, err
	}

	s := &micStream{
		id:     "mic-" + strconv.FormatUint(c.seq.Add(1), 10),
		format: c.cfg.Target,
		conv:   &audio.Converter{From: wire.Format(), To: c.cfg.Target},
		log:    c.log,
		ch:     make(chan []byte, chunkBuffer),
	}
	if wire.Encoding == EncodingOpus {
		dec, err := newOpusDecoder(wire.SampleRateHz, wire.Channels)
		if err != nil {
			return nil, err
		}
		s.opus = dec
	}
	return s, nil
}

// onMicClosed handles the client losing its microphone. The stream ends,
// which the consumer observes as a closed chunk channel.
func (c *Conn) onMicClosed() {
	c.mu.Lock()
	ms := c.mic
	c.mic = nil
	c.mu.Unlock()
	if ms != nil {
		c.log.Warn("wsaudio: client closed the microphone", "stream", ms.id)
		ms.close()
	}
}

func (c *Conn) onAudio(data []byte) {
	c.mu.Lock()
	ms := c.mic
	c.mu.Unlock()
	if ms == nil {
		return
	}
	ms.push(data)
}
