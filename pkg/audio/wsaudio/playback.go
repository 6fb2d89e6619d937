package wsaudio

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/charlie/pkg/audio"
)

// Play implements [audio.Player]. The utterance is announced with
// playback_start, streamed as binary frames and terminated by playback_end.
// Play then waits until the client reports playback_done or
// playback_failed. Cancelling ctx sends playback_cancel and returns
// ctx.Err() without waiting for the client.
func (c *Conn) Play(ctx context.Context, u audio.Utterance) error {
	if u.Empty() {
		return nil
	}
	id := "pb-" + strconv.FormatUint(c.seq.Add(1), 10)
	wait := make(chan error, 1)

	c.mu.Lock()
	c.playback[id] = wait
	c.mu.Unlock()

	if err := c.stream(ctx, id, u); err != nil {
		c.cancelPlayback(id)
		return err
	}

	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		c.cancelPlayback(id)
		return ctx.Err()
	}
}

func (c *Conn) stream(ctx context.Context, id string, u audio.Utterance) error {
	if err := c.enqueueJSON(ctx, ServerMessage{Type: TypePlaybackStart, PlaybackID: id, Audio: wireFormat(u.Format)}); err != nil {
		return err
	}
	size := chunkBytes(u.Format, c.cfg.PlaybackChunk)
	for off := 0; off < len(u.Data); off += size {
		end := min(off+size, len(u.Data))
		if err := c.enqueue(ctx, c.normal, frame{websocket.MessageBinary, u.Data[off:end]}); err != nil {
			return err
		}
	}
	return c.enqueueJSON(ctx, ServerMessage{Type: TypePlaybackEnd, PlaybackID: id})
}

func (c *Conn) enqueueJSON(ctx context.Context, m ServerMessage) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, c.normal, frame{websocket.MessageText, data})
}

// cancelPlayback forgets the wait for id and tells the client to stop.
func (c *Conn) cancelPlayback(id string) {
	c.mu.Lock()
	_, pending := c.playback[id]
	delete(c.playback, id)
	c.mu.Unlock()
	if pending {
		_ = c.sendControl(ServerMessage{Type: TypePlaybackCancel, PlaybackID: id})
	}
}

// chunkBytes returns the frame-aligned byte length of d worth of audio in f.
func chunkBytes(f audio.Format, d time.Duration) int {
	frameSize := 2 * max(f.Channels, 1)
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	n -= n % frameSize
	return max(n, frameSize)
}
