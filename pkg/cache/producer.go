// SPDX-License-Identifier: GPL-2.0-or-later

package cache

import (
	"capture/pkg/media"
	"capture/pkg/metrics"
	"time"
)

// OnNewVideoFrame implements media.Producer.
func (c *Cache) OnNewVideoFrame(
	handle *media.FrameHandle,
	pts time.Duration,
	orientation media.Orientation,
) {
	c.handoff(&media.VideoFrame{
		Handle:      handle,
		PTS:         pts,
		Orientation: orientation,
	})
}

// OnNewCompressedVideo implements media.Producer.
func (c *Cache) OnNewCompressedVideo(payload []byte, pts time.Duration, sync bool) {
	c.handoff(&media.CompressedVideoSample{
		Payload: payload,
		PTS:     pts,
		Sync:    sync,
	})
}

// OnNewAudioSample implements media.Producer.
func (c *Cache) OnNewAudioSample(payload []byte, pts time.Duration, duration time.Duration) {
	c.handoff(&media.AudioSample{
		Payload:  payload,
		PTS:      pts,
		Duration: duration,
	})
}

func (c *Cache) handoff(sample media.Sample) {
	job := func() { c.newData(sample) }
	if c.config.Live {
		if !c.ctx.Queue.Async(job) {
			sample.Release()
			c.ctx.Metrics.IncDropped(metrics.DropQueueFull)
		}
		return
	}
	if !c.ctx.Queue.Sync(job) {
		sample.Release()
		c.ctx.Metrics.IncDropped(metrics.DropQueueFull)
	}
}

func (c *Cache) ringFor(sample media.Sample) (*Ring, string) {
	switch sample.(type) {
	case *media.VideoFrame:
		return c.frames, StreamFrames
	case *media.CompressedVideoSample:
		return c.compressed, StreamCompressed
	default:
		return c.audio, StreamAudio
	}
}

func (c *Cache) newData(sample media.Sample) {
	state := c.machine.State()
	if state != StateCaching && state != StateWriting {
		sample.Release()
		c.ctx.Metrics.IncDropped(metrics.DropNotRecording)
		return
	}

	c.seq++
	ring, stream := c.ringFor(sample)
	if evicted := ring.Push(c.seq, sample); evicted > 0 {
		c.ctx.Metrics.AddEvicted(stream, evicted)
	}

	if state == StateWriting && c.session != nil {
		c.drain()
	}
	c.updateDepth()
}

// Returns the ring whose front entry arrived first.
func (c *Cache) oldest() *Ring {
	var oldest *Ring
	var seq uint64
	for _, ring := range []*Ring{c.frames, c.compressed, c.audio} {
		e, ok := ring.front()
		if !ok {
			continue
		}
		if oldest == nil || e.seq < seq {
			oldest = ring
			seq = e.seq
		}
	}
	return oldest
}

// Forwards buffered samples in arrival order until the session
// can't accept more or the drain budget is spent.
func (c *Cache) drain() {
	deadline := time.Now().Add(c.config.DrainBudget)
	for {
		ring := c.oldest()
		if ring == nil {
			return
		}
		e, _ := ring.front()
		if !c.session.CanAccept(e.sample.Track()) {
			c.scheduleDrain()
			return
		}

		sample, _ := ring.PopFront()
		c.session.Process(sample)

		if time.Now().After(deadline) {
			c.scheduleDrain()
			return
		}
	}
}

// Forwards every buffered sample, waiting on backpressure.
func (c *Cache) drainAll() {
	for {
		ring := c.oldest()
		if ring == nil {
			break
		}
		sample, _ := ring.PopFront()
		c.session.Process(sample)
	}
	c.updateDepth()
}

func (c *Cache) scheduleDrain() {
	if c.drainScheduled {
		return
	}
	c.drainScheduled = true

	job := func() {
		c.drainScheduled = false
		if c.machine.State() == StateWriting && c.session != nil {
			c.drain()
			c.updateDepth()
		}
	}
	var retry func()
	retry = func() {
		if c.ctx.Queue.Async(job) || c.ctx.Queue.Closed() {
			return
		}
		time.AfterFunc(c.config.RetryDelay, retry)
	}
	time.AfterFunc(c.config.RetryDelay, retry)
}
