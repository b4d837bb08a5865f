// SPDX-License-Identifier: GPL-2.0-or-later

package media

import "time"

// Sample is a frame or a chunk of samples with a presentation time.
//
// Whoever holds a Sample owns it. Ownership moves with the value when it is
// passed between queues and the final owner must call Release exactly once.
type Sample interface {
	Track() Track
	Timestamp() time.Duration
	Release()
}

// VideoFrame rendered frame backed by a GPU buffer handle.
type VideoFrame struct {
	Handle      *FrameHandle
	PTS         time.Duration
	Orientation Orientation
}

// Track returns TrackVideo.
func (f *VideoFrame) Track() Track { return TrackVideo }

// Timestamp returns the presentation time.
func (f *VideoFrame) Timestamp() time.Duration { return f.PTS }

// Release releases the underlying handle.
func (f *VideoFrame) Release() { f.Handle.Release() }

// CompressedVideoSample already encoded video access unit.
type CompressedVideoSample struct {
	Payload []byte
	PTS     time.Duration
	Sync    bool
}

// Track returns TrackVideo.
func (s *CompressedVideoSample) Track() Track { return TrackVideo }

// Timestamp returns the presentation time.
func (s *CompressedVideoSample) Timestamp() time.Duration { return s.PTS }

// Release is a no-op, the payload is garbage collected.
func (s *CompressedVideoSample) Release() {}

// AudioSample chunk of audio.
type AudioSample struct {
	Payload  []byte
	PTS      time.Duration
	Duration time.Duration
}

// Track returns TrackAudio.
func (s *AudioSample) Track() Track { return TrackAudio }

// Timestamp returns the presentation time.
func (s *AudioSample) Timestamp() time.Duration { return s.PTS }

// Release is a no-op, the payload is garbage collected.
func (s *AudioSample) Release() {}

// Producer is implemented by consumers of rendered frames and captured audio.
// Implementations must not block the caller for long and never panic.
type Producer interface {
	OnNewVideoFrame(handle *FrameHandle, pts time.Duration, orientation Orientation)
	OnNewCompressedVideo(payload []byte, pts time.Duration, sync bool)
	OnNewAudioSample(payload []byte, pts time.Duration, duration time.Duration)
}
