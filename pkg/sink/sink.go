// SPDX-License-Identifier: GPL-2.0-or-later

// Package sink defines the contract between a writer session and
// the container writer that serializes samples to storage.
package sink

import (
	"capture/pkg/media"
	"errors"
	"fmt"
	"time"
)

// Errors.
var (
	ErrNotWriting    = errors.New("session is not writing")
	ErrInvalidConfig = errors.New("invalid session config")
)

// Status of a sink session.
type Status uint8

// Statuses.
const (
	StatusUnknown Status = iota
	StatusWriting
	StatusCompleted
	StatusFailed
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusWriting:
		return "writing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCanceled:
		return "canceled"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// VideoConfig video track settings.
type VideoConfig struct {
	Width  int
	Height int
	FPS    int
	Format media.PixelFormat
}

// AudioConfig audio track settings.
type AudioConfig struct {
	SampleRate int
	Channels   int
}

// Config output settings. A nil track is not written.
type Config struct {
	Video *VideoConfig
	Audio *AudioConfig
}

// Validate config.
func (c Config) Validate() error {
	if c.Video == nil && c.Audio == nil {
		return fmt.Errorf("%w: no tracks", ErrInvalidConfig)
	}
	if c.Video != nil && (c.Video.Width <= 0 || c.Video.Height <= 0) {
		return fmt.Errorf("%w: video size %vx%v",
			ErrInvalidConfig, c.Video.Width, c.Video.Height)
	}
	if c.Audio != nil && (c.Audio.SampleRate <= 0 || c.Audio.Channels <= 0) {
		return fmt.Errorf("%w: audio %vHz %v channels",
			ErrInvalidConfig, c.Audio.SampleRate, c.Audio.Channels)
	}
	return nil
}

// Sample is what a session appends to its sink. Data is only
// valid for the duration of the Append call.
type Sample struct {
	Track      media.Track
	Data       []byte
	PTS        time.Duration
	Duration   time.Duration
	Compressed bool
	Sync       bool
}

// Sink creates output sessions.
type Sink interface {
	CreateSession(path string, config Config) (Session, error)
}

// Session is a single output.
type Session interface {
	// Start transitions the session from idle to writing.
	Start() error

	// Status returns the current status.
	Status() Status

	// Err returns the error that caused StatusFailed.
	Err() error

	// IsTrackReady reports if the track can accept more data.
	IsTrackReady(track media.Track) bool

	// StartAt sets the presentation time that maps to zero.
	StartAt(ts time.Duration)

	// Append returns false if the sample was not accepted.
	Append(sample Sample) bool

	// EndAt sets the end of the output.
	EndAt(ts time.Duration)

	// Finish finalizes the output and calls onComplete when done.
	Finish(onComplete func())

	// Cancel discards all written data, blocks until done.
	Cancel()

	// OnError registers a callback for asynchronous failures.
	OnError(func(error))
}

// ReadyNotifier is optionally implemented by sessions that can
// signal when a track may have become ready.
type ReadyNotifier interface {
	// Ready returns a channel that receives a value
	// whenever queued data has been consumed.
	Ready() <-chan struct{}
}
