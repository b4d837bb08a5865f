// SPDX-License-Identifier: GPL-2.0-or-later

// Package media defines the samples that flow from the producers through
// the pre-record cache and into a writer session.
package media

import "time"

// Track identifies one independent media stream within a session.
type Track uint8

// Tracks.
const (
	TrackVideo Track = iota
	TrackAudio
)

func (t Track) String() string {
	switch t {
	case TrackVideo:
		return "video"
	case TrackAudio:
		return "audio"
	}
	return "unknown"
}

// Orientation of a rendered frame.
type Orientation uint8

// Orientations.
const (
	OrientationUp Orientation = iota
	OrientationDown
	OrientationLeft
	OrientationRight
)

// PixelFormat memory layout of a packed 32 bit pixel.
type PixelFormat uint8

// Pixel formats.
const (
	PixelFormatBGRA PixelFormat = iota + 1
	PixelFormatRGBA
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatBGRA:
		return "BGRA"
	case PixelFormatRGBA:
		return "RGBA"
	}
	return "unknown"
}

// BytesPerPixel returns 4 for all supported formats.
func (p PixelFormat) BytesPerPixel() int {
	return 4
}

// FrameDuration returns the duration of a single frame at fps.
func FrameDuration(fps int) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Second / time.Duration(fps)
}
