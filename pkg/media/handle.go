// SPDX-License-Identifier: GPL-2.0-or-later

package media

import (
	"sync/atomic"
)

/*
FrameHandle is an owned reference to a rendered frame living in GPU memory.

The handle must be released exactly once by its final owner. Release frees the
GPU buffer through the release callback, a second Release is a double free and
is recorded by the tracker instead of calling the callback again.

	func consume(h *FrameHandle) {
		defer h.Release()
		data := h.Data()
		// Copy data...
	}
*/
type FrameHandle struct {
	data   []byte
	width  int
	height int
	stride int
	format PixelFormat

	released atomic.Bool
	release  func()
	tracker  *HandleTracker
}

// Data returns the pixel data. Returns nil after the handle is
// released or if the handle is nil.
func (h *FrameHandle) Data() []byte {
	if h == nil || h.released.Load() {
		return nil
	}
	return h.data
}

// Width in pixels.
func (h *FrameHandle) Width() int {
	if h == nil {
		return 0
	}
	return h.width
}

// Height in pixels.
func (h *FrameHandle) Height() int {
	if h == nil {
		return 0
	}
	return h.height
}

// Stride in bytes.
func (h *FrameHandle) Stride() int {
	if h == nil {
		return 0
	}
	return h.stride
}

// Format returns the pixel format.
func (h *FrameHandle) Format() PixelFormat {
	if h == nil {
		return 0
	}
	return h.format
}

// Released reports if the handle has been released.
// A nil handle counts as released.
func (h *FrameHandle) Released() bool {
	return h == nil || h.released.Load()
}

// Release returns the buffer to its owner.
func (h *FrameHandle) Release() {
	if h == nil {
		return
	}
	if !h.released.CompareAndSwap(false, true) {
		if h.tracker != nil {
			h.tracker.doubleReleases.Add(1)
		}
		return
	}
	if h.tracker != nil {
		h.tracker.released.Add(1)
	}
	if h.release != nil {
		h.release()
	}
}

// HandleTracker counts acquired and released frame handles.
// A tracker that reports zero outstanding handles and zero double
// releases proves that every handle was released exactly once.
type HandleTracker struct {
	acquired       atomic.Int64
	released       atomic.Int64
	doubleReleases atomic.Int64
}

// NewHandleTracker creates a new tracker.
func NewHandleTracker() *HandleTracker {
	return &HandleTracker{}
}

// NewHandle acquires a new tracked handle. The release
// callback is called once when the handle is released.
func (t *HandleTracker) NewHandle(
	data []byte,
	width int,
	height int,
	stride int,
	format PixelFormat,
	release func(),
) *FrameHandle {
	h := &FrameHandle{
		data:    data,
		width:   width,
		height:  height,
		stride:  stride,
		format:  format,
		release: release,
		tracker: t,
	}
	if t != nil {
		t.acquired.Add(1)
	}
	return h
}

// Outstanding returns the number of handles that have not been released.
func (t *HandleTracker) Outstanding() int64 {
	return t.acquired.Load() - t.released.Load()
}

// DoubleReleases returns the number of Release calls on already released handles.
func (t *HandleTracker) DoubleReleases() int64 {
	return t.doubleReleases.Load()
}
