// SPDX-License-Identifier: GPL-2.0-or-later

// Package pixel manages native pixel buffers that frames are rendered into
// before they are handed to a sink.
package pixel

import (
	"capture/pkg/media"
	"errors"
	"fmt"
	"sync"
)

// Buffer native packed pixel buffer.
type Buffer struct {
	Data   []byte
	Width  int
	Height int
	Stride int
	Format media.PixelFormat
}

// Errors.
var (
	ErrPoolClosed    = errors.New("pixel buffer pool closed")
	ErrPoolExhausted = errors.New("pixel buffer pool exhausted")
	ErrInvalidSize   = errors.New("invalid buffer size")
)

// Pool of equally sized pixel buffers.
//
// The pool has its own lock because it is used by both the
// media queue and by cancellation from other goroutines.
type Pool struct {
	width  int
	height int
	format media.PixelFormat
	max    int

	mu          sync.Mutex
	free        []*Buffer
	outstanding int
	closed      bool
}

// NewPool creates a pool that holds at most max buffers.
func NewPool(width, height int, format media.PixelFormat, max int) (*Pool, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %vx%v", ErrInvalidSize, width, height)
	}
	if max <= 0 {
		max = 1
	}
	return &Pool{
		width:  width,
		height: height,
		format: format,
		max:    max,
	}, nil
}

// Get returns a free buffer or allocates a new one.
func (p *Pool) Get() (*Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	if n := len(p.free); n > 0 {
		buf := p.free[n-1]
		p.free = p.free[:n-1]
		p.outstanding++
		return buf, nil
	}

	if p.outstanding >= p.max {
		return nil, ErrPoolExhausted
	}

	stride := p.width * p.format.BytesPerPixel()
	p.outstanding++
	return &Buffer{
		Data:   make([]byte, stride*p.height),
		Width:  p.width,
		Height: p.height,
		Stride: stride,
		Format: p.format,
	}, nil
}

// Put returns a buffer to the pool.
func (p *Pool) Put(buf *Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.outstanding--
	if p.closed {
		return
	}
	p.free = append(p.free, buf)
}

// Close drops all free buffers, Get will fail after this.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.free = nil
}

// Closed reports if the pool is closed.
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
