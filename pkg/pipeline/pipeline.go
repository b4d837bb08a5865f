// SPDX-License-Identifier: GPL-2.0-or-later

// Package pipeline holds the processing context shared by the
// writer sessions and the pre-record cache.
package pipeline

import (
	"capture/pkg/log"
	"capture/pkg/media"
	"capture/pkg/metrics"
	"capture/pkg/queue"
)

// Context is created once at startup and passed explicitly to every
// component that touches media state. All writer and cache state is
// only mutated from Queue.
type Context struct {
	Queue   *queue.Queue
	Logger  *log.Logger
	Metrics *metrics.Metrics
	Tracker *media.HandleTracker
}

// DefaultQueueSize default number of pending asynchronous jobs.
const DefaultQueueSize = 256

// New creates a context with a running media queue.
func New(logger *log.Logger, m *metrics.Metrics, queueSize int) *Context {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Context{
		Queue:   queue.New(queueSize),
		Logger:  logger,
		Metrics: m,
		Tracker: media.NewHandleTracker(),
	}
}

// NewMock returns a context with a mock logger and no metrics.
func NewMock() *Context {
	return New(log.NewMockLogger(), nil, DefaultQueueSize)
}

// Close stops the media queue.
func (c *Context) Close() {
	c.Queue.Close()
}
