// SPDX-License-Identifier: GPL-2.0-or-later

// Package queue provides a serialized execution context.
package queue

import "sync"

// Queue runs submitted functions one at a time, in submission order,
// on a single goroutine. State that is only touched from inside the
// queue needs no locking.
type Queue struct {
	jobs    chan func()
	quit    chan struct{}
	stopped chan struct{}

	mu     sync.Mutex
	closed bool
}

// New starts a queue that can hold size pending asynchronous jobs.
func New(size int) *Queue {
	if size <= 0 {
		size = 1
	}
	q := &Queue{
		jobs:    make(chan func(), size),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.stopped)
	for {
		select {
		case <-q.quit:
			q.drain()
			return
		case job := <-q.jobs:
			job()
		}
	}
}

// Jobs may own resources, every accepted job runs.
func (q *Queue) drain() {
	for {
		select {
		case job := <-q.jobs:
			job()
		default:
			return
		}
	}
}

// Sync runs fn on the queue and blocks until it returns.
// Must not be called from inside the queue.
// Returns false if the queue is closed.
func (q *Queue) Sync(fn func()) bool {
	done := make(chan struct{})
	job := func() {
		fn()
		close(done)
	}

	select {
	case q.jobs <- job:
	case <-q.stopped:
		return false
	}

	select {
	case <-done:
		return true
	case <-q.stopped:
		// The job may have been the last one to run.
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
}

// Async schedules fn without blocking. Returns false if the
// queue is full or closed, in which case fn will never run.
func (q *Queue) Async(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}

	select {
	case q.jobs <- fn:
		return true
	default:
		return false
	}
}

// Closed reports if Close has been called.
func (q *Queue) Closed() bool {
	select {
	case <-q.quit:
		return true
	default:
		return false
	}
}

// Pending returns the number of queued jobs.
func (q *Queue) Pending() int {
	return len(q.jobs)
}

// Close stops accepting asynchronous jobs, runs the pending ones
// and blocks until the queue has stopped. Must not be called from
// inside the queue.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.quit)
	}
	q.mu.Unlock()
	<-q.stopped
}
