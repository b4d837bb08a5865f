// SPDX-License-Identifier: GPL-2.0-or-later

package cache

import (
	"capture/pkg/media"
	"time"
)

type entry struct {
	seq    uint64
	sample media.Sample
}

// Ring arrival ordered buffer of samples bounded by the time
// span between its oldest and newest sample.
type Ring struct {
	window  time.Duration
	entries []entry
}

// NewRing creates a ring with the given window.
func NewRing(window time.Duration) *Ring {
	return &Ring{window: window}
}

// SetWindow sets the window, trimming happens on the next push.
func (r *Ring) SetWindow(window time.Duration) {
	r.window = window
}

// Push adds the sample and releases every sample that falls out of
// the window. Returns the number of evicted samples.
func (r *Ring) Push(seq uint64, sample media.Sample) int {
	r.entries = append(r.entries, entry{seq: seq, sample: sample})

	newest := sample.Timestamp()
	evicted := 0
	for len(r.entries) > 1 && newest-r.entries[0].sample.Timestamp() > r.window {
		r.entries[0].sample.Release()
		r.entries[0] = entry{}
		r.entries = r.entries[1:]
		evicted++
	}
	return evicted
}

func (r *Ring) front() (entry, bool) {
	if len(r.entries) == 0 {
		return entry{}, false
	}
	return r.entries[0], true
}

// PopFront removes and returns the oldest sample, ownership moves to the caller.
func (r *Ring) PopFront() (media.Sample, bool) {
	if len(r.entries) == 0 {
		return nil, false
	}
	sample := r.entries[0].sample
	r.entries[0] = entry{}
	r.entries = r.entries[1:]
	return sample, true
}

// Len returns the number of samples.
func (r *Ring) Len() int {
	return len(r.entries)
}

// Span returns the duration between the oldest and newest sample.
func (r *Ring) Span() time.Duration {
	if len(r.entries) == 0 {
		return 0
	}
	return r.entries[len(r.entries)-1].sample.Timestamp() - r.entries[0].sample.Timestamp()
}

// Timestamps returns the timestamps in arrival order.
func (r *Ring) Timestamps() []time.Duration {
	out := make([]time.Duration, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.sample.Timestamp()
	}
	return out
}

// Clear releases all samples. Returns the number of released samples.
func (r *Ring) Clear() int {
	n := len(r.entries)
	for _, e := range r.entries {
		e.sample.Release()
	}
	r.entries = nil
	return n
}
