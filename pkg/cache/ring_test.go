// SPDX-License-Identifier: GPL-2.0-or-later

package cache

import (
	"capture/pkg/media"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestFrame(tracker *media.HandleTracker, pts time.Duration) *media.VideoFrame {
	return &media.VideoFrame{
		Handle: tracker.NewHandle(make([]byte, 8), 2, 1, 8, media.PixelFormatBGRA, nil),
		PTS:    pts,
	}
}

func TestRing(t *testing.T) {
	t.Run("window", func(t *testing.T) {
		tracker := media.NewHandleTracker()
		r := NewRing(5 * time.Second)

		evicted := 0
		for i := 0; i < 10; i++ {
			evicted += r.Push(uint64(i), newTestFrame(tracker, time.Duration(i)*time.Second))
			require.LessOrEqual(t, r.Span(), 5*time.Second)
		}
		require.Equal(t, 4, evicted)
		require.Equal(t, int64(6), tracker.Outstanding())

		expected := []time.Duration{
			4 * time.Second,
			5 * time.Second,
			6 * time.Second,
			7 * time.Second,
			8 * time.Second,
			9 * time.Second,
		}
		require.Equal(t, expected, r.Timestamps())

		require.Equal(t, 6, r.Clear())
		require.Zero(t, tracker.Outstanding())
		require.Zero(t, tracker.DoubleReleases())
		require.Zero(t, r.Len())
	})
	t.Run("popFront", func(t *testing.T) {
		tracker := media.NewHandleTracker()
		r := NewRing(time.Second)
		r.Push(1, newTestFrame(tracker, 0))
		r.Push(2, newTestFrame(tracker, 100*time.Millisecond))

		sample, ok := r.PopFront()
		require.True(t, ok)
		require.Equal(t, time.Duration(0), sample.Timestamp())
		sample.Release()

		require.Equal(t, 1, r.Len())
		require.Equal(t, 1, r.Clear())
		_, ok = r.PopFront()
		require.False(t, ok)
		require.Zero(t, tracker.Outstanding())
	})
	t.Run("zeroWindow", func(t *testing.T) {
		r := NewRing(0)
		r.Push(1, &media.AudioSample{PTS: 1})
		r.Push(2, &media.AudioSample{PTS: 1})
		require.Equal(t, 2, r.Len())
		r.Push(3, &media.AudioSample{PTS: 2})
		require.Equal(t, 1, r.Len())
	})
}
