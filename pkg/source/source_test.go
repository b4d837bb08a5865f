// SPDX-License-Identifier: GPL-2.0-or-later

package source

import (
	"capture/pkg/log"
	"capture/pkg/media"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type mockProducer struct {
	mu     sync.Mutex
	frames []time.Duration
	audio  []time.Duration
	sizes  []int
}

func (p *mockProducer) OnNewVideoFrame(h *media.FrameHandle, pts time.Duration, _ media.Orientation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, pts)
	h.Release()
}

func (p *mockProducer) OnNewCompressedVideo([]byte, time.Duration, bool) {}

func (p *mockProducer) OnNewAudioSample(payload []byte, pts time.Duration, _ time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.audio = append(p.audio, pts)
	p.sizes = append(p.sizes, len(payload))
}

func TestSource(t *testing.T) {
	tracker := media.NewHandleTracker()
	producer := &mockProducer{}
	s := New(Config{
		Width:         4,
		Height:        2,
		FPS:           100,
		Format:        media.PixelFormatBGRA,
		SampleRate:    8000,
		Channels:      2,
		ChunkDuration: 10 * time.Millisecond,
	}, tracker, producer, log.NewMockLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		producer.mu.Lock()
		defer producer.mu.Unlock()
		return len(producer.frames) >= 3 && len(producer.audio) >= 3
	}, 5*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	producer.mu.Lock()
	defer producer.mu.Unlock()
	for i := 1; i < len(producer.frames); i++ {
		require.Greater(t, producer.frames[i], producer.frames[i-1])
	}
	require.Equal(t, time.Duration(0), producer.audio[0])
	require.Equal(t, 10*time.Millisecond, producer.audio[1])
	// 80 samples, 2 channels, 16 bit.
	require.Equal(t, 320, producer.sizes[0])

	require.Zero(t, tracker.Outstanding())
	require.Zero(t, tracker.DoubleReleases())
}

func TestDrawPattern(t *testing.T) {
	data := make([]byte, 2*4)
	DrawPattern(data, 2, 1, 8, media.PixelFormatRGBA, 1)
	expected := []byte{
		0, 0, 255, 255, // Gradient start.
		255, 255, 255, 255, // Bar.
	}
	require.Equal(t, expected, data)

	DrawPattern(data, 2, 1, 8, media.PixelFormatBGRA, 0)
	expected = []byte{
		255, 255, 255, 255, // Bar.
		128, 0, 127, 255, // Gradient.
	}
	require.Equal(t, expected, data)
}
