// SPDX-License-Identifier: GPL-2.0-or-later

// Package source generates a synthetic test pattern and silent
// audio and delivers it to a producer.
package source

import (
	"capture/pkg/log"
	"capture/pkg/media"
	"context"
	"sync"
	"time"
)

// Config source config. Audio is disabled if Channels is zero.
type Config struct {
	Width  int
	Height int
	FPS    int
	Format media.PixelFormat

	SampleRate    int
	Channels      int
	ChunkDuration time.Duration
}

// Source frame and audio generator.
type Source struct {
	config   Config
	tracker  *media.HandleTracker
	producer media.Producer
	logger   *log.Logger

	buffers sync.Pool
	frames  int
}

// New returns a source.
func New(
	config Config,
	tracker *media.HandleTracker,
	producer media.Producer,
	logger *log.Logger,
) *Source {
	stride := config.Width * config.Format.BytesPerPixel()
	size := stride * config.Height
	return &Source{
		config:   config,
		tracker:  tracker,
		producer: producer,
		logger:   logger,
		buffers: sync.Pool{
			New: func() interface{} {
				return make([]byte, size)
			},
		},
	}
}

// Run generates samples until the context is canceled.
func (s *Source) Run(ctx context.Context) {
	s.logger.Info().Src("source").Msgf("starting test source %vx%v@%v, audio channels: %v",
		s.config.Width, s.config.Height, s.config.FPS, s.config.Channels)

	start := time.Now()

	videoTicker := time.NewTicker(media.FrameDuration(s.config.FPS))
	defer videoTicker.Stop()

	var audioC <-chan time.Time
	if s.config.Channels > 0 && s.config.ChunkDuration > 0 {
		audioTicker := time.NewTicker(s.config.ChunkDuration)
		defer audioTicker.Stop()
		audioC = audioTicker.C
	}
	var audioPTS time.Duration

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Src("source").Msg("test source stopped")
			return

		case <-videoTicker.C:
			s.producer.OnNewVideoFrame(s.nextFrame(), time.Since(start), media.OrientationUp)

		case <-audioC:
			s.producer.OnNewAudioSample(s.silence(), audioPTS, s.config.ChunkDuration)
			audioPTS += s.config.ChunkDuration
		}
	}
}

func (s *Source) nextFrame() *media.FrameHandle {
	data := s.buffers.Get().([]byte)
	stride := s.config.Width * s.config.Format.BytesPerPixel()
	DrawPattern(data, s.config.Width, s.config.Height, stride, s.config.Format, s.frames)
	s.frames++

	return s.tracker.NewHandle(
		data,
		s.config.Width,
		s.config.Height,
		stride,
		s.config.Format,
		func() { s.buffers.Put(data) }, //nolint:staticcheck
	)
}

func (s *Source) silence() []byte {
	samples := int(s.config.ChunkDuration) * s.config.SampleRate / int(time.Second)
	return make([]byte, samples*s.config.Channels*2)
}

// DrawPattern draws a horizontal gradient with a white bar
// that moves one column per frame.
func DrawPattern(data []byte, width, height, stride int, format media.PixelFormat, n int) {
	if width <= 0 {
		return
	}
	r, b := 0, 2
	if format == media.PixelFormatBGRA {
		r, b = 2, 0
	}
	bar := n % width
	for y := 0; y < height; y++ {
		row := data[y*stride:]
		for x := 0; x < width; x++ {
			px := row[x*4 : x*4+4]
			if x == bar {
				px[0], px[1], px[2], px[3] = 255, 255, 255, 255
				continue
			}
			v := uint8(x * 255 / width)
			px[r] = v
			px[1] = uint8(y * 255 / max(height, 1))
			px[b] = 255 - v
			px[3] = 255
		}
	}
}
