// SPDX-License-Identifier: GPL-2.0-or-later

// Package recorder turns start and stop requests into
// recordings in the storage directory.
package recorder

import (
	"capture/pkg/cache"
	"capture/pkg/log"
	"capture/pkg/sink"
	"capture/pkg/storage"
	"capture/pkg/writer"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Errors.
var (
	ErrLowDiskSpace     = errors.New("not enough free disk space")
	ErrAlreadyRecording = errors.New("already recording")
	ErrUnknownToken     = errors.New("unknown recording")
)

type diskFunc func(time.Duration) (storage.DiskUsage, error)

// Recording an active recording.
type Recording struct {
	ID    string    `json:"id"`
	Token string    `json:"token"`
	Path  string    `json:"path"`
	Start time.Time `json:"start"`
}

// Recorder .
type Recorder struct {
	env    *storage.ConfigEnv
	cache  *cache.Cache
	disk   diskFunc
	logger *log.Logger

	mu         sync.Mutex
	recordings map[string]Recording
	caching    bool
	window     time.Duration
}

// New returns a recorder.
func New(
	env *storage.ConfigEnv,
	c *cache.Cache,
	disk diskFunc,
	logger *log.Logger,
) *Recorder {
	return &Recorder{
		env:        env,
		cache:      c,
		disk:       disk,
		logger:     logger,
		recordings: make(map[string]Recording),
	}
}

// SessionConfig converts the capture config to a writer config.
func SessionConfig(c storage.Capture, path string) (writer.Config, error) {
	format, err := c.Video.PixelFormat()
	if err != nil {
		return writer.Config{}, err
	}

	var audio *sink.AudioConfig
	if c.Audio.Enabled() {
		audio = &sink.AudioConfig{
			SampleRate: c.Audio.SampleRate,
			Channels:   c.Audio.Channels,
		}
	}

	policy := writer.WaitPolicyWait
	if c.WaitPolicy == storage.WaitPolicyDrop {
		policy = writer.WaitPolicyDrop
	}

	return writer.Config{
		Path: path,
		Sink: sink.Config{
			Video: &sink.VideoConfig{
				Width:  c.Video.Width,
				Height: c.Video.Height,
				FPS:    c.Video.FPS,
				Format: format,
			},
			Audio: audio,
		},
		Align:        c.Align,
		Live:         c.Live,
		WaitPolicy:   policy,
		MaxWait:      c.MaxWait,
		PollInterval: c.PollInterval,
	}, nil
}

// StartCaching starts the pre-record cache. Zero uses the configured duration.
func (r *Recorder) StartCaching(window time.Duration) error {
	if window <= 0 {
		window = r.env.Capture.CacheDuration
	}
	if err := r.cache.StartCaching(window); err != nil {
		return err
	}
	r.mu.Lock()
	r.caching = true
	r.window = window
	r.mu.Unlock()
	return nil
}

// The cache stays in the stopped or canceled state after a
// recording, caching is resumed for the next one.
func (r *Recorder) resumeCaching() {
	r.mu.Lock()
	caching, window := r.caching, r.window
	r.mu.Unlock()
	if !caching {
		return
	}
	if err := r.cache.StartCaching(window); err != nil {
		r.logger.Error().Src("recorder").Msgf("resume caching: %v", err)
	}
}

// StopCaching stops the pre-record cache. The active recording
// is saved unless cancel is true.
func (r *Recorder) StopCaching(cancel bool) error {
	r.mu.Lock()
	r.caching = false
	r.mu.Unlock()

	session := r.cache.Session()
	if session != nil && !cancel && session.Status() == sink.StatusWriting {
		// Stop through the recorder so that the recording data is saved.
		if _, err := r.StopRecording(session.Token()); err != nil {
			r.logger.Error().Src("recorder").Msgf("stop recording: %v", err)
		}
	}
	if err := r.cache.StopCaching(cancel); err != nil {
		return err
	}
	if cancel {
		r.forgetAll()
	}
	return nil
}

// StartRecording starts a new recording that begins with the cached samples.
func (r *Recorder) StartRecording() (*Recording, error) {
	if r.cache.State() == cache.StateWriting {
		return nil, ErrAlreadyRecording
	}
	if err := r.checkDiskSpace(); err != nil {
		return nil, err
	}

	start := time.Now().UTC()
	id := uuid.NewString()

	path, err := r.env.RecordingPath(start, id)
	if err != nil {
		return nil, err
	}

	config, err := SessionConfig(r.env.Capture, path)
	if err != nil {
		return nil, err
	}
	config.Observer = writer.Observer{
		OnError: func(s *writer.Session, err error) {
			r.logger.Error().
				Src("recorder").
				Session(s.Token()).
				Msgf("recording failed: %v", err)
		},
	}

	attached, err := r.cache.AttachSession(config)
	if err != nil {
		return nil, fmt.Errorf("attach session: %w", err)
	}

	session, err := r.cache.StartWriting(attached.Token())
	if err != nil {
		return nil, fmt.Errorf("start writing: %w", err)
	}

	rec := Recording{
		ID:    id,
		Token: session.Token(),
		Path:  path,
		Start: start,
	}
	r.mu.Lock()
	r.recordings[rec.Token] = rec
	r.mu.Unlock()

	r.logger.Info().
		Src("recorder").
		Session(rec.Token).
		Msgf("recording started: %v", path)
	return &rec, nil
}

func (r *Recorder) checkDiskSpace() error {
	if r.disk == nil {
		return nil
	}
	usage, err := r.disk(10 * time.Second)
	if err != nil {
		return fmt.Errorf("disk usage: %w", err)
	}
	minFree := r.env.Capture.MinFreeMB * 1024 * 1024
	if usage.Free < minFree {
		return fmt.Errorf("%w: %v free", ErrLowDiskSpace, usage.Formatted)
	}
	return nil
}

// StopRecording finalizes the recording and saves its data.
func (r *Recorder) StopRecording(token string) (*storage.RecordingData, error) {
	session, err := r.cache.StopWriting(token)
	if session == nil {
		return nil, err
	}
	end := time.Now().UTC()

	rec, ok := r.forget(session.Token())
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownToken, session.Token())
	}
	defer r.resumeCaching()
	if err != nil {
		return nil, err
	}

	stats := session.Stats()
	data := storage.RecordingData{
		ID:           rec.ID,
		Start:        rec.Start,
		End:          end,
		EndPTS:       stats.EndTime,
		VideoSamples: stats.VideoCount,
		AudioSamples: stats.AudioCount,
	}
	if stats.StartFrameTime != nil {
		data.StartPTS = *stats.StartFrameTime
		// The recording starts with the cached samples.
		data.Start = end.Add(-(stats.EndTime - data.StartPTS))
	}

	if err := storage.SaveRecordingData(rec.Path, data); err != nil {
		return nil, fmt.Errorf("save recording: %w", err)
	}

	r.logger.Info().
		Src("recorder").
		Session(rec.Token).
		Msgf("recording saved: %v, samples: %v",
			rec.Path, data.VideoSamples+data.AudioSamples)
	return &data, nil
}

// CancelRecording discards the recording.
func (r *Recorder) CancelRecording(token string) error {
	if err := r.cache.CancelWriting(token); err != nil {
		return err
	}
	if token == "" {
		r.forgetAll()
	} else {
		r.forget(token)
	}
	r.resumeCaching()
	return nil
}

// Status recorder status.
type Status struct {
	Cache      cache.Status `json:"cache"`
	Recordings []Recording  `json:"recordings"`
}

// Status returns the cache status and active recordings.
func (r *Recorder) Status() Status {
	status := Status{
		Cache:      r.cache.Status(),
		Recordings: []Recording{},
	}
	r.mu.Lock()
	for _, rec := range r.recordings {
		status.Recordings = append(status.Recordings, rec)
	}
	r.mu.Unlock()
	return status
}

func (r *Recorder) forget(token string) (Recording, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recordings[token]
	delete(r.recordings, token)
	return rec, ok
}

func (r *Recorder) forgetAll() {
	r.mu.Lock()
	clear(r.recordings)
	r.mu.Unlock()
}
