// SPDX-License-Identifier: GPL-2.0-or-later

// Package writer aligns audio and video samples and feeds them to a sink.
package writer

import (
	"capture/pkg/log"
	"capture/pkg/media"
	"capture/pkg/metrics"
	"capture/pkg/pipeline"
	"capture/pkg/pixel"
	"capture/pkg/sink"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// WaitPolicy decides what happens when a track is not ready.
type WaitPolicy uint8

// Wait policies.
const (
	// WaitPolicyWait blocks the media queue until the track is
	// ready, the track is finished or MaxWait has passed.
	WaitPolicyWait WaitPolicy = iota

	// WaitPolicyDrop drops the sample immediately.
	WaitPolicyDrop
)

// Defaults.
const (
	DefaultMaxWait      = time.Second
	DefaultPollInterval = 10 * time.Millisecond
	DefaultPoolSize     = 2
)

const maxWrittenTimestamps = 100

// StartHook called on the media queue after the session has started.
type StartHook func(*Session)

// ErrorHook called when the sink reports an asynchronous failure.
type ErrorHook func(*Session, error)

// Observer optional session callbacks.
type Observer struct {
	OnStart StartHook
	OnError ErrorHook
}

// Config session config.
type Config struct {
	Path string
	Sink sink.Config

	// Align the start time of the audio and video tracks.
	// Only applies if both tracks are configured.
	Align bool

	// Live sessions hand samples to the media queue asynchronously.
	Live bool

	WaitPolicy   WaitPolicy
	MaxWait      time.Duration
	PollInterval time.Duration
	PoolSize     int

	// Applied to every rendered frame before it is appended.
	Transforms []pixel.Transform

	Observer Observer
}

func (c *Config) setDefaults() {
	if c.MaxWait <= 0 {
		c.MaxWait = DefaultMaxWait
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
}

/*
Session a single recording.

Methods with the OnQueue suffix, Process and CanAccept must only be
called from the media queue. Start, Append and Finish hand off to the
queue and must not be called from it. Cancel may be called from anywhere.

	s, err := writer.New(ctx, sink, config)
	if err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		return err
	}
	producer(s.Append)
	return s.Finish()
*/
type Session struct {
	ctx     *pipeline.Context
	logger  *log.Logger
	config  Config
	token   string
	out     sink.Session
	readyCh <-chan struct{}

	videoFinished atomic.Bool
	audioFinished atomic.Bool
	finalize      atomic.Bool
	finishing     atomic.Bool
	canceled      atomic.Bool
	closeOnce     sync.Once

	// Dedicated lock, the pool is closed by Cancel from any goroutine.
	poolMu sync.Mutex
	pool   *pixel.Pool

	// Media queue state.
	started    bool
	firstVideo *time.Duration
	firstAudio *time.Duration
	written    map[writtenKey]struct{}

	// Samples held for alignment, released by Cancel from any goroutine.
	pendingMu sync.Mutex
	pending   []media.Sample

	// Written on the media queue, read by Stats.
	statsMu        sync.Mutex
	startFrameTime *time.Duration
	prevVideoEnd   time.Duration
	prevAudioEnd   time.Duration
	videoCount     int
	audioCount     int
}

type writtenKey struct {
	track media.Track
	ts    time.Duration
}

// New creates a session, the sink output is created but not started.
func New(ctx *pipeline.Context, s sink.Sink, config Config) (*Session, error) {
	config.setDefaults()

	out, err := s.CreateSession(config.Path, config.Sink)
	if err != nil {
		ctx.Metrics.IncSessions(metrics.SessionFailed)
		return nil, &StartError{Err: fmt.Errorf("create session: %w", err)}
	}

	session := &Session{
		ctx:     ctx,
		logger:  ctx.Logger,
		config:  config,
		token:   uuid.NewString(),
		out:     out,
		written: make(map[writtenKey]struct{}),
	}
	if notifier, ok := out.(sink.ReadyNotifier); ok {
		session.readyCh = notifier.Ready()
	}
	return session, nil
}

// Token returns the identity token of the session.
func (s *Session) Token() string {
	return s.token
}

// Path returns the output path.
func (s *Session) Path() string {
	return s.config.Path
}

// Config returns the session config.
func (s *Session) Config() Config {
	return s.config
}

// Status returns the sink status.
func (s *Session) Status() sink.Status {
	return s.out.Status()
}

// Start hands off to the media queue and starts the session.
func (s *Session) Start() error {
	var err error
	if !s.ctx.Queue.Sync(func() { err = s.StartOnQueue() }) {
		return &StartError{Err: ErrQueueClosed}
	}
	return err
}

// StartOnQueue transitions the sink from idle to writing.
func (s *Session) StartOnQueue() error {
	if s.started {
		return nil
	}
	if s.canceled.Load() {
		return &StartError{Err: ErrSessionCanceled}
	}

	if err := s.out.Start(); err != nil {
		s.ctx.Metrics.IncSessions(metrics.SessionFailed)
		return &StartError{Err: err}
	}
	if status := s.out.Status(); status != sink.StatusWriting {
		s.ctx.Metrics.IncSessions(metrics.SessionFailed)
		return &StartError{Err: fmt.Errorf("%w: %v", sink.ErrNotWriting, status)}
	}

	if v := s.config.Sink.Video; v != nil {
		pool, err := pixel.NewPool(v.Width, v.Height, v.Format, s.config.PoolSize)
		if err != nil {
			s.out.Cancel()
			s.ctx.Metrics.IncSessions(metrics.SessionFailed)
			return &StartError{Err: fmt.Errorf("%w: %w", ErrPoolUnavailable, err)}
		}
		s.poolMu.Lock()
		s.pool = pool
		s.poolMu.Unlock()
	}

	s.out.OnError(func(err error) {
		s.logger.Error().
			Src("writer").
			Session(s.token).
			Msgf("sink failed: %v", err)
		if s.config.Observer.OnError != nil {
			s.config.Observer.OnError(s, &SinkError{Err: err})
		}
	})

	s.started = true
	s.ctx.Metrics.IncSessions(metrics.SessionStarted)
	s.logger.Info().
		Src("writer").
		Session(s.token).
		Msgf("session started: %v", s.config.Path)

	if s.config.Observer.OnStart != nil {
		s.config.Observer.OnStart(s)
	}
	return nil
}

// BeginFinish marks the session as about to finish. A track whose
// backpressure wait times out after this drops its remaining samples.
func (s *Session) BeginFinish() {
	s.finishing.Store(true)
}

// Finish hands off to the media queue, finalizes the session and
// blocks until the sink has completed. A sample that is blocked on
// backpressure finishes its track instead of waiting.
func (s *Session) Finish() error {
	s.finalize.Store(true)
	var err error
	if !s.ctx.Queue.Sync(func() { err = s.FinishOnQueue() }) {
		return ErrQueueClosed
	}
	return err
}

// FinishOnQueue marks both tracks finished, closes the sink at the
// end time and waits for completion. A no-op if the session isn't writing.
func (s *Session) FinishOnQueue() error {
	s.finalize.Store(true)
	s.videoFinished.Store(true)
	s.audioFinished.Store(true)
	s.releasePending()

	if !s.started || s.out.Status() != sink.StatusWriting {
		s.closePool()
		if s.started && s.out.Status() == sink.StatusFailed {
			// Let the sink release its resources.
			done := make(chan struct{})
			s.out.Finish(func() { close(done) })
			<-done
		}
		if s.out.Status() == sink.StatusFailed {
			return &SinkError{Err: s.out.Err()}
		}
		return nil
	}

	end := s.endTime()
	s.out.EndAt(end)

	done := make(chan struct{})
	s.out.Finish(func() { close(done) })
	<-done
	s.closePool()

	if s.out.Status() == sink.StatusFailed {
		s.ctx.Metrics.IncSessions(metrics.SessionFailed)
		return &SinkError{Err: s.out.Err()}
	}

	s.ctx.Metrics.IncSessions(metrics.SessionFinished)
	s.logger.Info().
		Src("writer").
		Session(s.token).
		Msgf("session finished, end time: %v", end)
	return nil
}

// The session never ends after the shorter track when aligned.
func (s *Session) endTime() time.Duration {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.endTimeLocked()
}

func (s *Session) endTimeLocked() time.Duration {
	switch {
	case s.alignRequired():
		return min(s.prevVideoEnd, s.prevAudioEnd)
	case s.config.Sink.Video != nil:
		return s.prevVideoEnd
	default:
		return s.prevAudioEnd
	}
}

// Cancel marks both tracks finished and discards the output.
// Safe to call concurrently with Append.
func (s *Session) Cancel() {
	if s.canceled.Swap(true) {
		return
	}
	s.videoFinished.Store(true)
	s.audioFinished.Store(true)
	s.closePool()
	s.out.Cancel()
	s.ctx.Metrics.IncSessions(metrics.SessionCanceled)
	s.logger.Info().Src("writer").Session(s.token).Msg("session canceled")
	s.releasePending()
}

// CancelOnQueue is Cancel for callers on the media queue.
func (s *Session) CancelOnQueue() {
	s.Cancel()
}

func (s *Session) closePool() {
	s.poolMu.Lock()
	defer s.poolMu.Unlock()
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Session) releasePending() {
	s.pendingMu.Lock()
	pending := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	for _, sample := range pending {
		s.drop(sample, metrics.DropFinished)
	}
}

func (s *Session) alignRequired() bool {
	return s.config.Align &&
		s.config.Sink.Video != nil &&
		s.config.Sink.Audio != nil
}

func (s *Session) hasTrack(track media.Track) bool {
	switch track {
	case media.TrackVideo:
		return s.config.Sink.Video != nil
	case media.TrackAudio:
		return s.config.Sink.Audio != nil
	}
	return false
}

func (s *Session) trackFinished(track media.Track) bool {
	if track == media.TrackVideo {
		return s.videoFinished.Load()
	}
	return s.audioFinished.Load()
}

func (s *Session) markFinished(track media.Track) {
	if track == media.TrackVideo {
		s.videoFinished.Store(true)
	} else {
		s.audioFinished.Store(true)
	}
}

// StartFrameTime returns the session start time if it has been chosen.
func (s *Session) StartFrameTime() (time.Duration, bool) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if s.startFrameTime == nil {
		return 0, false
	}
	return *s.startFrameTime, true
}

// Stats session statistics.
type Stats struct {
	Token          string         `json:"token"`
	Path           string         `json:"path"`
	Status         sink.Status    `json:"status"`
	StartFrameTime *time.Duration `json:"startFrameTime"`
	VideoEnd       time.Duration  `json:"videoEnd"`
	AudioEnd       time.Duration  `json:"audioEnd"`
	EndTime        time.Duration  `json:"endTime"`
	VideoCount     int            `json:"videoCount"`
	AudioCount     int            `json:"audioCount"`
}

// Stats returns the current statistics.
func (s *Session) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	var start *time.Duration
	if s.startFrameTime != nil {
		v := *s.startFrameTime
		start = &v
	}
	return Stats{
		Token:          s.token,
		Path:           s.config.Path,
		Status:         s.out.Status(),
		StartFrameTime: start,
		VideoEnd:       s.prevVideoEnd,
		AudioEnd:       s.prevAudioEnd,
		EndTime:        s.endTimeLocked(),
		VideoCount:     s.videoCount,
		AudioCount:     s.audioCount,
	}
}
