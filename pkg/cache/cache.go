// SPDX-License-Identifier: GPL-2.0-or-later

// Package cache keeps the most recent samples of each stream so that a
// recording can start in the past, and forwards them to a writer session.
package cache

import (
	"capture/pkg/log"
	"capture/pkg/pipeline"
	"capture/pkg/sink"
	"capture/pkg/writer"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// Errors.
var (
	ErrEmptySession     = errors.New("no session attached")
	ErrIdentityMismatch = errors.New("session identity mismatch")
	ErrSessionAttached  = errors.New("session already attached")
	ErrClosed           = errors.New("cache closed")
)

// Defaults.
const (
	DefaultWindow      = 3 * time.Second
	DefaultDrainBudget = 10 * time.Millisecond
	DefaultRetryDelay  = 10 * time.Millisecond
)

// Stream names.
const (
	StreamFrames     = "frames"
	StreamCompressed = "compressed"
	StreamAudio      = "audio"
)

// Config cache config.
type Config struct {
	// Window used when writing starts without caching.
	Window time.Duration

	// Maximum time spent draining per queue job.
	DrainBudget time.Duration

	// Delay before retrying a drain that stopped early.
	RetryDelay time.Duration

	// Live producers never block, a full media queue drops the sample.
	Live bool
}

func (c *Config) setDefaults() {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.DrainBudget <= 0 {
		c.DrainBudget = DefaultDrainBudget
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
}

/*
Cache pre-record cache.

Producers call the media.Producer methods from any goroutine. The
control methods hand off to the media queue and block until done,
they must not be called from the queue.

	c := cache.New(ctx, sink, cache.Config{})
	c.StartCaching(5 * time.Second)
	c.AttachSession(config)
	session, _ := c.StartWriting("")
	...
	c.StopWriting(session.Token())
*/
type Cache struct {
	ctx    *pipeline.Context
	logger *log.Logger
	sink   sink.Sink
	config Config

	current atomic.Uint32

	// Media queue state.
	machine        StateMachine
	window         time.Duration
	seq            uint64
	frames         *Ring
	compressed     *Ring
	audio          *Ring
	session        *writer.Session
	sessionConfig  *writer.Config
	pendingStart   bool
	drainScheduled bool
}

// New creates a cache in the unknown state.
func New(ctx *pipeline.Context, s sink.Sink, config Config) *Cache {
	config.setDefaults()
	return &Cache{
		ctx:        ctx,
		logger:     ctx.Logger,
		sink:       s,
		config:     config,
		window:     config.Window,
		frames:     NewRing(config.Window),
		compressed: NewRing(config.Window),
		audio:      NewRing(config.Window),
	}
}

// State returns the current state.
func (c *Cache) State() State {
	return State(c.current.Load())
}

func (c *Cache) transition(to State) error {
	from := c.machine.State()
	if err := c.machine.Transition(to); err != nil {
		return err
	}
	c.current.Store(uint32(to))
	c.ctx.Metrics.SetCacheState(int(to))
	c.logger.Debug().Src("cache").Msgf("state: %v -> %v", from, to)

	if to == StateIdle {
		c.releaseAll()
	}
	return nil
}

// Self transitions are reported as success.
func ignoreSameState(err error) error {
	if errors.Is(err, ErrSameState) {
		return nil
	}
	return err
}

func (c *Cache) sync(fn func()) error {
	if !c.ctx.Queue.Sync(fn) {
		return ErrClosed
	}
	return nil
}

// StartCaching starts buffering the last window of every stream.
func (c *Cache) StartCaching(window time.Duration) error {
	var err error
	if qErr := c.sync(func() { err = c.startCaching(window) }); qErr != nil {
		return qErr
	}
	return err
}

func (c *Cache) startCaching(window time.Duration) error {
	if err := c.transition(StateCaching); err != nil {
		return ignoreSameState(err)
	}
	if window > 0 {
		c.setWindow(window)
	}
	c.logger.Info().Src("cache").Msgf("caching started, window: %v", c.window)
	return nil
}

func (c *Cache) setWindow(window time.Duration) {
	c.window = window
	c.frames.SetWindow(window)
	c.compressed.SetWindow(window)
	c.audio.SetWindow(window)
}

// AttachSession creates a writer session and remembers the config for
// later recordings. A pending start request is applied immediately.
func (c *Cache) AttachSession(config writer.Config) (*writer.Session, error) {
	var session *writer.Session
	var err error
	if qErr := c.sync(func() { session, err = c.attachSession(config) }); qErr != nil {
		return nil, qErr
	}
	return session, err
}

func (c *Cache) attachSession(config writer.Config) (*writer.Session, error) {
	if c.session != nil {
		return nil, ErrSessionAttached
	}

	session, err := writer.New(c.ctx, c.sink, config)
	if err != nil {
		return nil, err
	}
	c.session = session
	c.sessionConfig = &config

	c.logger.Debug().
		Src("cache").
		Session(session.Token()).
		Msgf("session attached: %v", config.Path)

	if !c.pendingStart {
		return session, nil
	}
	c.pendingStart = false
	if err := c.startSession(); err != nil {
		return nil, err
	}
	return session, nil
}

// StartWriting starts the attached session and drains the buffered
// samples into it. If no session is attached, a new session is created
// from the last attached config. Without a config the request is
// remembered until the next AttachSession and a nil session is returned.
func (c *Cache) StartWriting(token string) (*writer.Session, error) {
	var session *writer.Session
	var err error
	if qErr := c.sync(func() { session, err = c.startWriting(token) }); qErr != nil {
		return nil, qErr
	}
	return session, err
}

func (c *Cache) startWriting(token string) (*writer.Session, error) {
	err := c.machine.Check(StateWriting)
	if errors.Is(err, ErrSameState) {
		if token != "" && token != c.session.Token() {
			return nil, fmt.Errorf("%w: %v", ErrIdentityMismatch, token)
		}
		return c.session, nil
	}
	if err != nil {
		return nil, err
	}

	if c.session == nil {
		if c.sessionConfig == nil {
			c.pendingStart = true
			c.logger.Debug().Src("cache").Msg("start requested, waiting for session")
			return nil, nil
		}
		session, err := writer.New(c.ctx, c.sink, *c.sessionConfig)
		if err != nil {
			return nil, err
		}
		c.session = session
	}

	if token != "" && token != c.session.Token() {
		return nil, fmt.Errorf("%w: %v", ErrIdentityMismatch, token)
	}

	if err := c.startSession(); err != nil {
		return nil, err
	}
	return c.session, nil
}

// Starts the attached session, detaches it on failure.
func (c *Cache) startSession() error {
	if err := c.session.StartOnQueue(); err != nil {
		c.logger.Error().
			Src("cache").
			Session(c.session.Token()).
			Msgf("could not start session: %v", err)
		c.session.CancelOnQueue()
		c.session = nil
		return err
	}
	if err := c.transition(StateWriting); err != nil {
		return ignoreSameState(err)
	}
	c.drain()
	return nil
}

// StopWriting drains every buffered sample into the session, finalizes
// it and detaches it. Blocks until the sink has completed. The buffers
// of a session that never started writing are released instead.
func (c *Cache) StopWriting(token string) (*writer.Session, error) {
	var session *writer.Session
	var err error
	if qErr := c.sync(func() { session, err = c.stopWriting(token) }); qErr != nil {
		return nil, qErr
	}
	return session, err
}

func (c *Cache) stopWriting(token string) (*writer.Session, error) {
	session := c.session
	if session == nil {
		return nil, ErrEmptySession
	}
	if token != "" && token != session.Token() {
		return nil, fmt.Errorf("%w: %v", ErrIdentityMismatch, token)
	}
	if err := c.machine.Check(StateStopped); err != nil && !errors.Is(err, ErrSameState) {
		return nil, err
	}

	// An unstarted session would drop every buffered sample.
	if c.machine.State() == StateWriting {
		session.BeginFinish()
		c.drainAll()
	} else {
		c.releaseAll()
	}
	finishErr := session.FinishOnQueue()
	c.session = nil

	if err := c.transition(StateStopped); ignoreSameState(err) != nil {
		return session, err
	}
	c.logger.Info().
		Src("cache").
		Session(session.Token()).
		Msg("writing stopped")
	return session, finishErr
}

// CancelWriting cancels and detaches the attached session, releases the
// buffered samples and clears any pending start request.
func (c *Cache) CancelWriting(token string) error {
	var err error
	if qErr := c.sync(func() { err = c.cancelWriting(token) }); qErr != nil {
		return qErr
	}
	return err
}

func (c *Cache) cancelWriting(token string) error {
	if c.session != nil && token != "" && token != c.session.Token() {
		return fmt.Errorf("%w: %v", ErrIdentityMismatch, token)
	}

	c.pendingStart = false
	if c.session != nil {
		c.session.CancelOnQueue()
		c.logger.Info().
			Src("cache").
			Session(c.session.Token()).
			Msg("writing canceled")
		c.session = nil
	}
	c.releaseAll()
	return ignoreSameState(c.transition(StateCanceled))
}

// StopCaching stops or cancels the active recording and moves to idle,
// releasing every buffered sample.
func (c *Cache) StopCaching(cancelFirst bool) error {
	var err error
	if qErr := c.sync(func() { err = c.stopCaching(cancelFirst) }); qErr != nil {
		return qErr
	}
	return err
}

func (c *Cache) stopCaching(cancelFirst bool) error {
	switch {
	case c.session == nil:
	case !cancelFirst && c.machine.State() == StateWriting:
		if _, err := c.stopWriting(""); err != nil {
			c.logger.Error().Src("cache").Msgf("stop writing: %v", err)
		}
	default:
		if err := c.cancelWriting(""); err != nil {
			return err
		}
	}
	c.pendingStart = false

	if err := c.transition(StateIdle); err != nil {
		return ignoreSameState(err)
	}
	c.logger.Info().Src("cache").Msg("caching stopped")
	return nil
}

// Session returns the attached session or nil.
func (c *Cache) Session() *writer.Session {
	var session *writer.Session
	c.sync(func() { session = c.session }) //nolint:errcheck
	return session
}

// Status snapshot of the cache.
type Status struct {
	State        State         `json:"state"`
	Window       time.Duration `json:"window"`
	Frames       int           `json:"frames"`
	Compressed   int           `json:"compressed"`
	Audio        int           `json:"audio"`
	PendingStart bool          `json:"pendingStart"`
	Session      *writer.Stats `json:"session,omitempty"`
}

// Status returns a snapshot of the cache.
func (c *Cache) Status() Status {
	var status Status
	c.sync(func() { //nolint:errcheck
		status = Status{
			State:        c.machine.State(),
			Window:       c.window,
			Frames:       c.frames.Len(),
			Compressed:   c.compressed.Len(),
			Audio:        c.audio.Len(),
			PendingStart: c.pendingStart,
		}
		if c.session != nil {
			stats := c.session.Stats()
			status.Session = &stats
		}
	})
	return status
}

func (c *Cache) releaseAll() {
	released := c.frames.Clear() + c.compressed.Clear() + c.audio.Clear()
	if released > 0 {
		c.logger.Debug().Src("cache").Msgf("released %v buffered samples", released)
	}
	c.updateDepth()
}

func (c *Cache) updateDepth() {
	c.ctx.Metrics.SetCacheDepth(StreamFrames, c.frames.Len())
	c.ctx.Metrics.SetCacheDepth(StreamCompressed, c.compressed.Len())
	c.ctx.Metrics.SetCacheDepth(StreamAudio, c.audio.Len())
}
