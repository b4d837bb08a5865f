// SPDX-License-Identifier: GPL-2.0-or-later

// Package sinkmock scripted sink used by tests.
package sinkmock

import (
	"capture/pkg/media"
	"capture/pkg/sink"
	"errors"
	"sync"
	"time"
)

// ErrStart default start error.
var ErrStart = errors.New("mock start error")

// Sink creates mock sessions.
type Sink struct {
	// Returned by CreateSession if set.
	CreateErr error

	// Returned by Start of every created session if set.
	StartErr error

	mu       sync.Mutex
	sessions []*Session
}

// New returns a sink.
func New() *Sink {
	return &Sink{}
}

// CreateSession implements sink.Sink.
func (s *Sink) CreateSession(path string, config sink.Config) (sink.Session, error) {
	if s.CreateErr != nil {
		return nil, s.CreateErr
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	session := NewSession(path, config)
	session.StartErr = s.StartErr

	s.mu.Lock()
	s.sessions = append(s.sessions, session)
	s.mu.Unlock()
	return session, nil
}

// Sessions returns all created sessions.
func (s *Sink) Sessions() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Session(nil), s.sessions...)
}

// Last returns the last created session or nil.
func (s *Sink) Last() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessions) == 0 {
		return nil
	}
	return s.sessions[len(s.sessions)-1]
}

// Session records everything that is appended to it.
type Session struct {
	Path   string
	Config sink.Config

	StartErr error

	mu        sync.Mutex
	status    sink.Status
	err       error
	notReady  map[media.Track]bool
	reject    bool
	startAt   *time.Duration
	endAt     *time.Duration
	appended  []sink.Sample
	finished  int
	canceled  int
	onError   func(error)
	ready     chan struct{}
	onAppend  func(sink.Sample)
	finishDly time.Duration
}

// NewSession returns a session where every track is ready.
func NewSession(path string, config sink.Config) *Session {
	return &Session{
		Path:     path,
		Config:   config,
		notReady: make(map[media.Track]bool),
		ready:    make(chan struct{}, 1),
	}
}

// Start implements sink.Session.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StartErr != nil {
		s.status = sink.StatusFailed
		s.err = s.StartErr
		return s.StartErr
	}
	s.status = sink.StatusWriting
	return nil
}

// Status implements sink.Session.
func (s *Session) Status() sink.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err implements sink.Session.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// SetReady toggles track readiness and notifies waiters.
func (s *Session) SetReady(track media.Track, ready bool) {
	s.mu.Lock()
	s.notReady[track] = !ready
	s.mu.Unlock()
	if ready {
		select {
		case s.ready <- struct{}{}:
		default:
		}
	}
}

// SetReject makes Append return false.
func (s *Session) SetReject(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = reject
}

// SetOnAppend registers a hook that is called for every accepted sample.
func (s *Session) SetOnAppend(fn func(sink.Sample)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAppend = fn
}

// SetFinishDelay delays the completion callback of Finish.
func (s *Session) SetFinishDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishDly = d
}

// IsTrackReady implements sink.Session.
func (s *Session) IsTrackReady(track media.Track) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == sink.StatusWriting && !s.notReady[track]
}

// Ready implements sink.ReadyNotifier.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// StartAt implements sink.Session.
func (s *Session) StartAt(ts time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startAt = &ts
}

// EndAt implements sink.Session.
func (s *Session) EndAt(ts time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endAt = &ts
}

// Append copies and records the sample.
func (s *Session) Append(sample sink.Sample) bool {
	s.mu.Lock()
	if s.status != sink.StatusWriting || s.reject || s.notReady[sample.Track] {
		s.mu.Unlock()
		return false
	}
	data := make([]byte, len(sample.Data))
	copy(data, sample.Data)
	sample.Data = data
	s.appended = append(s.appended, sample)
	onAppend := s.onAppend
	s.mu.Unlock()

	if onAppend != nil {
		onAppend(sample)
	}
	return true
}

// Finish implements sink.Session.
func (s *Session) Finish(onComplete func()) {
	s.mu.Lock()
	s.finished++
	if s.status == sink.StatusWriting {
		s.status = sink.StatusCompleted
	}
	delay := s.finishDly
	s.mu.Unlock()

	if delay == 0 {
		onComplete()
		return
	}
	go func() {
		time.Sleep(delay)
		onComplete()
	}()
}

// Cancel implements sink.Session.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled++
	s.status = sink.StatusCanceled
}

// OnError implements sink.Session.
func (s *Session) OnError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// Fail simulates an asynchronous sink failure.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	s.status = sink.StatusFailed
	s.err = err
	onError := s.onError
	s.mu.Unlock()
	if onError != nil {
		onError(err)
	}
}

// Appended returns a copy of the appended samples.
func (s *Session) Appended() []sink.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sink.Sample(nil), s.appended...)
}

// AppendedPTS returns the timestamps of the appended samples on track.
func (s *Session) AppendedPTS(track media.Track) []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []time.Duration
	for _, sample := range s.appended {
		if sample.Track == track {
			out = append(out, sample.PTS)
		}
	}
	return out
}

// StartTime returns the StartAt value.
func (s *Session) StartTime() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startAt == nil {
		return 0, false
	}
	return *s.startAt, true
}

// EndTime returns the EndAt value.
func (s *Session) EndTime() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endAt == nil {
		return 0, false
	}
	return *s.endAt, true
}

// FinishCount number of Finish calls.
func (s *Session) FinishCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// CancelCount number of Cancel calls.
func (s *Session) CancelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}
