// SPDX-License-Identifier: GPL-2.0-or-later

package filesink

import (
	"capture/pkg/media"
	"capture/pkg/sink"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// DefaultQueueSize default number of pending samples per track.
const DefaultQueueSize = 8

// Sink creates file backed sessions.
type Sink struct {
	queueSize int
}

// New creates a sink that queues at most queueSize samples per track.
func New(queueSize int) *Sink {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Sink{queueSize: queueSize}
}

// CreateSession implements sink.Sink.
func (s *Sink) CreateSession(path string, config sink.Config) (sink.Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", sink.ErrInvalidConfig)
	}
	return &Session{
		path:      path,
		config:    config,
		queueSize: s.queueSize,
		ready:     make(chan struct{}, 1),
		done:      make(chan struct{}),
	}, nil
}

// ErrStarted session already started.
var ErrStarted = errors.New("session already started")

// Session writes a single recording. Samples are written
// by a background goroutine fed by a bounded per track queue.
type Session struct {
	path      string
	config    sink.Config
	queueSize int

	meta *os.File
	mdat *os.File

	mu       sync.Mutex
	status   sink.Status
	err      error
	onError  func(error)
	closing  bool
	queued   [2]int
	startAt  time.Duration
	startSet bool
	endAt    time.Duration

	jobs  chan sink.Sample
	ready chan struct{}
	done  chan struct{}

	// Only accessed by the writer goroutine.
	mdatPos uint64
}

// Path returns the recording path without extension.
func (s *Session) Path() string {
	return s.path
}

// Start opens the output files and writes the header.
// Fails if the output already exists.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != sink.StatusUnknown {
		return fmt.Errorf("%w: %v", ErrStarted, s.status)
	}

	err := s.open()
	if err != nil {
		s.status = sink.StatusFailed
		s.err = err
		return err
	}

	s.jobs = make(chan sink.Sample, 2*s.queueSize)
	s.status = sink.StatusWriting
	go s.run()
	return nil
}

const fileMode = 0o644

func (s *Session) open() error {
	meta, err := os.OpenFile(s.path+".meta", os.O_CREATE|os.O_EXCL|os.O_WRONLY, fileMode)
	if err != nil {
		return fmt.Errorf("open meta: %w", err)
	}
	mdat, err := os.OpenFile(s.path+".mdat", os.O_CREATE|os.O_EXCL|os.O_WRONLY, fileMode)
	if err != nil {
		meta.Close()
		os.Remove(s.path + ".meta")
		return fmt.Errorf("open mdat: %w", err)
	}

	if _, err := meta.Write(s.header().Marshal()); err != nil {
		meta.Close()
		mdat.Close()
		os.Remove(s.path + ".meta")
		os.Remove(s.path + ".mdat")
		return fmt.Errorf("write header: %w", err)
	}

	s.meta = meta
	s.mdat = mdat
	return nil
}

func (s *Session) header() Header {
	var h Header
	if v := s.config.Video; v != nil {
		h.VideoWidth = uint16(v.Width)
		h.VideoHeight = uint16(v.Height)
		h.PixelFormat = uint8(v.Format)
	}
	if a := s.config.Audio; a != nil {
		h.AudioSampleRate = uint32(a.SampleRate)
		h.AudioChannels = uint8(a.Channels)
	}
	return h
}

func (s *Session) run() {
	defer close(s.done)
	for sample := range s.jobs {
		err := s.write(sample)

		s.mu.Lock()
		s.queued[sample.Track]--
		if err != nil && s.status == sink.StatusWriting {
			s.status = sink.StatusFailed
			s.err = err
			onError := s.onError
			s.mu.Unlock()
			if onError != nil {
				onError(err)
			}
		} else {
			s.mu.Unlock()
		}

		select {
		case s.ready <- struct{}{}:
		default:
		}
	}
}

func (s *Session) write(sample sink.Sample) error {
	s.mu.Lock()
	failed := s.status == sink.StatusFailed
	s.mu.Unlock()
	if failed {
		return nil
	}

	record := Sample{
		IsAudio:      sample.Track == media.TrackAudio,
		IsCompressed: sample.Compressed,
		IsSync:       sample.Sync,
		PTS:          int64(sample.PTS),
		Duration:     int64(sample.Duration),
		Offset:       s.mdatPos,
		Size:         uint32(len(sample.Data)),
	}

	n, err := s.mdat.Write(sample.Data)
	if err != nil {
		return fmt.Errorf("write mdat: %w", err)
	}
	s.mdatPos += uint64(n)

	if _, err := s.meta.Write(record.Marshal()); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
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

// IsTrackReady reports if the track queue has room.
func (s *Session) IsTrackReady(track media.Track) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == sink.StatusWriting &&
		!s.closing &&
		s.queued[track] < s.queueSize
}

// Ready implements sink.ReadyNotifier.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// StartAt implements sink.Session.
func (s *Session) StartAt(ts time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startAt = ts
	s.startSet = true
}

// EndAt implements sink.Session.
func (s *Session) EndAt(ts time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endAt = ts
}

// Append copies the sample data and queues it for writing.
// Samples before the start time are skipped.
func (s *Session) Append(sample sink.Sample) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != sink.StatusWriting || s.closing {
		return false
	}
	if s.queued[sample.Track] >= s.queueSize {
		return false
	}
	if s.startSet && sample.PTS < s.startAt {
		return true
	}

	data := make([]byte, len(sample.Data))
	copy(data, sample.Data)
	sample.Data = data

	s.queued[sample.Track]++
	s.jobs <- sample
	return true
}

// OnError implements sink.Session.
func (s *Session) OnError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// Finish drains the queue, patches the header and closes the files.
// onComplete is called from a new goroutine when done. A failed
// session is drained and closed without patching the header.
func (s *Session) Finish(onComplete func()) {
	s.mu.Lock()
	switch {
	case s.closing || s.meta == nil:
		s.mu.Unlock()
		onComplete()
		return
	case s.status == sink.StatusFailed:
		s.closing = true
		close(s.jobs)
		s.mu.Unlock()
		go func() {
			<-s.done
			s.meta.Close()
			s.mdat.Close()
			onComplete()
		}()
		return
	case s.status != sink.StatusWriting:
		s.mu.Unlock()
		onComplete()
		return
	}
	s.closing = true
	close(s.jobs)
	s.mu.Unlock()

	go func() {
		<-s.done
		err := s.finalize()

		s.mu.Lock()
		onError := s.onError
		if err != nil && s.status == sink.StatusWriting {
			s.status = sink.StatusFailed
			s.err = err
		} else if s.status == sink.StatusWriting {
			s.status = sink.StatusCompleted
		} else {
			onError = nil
		}
		s.mu.Unlock()

		if err != nil && onError != nil {
			onError(err)
		}
		onComplete()
	}()
}

func (s *Session) finalize() error {
	s.mu.Lock()
	start, end := s.startAt, s.endAt
	s.mu.Unlock()

	var errs []error
	if _, err := s.meta.WriteAt(marshalInt64(int64(start)), startTimeOffset); err != nil {
		errs = append(errs, fmt.Errorf("patch start time: %w", err))
	}
	if _, err := s.meta.WriteAt(marshalInt64(int64(end)), endTimeOffset); err != nil {
		errs = append(errs, fmt.Errorf("patch end time: %w", err))
	}
	if err := s.meta.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("sync meta: %w", err))
	}
	if err := s.meta.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close meta: %w", err))
	}
	if err := s.mdat.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close mdat: %w", err))
	}
	return errors.Join(errs...)
}

// Cancel drains the queue and removes both files.
func (s *Session) Cancel() {
	s.mu.Lock()
	switch {
	case s.status == sink.StatusUnknown:
		s.status = sink.StatusCanceled
		s.mu.Unlock()
		return
	case s.closing || s.status == sink.StatusCanceled:
		s.mu.Unlock()
		return
	case s.meta == nil:
		s.status = sink.StatusCanceled
		s.mu.Unlock()
		return
	}
	s.closing = true
	close(s.jobs)
	s.mu.Unlock()

	<-s.done
	s.meta.Close()
	s.mdat.Close()
	os.Remove(s.path + ".meta")
	os.Remove(s.path + ".mdat")

	s.mu.Lock()
	s.status = sink.StatusCanceled
	s.mu.Unlock()
}
