// SPDX-License-Identifier: GPL-2.0-or-later

package writer

import (
	"capture/pkg/media"
	"capture/pkg/metrics"
	"capture/pkg/pixel"
	"capture/pkg/sink"
	"time"
)

// Result of processing a sample.
type Result uint8

// Results.
const (
	ResultAppended Result = iota

	// ResultPending the sample is held until both tracks
	// have been observed and the start time is chosen.
	ResultPending

	// ResultDropped the sample was dropped and released.
	ResultDropped
)

func (r Result) String() string {
	switch r {
	case ResultAppended:
		return "appended"
	case ResultPending:
		return "pending"
	case ResultDropped:
		return "dropped"
	}
	return "unknown"
}

// Append hands the sample off to the media queue. Live sessions
// never block, a full queue drops the sample. Other sessions block
// until the sample has been processed. Ownership of the sample moves
// to the session.
func (s *Session) Append(sample media.Sample) {
	if s.trackFinished(sample.Track()) {
		s.drop(sample, metrics.DropFinished)
		return
	}

	job := func() { s.Process(sample) }
	if s.config.Live {
		if !s.ctx.Queue.Async(job) {
			s.drop(sample, metrics.DropQueueFull)
		}
		return
	}
	if !s.ctx.Queue.Sync(job) {
		s.drop(sample, metrics.DropQueueFull)
	}
}

// CanAccept reports if Process would handle a sample on track without
// waiting. Samples that would be dropped or held for alignment are accepted.
func (s *Session) CanAccept(track media.Track) bool {
	if !s.started || s.trackFinished(track) {
		return true
	}
	if !s.startFrameTimeSet() && s.alignRequired() {
		return true
	}
	return s.out.IsTrackReady(track)
}

// Process appends the sample to the sink. Drops are logged, never returned.
func (s *Session) Process(sample media.Sample) Result {
	track := sample.Track()
	switch {
	case !s.started:
		return s.drop(sample, metrics.DropNotRecording)
	case !s.hasTrack(track):
		return s.drop(sample, metrics.DropNotRecording)
	case s.trackFinished(track):
		return s.drop(sample, metrics.DropFinished)
	}

	if s.startFrameTimeSet() {
		return s.write(sample)
	}

	if s.alignRequired() {
		return s.align(sample)
	}

	// The first video sample opens the session, audio-only
	// sessions are opened by the first audio sample.
	if track == media.TrackVideo || s.config.Sink.Video == nil {
		s.setStartFrameTime(sample.Timestamp())
		return s.write(sample)
	}
	return s.drop(sample, metrics.DropPreStart)
}

// Holds samples until both tracks have been observed.
func (s *Session) align(sample media.Sample) Result {
	ts := sample.Timestamp()
	switch sample.Track() {
	case media.TrackVideo:
		if s.firstVideo == nil {
			s.firstVideo = &ts
		}
	case media.TrackAudio:
		if s.firstAudio == nil {
			s.firstAudio = &ts
		}
	}
	s.pendingMu.Lock()
	if s.canceled.Load() {
		s.pendingMu.Unlock()
		return s.drop(sample, metrics.DropFinished)
	}
	s.pending = append(s.pending, sample)
	s.pendingMu.Unlock()

	if s.firstVideo == nil || s.firstAudio == nil {
		return ResultPending
	}

	start := max(*s.firstVideo, *s.firstAudio)
	s.setStartFrameTime(start)
	s.logger.Debug().
		Src("writer").
		Session(s.token).
		Msgf("aligned start time: %v, video: %v, audio: %v",
			start, *s.firstVideo, *s.firstAudio)

	s.pendingMu.Lock()
	pending := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	result := ResultDropped
	for _, p := range pending {
		if s.write(p) == ResultAppended {
			result = ResultAppended
		}
	}
	return result
}

func (s *Session) startFrameTimeSet() bool {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.startFrameTime != nil
}

// Only called once per session.
func (s *Session) setStartFrameTime(ts time.Duration) {
	s.statsMu.Lock()
	s.startFrameTime = &ts
	s.prevVideoEnd = ts
	s.prevAudioEnd = ts
	s.statsMu.Unlock()

	s.out.StartAt(ts)
}

func (s *Session) write(sample media.Sample) Result {
	track := sample.Track()
	ts := sample.Timestamp()

	start, _ := s.StartFrameTime()
	if ts < start {
		return s.drop(sample, metrics.DropPreStart)
	}

	key := writtenKey{track: track, ts: ts}
	if _, exists := s.written[key]; exists {
		return s.drop(sample, metrics.DropDuplicate)
	}

	if reason, ready := s.waitReady(track); !ready {
		return s.drop(sample, reason)
	}

	var out sink.Sample
	var buf *pixel.Buffer
	switch v := sample.(type) {
	case *media.VideoFrame:
		b, err := s.renderFrame(v)
		if err != nil {
			s.logger.Warn().
				Src("writer").
				Session(s.token).
				Msgf("render frame %v: %v", ts, err)
			s.ctx.Metrics.IncDropped(metrics.DropRender)
			return ResultDropped
		}
		buf = b
		out = sink.Sample{
			Track:    media.TrackVideo,
			Data:     b.Data,
			PTS:      ts,
			Duration: s.frameDuration(),
		}

	case *media.CompressedVideoSample:
		defer v.Release()
		out = sink.Sample{
			Track:      media.TrackVideo,
			Data:       v.Payload,
			PTS:        ts,
			Duration:   s.frameDuration(),
			Compressed: true,
			Sync:       v.Sync,
		}

	case *media.AudioSample:
		defer v.Release()
		out = sink.Sample{
			Track:    media.TrackAudio,
			Data:     v.Payload,
			PTS:      ts,
			Duration: v.Duration,
		}

	default:
		return s.drop(sample, metrics.DropNotRecording)
	}

	ok := s.out.Append(out)
	if buf != nil {
		s.putBuffer(buf)
	}
	if !ok {
		s.logger.Debug().
			Src("writer").
			Session(s.token).
			Msgf("sink rejected %v sample %v", track, ts)
		s.ctx.Metrics.IncDropped(metrics.DropSink)
		return ResultDropped
	}

	if len(s.written) >= maxWrittenTimestamps {
		clear(s.written)
	}
	s.written[key] = struct{}{}

	s.statsMu.Lock()
	end := ts + out.Duration
	if track == media.TrackVideo {
		s.prevVideoEnd = max(s.prevVideoEnd, end)
		s.videoCount++
	} else {
		s.prevAudioEnd = max(s.prevAudioEnd, end)
		s.audioCount++
	}
	s.statsMu.Unlock()

	s.ctx.Metrics.IncAppended(track.String())
	return ResultAppended
}

func (s *Session) frameDuration() time.Duration {
	if v := s.config.Sink.Video; v != nil {
		return media.FrameDuration(v.FPS)
	}
	return 0
}

// Blocks until the track is ready, returns the drop reason if it never was.
func (s *Session) waitReady(track media.Track) (string, bool) {
	if s.out.IsTrackReady(track) {
		return "", true
	}
	if s.config.WaitPolicy == WaitPolicyDrop {
		return metrics.DropBackpressure, false
	}

	timeout := time.NewTimer(s.config.MaxWait)
	defer timeout.Stop()
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		if s.finalize.Load() {
			s.markFinished(track)
			return metrics.DropFinished, false
		}
		if s.trackFinished(track) {
			return metrics.DropFinished, false
		}
		if s.out.Status() != sink.StatusWriting {
			return metrics.DropSink, false
		}
		if s.out.IsTrackReady(track) {
			return "", true
		}

		select {
		case <-s.readyCh:
		case <-ticker.C:
		case <-timeout.C:
			if s.finishing.Load() {
				s.markFinished(track)
			}
			return metrics.DropBackpressure, false
		}
	}
}

// Releases the frame handle exactly once.
func (s *Session) renderFrame(frame *media.VideoFrame) (*pixel.Buffer, error) {
	defer frame.Release()

	buf, err := s.getBuffer()
	if err != nil {
		return nil, err
	}
	if err := pixel.Render(buf, frame.Handle); err != nil {
		s.putBuffer(buf)
		return nil, err
	}
	for _, transform := range s.config.Transforms {
		transform(buf)
	}
	return buf, nil
}

func (s *Session) getBuffer() (*pixel.Buffer, error) {
	s.poolMu.Lock()
	defer s.poolMu.Unlock()
	if s.pool == nil {
		return nil, ErrPoolUnavailable
	}
	return s.pool.Get()
}

func (s *Session) putBuffer(buf *pixel.Buffer) {
	s.poolMu.Lock()
	defer s.poolMu.Unlock()
	s.pool.Put(buf)
}

func (s *Session) drop(sample media.Sample, reason string) Result {
	sample.Release()
	s.ctx.Metrics.IncDropped(reason)
	s.logger.Debug().
		Src("writer").
		Session(s.token).
		Msgf("dropped %v sample %v: %v", sample.Track(), sample.Timestamp(), reason)
	return ResultDropped
}
