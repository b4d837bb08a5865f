// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"capture/pkg/media"
	"capture/pkg/sink"
	"capture/pkg/sink/filesink"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeRecording(t *testing.T, path string) {
	t.Helper()
	config := sink.Config{
		Video: &sink.VideoConfig{Width: 2, Height: 1, FPS: 1, Format: media.PixelFormatBGRA},
		Audio: &sink.AudioConfig{SampleRate: 8000, Channels: 1},
	}
	s, err := filesink.New(8).CreateSession(path, config)
	require.NoError(t, err)
	require.NoError(t, s.Start())

	s.StartAt(time.Second)
	require.True(t, s.Append(sink.Sample{
		Track: media.TrackVideo, Data: make([]byte, 8), PTS: time.Second, Duration: time.Second,
	}))
	require.True(t, s.Append(sink.Sample{
		Track: media.TrackAudio, Data: []byte{1, 2}, PTS: time.Second, Duration: time.Second,
	}))
	s.EndAt(2 * time.Second)

	done := make(chan struct{})
	s.Finish(func() { close(done) })
	<-done
}

func TestRun(t *testing.T) {
	t.Run("usage", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, run(nil, &out))
		require.Contains(t, out.String(), "example")
	})
	t.Run("ok", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "2022", "01", "02"), 0o755))
		path := filepath.Join(dir, "2022", "01", "02", "rec")
		writeRecording(t, path)

		// Meta file without mdat is ignored.
		require.NoError(t, os.WriteFile(filepath.Join(dir, "x.meta"), nil, 0o600))

		var out bytes.Buffer
		require.NoError(t, run([]string{"-v", dir}, &out))

		expected := "Found 1 recordings.\n" +
			"[1/1][OK] " + path + " video: 2x1 BGRA, audio: 8000Hz 1ch, 1s - 2s, samples: 1 video 1 audio\n" +
			"    video pts=1s dur=1s offset=0 size=8\n" +
			"    audio pts=1s dur=1s offset=8 size=2\n"
		require.Equal(t, expected, out.String())
	})
	t.Run("corrupt", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "rec")
		require.NoError(t, os.WriteFile(path+".meta", []byte{0}, 0o600))
		require.NoError(t, os.WriteFile(path+".mdat", nil, 0o600))

		var out bytes.Buffer
		require.NoError(t, run([]string{dir}, &out))
		require.Contains(t, out.String(), "[1/1][ERR] "+path)
	})
	t.Run("truncated", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "rec")
		writeRecording(t, path)
		require.NoError(t, os.Truncate(path+".mdat", 4))

		_, err := readInfo(path)
		require.ErrorIs(t, err, ErrTruncated)
	})
}
