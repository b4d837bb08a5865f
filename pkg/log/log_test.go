// SPDX-License-Identifier: GPL-2.0-or-later

package log

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestLogger(level Level) (*Logger, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := NewLogger(&sync.WaitGroup{}, level)
	logger.Start(ctx)
	return logger, cancel
}

func TestLogger(t *testing.T) {
	t.Run("feed", func(t *testing.T) {
		logger, cancel := newTestLogger(LevelDebug)
		defer cancel()

		feed, cancel2 := logger.Subscribe()
		defer cancel2()

		cases := []struct {
			name  string
			event func() *Event
			level Level
		}{
			{"error", logger.Error, LevelError},
			{"warn", logger.Warn, LevelWarning},
			{"info", logger.Info, LevelInfo},
			{"debug", logger.Debug, LevelDebug},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				go tc.event().Src("writer").Session("abc").Msgf("%v", "test")
				entry := <-feed
				require.Equal(t, tc.level, entry.Level)
				require.Equal(t, "writer", entry.Src)
				require.Equal(t, "abc", entry.Session)
				require.Equal(t, "test", entry.Msg)
				require.NotZero(t, entry.Time)
			})
		}
	})
	t.Run("levelFilter", func(t *testing.T) {
		logger, cancel := newTestLogger(LevelInfo)
		defer cancel()

		feed, cancel2 := logger.Subscribe()
		defer cancel2()

		go func() {
			logger.Debug().Msg("hidden")
			logger.Info().Msg("visible")
		}()
		entry := <-feed
		require.Equal(t, "visible", entry.Msg)
	})
	t.Run("stopped", func(t *testing.T) {
		logger, cancel := newTestLogger(LevelInfo)
		cancel()
		<-logger.Done()

		// Must not block.
		for i := 0; i < 100; i++ {
			logger.Info().Msg("x")
		}
		feed, cancel2 := logger.Subscribe()
		cancel2()
		_, ok := <-feed
		require.False(t, ok)
	})
}

func TestFormatEntry(t *testing.T) {
	cases := []struct {
		input    Entry
		expected string
	}{
		{Entry{Level: LevelError, Src: "writer", Session: "s1", Msg: "a"}, "[ERROR] s1: Writer: a"},
		{Entry{Level: LevelWarning, Src: "cache", Msg: "b"}, "[WARNING] Cache: b"},
		{Entry{Level: LevelInfo, Msg: "c"}, "[INFO] c"},
		{Entry{Level: LevelDebug, Src: "x", Msg: "d"}, "[DEBUG] X: d"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.expected, formatEntry(tc.input))
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	require.NoError(t, err)
	require.Equal(t, LevelDebug, level)

	level, err = ParseLevel("")
	require.NoError(t, err)
	require.Equal(t, LevelInfo, level)

	_, err = ParseLevel("nope")
	require.ErrorIs(t, err, ErrInvalidLevel)
}
