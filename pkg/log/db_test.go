// SPDX-License-Identifier: GPL-2.0-or-later

package log

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) (*DB, func()) {
	dbPath := filepath.Join(t.TempDir(), "logs.db")

	wg := &sync.WaitGroup{}
	logDB := NewDB(dbPath, wg)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, logDB.Init(ctx))

	return logDB, func() {
		cancel()
		wg.Wait()
	}
}

func TestQuery(t *testing.T) {
	msg1 := Entry{Level: LevelError, Time: 4000, Src: "s1", Session: "m1", Msg: "msg1"}
	msg2 := Entry{Level: LevelWarning, Time: 3000, Src: "s1", Msg: "msg2"}
	msg3 := Entry{Level: LevelInfo, Time: 2000, Src: "s2", Session: "m2", Msg: "msg3"}
	msg4 := Entry{Level: LevelDebug, Time: 1000, Src: "s2", Msg: "msg4"}

	logDB, cancel := newTestDB(t)
	defer cancel()

	for _, msg := range []Entry{msg4, msg3, msg2, msg1} {
		require.NoError(t, logDB.saveLog(msg))
	}

	cases := []struct {
		name     string
		input    Query
		expected []Entry
	}{
		{
			name:     "all",
			input:    Query{},
			expected: []Entry{msg1, msg2, msg3, msg4},
		},
		{
			name:     "singleLevel",
			input:    Query{Levels: []Level{LevelWarning}},
			expected: []Entry{msg2},
		},
		{
			name:     "multipleLevels",
			input:    Query{Levels: []Level{LevelError, LevelWarning}, Sources: []string{"s1"}},
			expected: []Entry{msg1, msg2},
		},
		{
			name:     "source",
			input:    Query{Sources: []string{"s2"}},
			expected: []Entry{msg3, msg4},
		},
		{
			name:     "session",
			input:    Query{Sessions: []string{"m2"}},
			expected: []Entry{msg3},
		},
		{
			name:     "time",
			input:    Query{Time: 3000},
			expected: []Entry{msg3, msg4},
		},
		{
			name:     "limit",
			input:    Query{Limit: 2},
			expected: []Entry{msg1, msg2},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entries, err := logDB.Query(tc.input)
			require.NoError(t, err)
			require.Equal(t, tc.expected, entries)
		})
	}
}

func TestSaveLog(t *testing.T) {
	t.Run("maxKeys", func(t *testing.T) {
		logDB, cancel := newTestDB(t)
		defer cancel()
		logDB.maxKeys = 2

		for i := 1; i <= 3; i++ {
			require.NoError(t, logDB.saveLog(Entry{Time: UnixMicro(i), Msg: "x"}))
		}

		entries, err := logDB.Query(Query{})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		require.Equal(t, UnixMicro(3), entries[0].Time)
		require.Equal(t, UnixMicro(2), entries[1].Time)
	})
	t.Run("sameTime", func(t *testing.T) {
		logDB, cancel := newTestDB(t)
		defer cancel()

		require.NoError(t, logDB.saveLog(Entry{Time: 10, Msg: "a"}))
		require.NoError(t, logDB.saveLog(Entry{Time: 10, Msg: "b"}))

		entries, err := logDB.Query(Query{})
		require.NoError(t, err)
		require.Len(t, entries, 2)
	})
	t.Run("saveLogs", func(t *testing.T) {
		logDB, cancel := newTestDB(t)
		defer cancel()

		logger, cancel2 := newTestLogger(LevelInfo)
		defer cancel2()

		ctx, cancel3 := context.WithCancel(context.Background())
		defer cancel3()
		saved := make(chan struct{})
		go func() {
			logDB.SaveLogs(ctx, logger)
			close(saved)
		}()

		require.Eventually(t, func() bool {
			logger.Info().Src("app").Msg("hello")
			entries, err := logDB.Query(Query{Sources: []string{"app"}, Limit: 1})
			return err == nil && len(entries) == 1
		}, time.Second, 10*time.Millisecond)

		cancel3()
		<-saved
	})
}
