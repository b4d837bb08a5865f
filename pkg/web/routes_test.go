// SPDX-License-Identifier: GPL-2.0-or-later

package web

import (
	"bytes"
	"capture/pkg/cache"
	"capture/pkg/log"
	"capture/pkg/metrics"
	"capture/pkg/recorder"
	"capture/pkg/storage"
	"capture/pkg/system"
	"capture/pkg/writer"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestParseCSVParam(t *testing.T) {
	cases := []struct {
		input  string
		output []string
	}{
		{"", nil},
		{"a,b,c", []string{"a", "b", "c"}},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			query := url.Values{}
			query.Add("test", tc.input)
			actual := parseCSVParam(query, "test")
			require.Equal(t, tc.output, actual)
		})
	}
}

type mockController struct {
	err error

	window      time.Duration
	cancel      bool
	stopToken   string
	cancelToken string
}

func (c *mockController) StartCaching(window time.Duration) error {
	c.window = window
	return c.err
}

func (c *mockController) StopCaching(cancel bool) error {
	c.cancel = cancel
	return c.err
}

func (c *mockController) StartRecording() (*recorder.Recording, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &recorder.Recording{ID: "a", Token: "b", Path: "c"}, nil
}

func (c *mockController) StopRecording(token string) (*storage.RecordingData, error) {
	c.stopToken = token
	if c.err != nil {
		return nil, c.err
	}
	return &storage.RecordingData{ID: "a", VideoSamples: 3}, nil
}

func (c *mockController) CancelRecording(token string) error {
	c.cancelToken = token
	return c.err
}

func (c *mockController) Status() recorder.Status {
	return recorder.Status{
		Cache:      cache.Status{State: cache.StateCaching, Frames: 2},
		Recordings: []recorder.Recording{},
	}
}

func newTestRouter(c Controller) http.Handler {
	return NewRouter(Deps{
		Controller: c,
		SystemStatus: func() system.Status {
			return system.Status{CPUUsage: 1, RAMUsage: 2, DiskUsage: 3}
		},
		Metrics: metrics.New().Handler(),
	})
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCaching(t *testing.T) {
	t.Run("start", func(t *testing.T) {
		c := &mockController{}
		rec := do(t, newTestRouter(c), http.MethodPost, "/api/caching/start", `{"duration":"5s"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, 5*time.Second, c.window)
		require.Contains(t, rec.Body.String(), `"state":"caching"`)
	})
	t.Run("startDefault", func(t *testing.T) {
		c := &mockController{window: time.Hour}
		rec := do(t, newTestRouter(c), http.MethodPost, "/api/caching/start", "")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, time.Duration(0), c.window)
	})
	t.Run("invalidDuration", func(t *testing.T) {
		c := &mockController{}
		rec := do(t, newTestRouter(c), http.MethodPost, "/api/caching/start", `{"duration":"x"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("badJSON", func(t *testing.T) {
		c := &mockController{}
		rec := do(t, newTestRouter(c), http.MethodPost, "/api/caching/stop", `{`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("stop", func(t *testing.T) {
		c := &mockController{}
		rec := do(t, newTestRouter(c), http.MethodPost, "/api/caching/stop", `{"cancel":true}`)
		require.Equal(t, http.StatusOK, rec.Code)
		require.True(t, c.cancel)
	})
	t.Run("methodNotAllowed", func(t *testing.T) {
		c := &mockController{}
		rec := do(t, newTestRouter(c), http.MethodGet, "/api/caching/start", "")
		require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestRecording(t *testing.T) {
	t.Run("start", func(t *testing.T) {
		rec := do(t, newTestRouter(&mockController{}), http.MethodPost, "/api/recording/start", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var actual recorder.Recording
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &actual))
		require.Equal(t, "b", actual.Token)
	})
	t.Run("stop", func(t *testing.T) {
		c := &mockController{}
		rec := do(t, newTestRouter(c), http.MethodPost, "/api/recording/stop", `{"token":"b"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "b", c.stopToken)
		require.Contains(t, rec.Body.String(), `"videoSamples":3`)
	})
	t.Run("cancel", func(t *testing.T) {
		c := &mockController{}
		rec := do(t, newTestRouter(c), http.MethodPost, "/api/recording/cancel", `{"token":"b"}`)
		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Equal(t, "b", c.cancelToken)
	})
}

func TestStatusCode(t *testing.T) {
	cases := []struct {
		err      error
		expected int
	}{
		{fmt.Errorf("%w: writing -> idle", cache.ErrInvalidState), http.StatusConflict},
		{recorder.ErrAlreadyRecording, http.StatusConflict},
		{fmt.Errorf("%w: x", cache.ErrIdentityMismatch), http.StatusForbidden},
		{cache.ErrEmptySession, http.StatusNotFound},
		{recorder.ErrLowDiskSpace, http.StatusInsufficientStorage},
		{cache.ErrClosed, http.StatusServiceUnavailable},
		{&writer.StartError{Err: writer.ErrPoolUnavailable}, http.StatusInternalServerError},
		{&writer.SinkError{Err: errors.New("disk full")}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			require.Equal(t, tc.expected, statusCode(tc.err))

			c := &mockController{err: tc.err}
			rec := do(t, newTestRouter(c), http.MethodPost, "/api/recording/stop", `{"token":"x"}`)
			require.Equal(t, tc.expected, rec.Code)
		})
	}
}

func TestStatus(t *testing.T) {
	h := newTestRouter(&mockController{})

	rec := do(t, h, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"frames":2`)
	require.Contains(t, rec.Body.String(), `"recordings":[]`)

	rec = do(t, h, http.MethodGet, "/api/system/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t,
		`{"cpuUsage":1,"ramUsage":2,"diskUsage":3,"diskUsageFormatted":""}`,
		rec.Body.String())

	rec = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "capture_cache_state")
}

type mockLogDB struct {
	query log.Query
}

func (db *mockLogDB) Query(q log.Query) ([]log.Entry, error) {
	db.query = q
	return []log.Entry{{Level: log.LevelInfo, Src: "cache", Msg: "a"}}, nil
}

func TestLogQuery(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		db := &mockLogDB{}
		h := NewRouter(Deps{Controller: &mockController{}, LogDB: db})
		rec := do(t, h, http.MethodGet,
			"/api/log/query?limit=5&levels=error,info&sources=cache&sessions=s&time=10", "")
		require.Equal(t, http.StatusOK, rec.Code)

		expected := log.Query{
			Levels:   []log.Level{log.LevelError, log.LevelInfo},
			Sources:  []string{"cache"},
			Sessions: []string{"s"},
			Time:     10,
			Limit:    5,
		}
		require.Equal(t, expected, db.query)
		require.Contains(t, rec.Body.String(), `"Msg":"a"`)
	})
	t.Run("missingLimit", func(t *testing.T) {
		h := NewRouter(Deps{Controller: &mockController{}, LogDB: &mockLogDB{}})
		rec := do(t, h, http.MethodGet, "/api/log/query", "")
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("invalidLevel", func(t *testing.T) {
		h := NewRouter(Deps{Controller: &mockController{}, LogDB: &mockLogDB{}})
		rec := do(t, h, http.MethodGet, "/api/log/query?limit=1&levels=x", "")
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestLogFeed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := log.NewLogger(&sync.WaitGroup{}, log.LevelDebug)
	logger.Start(ctx)

	server := httptest.NewServer(NewRouter(Deps{
		Controller: &mockController{},
		Logger:     logger,
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/log/feed?sources=cache"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription is registered asynchronously, log until received.
	received := make(chan log.Entry, 1)
	go func() {
		var entry log.Entry
		if err := conn.ReadJSON(&entry); err == nil {
			received <- entry
		}
	}()
	deadline := time.After(5 * time.Second)
	for {
		logger.Info().Src("writer").Msg("ignored")
		logger.Info().Src("cache").Msg("b")
		select {
		case entry := <-received:
			require.Equal(t, "cache", entry.Src)
			require.Equal(t, "b", entry.Msg)
			return
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatal("timeout")
		}
	}
}

func TestDecodeBody(t *testing.T) {
	var v struct{ A int }
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(nil))
	require.NoError(t, decodeBody(req, &v))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"A":1}`))
	require.NoError(t, decodeBody(req, &v))
	require.Equal(t, 1, v.A)
}
