// SPDX-License-Identifier: GPL-2.0-or-later

package web

import (
	"capture/pkg/cache"
	"capture/pkg/log"
	"capture/pkg/recorder"
	"capture/pkg/storage"
	"capture/pkg/system"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const jsonContentType = "application/json"

// Controller controls the capture pipeline.
type Controller interface {
	StartCaching(window time.Duration) error
	StopCaching(cancel bool) error
	StartRecording() (*recorder.Recording, error)
	StopRecording(token string) (*storage.RecordingData, error)
	CancelRecording(token string) error
	Status() recorder.Status
}

// Maps pipeline errors to status codes.
func statusCode(err error) int {
	switch {
	case errors.Is(err, cache.ErrInvalidState),
		errors.Is(err, cache.ErrSessionAttached),
		errors.Is(err, recorder.ErrAlreadyRecording):
		return http.StatusConflict
	case errors.Is(err, cache.ErrIdentityMismatch):
		return http.StatusForbidden
	case errors.Is(err, cache.ErrEmptySession),
		errors.Is(err, recorder.ErrUnknownToken):
		return http.StatusNotFound
	case errors.Is(err, recorder.ErrLowDiskSpace):
		return http.StatusInsufficientStorage
	case errors.Is(err, cache.ErrClosed):
		return http.StatusServiceUnavailable
	}
	// Start and sink errors.
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", jsonContentType)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// decodeBody decodes an optional json body.
func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}

// CachingStart handler to start the pre-record cache.
//
//	{"duration": "5s"}
func CachingStart(c Controller) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Duration string `json:"duration"`
		}
		if err := decodeBody(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var window time.Duration
		if req.Duration != "" {
			var err error
			window, err = time.ParseDuration(req.Duration)
			if err != nil || window < 0 {
				http.Error(w, fmt.Sprintf("invalid duration: %q", req.Duration), http.StatusBadRequest)
				return
			}
		}

		if err := c.StartCaching(window); err != nil {
			http.Error(w, err.Error(), statusCode(err))
			return
		}
		writeJSON(w, c.Status().Cache)
	})
}

// CachingStop handler to stop the pre-record cache.
//
//	{"cancel": true}
func CachingStop(c Controller) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Cancel bool `json:"cancel"`
		}
		if err := decodeBody(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := c.StopCaching(req.Cancel); err != nil {
			http.Error(w, err.Error(), statusCode(err))
			return
		}
		writeJSON(w, c.Status().Cache)
	})
}

// RecordingStart handler to start a recording.
func RecordingStart(c Controller) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec, err := c.StartRecording()
		if err != nil {
			http.Error(w, err.Error(), statusCode(err))
			return
		}
		writeJSON(w, rec)
	})
}

type tokenRequest struct {
	Token string `json:"token"`
}

// RecordingStop handler to stop and save a recording.
//
//	{"token": "..."}
func RecordingStop(c Controller) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req tokenRequest
		if err := decodeBody(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		data, err := c.StopRecording(req.Token)
		if err != nil {
			http.Error(w, err.Error(), statusCode(err))
			return
		}
		writeJSON(w, data)
	})
}

// RecordingCancel handler to discard a recording.
//
//	{"token": "..."}
func RecordingCancel(c Controller) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req tokenRequest
		if err := decodeBody(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := c.CancelRecording(req.Token); err != nil {
			http.Error(w, err.Error(), statusCode(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// Status returns the cache status and active recordings.
func Status(c Controller) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, c.Status())
	})
}

// SystemStatus returns cpu, ram and disk usage.
func SystemStatus(status func() system.Status) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, status())
	})
}

func parseCSVParam(query url.Values, key string) []string {
	csv := query.Get(key)
	if csv == "" {
		return nil
	}
	return strings.Split(csv, ",")
}

func parseLevels(query url.Values) ([]log.Level, error) {
	var levels []log.Level
	for _, levelStr := range parseCSVParam(query, "levels") {
		level, err := log.ParseLevel(levelStr)
		if err != nil {
			return nil, err
		}
		levels = append(levels, level)
	}
	return levels, nil
}

// LogFeed opens a websocket with system logs.
//
//	/api/log/feed?levels=error,info&sources=cache,writer
func LogFeed(logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		levels, err := parseLevels(query)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		q := log.Query{
			Levels:   levels,
			Sources:  parseCSVParam(query, "sources"),
			Sessions: parseCSVParam(query, "sessions"),
		}

		upgrader := websocket.Upgrader{}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied.
			return
		}
		defer c.Close()

		feed, cancel := logger.Subscribe()
		defer cancel()

		for {
			var entry log.Entry
			select {
			case entry = <-feed:
			case <-logger.Done():
				return
			case <-r.Context().Done():
				return
			}

			if !log.LevelInLevels(entry.Level, q.Levels) ||
				!log.StringInStrings(entry.Src, q.Sources) ||
				!log.StringInStrings(entry.Session, q.Sessions) {
				continue
			}

			if err := c.WriteJSON(entry); err != nil {
				return
			}
		}
	})
}

// LogQuerier queries stored logs.
type LogQuerier interface {
	Query(log.Query) ([]log.Entry, error)
}

// LogQuery handles log queries.
//
//	/api/log/query?limit=10&levels=error&sources=cache&time=1700000000000000
func LogQuery(logDB LogQuerier) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		limit := query.Get("limit")
		if limit == "" {
			http.Error(w, "limit missing", http.StatusBadRequest)
			return
		}
		limitInt, err := strconv.Atoi(limit)
		if err != nil {
			http.Error(w, fmt.Sprintf("could not convert limit to int: %v", err), http.StatusBadRequest)
			return
		}

		levels, err := parseLevels(query)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var timeInt uint64
		if t := query.Get("time"); t != "" {
			timeInt, err = strconv.ParseUint(t, 10, 64)
			if err != nil {
				http.Error(w, fmt.Sprintf("could not convert time to int: %v", err), http.StatusBadRequest)
				return
			}
		}

		q := log.Query{
			Levels:   levels,
			Sources:  parseCSVParam(query, "sources"),
			Sessions: parseCSVParam(query, "sessions"),
			Time:     log.UnixMicro(timeInt),
			Limit:    limitInt,
		}

		logs, err := logDB.Query(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if logs == nil {
			logs = []log.Entry{}
		}
		writeJSON(w, logs)
	})
}
