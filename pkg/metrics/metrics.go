// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes prometheus counters for the capture pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons.
const (
	DropDuplicate    = "duplicate"
	DropBackpressure = "backpressure"
	DropFinished     = "finished"
	DropPreStart     = "pre_start"
	DropRender       = "render"
	DropSink         = "sink"
	DropQueueFull    = "queue_full"
	DropNotRecording = "not_recording"
)

// Session results.
const (
	SessionStarted  = "started"
	SessionFinished = "finished"
	SessionCanceled = "canceled"
	SessionFailed   = "failed"
)

// Metrics holds the prometheus collectors. A nil *Metrics is valid
// and records nothing, tests use that to skip registration.
type Metrics struct {
	registry       *prometheus.Registry
	appended       *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec
	cacheDepth     *prometheus.GaugeVec
	cacheState     prometheus.Gauge
	sessions       *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	appended := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_samples_appended_total",
		Help: "Total number of samples appended to a sink",
	}, []string{"track"})
	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_samples_dropped_total",
		Help: "Total number of samples dropped before reaching a sink",
	}, []string{"reason"})
	cacheEvictions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_cache_evictions_total",
		Help: "Total number of samples evicted from the pre-record cache",
	}, []string{"stream"})
	cacheDepth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "capture_cache_depth",
		Help: "Number of samples held by the pre-record cache",
	}, []string{"stream"})
	cacheState := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "capture_cache_state",
		Help: "Current cache state, 0=unknown 1=idle 2=caching 3=writing 4=stopped 5=canceled",
	})
	sessions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_sessions_total",
		Help: "Total number of writer sessions by result",
	}, []string{"result"})

	registry.MustRegister(
		appended,
		dropped,
		cacheEvictions,
		cacheDepth,
		cacheState,
		sessions,
	)

	return &Metrics{
		registry:       registry,
		appended:       appended,
		dropped:        dropped,
		cacheEvictions: cacheEvictions,
		cacheDepth:     cacheDepth,
		cacheState:     cacheState,
		sessions:       sessions,
	}
}

// IncAppended increments the appended counter for track.
func (m *Metrics) IncAppended(track string) {
	if m == nil {
		return
	}
	m.appended.WithLabelValues(track).Inc()
}

// IncDropped increments the dropped counter for reason.
func (m *Metrics) IncDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// AddEvicted adds n to the eviction counter for stream.
func (m *Metrics) AddEvicted(stream string, n int) {
	if m == nil {
		return
	}
	m.cacheEvictions.WithLabelValues(stream).Add(float64(n))
}

// SetCacheDepth sets the cache depth gauge for stream.
func (m *Metrics) SetCacheDepth(stream string, n int) {
	if m == nil {
		return
	}
	m.cacheDepth.WithLabelValues(stream).Set(float64(n))
}

// SetCacheState sets the state gauge.
func (m *Metrics) SetCacheState(state int) {
	if m == nil {
		return
	}
	m.cacheState.Set(float64(state))
}

// IncSessions increments the session counter for result.
func (m *Metrics) IncSessions(result string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(result).Inc()
}

// Handler returns an http.Handler that serves the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
