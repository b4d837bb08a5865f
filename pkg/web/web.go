// SPDX-License-Identifier: GPL-2.0-or-later

// Package web serves the control and status api.
package web

import (
	"capture/pkg/log"
	"capture/pkg/system"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Deps dependencies of the router.
type Deps struct {
	Controller   Controller
	Logger       *log.Logger
	LogDB        LogQuerier
	SystemStatus func() system.Status
	Metrics      http.Handler
}

// NewRouter returns the api router.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/caching/start", CachingStart(d.Controller).ServeHTTP)
		r.Post("/caching/stop", CachingStop(d.Controller).ServeHTTP)

		r.Post("/recording/start", RecordingStart(d.Controller).ServeHTTP)
		r.Post("/recording/stop", RecordingStop(d.Controller).ServeHTTP)
		r.Post("/recording/cancel", RecordingCancel(d.Controller).ServeHTTP)

		r.Get("/status", Status(d.Controller).ServeHTTP)
		if d.SystemStatus != nil {
			r.Get("/system/status", SystemStatus(d.SystemStatus).ServeHTTP)
		}

		if d.Logger != nil {
			r.Get("/log/feed", LogFeed(d.Logger).ServeHTTP)
		}
		if d.LogDB != nil {
			r.Get("/log/query", LogQuery(d.LogDB).ServeHTTP)
		}
	})

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}
	return r
}

// Server http server.
type Server struct {
	srv    *http.Server
	logger *log.Logger
}

// NewServer returns a server listening on port.
func NewServer(port int, handler http.Handler, logger *log.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%v", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Run serves until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info().Src("app").Msgf("serving app on %v", s.srv.Addr)
		serverErr <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server crashed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	if err := <-serverErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
