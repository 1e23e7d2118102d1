/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package api exposes the client report protocol and the dashboard
// query surface over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/crabsoc/crabd/internal/monitor"
	"github.com/crabsoc/crabd/internal/store"
)

// Version is the daemon version (set at build time)
var Version = "dev"

// Server is the HTTP API server
type Server struct {
	store    *store.Store
	monitor  *monitor.Monitor
	services map[string]func() bool
	port     int
	server   *http.Server
}

// ServerOptions contains options for creating the server
type ServerOptions struct {
	Store   *store.Store
	Monitor *monitor.Monitor
	Port    int

	// Services maps each background worker's name to its liveness,
	// reported through the jobstatus response.
	Services map[string]func() bool
}

// NewServer creates a new API server
func NewServer(opts ServerOptions) *Server {
	if opts.Port == 0 {
		opts.Port = 8000
	}

	return &Server{
		store:    opts.Store,
		monitor:  opts.Monitor,
		services: opts.Services,
		port:     opts.Port,
	}
}

// Start runs the server until the context is cancelled, then shuts it
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	logger := log.With().Str("component", "api").Logger()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.setupRoutes(),
		// Long polls hold their connection open; the write timeout
		// must outlast the poll timeout plus its jitter.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Int("port", s.port).Msg("starting API server")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("API server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the router
func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	h := NewHandlers(s.store, s.monitor, s.services, time.Now())

	r.Get("/healthz", h.GetHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/0", func(r chi.Router) {
		// Client report protocol
		r.Put("/start/{host}/{user}", h.PutStart)
		r.Put("/start/{host}/{user}/{crabid}", h.PutStart)
		r.Put("/finish/{host}/{user}", h.PutFinish)
		r.Put("/finish/{host}/{user}/{crabid}", h.PutFinish)
		r.Put("/crontab/{host}/{user}", h.PutCrontab)
		r.Get("/crontab/{host}/{user}", h.GetCrontab)

		// Dashboard queries
		r.Get("/jobs", h.ListJobs)
		r.Get("/jobstatus", h.GetJobStatus)
		r.Get("/jobinfo/{id}", h.GetJobInfo)
		r.Get("/jobevents/{id}", h.GetJobEvents)
		r.Get("/jobfinishes/{id}", h.GetJobFinishes)
		r.Get("/failevents", h.GetFailEvents)
		r.Get("/joboutput/{finishid}/{host}/{user}/{id}", h.GetJobOutput)
		r.Get("/joboutput/{finishid}/{host}/{user}/{id}/{crabid}", h.GetJobOutput)
	})

	return r
}
