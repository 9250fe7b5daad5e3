// SPDX-License-Identifier: MIT

// Package api exposes the HTTP surface: published artifacts, health,
// metrics, status and the operator refresh trigger.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dvrsn/listpub/internal/config"
	"github.com/dvrsn/listpub/internal/jobs"
	"github.com/dvrsn/listpub/internal/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the HTTP API server.
type Server struct {
	mu         sync.RWMutex
	refreshing atomic.Bool // serializes refresh runs
	cfg        config.Config
	deps       jobs.Deps
	status     *jobs.Status
	version    string

	// refreshFn allows tests to stub the refresh run; defaults to jobs.Refresh.
	refreshFn func(context.Context, jobs.Deps) *jobs.Status
}

// New creates a server publishing the artifacts produced by deps.
func New(cfg config.Config, deps jobs.Deps, version string) *Server {
	return &Server{
		cfg:       cfg,
		deps:      deps,
		version:   version,
		refreshFn: jobs.Refresh,
	}
}

// Routes builds the router with the full middleware stack.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(Recoverer)
	r.Use(RequestID)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Group(func(r chi.Router) {
			r.Use(httprate.Limit(
				10, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
			))
			r.Use(s.authMiddleware)
			r.Post("/refresh", s.handleRefresh)
		})
	})

	r.Handle("/*", s.secureFileServer())
	return r
}

// RunRefresh executes one refresh run if none is in flight. The boolean
// reports whether the run happened. The daemon ticker and the HTTP trigger
// share this entry so refreshes are always serialized.
func (s *Server) RunRefresh(ctx context.Context) (*jobs.Status, bool) {
	if !s.refreshing.CompareAndSwap(false, true) {
		return nil, false
	}
	defer s.refreshing.Store(false)

	s.mu.RLock()
	deps := s.deps
	s.mu.RUnlock()

	st := s.refreshFn(ctx, deps)

	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
	return st, true
}

// UpdateConfig swaps the configuration used by subsequent refreshes.
func (s *Server) UpdateConfig(cfg config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.deps.Config = cfg
	s.mu.Unlock()
}

// SetDeps replaces the dependency set used by subsequent refreshes, e.g.
// after a config reload rebuilt the upstream clients.
func (s *Server) SetDeps(deps jobs.Deps) {
	s.mu.Lock()
	s.deps = deps
	s.mu.Unlock()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	st := s.status
	s.mu.RUnlock()

	if st == nil {
		writeJSON(w, http.StatusOK, map[string]string{"state": "pending"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "api")

	// Run on a background context: the job must not die with the client
	// connection, and artifact publication should never be half-cancelled.
	jobCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	jobCtx = log.ContextWithRequestID(jobCtx, log.RequestIDFromContext(r.Context()))

	st, ran := s.RunRefresh(jobCtx)
	if !ran {
		logger.Warn().
			Str("event", "refresh.conflict").
			Msg("refresh already in progress")
		w.Header().Set("Retry-After", "30")
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "conflict",
			"detail": "a refresh is already in progress",
		})
		return
	}

	code := http.StatusOK
	if st.Failed() {
		code = http.StatusMultiStatus
	}
	writeJSON(w, code, st)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
