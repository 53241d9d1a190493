// Copyright 2026 The Flowmesh Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api provides the HTTP API for the daemon.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/flowmesh/flowmesh/internal/daemon/httputil"
	"github.com/flowmesh/flowmesh/internal/log"
	"github.com/flowmesh/flowmesh/internal/tracing"
)

// RouterConfig holds configuration for the API router.
type RouterConfig struct {
	Version   string
	Commit    string
	BuildDate string
}

// ScheduleStatusProvider provides schedule counts for health checks.
type ScheduleStatusProvider interface {
	GetScheduleCount() int
}

// MetricsHandler provides a Prometheus metrics endpoint.
type MetricsHandler interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

// Router wraps an http.ServeMux with correlation handling and request
// logging.
type Router struct {
	mux              *http.ServeMux
	config           RouterConfig
	scheduleProvider ScheduleStatusProvider
	logger           *slog.Logger
}

// NewRouter creates a new HTTP router with the base endpoints.
func NewRouter(cfg RouterConfig, logger *slog.Logger) *Router {
	if logger == nil {
		logger = log.New(log.FromEnv())
	}
	r := &Router{
		mux:    http.NewServeMux(),
		config: cfg,
		logger: log.WithComponent(logger, "api"),
	}

	r.mux.HandleFunc("GET /v1/health", r.handleHealth)
	r.mux.HandleFunc("GET /v1/version", r.handleVersion)

	// Root endpoint for basic connectivity check
	r.mux.HandleFunc("GET /", r.handleRoot)

	return r
}

// SetScheduleProvider sets the schedule status provider.
func (r *Router) SetScheduleProvider(provider ScheduleStatusProvider) {
	r.scheduleProvider = provider
}

// SetMetricsHandler registers the Prometheus metrics handler.
func (r *Router) SetMetricsHandler(handler MetricsHandler) {
	if handler != nil {
		r.mux.HandleFunc("GET /metrics", handler.ServeHTTP)
	}
}

// ServeHTTP implements http.Handler. Requests pass through correlation
// extraction first, then request logging, then the mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		correlationID := tracing.FromContextOrEmpty(req.Context())
		logger := log.WithCorrelationID(r.logger, string(correlationID))

		defer func() {
			logger.Info("request completed",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int64(log.DurationKey, time.Since(start).Milliseconds()),
			)
		}()

		r.mux.ServeHTTP(w, req)
	})

	handler = tracing.CorrelationMiddleware(handler)
	handler.ServeHTTP(w, req)
}

// Mux returns the underlying ServeMux for registering additional routes.
func (r *Router) Mux() *http.ServeMux {
	return r.mux
}

// handleRoot handles GET / for basic connectivity.
func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"name":    "flowmeshd",
		"version": r.config.Version,
	})
}

// handleHealth reports daemon liveness and the active schedule count.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	body := map[string]any{
		"status": "ok",
	}
	if r.scheduleProvider != nil {
		body["activeSchedules"] = r.scheduleProvider.GetScheduleCount()
	}
	httputil.WriteJSON(w, http.StatusOK, body)
}

// handleVersion reports build information.
func (r *Router) handleVersion(w http.ResponseWriter, req *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"version":   r.config.Version,
		"commit":    r.config.Commit,
		"buildDate": r.config.BuildDate,
	})
}
