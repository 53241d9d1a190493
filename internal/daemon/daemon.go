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

// Package daemon assembles and runs the flowmesh orchestrator: the plan
// builder, cron scheduler, health gate, dispatcher, traversal engine and
// the control API, all sharing one Redis connection.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/rmap"

	"github.com/flowmesh/flowmesh/internal/bus"
	"github.com/flowmesh/flowmesh/internal/cache"
	"github.com/flowmesh/flowmesh/internal/config"
	"github.com/flowmesh/flowmesh/internal/daemon/api"
	"github.com/flowmesh/flowmesh/internal/dispatch"
	"github.com/flowmesh/flowmesh/internal/health"
	"github.com/flowmesh/flowmesh/internal/log"
	"github.com/flowmesh/flowmesh/internal/managers"
	"github.com/flowmesh/flowmesh/internal/metrics"
	"github.com/flowmesh/flowmesh/internal/orchestrator"
	"github.com/flowmesh/flowmesh/internal/plan"
	"github.com/flowmesh/flowmesh/internal/scheduler"
	"github.com/flowmesh/flowmesh/internal/traversal"
	"github.com/flowmesh/flowmesh/pkg/httpclient"
)

const shutdownTimeout = 15 * time.Second

// Options contains daemon options set at build time.
type Options struct {
	Version   string
	Commit    string
	BuildDate string
}

// Daemon is the flowmeshd process.
type Daemon struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	rdb        *redis.Client
	gateway    *cache.Gateway
	bus        *bus.Bus
	managers   *managers.Client
	provider   *metrics.Provider
	collector  *metrics.Collector
	builder    *plan.Builder
	dispatcher *dispatch.Dispatcher

	// Assembled in Start because the health map join needs a context.
	service   *orchestrator.Service
	scheduler *scheduler.Scheduler
	engine    *traversal.Engine
	server    *http.Server
	ln        net.Listener

	mu      sync.Mutex
	started bool
	engineE chan error
}

// New creates a daemon instance from configuration. It wires everything
// that needs no running context; the Redis-backed health map and the
// serving loops come up in Start.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	logger := log.WithComponent(log.New(log.FromEnv()), "daemon")

	provider, err := metrics.NewProvider()
	if err != nil {
		return nil, fmt.Errorf("create metrics provider: %w", err)
	}
	collector, err := metrics.NewCollector(provider.MeterProvider(), cfg.Environment, cfg.Instance.Key())
	if err != nil {
		return nil, fmt.Errorf("create metrics collector: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	gateway := cache.New(rdb, cfg.Cache.MapName, logger,
		cache.WithRetry(cfg.Cache.MaxRetries, cfg.Cache.RetryDelay()),
	)

	b := bus.New(rdb, bus.Config{
		ConsumerGroup:  cfg.Bus.ConsumerGroup,
		MaxLen:         cfg.Bus.MaxLen,
		PublishTimeout: cfg.Bus.PublishTimeout(),
	}, logger)

	httpClient, err := httpclient.New(httpclient.Config{
		Timeout:       cfg.HTTP.Timeout(),
		RetryAttempts: cfg.HTTP.RetryAttempts,
		RetryBackoff:  cfg.HTTP.RetryBackoff(),
		MaxBackoff:    cfg.HTTP.Timeout(),
		UserAgent:     "flowmeshd/" + opts.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("create HTTP client: %w", err)
	}

	mgr := managers.New(httpClient, managers.Config{
		OrchestratedFlowURL: cfg.Managers.OrchestratedFlowURL,
		WorkflowURL:         cfg.Managers.WorkflowURL,
		StepURL:             cfg.Managers.StepURL,
		AssignmentURL:       cfg.Managers.AssignmentURL,
		AddressURL:          cfg.Managers.AddressURL,
		DeliveryURL:         cfg.Managers.DeliveryURL,
		PluginURL:           cfg.Managers.PluginURL,
		SchemaURL:           cfg.Managers.SchemaURL,
		RequestsPerSecond:   cfg.Managers.RequestsPerSecond,
	}, logger)

	return &Daemon{
		cfg:        cfg,
		opts:       opts,
		logger:     logger,
		rdb:        rdb,
		gateway:    gateway,
		bus:        b,
		managers:   mgr,
		provider:   provider,
		collector:  collector,
		builder:    plan.NewBuilder(mgr, gateway, collector, logger),
		dispatcher: dispatch.New(b, cfg.Bus.CommandStream, collector, logger),
		engineE:    make(chan error, 1),
	}, nil
}

// Start finishes assembly and serves until the context is canceled or a
// fatal error occurs. It blocks.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	healthMap, err := rmap.Join(ctx, d.cfg.Health.MapName, d.rdb)
	if err != nil {
		return fmt.Errorf("join health map %q: %w", d.cfg.Health.MapName, err)
	}
	gate := health.New(healthMap, d.cfg.Health.Staleness(), d.logger)

	d.service = orchestrator.New(d.builder, d.gateway, gate, d.dispatcher, d.collector, d.logger)
	d.scheduler = scheduler.New(d.service, d.cfg.Scheduler.Tick(), d.collector, d.logger)
	d.service.SetSchedules(d.scheduler)

	d.engine = traversal.New(d.gateway, d.dispatcher, d.bus, d.cfg.Bus.EventStream,
		d.cfg.Bus.Consumers, d.collector, d.logger)

	router := api.NewRouter(api.RouterConfig{
		Version:   d.opts.Version,
		Commit:    d.opts.Commit,
		BuildDate: d.opts.BuildDate,
	}, d.logger)
	router.SetScheduleProvider(d.scheduler)
	router.SetMetricsHandler(d.provider.Handler())
	api.NewOrchestrationHandler(d.service).RegisterRoutes(router.Mux())

	ln, err := net.Listen("tcp", d.cfg.Listen.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.cfg.Listen.Addr, err)
	}
	d.ln = ln
	d.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	d.scheduler.Start(ctx)
	go func() {
		d.engineE <- d.engine.Run(ctx)
	}()

	d.logger.Info("daemon started",
		slog.String("addr", ln.Addr().String()),
		slog.String("version", d.opts.Version),
		slog.Int("event_consumers", d.cfg.Bus.Consumers),
	)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- d.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case err := <-d.engineE:
		if err != nil && err != context.Canceled {
			return fmt.Errorf("traversal engine: %w", err)
		}
		return nil
	}
}

// Shutdown gracefully stops the daemon: the API server first so no new
// operations arrive, then the scheduler, then the shared connections.
// In-flight fires run to completion on their own goroutines.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	d.mu.Unlock()

	if d.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := d.server.Shutdown(shutdownCtx); err != nil {
			d.logger.Error("http server shutdown failed", log.Error(err))
		}
	}

	if d.scheduler != nil {
		d.scheduler.Stop()
	}

	if d.provider != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := d.provider.Shutdown(shutdownCtx); err != nil {
			d.logger.Error("metrics provider shutdown failed", log.Error(err))
		}
	}

	if err := d.rdb.Close(); err != nil {
		d.logger.Error("redis close failed", log.Error(err))
	}

	d.logger.Info("daemon stopped")
	return nil
}
