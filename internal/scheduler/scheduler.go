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

// Package scheduler drives cron-based flow fires. Each flow has at most
// one binding; a binding remembers the correlation ID it was started with
// so every fire of that schedule is traceable to the original request.
// Fires of the same flow never overlap: when the previous fire is still
// running at the next boundary, the new fire is skipped, not queued.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/flowmesh/flowmesh/internal/log"
	"github.com/flowmesh/flowmesh/internal/metrics"
	"github.com/flowmesh/flowmesh/internal/tracing"
	flowmesherrors "github.com/flowmesh/flowmesh/pkg/errors"
)

// Executor runs one fire of a flow. It reports whether the flow is
// one-shot so the scheduler can stop the schedule after a successful
// fire. A skipped fire (missing plan, failed health gate) returns
// (false, nil); only fatal dispatch errors are returned, so the
// scheduler can log them against the binding.
type Executor interface {
	Fire(ctx context.Context, flowID string) (oneShot bool, err error)
}

// binding is the process-local schedule state for one flow.
type binding struct {
	flowID        string
	cron          string
	expr          *CronExpr
	correlationID tracing.CorrelationID
	nextFire      time.Time
	lastFire      time.Time
	fireCount     int64
	errorCount    int64
	inFlight      bool
	createdAt     time.Time
}

// BindingStatus is the externally visible state of one schedule.
type BindingStatus struct {
	FlowID        string    `json:"flowId"`
	Cron          string    `json:"cronExpression"`
	CorrelationID string    `json:"correlationId,omitempty"`
	NextFire      time.Time `json:"nextExecution"`
	LastFire      time.Time `json:"lastExecution,omitempty"`
	FireCount     int64     `json:"fireCount"`
	ErrorCount    int64     `json:"errorCount"`
	StartedAt     time.Time `json:"startedAt"`
}

// Scheduler owns the per-flow schedule bindings and the ticker loop that
// fires them.
type Scheduler struct {
	executor Executor
	tick     time.Duration
	metrics  *metrics.Collector
	logger   *slog.Logger

	mu       sync.RWMutex
	bindings map[string]*binding
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a Scheduler that calls executor at each fire.
func New(executor Executor, tick time.Duration, collector *metrics.Collector, logger *slog.Logger) *Scheduler {
	if tick <= 0 {
		tick = time.Second
	}
	return &Scheduler{
		executor: executor,
		tick:     tick,
		metrics:  collector,
		logger:   log.WithComponent(logger, "scheduler"),
		bindings: make(map[string]*binding),
		now:      time.Now,
	}
}

// StartSchedule creates a schedule binding for the flow. The context's
// correlation ID is stored with the binding and reused for every fire.
// An invalid cron expression is rejected; starting a second schedule for
// the same flow fails rather than silently replacing the first.
func (s *Scheduler) StartSchedule(ctx context.Context, flowID, cronExpression string) (BindingStatus, error) {
	expr, err := ParseCron(cronExpression)
	if err != nil {
		return BindingStatus{}, &flowmesherrors.InvalidArgumentError{
			Field:   "cronExpression",
			Message: err.Error(),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bindings[flowID]; exists {
		return BindingStatus{}, &flowmesherrors.AlreadyRunningError{FlowID: flowID}
	}

	now := s.now()
	b := &binding{
		flowID:        flowID,
		cron:          cronExpression,
		expr:          expr,
		correlationID: tracing.FromContextOrEmpty(ctx),
		nextFire:      expr.Next(now),
		createdAt:     now,
	}
	s.bindings[flowID] = b

	if s.metrics != nil {
		s.metrics.ScheduleStarted()
	}
	s.logger.Info("schedule started",
		slog.String(log.FlowIDKey, flowID),
		slog.String("cron", cronExpression),
		slog.String(log.CorrelationIDKey, b.correlationID.String()),
		slog.Time("next_fire", b.nextFire),
	)
	return statusOf(b), nil
}

// StopSchedule removes the flow's schedule binding. Stopping a flow with
// no schedule is an error: the operator asked to stop something that was
// not running.
func (s *Scheduler) StopSchedule(ctx context.Context, flowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bindings[flowID]; !exists {
		return &flowmesherrors.NotFoundError{Resource: "schedule", ID: flowID}
	}
	delete(s.bindings, flowID)

	if s.metrics != nil {
		s.metrics.ScheduleStopped()
	}
	s.logger.Info("schedule stopped", slog.String(log.FlowIDKey, flowID))
	return nil
}

// NextFireTime returns the next fire time for the flow's schedule.
func (s *Scheduler) NextFireTime(flowID string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bindings[flowID]
	if !ok {
		return time.Time{}, false
	}
	return b.nextFire, true
}

// Status returns the binding status for one flow.
func (s *Scheduler) Status(flowID string) (BindingStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bindings[flowID]
	if !ok {
		return BindingStatus{}, false
	}
	return statusOf(b), true
}

// Bindings returns the status of every active schedule.
func (s *Scheduler) Bindings() []BindingStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]BindingStatus, 0, len(s.bindings))
	for _, b := range s.bindings {
		result = append(result, statusOf(b))
	}
	return result
}

// GetScheduleCount returns the number of active schedule bindings.
func (s *Scheduler) GetScheduleCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bindings)
}

func statusOf(b *binding) BindingStatus {
	return BindingStatus{
		FlowID:        b.flowID,
		Cron:          b.cron,
		CorrelationID: b.correlationID.String(),
		NextFire:      b.nextFire,
		LastFire:      b.lastFire,
		FireCount:     b.fireCount,
		ErrorCount:    b.errorCount,
		StartedAt:     b.createdAt,
	}
}

// Start starts the ticker loop. It returns immediately; fires run in
// their own goroutines.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop stops the ticker loop. It waits for the loop to exit but not for
// in-flight fires; those run to completion on their own.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh
}

// run is the main scheduler loop.
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.tickOnce(ctx, now)
		}
	}
}

// tickOnce fires every due binding. Overlap is decided here, under the
// lock: a binding whose previous fire has not finished skips this
// boundary entirely.
func (s *Scheduler) tickOnce(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.bindings {
		if b.nextFire.IsZero() || now.Before(b.nextFire) {
			continue
		}

		b.nextFire = b.expr.Next(now)

		if b.inFlight {
			if s.metrics != nil {
				s.metrics.RecordFireSkipped(ctx, b.flowID, "overlap")
			}
			s.logger.Warn("skipping fire, previous fire still running",
				slog.String(log.FlowIDKey, b.flowID),
			)
			continue
		}

		b.inFlight = true
		b.lastFire = now
		b.fireCount++
		go s.fire(ctx, b.flowID, b.correlationID)
	}
}

// fire runs one fire of the flow. The binding's stored correlation ID is
// reused; a fresh one is minted only when the binding was started without
// one. One-shot flows stop their own schedule after a successful fire;
// a failure during that self-stop is logged but never re-thrown, because
// the fire itself already succeeded.
func (s *Scheduler) fire(ctx context.Context, flowID string, correlationID tracing.CorrelationID) {
	defer func() {
		s.mu.Lock()
		if b, ok := s.bindings[flowID]; ok {
			b.inFlight = false
		}
		s.mu.Unlock()
	}()

	if correlationID == "" {
		correlationID = tracing.NewCorrelationID()
	}
	fireCtx := tracing.ToContext(ctx, correlationID)

	logger := s.logger.With(
		slog.String(log.FlowIDKey, flowID),
		slog.String(log.CorrelationIDKey, correlationID.String()),
	)
	logger.Debug("firing scheduled flow")

	if s.metrics != nil {
		s.metrics.RecordFire(fireCtx, flowID)
	}

	oneShot, err := s.executor.Fire(fireCtx, flowID)
	if err != nil {
		s.mu.Lock()
		if b, ok := s.bindings[flowID]; ok {
			b.errorCount++
		}
		s.mu.Unlock()
		logger.Error("scheduled fire failed", log.Error(err))
		return
	}

	if oneShot {
		if stopErr := s.StopSchedule(fireCtx, flowID); stopErr != nil {
			logger.Error("failed to stop schedule after one-shot fire", log.Error(stopErr))
		} else {
			logger.Info("one-shot flow fired, schedule stopped")
		}
	}
}
