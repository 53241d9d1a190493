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

// Package orchestrator ties plan building, scheduling, health gating and
// dispatch together behind the operations the control API exposes. It is
// also the scheduler's executor: every scheduled fire of a flow runs
// through Fire.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/flowmesh/flowmesh/internal/health"
	"github.com/flowmesh/flowmesh/internal/log"
	"github.com/flowmesh/flowmesh/internal/metrics"
	"github.com/flowmesh/flowmesh/internal/plan"
	"github.com/flowmesh/flowmesh/internal/scheduler"
	flowmesherrors "github.com/flowmesh/flowmesh/pkg/errors"
)

// Builder resolves a flow into a stored execution plan.
// Satisfied by *plan.Builder.
type Builder interface {
	Build(ctx context.Context, flowID string) (*plan.ExecutionPlan, error)
}

// Gate answers processor health questions. Satisfied by *health.Gate.
type Gate interface {
	GetProcessorHealth(processorID string) *health.Snapshot
	Report(processorIDs []string) health.PlanHealthReport
	Allow(processorIDs []string) (bool, []string)
}

// EntryDispatcher publishes the entry-point commands of a plan.
// Satisfied by *dispatch.Dispatcher.
type EntryDispatcher interface {
	DispatchEntryPoints(ctx context.Context, p *plan.ExecutionPlan) error
}

// Schedules is the slice of the scheduler the service needs.
// Satisfied by *scheduler.Scheduler.
type Schedules interface {
	StartSchedule(ctx context.Context, flowID, cronExpression string) (scheduler.BindingStatus, error)
	StopSchedule(ctx context.Context, flowID string) error
	Status(flowID string) (scheduler.BindingStatus, bool)
}

// FlowStatus is the externally visible state of one flow.
type FlowStatus struct {
	FlowID          string     `json:"flowId"`
	FlowName        string     `json:"flowName,omitempty"`
	IsActive        bool       `json:"isActive"`
	StepCount       int        `json:"stepCount"`
	AssignmentCount int        `json:"assignmentCount"`
	EntryPointCount int        `json:"entryPointCount"`
	ProcessorCount  int        `json:"processorCount"`
	IsScheduled     bool       `json:"isScheduled"`
	CronExpression  string     `json:"cronExpression,omitempty"`
	NextExecution   *time.Time `json:"nextExecution,omitempty"`
}

// Service implements the orchestration operations and the scheduler's
// executor contract.
type Service struct {
	builder    Builder
	store      plan.Store
	gate       Gate
	dispatcher EntryDispatcher
	metrics    *metrics.Collector
	logger     *slog.Logger

	// schedules is set after construction because the scheduler itself
	// is built around this service as its executor.
	schedules Schedules
}

// New creates a Service. Call SetSchedules once the scheduler exists.
func New(builder Builder, store plan.Store, gate Gate, dispatcher EntryDispatcher, collector *metrics.Collector, logger *slog.Logger) *Service {
	return &Service{
		builder:    builder,
		store:      store,
		gate:       gate,
		dispatcher: dispatcher,
		metrics:    collector,
		logger:     log.WithComponent(logger, "orchestrator"),
	}
}

// SetSchedules wires the scheduler in. Must be called before Serve-time
// operations run; the daemon does this during assembly.
func (s *Service) SetSchedules(schedules Schedules) {
	s.schedules = schedules
}

// Start builds the flow's execution plan and stores it in the cache.
// Re-starting an already started flow overwrites the stored plan. A
// build failure leaves no residual cache entry.
func (s *Service) Start(ctx context.Context, flowID string) (*plan.ExecutionPlan, error) {
	p, err := s.builder.Build(ctx, flowID)
	if err != nil {
		if removeErr := s.store.Remove(ctx, flowID); removeErr != nil {
			s.logger.Warn("failed to clean up cache entry after failed start",
				slog.String(log.FlowIDKey, flowID),
				log.Error(removeErr),
			)
		}
		return nil, err
	}
	return p, nil
}

// Stop removes the flow's plan from the cache and stops any active
// schedule. Both halves are best-effort: stopping a flow that has no
// schedule, or whose plan already expired, still succeeds.
func (s *Service) Stop(ctx context.Context, flowID string) error {
	logger := s.logger.With(slog.String(log.FlowIDKey, flowID))

	if s.schedules != nil {
		if err := s.schedules.StopSchedule(ctx, flowID); err != nil {
			if flowmesherrors.KindOf(err) != flowmesherrors.KindNotFound {
				return err
			}
		} else {
			logger.Info("schedule stopped as part of flow stop")
		}
	}

	if err := s.store.Remove(ctx, flowID); err != nil {
		return err
	}
	logger.Info("flow stopped, plan removed")
	return nil
}

// Status reports the flow's state. A flow with no cached plan is simply
// inactive, not an error.
func (s *Service) Status(ctx context.Context, flowID string) (*FlowStatus, error) {
	status := &FlowStatus{FlowID: flowID}

	p, err := s.loadPlan(ctx, flowID)
	switch {
	case err == nil:
		status.IsActive = true
		status.FlowName = p.FlowName
		status.StepCount = len(p.StepGraph)
		status.EntryPointCount = len(p.EntryPoints)
		status.ProcessorCount = len(p.ProcessorIDs)
		for _, bindings := range p.Assignments {
			status.AssignmentCount += len(bindings)
		}
	case flowmesherrors.KindOf(err) == flowmesherrors.KindNotFound:
	default:
		return nil, err
	}

	if s.schedules != nil {
		if binding, ok := s.schedules.Status(flowID); ok {
			status.IsScheduled = true
			status.CronExpression = binding.Cron
			next := binding.NextFire
			status.NextExecution = &next
		}
	}
	return status, nil
}

// StartSchedule creates a cron schedule for the flow.
func (s *Service) StartSchedule(ctx context.Context, flowID, cronExpression string) (scheduler.BindingStatus, error) {
	return s.schedules.StartSchedule(ctx, flowID, cronExpression)
}

// StopSchedule removes the flow's cron schedule.
func (s *Service) StopSchedule(ctx context.Context, flowID string) error {
	return s.schedules.StopSchedule(ctx, flowID)
}

// ProcessorHealth returns one processor's health snapshot, or NotFound
// when the processor has never reported.
func (s *Service) ProcessorHealth(ctx context.Context, processorID string) (*health.Snapshot, error) {
	snap := s.gate.GetProcessorHealth(processorID)
	if snap == nil {
		return nil, &flowmesherrors.NotFoundError{Resource: "processor health", ID: processorID}
	}
	return snap, nil
}

// PlanHealth aggregates health over every processor the flow's plan
// references. The flow must have been started; a flow with no cached
// plan is NotFound.
func (s *Service) PlanHealth(ctx context.Context, flowID string) (health.PlanHealthReport, error) {
	p, err := s.loadPlan(ctx, flowID)
	if err != nil {
		return health.PlanHealthReport{}, err
	}
	return s.gate.Report(p.ProcessorIDs), nil
}

// Fire runs one fire of the flow: load the plan, pass the health gate,
// dispatch the entry points. A missing plan or a failed gate skips the
// fire with a warning and is not an error; only dispatch failures are
// returned so the scheduler records them against the binding. The
// one-shot flag of the plan is reported back so the scheduler can stop
// the schedule after a successful fire.
func (s *Service) Fire(ctx context.Context, flowID string) (bool, error) {
	logger := s.logger.With(slog.String(log.FlowIDKey, flowID))

	p, err := s.loadPlan(ctx, flowID)
	if err != nil {
		if flowmesherrors.KindOf(err) == flowmesherrors.KindNotFound {
			logger.Warn("Orchestration data not found, skipping fire")
			if s.metrics != nil {
				s.metrics.RecordFireSkipped(ctx, flowID, "missing_plan")
			}
			return false, nil
		}
		return false, err
	}

	if p.IsEmpty() {
		logger.Warn("plan has no steps, skipping fire")
		if s.metrics != nil {
			s.metrics.RecordFireSkipped(ctx, flowID, "empty_plan")
		}
		return false, nil
	}

	if ok, unhealthy := s.gate.Allow(p.ProcessorIDs); !ok {
		logger.Warn("Processor health validation failed, skipping fire",
			slog.Any("unhealthy_processors", unhealthy),
		)
		if s.metrics != nil {
			s.metrics.RecordFireSkipped(ctx, flowID, "health")
		}
		return false, nil
	}

	if err := s.dispatcher.DispatchEntryPoints(ctx, p); err != nil {
		return false, err
	}

	logger.Info("flow fired",
		slog.Int("entry_points", len(p.EntryPoints)),
		slog.Bool("one_shot", p.IsOneTimeExecution),
	)
	return p.IsOneTimeExecution, nil
}

func (s *Service) loadPlan(ctx context.Context, flowID string) (*plan.ExecutionPlan, error) {
	data, err := s.store.Get(ctx, flowID)
	if err != nil {
		return nil, err
	}
	return plan.Decode(data)
}
