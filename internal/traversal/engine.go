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

// Package traversal consumes activity-executed events and advances the
// flow graph. Successors are computed purely from the cached plan and the
// event payload; the engine keeps no per-flow state, so redelivered
// events yield the same dispatch decisions and downstream processors can
// deduplicate on {flow, predecessor step, execution}.
package traversal

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/flowmesh/flowmesh/internal/bus"
	"github.com/flowmesh/flowmesh/internal/log"
	"github.com/flowmesh/flowmesh/internal/metrics"
	"github.com/flowmesh/flowmesh/internal/plan"
	"github.com/flowmesh/flowmesh/internal/tracing"
	flowmesherrors "github.com/flowmesh/flowmesh/pkg/errors"
)

// ActivityExecutedEvent is a processor's completion report for one step.
type ActivityExecutedEvent struct {
	FlowID        string       `json:"flowId"`
	WorkflowID    string       `json:"workflowId"`
	CorrelationID string       `json:"correlationId"`
	StepID        string       `json:"stepId"`
	ExecutionID   string       `json:"executionId,omitempty"`
	Outcome       plan.Outcome `json:"outcome"`
}

// PlanStore loads serialized plans by flow ID. Satisfied by
// *cache.Gateway.
type PlanStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// SuccessorDispatcher publishes the command for one successor step.
// Satisfied by *dispatch.Dispatcher.
type SuccessorDispatcher interface {
	DispatchSuccessor(ctx context.Context, p *plan.ExecutionPlan, stepID, executionID string) error
}

// Engine consumes activity-executed events and dispatches successors.
type Engine struct {
	store      PlanStore
	dispatcher SuccessorDispatcher
	consumer   bus.Consumer
	stream     string
	workers    int
	metrics    *metrics.Collector
	logger     *slog.Logger
}

// New creates an Engine consuming the named event stream with the given
// worker count.
func New(store PlanStore, dispatcher SuccessorDispatcher, consumer bus.Consumer, stream string, workers int, collector *metrics.Collector, logger *slog.Logger) *Engine {
	if workers <= 0 {
		workers = 1
	}
	return &Engine{
		store:      store,
		dispatcher: dispatcher,
		consumer:   consumer,
		stream:     stream,
		workers:    workers,
		metrics:    collector,
		logger:     log.WithComponent(logger, "traversal"),
	}
}

// Run subscribes to the event stream and processes events until the
// context is canceled or the subscription closes. Workers share one
// subscription channel; per-flow ordering is not preserved.
func (e *Engine) Run(ctx context.Context) error {
	events, stop, err := e.consumer.Subscribe(ctx, e.stream)
	if err != nil {
		return err
	}
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for evt := range events {
				e.handle(ctx, evt)
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// handle processes one bus event end to end. Every path acknowledges the
// event: an event the engine cannot act on would poison the consumer
// group if left pending, so anomalies are counted and logged instead of
// redelivered forever.
func (e *Engine) handle(ctx context.Context, evt bus.Event) {
	event, ok := e.decode(ctx, evt)
	if ok {
		e.Process(ctx, event)
	}
	if err := evt.Ack(ctx); err != nil {
		e.logger.Error("failed to ack event", slog.String("event_id", evt.ID), log.Error(err))
	}
}

func (e *Engine) decode(ctx context.Context, evt bus.Event) (ActivityExecutedEvent, bool) {
	var event ActivityExecutedEvent
	if err := json.Unmarshal(evt.Payload, &event); err != nil {
		e.logger.Warn("dropping undecodable event",
			slog.String("event_id", evt.ID),
			log.Error(err),
		)
		if e.metrics != nil {
			e.metrics.RecordAnomaly(ctx, "", "decode_failure")
		}
		return ActivityExecutedEvent{}, false
	}
	return event, true
}

// Process evaluates an activity-executed event against the cached plan
// and dispatches every successor whose entry condition passes. Sibling
// successor failures are independent: a publish failure on one branch is
// logged and the remaining branches still fire.
func (e *Engine) Process(ctx context.Context, event ActivityExecutedEvent) {
	if event.CorrelationID != "" {
		ctx = tracing.ToContext(ctx, tracing.CorrelationID(event.CorrelationID))
	}

	logger := e.logger.With(
		slog.String(log.FlowIDKey, event.FlowID),
		slog.String(log.CorrelationIDKey, event.CorrelationID),
		slog.String(log.StepIDKey, event.StepID),
		slog.String(log.ExecutionIDKey, event.ExecutionID),
		slog.String("outcome", string(event.Outcome)),
	)

	if e.metrics != nil {
		e.metrics.RecordEventConsumed(ctx, event.FlowID, string(event.Outcome))
	}

	data, err := e.store.Get(ctx, event.FlowID)
	if err != nil {
		if flowmesherrors.KindOf(err) == flowmesherrors.KindNotFound {
			logger.Warn("Orchestration data not found, dropping event")
			if e.metrics != nil {
				e.metrics.RecordAnomaly(ctx, event.FlowID, "plan_missing")
			}
			return
		}
		logger.Error("failed to load plan", log.Error(err))
		if e.metrics != nil {
			e.metrics.RecordAnomaly(ctx, event.FlowID, "plan_unreadable")
		}
		return
	}

	p, err := plan.Decode(data)
	if err != nil {
		logger.Error("failed to decode plan", log.Error(err))
		if e.metrics != nil {
			e.metrics.RecordAnomaly(ctx, event.FlowID, "plan_unreadable")
		}
		return
	}

	node, ok := p.StepGraph[event.StepID]
	if !ok {
		logger.Warn("predecessor step not in plan, dropping event")
		if e.metrics != nil {
			e.metrics.RecordAnomaly(ctx, event.FlowID, "unknown_step")
		}
		return
	}

	env := plan.ConditionEnv{
		Outcome:     event.Outcome,
		ExecutionID: event.ExecutionID,
	}

	for _, successorID := range node.NextStepIDs {
		successor, ok := p.StepGraph[successorID]
		if !ok {
			logger.Warn("successor not in plan", slog.String("successor", successorID))
			if e.metrics != nil {
				e.metrics.RecordAnomaly(ctx, event.FlowID, "unknown_step")
			}
			continue
		}

		env.StepID = successorID
		pass, err := plan.EvaluateEntryCondition(successor.EntryCondition, env)
		if err != nil {
			logger.Error("entry condition evaluation failed",
				slog.String("successor", successorID),
				log.Error(err),
			)
			if e.metrics != nil {
				e.metrics.RecordAnomaly(ctx, event.FlowID, "unknown_condition")
			}
			continue
		}
		if !pass {
			logger.Debug("entry condition not met", slog.String("successor", successorID))
			continue
		}

		executionID := uuid.New().String()
		if err := e.dispatcher.DispatchSuccessor(ctx, p, successorID, executionID); err != nil {
			// Sibling branches stay independent; this branch alone is lost.
			logger.Error("failed to dispatch successor",
				slog.String("successor", successorID),
				slog.String(log.ExecutionIDKey, executionID),
				log.Error(err),
			)
		}
	}
}
