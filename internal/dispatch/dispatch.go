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

// Package dispatch builds execute-activity commands from a plan and
// publishes them on the command stream. Publishes within one batch run
// concurrently and the batch completes only when every publish has been
// accepted or failed.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowmesh/flowmesh/internal/bus"
	"github.com/flowmesh/flowmesh/internal/log"
	"github.com/flowmesh/flowmesh/internal/metrics"
	"github.com/flowmesh/flowmesh/internal/plan"
	"github.com/flowmesh/flowmesh/internal/tracing"
	flowmesherrors "github.com/flowmesh/flowmesh/pkg/errors"
)

// CommandEvent is the event name used for execute-activity commands on
// the command stream.
const CommandEvent = "execute-activity"

// ExecuteActivityCommand instructs a processor to run one step. The
// ExecutionID is empty for entry-point commands and set per successor
// firing during traversal; PublishID is fresh for every command.
type ExecuteActivityCommand struct {
	FlowID        string                   `json:"flowId"`
	WorkflowID    string                   `json:"workflowId"`
	CorrelationID string                   `json:"correlationId"`
	StepID        string                   `json:"stepId"`
	ProcessorID   string                   `json:"processorId"`
	PublishID     string                   `json:"publishId"`
	ExecutionID   string                   `json:"executionId,omitempty"`
	EntryPoint    bool                     `json:"entryPoint,omitempty"`
	Bindings      []plan.AssignmentBinding `json:"bindings,omitempty"`
	PublishedAt   time.Time                `json:"publishedAt"`
}

// Dispatcher publishes execute-activity commands on the command stream.
type Dispatcher struct {
	publisher bus.Publisher
	stream    string
	metrics   *metrics.Collector
	logger    *slog.Logger
}

// New creates a Dispatcher publishing on the named stream.
func New(publisher bus.Publisher, stream string, collector *metrics.Collector, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		publisher: publisher,
		stream:    stream,
		metrics:   collector,
		logger:    log.WithComponent(logger, "dispatch"),
	}
}

// DispatchEntryPoints publishes one command per entry point of the plan,
// concurrently, and waits for the whole batch. Any publish failure fails
// the batch: the scheduler treats a partially dispatched fire as a
// failed fire and applies its own retry policy.
func (d *Dispatcher) DispatchEntryPoints(ctx context.Context, p *plan.ExecutionPlan) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, stepID := range p.EntryPoints {
		wg.Add(1)
		go func(stepID string) {
			defer wg.Done()
			if err := d.publish(ctx, p, stepID, "", true); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(stepID)
	}
	wg.Wait()

	if len(errs) > 0 {
		return flowmesherrors.Wrapf(errors.Join(errs...), "dispatch entry points for flow %s", p.FlowID)
	}
	return nil
}

// DispatchSuccessor publishes the command for a single successor step
// with the given execution ID.
func (d *Dispatcher) DispatchSuccessor(ctx context.Context, p *plan.ExecutionPlan, stepID, executionID string) error {
	return d.publish(ctx, p, stepID, executionID, false)
}

func (d *Dispatcher) publish(ctx context.Context, p *plan.ExecutionPlan, stepID, executionID string, entryPoint bool) error {
	node, ok := p.StepGraph[stepID]
	if !ok {
		return &flowmesherrors.NotFoundError{Resource: "step", ID: stepID}
	}

	cmd := ExecuteActivityCommand{
		FlowID:        p.FlowID,
		WorkflowID:    p.WorkflowID,
		CorrelationID: tracing.FromContext(ctx).String(),
		StepID:        stepID,
		ProcessorID:   node.ProcessorID,
		PublishID:     uuid.New().String(),
		ExecutionID:   executionID,
		EntryPoint:    entryPoint,
		Bindings:      p.Assignments[stepID],
		PublishedAt:   time.Now().UTC(),
	}

	logger := log.Hierarchy{
		OrchestratedFlowID: cmd.FlowID,
		WorkflowID:         cmd.WorkflowID,
		CorrelationID:      cmd.CorrelationID,
	}.WithStep(cmd.StepID, cmd.ProcessorID).
		WithPublish(cmd.PublishID).
		WithExecution(cmd.ExecutionID).
		Logger(d.logger)

	payload, err := json.Marshal(cmd)
	if err != nil {
		// Plans are built from JSON; a command that cannot re-encode is a bug.
		logger.Error("failed to encode command", log.Error(err))
		if d.metrics != nil {
			d.metrics.RecordPublishFailure(ctx, cmd.FlowID, cmd.StepID, cmd.ExecutionID, cmd.CorrelationID)
		}
		return flowmesherrors.Wrap(err, "encode execute-activity command")
	}

	if _, err := d.publisher.Publish(ctx, d.stream, CommandEvent, payload); err != nil {
		logger.Error("failed to publish command", log.Error(err))
		if d.metrics != nil {
			d.metrics.RecordPublishFailure(ctx, cmd.FlowID, cmd.StepID, cmd.ExecutionID, cmd.CorrelationID)
		}
		return err
	}

	if d.metrics != nil {
		d.metrics.RecordCommandPublished(ctx, cmd.FlowID, cmd.StepID, cmd.ExecutionID, cmd.CorrelationID)
	}
	logger.Debug("command published")
	return nil
}
