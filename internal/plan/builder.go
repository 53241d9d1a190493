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

package plan

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/flowmesh/flowmesh/internal/log"
	"github.com/flowmesh/flowmesh/internal/managers"
	"github.com/flowmesh/flowmesh/internal/metrics"
	flowmesherrors "github.com/flowmesh/flowmesh/pkg/errors"
)

// Client is the slice of the manager client the builder needs.
// Satisfied by *managers.Client.
type Client interface {
	GetFlow(ctx context.Context, id string) (*managers.OrchestratedFlow, error)
	GetWorkflow(ctx context.Context, id string) (*managers.Workflow, error)
	GetStep(ctx context.Context, id string) (*managers.Step, error)
	GetAssignment(ctx context.Context, id string) (*managers.Assignment, error)
	TryGetAddress(ctx context.Context, id string) (*managers.Address, error)
	TryGetDelivery(ctx context.Context, id string) (*managers.Delivery, error)
	TryGetPlugin(ctx context.Context, id string) (*managers.Plugin, error)
	GetSchemaDefinition(ctx context.Context, id string) (string, error)
}

// Store persists serialized plans. Satisfied by *cache.Gateway.
type Store interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Remove(ctx context.Context, key string) error
}

// Builder assembles execution plans from manager entities and stores
// them in the shared cache. Steps and assignments are fetched
// concurrently; individual retrieval failures are logged and tolerated,
// because one unreachable step manager must not make every flow
// unstartable. Only a missing flow or a cache failure aborts the build.
type Builder struct {
	client  Client
	store   Store
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewBuilder creates a Builder over the given manager client and plan store.
func NewBuilder(client Client, store Store, collector *metrics.Collector, logger *slog.Logger) *Builder {
	return &Builder{
		client:  client,
		store:   store,
		metrics: collector,
		logger:  log.WithComponent(logger, "plan"),
	}
}

// Build resolves the flow into an ExecutionPlan and stores it in the
// cache under the flow ID. The returned plan is the stored one.
func (b *Builder) Build(ctx context.Context, flowID string) (*ExecutionPlan, error) {
	start := time.Now()
	logger := b.logger.With(slog.String(log.FlowIDKey, flowID))

	flow, err := b.client.GetFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}

	workflow, err := b.client.GetWorkflow(ctx, flow.WorkflowID)
	if err != nil {
		return nil, err
	}
	logger = logger.With(slog.String(log.WorkflowIDKey, workflow.ID))

	p := &ExecutionPlan{
		FlowID:             flow.ID,
		FlowVersion:        flow.Version,
		FlowName:           flow.Name,
		WorkflowID:         workflow.ID,
		IsOneTimeExecution: flow.IsOneTimeExecution,
		StepGraph:          make(map[string]StepNode),
		EntryPoints:        []string{},
		ProcessorIDs:       []string{},
		ExpiresAt:          NeverExpires,
	}

	if len(workflow.StepIDs) == 0 {
		logger.Warn("workflow has no steps, storing empty plan")
		if err := b.put(ctx, p); err != nil {
			return nil, err
		}
		return p, nil
	}

	steps := b.fetchSteps(ctx, logger, workflow.StepIDs)
	p.Assignments = b.resolveAssignments(ctx, logger, flow.AssignmentIDs)

	// Step IDs that failed to resolve cannot appear anywhere in the
	// graph, or traversal would chase vertices that do not exist.
	referenced := make(map[string]bool)
	for _, stepID := range workflow.StepIDs {
		step, ok := steps[stepID]
		if !ok {
			continue
		}
		next := make([]string, 0, len(step.NextStepIDs))
		for _, nextID := range step.NextStepIDs {
			if _, ok := steps[nextID]; !ok {
				logger.Warn("dropping successor edge to unresolved step",
					slog.String(log.StepIDKey, step.ID),
					slog.String("successor", nextID),
				)
				continue
			}
			next = append(next, nextID)
			referenced[nextID] = true
		}
		p.StepGraph[step.ID] = StepNode{
			ProcessorID: step.ProcessorID,
			NextStepIDs: next,
			EntryCondition: EntryCondition{
				Type:       ConditionType(step.EntryCondition.Type),
				Expression: step.EntryCondition.Expression,
			},
		}
	}

	// Entry points and processor IDs follow the workflow's step-ID
	// insertion order so repeated builds of the same flow are identical.
	for _, stepID := range workflow.StepIDs {
		node, ok := p.StepGraph[stepID]
		if !ok {
			continue
		}
		if !referenced[stepID] && !slices.Contains(p.EntryPoints, stepID) {
			p.EntryPoints = append(p.EntryPoints, stepID)
		}
		if !slices.Contains(p.ProcessorIDs, node.ProcessorID) {
			p.ProcessorIDs = append(p.ProcessorIDs, node.ProcessorID)
		}
	}

	// A non-empty graph with no entry points is unfireable; every step
	// references another, so the workflow is cyclic.
	if len(p.StepGraph) > 0 && len(p.EntryPoints) == 0 {
		return nil, &flowmesherrors.InvalidArgumentError{
			Field:   "workflow",
			Message: "step graph has no entry points, workflow is cyclic",
		}
	}

	if err := b.put(ctx, p); err != nil {
		return nil, err
	}

	if b.metrics != nil {
		b.metrics.RecordPlanBuilt(ctx, flowID, time.Since(start))
	}
	logger.Info("execution plan stored",
		slog.Int("steps", len(p.StepGraph)),
		slog.Int("entry_points", len(p.EntryPoints)),
		slog.Int("processors", len(p.ProcessorIDs)),
	)
	return p, nil
}

func (b *Builder) put(ctx context.Context, p *ExecutionPlan) error {
	data, err := p.Encode()
	if err != nil {
		return err
	}
	return b.store.Put(ctx, p.FlowID, data)
}

// fetchSteps retrieves all steps concurrently. A step that cannot be
// fetched is skipped with a warning; duplicates in the input collapse.
func (b *Builder) fetchSteps(ctx context.Context, logger *slog.Logger, stepIDs []string) map[string]*managers.Step {
	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		steps = make(map[string]*managers.Step, len(stepIDs))
	)

	for _, stepID := range stepIDs {
		wg.Add(1)
		go func(stepID string) {
			defer wg.Done()
			step, err := b.client.GetStep(ctx, stepID)
			if err != nil {
				logger.Warn("failed to fetch step, continuing without it",
					slog.String(log.StepIDKey, stepID),
					log.Error(err),
				)
				return
			}
			mu.Lock()
			steps[step.ID] = step
			mu.Unlock()
		}(stepID)
	}
	wg.Wait()
	return steps
}

// resolveAssignments retrieves all assignments concurrently and resolves
// each entity ID into a binding, grouped per step. Failures are
// per-assignment and per-entity; the rest of the plan proceeds.
func (b *Builder) resolveAssignments(ctx context.Context, logger *slog.Logger, assignmentIDs []string) map[string][]AssignmentBinding {
	type resolved struct {
		stepID   string
		order    int
		bindings []AssignmentBinding
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []resolved
	)

	for i, assignmentID := range assignmentIDs {
		wg.Add(1)
		go func(order int, assignmentID string) {
			defer wg.Done()
			assignment, err := b.client.GetAssignment(ctx, assignmentID)
			if err != nil {
				logger.Warn("failed to fetch assignment, continuing without it",
					slog.String("assignment_id", assignmentID),
					log.Error(err),
				)
				return
			}

			bindings := make([]AssignmentBinding, 0, len(assignment.EntityIDs))
			for _, entityID := range assignment.EntityIDs {
				binding, err := b.resolveEntity(ctx, logger, entityID)
				if err != nil {
					logger.Warn("failed to resolve assignment entity",
						slog.String("assignment_id", assignmentID),
						slog.String("entity_id", entityID),
						log.Error(err),
					)
					continue
				}
				if binding == nil {
					logger.Warn("assignment entity matched no address, delivery or plugin",
						slog.String("assignment_id", assignmentID),
						slog.String("entity_id", entityID),
					)
					continue
				}
				bindings = append(bindings, *binding)
			}

			mu.Lock()
			results = append(results, resolved{stepID: assignment.StepID, order: order, bindings: bindings})
			mu.Unlock()
		}(i, assignmentID)
	}
	wg.Wait()

	if len(results) == 0 {
		return nil
	}

	// Restore the flow's assignment order within each step; concurrent
	// completion order is arbitrary.
	sort.Slice(results, func(i, j int) bool { return results[i].order < results[j].order })

	grouped := make(map[string][]AssignmentBinding)
	for _, r := range results {
		grouped[r.stepID] = append(grouped[r.stepID], r.bindings...)
	}
	return grouped
}

// resolveEntity probes Address, Delivery, Plugin in that order; the
// first hit produces the binding. A nil binding with nil error means
// the ID matched nothing.
func (b *Builder) resolveEntity(ctx context.Context, logger *slog.Logger, entityID string) (*AssignmentBinding, error) {
	address, err := b.client.TryGetAddress(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if address != nil {
		return &AssignmentBinding{
			Type:             BindingAddress,
			EntityID:         address.ID,
			Name:             address.Name,
			Version:          address.Version,
			Payload:          address.Payload,
			ConnectionString: address.ConnectionString,
		}, nil
	}

	delivery, err := b.client.TryGetDelivery(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if delivery != nil {
		return &AssignmentBinding{
			Type:     BindingDelivery,
			EntityID: delivery.ID,
			Name:     delivery.Name,
			Version:  delivery.Version,
			Payload:  delivery.Payload,
		}, nil
	}

	plugin, err := b.client.TryGetPlugin(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if plugin != nil {
		binding := &AssignmentBinding{
			Type:               BindingPlugin,
			EntityID:           plugin.ID,
			Name:               plugin.Name,
			Version:            plugin.Version,
			Payload:            plugin.Payload,
			AssemblyPath:       plugin.AssemblyPath,
			AssemblyName:       plugin.AssemblyName,
			AssemblyVersion:    plugin.AssemblyVersion,
			TypeName:           plugin.TypeName,
			InputSchemaID:      plugin.InputSchemaID,
			OutputSchemaID:     plugin.OutputSchemaID,
			IsStateless:        plugin.IsStateless,
			ExecutionTimeoutMs: plugin.ExecutionTimeoutMs,
			ValidateInput:      plugin.ValidateInput,
			ValidateOutput:     plugin.ValidateOutput,
		}
		binding.InputSchemaDefinition = b.fetchSchema(ctx, logger, plugin.InputSchemaID)
		binding.OutputSchemaDefinition = b.fetchSchema(ctx, logger, plugin.OutputSchemaID)
		return binding, nil
	}

	return nil, nil
}

// fetchSchema retrieves a schema definition best-effort. A retrieval
// failure or a malformed definition yields an empty definition and a
// warning; plugin bindings must survive a flaky schema manager.
func (b *Builder) fetchSchema(ctx context.Context, logger *slog.Logger, schemaID string) string {
	if schemaID == "" {
		return ""
	}
	definition, err := b.client.GetSchemaDefinition(ctx, schemaID)
	if err != nil {
		logger.Warn("failed to fetch schema definition, binding will carry an empty one",
			slog.String("schema_id", schemaID),
			log.Error(err),
		)
		return ""
	}
	if err := checkSchemaWellFormed(definition); err != nil {
		logger.Warn("schema definition does not compile",
			slog.String("schema_id", schemaID),
			log.Error(err),
		)
	}
	return definition
}

// checkSchemaWellFormed compiles the definition to catch broken schemas
// at plan-build time instead of at validation time on a processor.
func checkSchemaWellFormed(definition string) error {
	if definition == "" {
		return nil
	}
	var doc any
	if err := json.Unmarshal([]byte(definition), &doc); err != nil {
		return flowmesherrors.Wrap(err, "unmarshal schema definition")
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return flowmesherrors.Wrap(err, "add schema resource")
	}
	if _, err := c.Compile("schema.json"); err != nil {
		return flowmesherrors.Wrap(err, "compile schema")
	}
	return nil
}
