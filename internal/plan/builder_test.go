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
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/flowmesh/internal/log"
	"github.com/flowmesh/flowmesh/internal/managers"
	flowmesherrors "github.com/flowmesh/flowmesh/pkg/errors"
)

const (
	testFlowID     = "11111111-1111-1111-1111-111111111111"
	testWorkflowID = "22222222-2222-2222-2222-222222222222"
)

// fakeClient serves entities from in-memory maps. Nil maps mean 404.
type fakeClient struct {
	flows       map[string]*managers.OrchestratedFlow
	workflows   map[string]*managers.Workflow
	steps       map[string]*managers.Step
	assignments map[string]*managers.Assignment
	addresses   map[string]*managers.Address
	deliveries  map[string]*managers.Delivery
	plugins     map[string]*managers.Plugin
	schemas     map[string]string

	stepErr   map[string]error
	schemaErr map[string]error
}

func (f *fakeClient) GetFlow(ctx context.Context, id string) (*managers.OrchestratedFlow, error) {
	if flow, ok := f.flows[id]; ok {
		return flow, nil
	}
	return nil, &flowmesherrors.NotFoundError{Resource: "OrchestratedFlow", ID: id}
}

func (f *fakeClient) GetWorkflow(ctx context.Context, id string) (*managers.Workflow, error) {
	if wf, ok := f.workflows[id]; ok {
		return wf, nil
	}
	return nil, &flowmesherrors.NotFoundError{Resource: "Workflow", ID: id}
}

func (f *fakeClient) GetStep(ctx context.Context, id string) (*managers.Step, error) {
	if err, ok := f.stepErr[id]; ok {
		return nil, err
	}
	if step, ok := f.steps[id]; ok {
		return step, nil
	}
	return nil, &flowmesherrors.NotFoundError{Resource: "Step", ID: id}
}

func (f *fakeClient) GetAssignment(ctx context.Context, id string) (*managers.Assignment, error) {
	if a, ok := f.assignments[id]; ok {
		return a, nil
	}
	return nil, &flowmesherrors.NotFoundError{Resource: "Assignment", ID: id}
}

func (f *fakeClient) TryGetAddress(ctx context.Context, id string) (*managers.Address, error) {
	return f.addresses[id], nil
}

func (f *fakeClient) TryGetDelivery(ctx context.Context, id string) (*managers.Delivery, error) {
	return f.deliveries[id], nil
}

func (f *fakeClient) TryGetPlugin(ctx context.Context, id string) (*managers.Plugin, error) {
	return f.plugins[id], nil
}

func (f *fakeClient) GetSchemaDefinition(ctx context.Context, id string) (string, error) {
	if err, ok := f.schemaErr[id]; ok {
		return "", err
	}
	if def, ok := f.schemas[id]; ok {
		return def, nil
	}
	return "", &flowmesherrors.NotFoundError{Resource: "Schema", ID: id}
}

// memStore is an in-memory plan store.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return nil, &flowmesherrors.NotFoundError{Resource: "orchestration-data", ID: key}
}

func (m *memStore) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// graphClient builds the A -> {B, C} fixture with processors P1, P2, P2.
func graphClient() *fakeClient {
	return &fakeClient{
		flows: map[string]*managers.OrchestratedFlow{
			testFlowID: {
				ID:            testFlowID,
				Version:       "2",
				Name:          "ingest",
				WorkflowID:    testWorkflowID,
				AssignmentIDs: []string{"as-1", "as-2"},
			},
		},
		workflows: map[string]*managers.Workflow{
			testWorkflowID: {ID: testWorkflowID, StepIDs: []string{"A", "B", "C"}},
		},
		steps: map[string]*managers.Step{
			"A": {ID: "A", ProcessorID: "P1", NextStepIDs: []string{"B", "C"},
				EntryCondition: managers.EntryCondition{Type: "Always"}},
			"B": {ID: "B", ProcessorID: "P2",
				EntryCondition: managers.EntryCondition{Type: "PreviousSuccess"}},
			"C": {ID: "C", ProcessorID: "P2",
				EntryCondition: managers.EntryCondition{Type: "PreviousCompleted"}},
		},
		assignments: map[string]*managers.Assignment{
			"as-1": {ID: "as-1", StepID: "A", EntityIDs: []string{"addr-1", "plug-1"}},
			"as-2": {ID: "as-2", StepID: "B", EntityIDs: []string{"del-1"}},
		},
		addresses: map[string]*managers.Address{
			"addr-1": {ID: "addr-1", Name: "inbox", ConnectionString: "ftp://inbox"},
		},
		deliveries: map[string]*managers.Delivery{
			"del-1": {ID: "del-1", Name: "outbox"},
		},
		plugins: map[string]*managers.Plugin{
			"plug-1": {ID: "plug-1", Name: "reader", InputSchemaID: "sch-in", OutputSchemaID: "sch-out"},
		},
		schemas: map[string]string{
			"sch-in":  `{"type":"object"}`,
			"sch-out": `{"type":"string"}`,
		},
	}
}

func newTestBuilder(client Client, store Store) *Builder {
	logger := log.New(&log.Config{Level: "error", Format: log.FormatJSON, Output: io.Discard})
	return NewBuilder(client, store, nil, logger)
}

func TestBuild(t *testing.T) {
	store := newMemStore()
	b := newTestBuilder(graphClient(), store)

	p, err := b.Build(context.Background(), testFlowID)
	require.NoError(t, err)

	assert.Equal(t, testFlowID, p.FlowID)
	assert.Equal(t, testWorkflowID, p.WorkflowID)
	assert.Equal(t, []string{"A"}, p.EntryPoints)
	assert.Equal(t, []string{"P1", "P2"}, p.ProcessorIDs)
	assert.Len(t, p.StepGraph, 3)
	assert.Equal(t, []string{"B", "C"}, p.StepGraph["A"].NextStepIDs)
	assert.Equal(t, ConditionPreviousSuccess, p.StepGraph["B"].EntryCondition.Type)
	assert.Equal(t, NeverExpires, p.ExpiresAt)

	// Assignments group per step, entity probe order Address, Delivery, Plugin.
	require.Len(t, p.Assignments["A"], 2)
	assert.Equal(t, BindingAddress, p.Assignments["A"][0].Type)
	assert.Equal(t, "ftp://inbox", p.Assignments["A"][0].ConnectionString)
	assert.Equal(t, BindingPlugin, p.Assignments["A"][1].Type)
	assert.Equal(t, `{"type":"object"}`, p.Assignments["A"][1].InputSchemaDefinition)
	assert.Equal(t, `{"type":"string"}`, p.Assignments["A"][1].OutputSchemaDefinition)
	require.Len(t, p.Assignments["B"], 1)
	assert.Equal(t, BindingDelivery, p.Assignments["B"][0].Type)

	// The stored plan round-trips to the returned one.
	data, err := store.Get(context.Background(), testFlowID)
	require.NoError(t, err)
	stored, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, p.FlowID, stored.FlowID)
	assert.Equal(t, p.EntryPoints, stored.EntryPoints)
	assert.Equal(t, p.ProcessorIDs, stored.ProcessorIDs)
	assert.Equal(t, p.Assignments, stored.Assignments)
	assert.Len(t, stored.StepGraph, len(p.StepGraph))
}

func TestBuildInvariants(t *testing.T) {
	store := newMemStore()
	b := newTestBuilder(graphClient(), store)

	p, err := b.Build(context.Background(), testFlowID)
	require.NoError(t, err)

	// Every successor is a vertex and every processor is in the set.
	processors := map[string]bool{}
	for _, pid := range p.ProcessorIDs {
		processors[pid] = true
	}
	referenced := map[string]bool{}
	for _, node := range p.StepGraph {
		assert.True(t, processors[node.ProcessorID])
		for _, next := range node.NextStepIDs {
			_, ok := p.StepGraph[next]
			assert.True(t, ok, "successor %s must be a vertex", next)
			referenced[next] = true
		}
	}

	// Entry points are exactly the unreferenced vertices.
	for stepID := range p.StepGraph {
		isEntry := false
		for _, e := range p.EntryPoints {
			if e == stepID {
				isEntry = true
			}
		}
		assert.Equal(t, !referenced[stepID], isEntry, "step %s", stepID)
	}
	assert.NotEmpty(t, p.EntryPoints)
}

func TestBuildMissingFlow(t *testing.T) {
	b := newTestBuilder(&fakeClient{}, newMemStore())

	_, err := b.Build(context.Background(), testFlowID)
	require.Error(t, err)
	assert.Equal(t, flowmesherrors.KindNotFound, flowmesherrors.KindOf(err))
}

func TestBuildCyclicWorkflow(t *testing.T) {
	client := graphClient()
	client.workflows[testWorkflowID] = &managers.Workflow{ID: testWorkflowID, StepIDs: []string{"A", "B"}}
	client.steps = map[string]*managers.Step{
		"A": {ID: "A", ProcessorID: "P1", NextStepIDs: []string{"B"},
			EntryCondition: managers.EntryCondition{Type: "Always"}},
		"B": {ID: "B", ProcessorID: "P2", NextStepIDs: []string{"A"},
			EntryCondition: managers.EntryCondition{Type: "PreviousSuccess"}},
	}
	store := newMemStore()
	b := newTestBuilder(client, store)

	_, err := b.Build(context.Background(), testFlowID)
	require.Error(t, err)
	assert.Equal(t, flowmesherrors.KindInvalidArgument, flowmesherrors.KindOf(err))

	_, getErr := store.Get(context.Background(), testFlowID)
	assert.Error(t, getErr, "cyclic plan must not be stored")
}

func TestBuildEmptyWorkflow(t *testing.T) {
	client := graphClient()
	client.workflows[testWorkflowID].StepIDs = nil
	store := newMemStore()
	b := newTestBuilder(client, store)

	p, err := b.Build(context.Background(), testFlowID)
	require.NoError(t, err)
	assert.True(t, p.IsEmpty())
	assert.Empty(t, p.EntryPoints)

	// The empty plan is still stored so Stop and status have something to act on.
	_, err = store.Get(context.Background(), testFlowID)
	assert.NoError(t, err)
}

func TestBuildToleratesStepFailures(t *testing.T) {
	client := graphClient()
	client.stepErr = map[string]error{
		"C": &flowmesherrors.DownstreamError{Manager: "Step", StatusCode: 503},
	}
	b := newTestBuilder(client, newMemStore())

	p, err := b.Build(context.Background(), testFlowID)
	require.NoError(t, err, "a failing step manager must not abort the build")

	assert.Len(t, p.StepGraph, 2)
	// The edge to the unresolved step is dropped to keep the graph closed.
	assert.Equal(t, []string{"B"}, p.StepGraph["A"].NextStepIDs)
}

func TestBuildToleratesSchemaFailures(t *testing.T) {
	client := graphClient()
	client.schemaErr = map[string]error{
		"sch-in": &flowmesherrors.DownstreamError{Manager: "Schema", StatusCode: 500},
	}
	b := newTestBuilder(client, newMemStore())

	p, err := b.Build(context.Background(), testFlowID)
	require.NoError(t, err)

	require.Len(t, p.Assignments["A"], 2)
	plugin := p.Assignments["A"][1]
	assert.Equal(t, BindingPlugin, plugin.Type)
	assert.Empty(t, plugin.InputSchemaDefinition, "failed schema yields an empty definition")
	assert.Equal(t, `{"type":"string"}`, plugin.OutputSchemaDefinition)
}

func TestBuildToleratesAssignmentFailures(t *testing.T) {
	client := graphClient()
	delete(client.assignments, "as-2")
	b := newTestBuilder(client, newMemStore())

	p, err := b.Build(context.Background(), testFlowID)
	require.NoError(t, err)
	assert.Len(t, p.Assignments["A"], 2)
	assert.Empty(t, p.Assignments["B"])
}

func TestBuildUnmatchedEntitySkipped(t *testing.T) {
	client := graphClient()
	client.assignments["as-1"].EntityIDs = []string{"ghost", "addr-1"}
	b := newTestBuilder(client, newMemStore())

	p, err := b.Build(context.Background(), testFlowID)
	require.NoError(t, err)
	require.Len(t, p.Assignments["A"], 1)
	assert.Equal(t, BindingAddress, p.Assignments["A"][0].Type)
}
