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

// Package plan defines the execution plan: the cached, self-contained
// snapshot of a flow that the scheduler, dispatcher and traversal engine
// read on every fire. A plan is immutable once stored; changing a flow
// means stopping and restarting it.
package plan

import (
	"encoding/json"

	flowmesherrors "github.com/flowmesh/flowmesh/pkg/errors"
)

// NeverExpires is the ExpiresAt sentinel for plans whose lifetime is
// driven by Stop rather than a TTL.
const NeverExpires = "never"

// Outcome is the reported result of an activity execution.
type Outcome string

const (
	OutcomeSuccess Outcome = "Success"
	OutcomeFailure Outcome = "Failure"
)

// ConditionType names an entry condition variant.
type ConditionType string

const (
	// ConditionPreviousCompleted admits the step once its predecessor
	// finished, regardless of outcome.
	ConditionPreviousCompleted ConditionType = "PreviousCompleted"
	// ConditionPreviousSuccess admits the step only after a successful
	// predecessor.
	ConditionPreviousSuccess ConditionType = "PreviousSuccess"
	// ConditionAlways admits the step unconditionally.
	ConditionAlways ConditionType = "Always"
	// ConditionExpression admits the step when its expression evaluates
	// to true against the execution environment.
	ConditionExpression ConditionType = "Expression"
)

// EntryCondition gates a step during traversal. Expression is set only
// for ConditionExpression.
type EntryCondition struct {
	Type       ConditionType `json:"type"`
	Expression string        `json:"expression,omitempty"`
}

// StepNode is one vertex of the step graph.
type StepNode struct {
	ProcessorID    string         `json:"processorId"`
	NextStepIDs    []string       `json:"nextStepIds,omitempty"`
	EntryCondition EntryCondition `json:"entryCondition"`
}

// BindingType tags an assignment binding variant.
type BindingType string

const (
	BindingAddress  BindingType = "Address"
	BindingDelivery BindingType = "Delivery"
	BindingPlugin   BindingType = "Plugin"
)

// AssignmentBinding is a resolved assignment entity, tagged by Type.
// Address bindings carry a connection string; plugin bindings carry
// assembly coordinates and inlined schema definitions. Dispatch matches
// on the tag where it matters.
type AssignmentBinding struct {
	Type     BindingType `json:"type"`
	EntityID string      `json:"entityId"`
	Name     string      `json:"name"`
	Version  string      `json:"version"`
	Payload  string      `json:"payload,omitempty"`

	// Address fields
	ConnectionString string `json:"connectionString,omitempty"`

	// Plugin fields
	AssemblyPath           string `json:"assemblyPath,omitempty"`
	AssemblyName           string `json:"assemblyName,omitempty"`
	AssemblyVersion        string `json:"assemblyVersion,omitempty"`
	TypeName               string `json:"typeName,omitempty"`
	InputSchemaID          string `json:"inputSchemaId,omitempty"`
	OutputSchemaID         string `json:"outputSchemaId,omitempty"`
	InputSchemaDefinition  string `json:"inputSchemaDefinition,omitempty"`
	OutputSchemaDefinition string `json:"outputSchemaDefinition,omitempty"`
	IsStateless            bool   `json:"isStateless,omitempty"`
	ExecutionTimeoutMs     int64  `json:"executionTimeoutMs,omitempty"`
	ValidateInput          bool   `json:"validateInput,omitempty"`
	ValidateOutput         bool   `json:"validateOutput,omitempty"`
}

// ExecutionPlan is the cached traversal snapshot of one orchestrated
// flow. The cache key is the flow ID.
type ExecutionPlan struct {
	FlowID             string `json:"flowId"`
	FlowVersion        string `json:"flowVersion"`
	FlowName           string `json:"flowName"`
	WorkflowID         string `json:"workflowId"`
	IsOneTimeExecution bool   `json:"isOneTimeExecution"`

	StepGraph    map[string]StepNode            `json:"stepGraph"`
	EntryPoints  []string                       `json:"entryPoints"`
	ProcessorIDs []string                       `json:"processorIds"`
	Assignments  map[string][]AssignmentBinding `json:"assignments,omitempty"`

	ExpiresAt string `json:"expiresAt"`
}

// IsEmpty reports whether the plan has no steps, which happens when the
// flow's workflow carries no step IDs.
func (p *ExecutionPlan) IsEmpty() bool {
	return len(p.StepGraph) == 0
}

// Encode serializes the plan as compact camel-case JSON.
func (p *ExecutionPlan) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, flowmesherrors.Wrap(err, "encode execution plan")
	}
	return data, nil
}

// Decode deserializes a plan previously produced by Encode.
func Decode(data []byte) (*ExecutionPlan, error) {
	var p ExecutionPlan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, flowmesherrors.Wrap(err, "decode execution plan")
	}
	return &p, nil
}
