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

package managers

// OrchestratedFlow is the root orchestration entity. It names the workflow
// to traverse and the assignments that parameterize its steps.
type OrchestratedFlow struct {
	ID                 string   `json:"id"`
	Version            string   `json:"version"`
	Name               string   `json:"name"`
	WorkflowID         string   `json:"workflowId"`
	AssignmentIDs      []string `json:"assignmentIds"`
	IsOneTimeExecution bool     `json:"isOneTimeExecution"`
}

// Workflow is a versioned, named container of step IDs.
type Workflow struct {
	ID      string   `json:"id"`
	Version string   `json:"version"`
	Name    string   `json:"name"`
	StepIDs []string `json:"stepIds"`
}

// EntryCondition is the raw entry condition attached to a step by its
// manager. Type names the condition variant; Expression is set only for
// expression conditions.
type EntryCondition struct {
	Type       string `json:"type"`
	Expression string `json:"expression,omitempty"`
}

// Step is a unit of work bound to one processor, with ordered successors
// and an entry condition evaluated during traversal.
type Step struct {
	ID             string         `json:"id"`
	Version        string         `json:"version"`
	Name           string         `json:"name"`
	ProcessorID    string         `json:"processorId"`
	NextStepIDs    []string       `json:"nextStepIds"`
	EntryCondition EntryCondition `json:"entryCondition"`
}

// Assignment binds a step to one or more entity IDs. Each entity ID
// resolves to exactly one of Address, Delivery or Plugin.
type Assignment struct {
	ID        string   `json:"id"`
	Version   string   `json:"version"`
	Name      string   `json:"name"`
	StepID    string   `json:"stepId"`
	EntityIDs []string `json:"entityIds"`
}

// Address is an endpoint entity carrying a connection string.
type Address struct {
	ID               string `json:"id"`
	Version          string `json:"version"`
	Name             string `json:"name"`
	Payload          string `json:"payload"`
	ConnectionString string `json:"connectionString"`
}

// Delivery is a delivery configuration entity.
type Delivery struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	Name    string `json:"name"`
	Payload string `json:"payload"`
}

// Plugin is an executable plugin entity. Schema IDs reference definitions
// served by the schema manager; the definitions themselves are inlined
// into plan bindings at build time.
type Plugin struct {
	ID                 string `json:"id"`
	Version            string `json:"version"`
	Name               string `json:"name"`
	Payload            string `json:"payload"`
	AssemblyPath       string `json:"assemblyPath"`
	AssemblyName       string `json:"assemblyName"`
	AssemblyVersion    string `json:"assemblyVersion"`
	TypeName           string `json:"typeName"`
	InputSchemaID      string `json:"inputSchemaId"`
	OutputSchemaID     string `json:"outputSchemaId"`
	IsStateless        bool   `json:"isStateless"`
	ExecutionTimeoutMs int64  `json:"executionTimeoutMs"`
	ValidateInput      bool   `json:"validateInput"`
	ValidateOutput     bool   `json:"validateOutput"`
}
