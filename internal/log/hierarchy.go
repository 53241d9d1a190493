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

package log

import "log/slog"

// Hierarchy is the hierarchical logging context threaded through every
// orchestration operation. Fields are optional; zero values are omitted
// from log output. The struct is passed by value: derived contexts never
// mutate their parent.
type Hierarchy struct {
	OrchestratedFlowID string
	WorkflowID         string
	CorrelationID      string
	StepID             string
	ProcessorID        string
	PublishID          string
	ExecutionID        string
}

// WithStep returns a copy of the hierarchy scoped to a step and its processor.
func (h Hierarchy) WithStep(stepID, processorID string) Hierarchy {
	h.StepID = stepID
	h.ProcessorID = processorID
	return h
}

// WithPublish returns a copy of the hierarchy carrying a publish identifier.
func (h Hierarchy) WithPublish(publishID string) Hierarchy {
	h.PublishID = publishID
	return h
}

// WithExecution returns a copy of the hierarchy carrying an execution identifier.
func (h Hierarchy) WithExecution(executionID string) Hierarchy {
	h.ExecutionID = executionID
	return h
}

// Attrs returns the non-empty fields as slog attributes, in hierarchy order.
func (h Hierarchy) Attrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, 7)
	if h.OrchestratedFlowID != "" {
		attrs = append(attrs, slog.String(FlowIDKey, h.OrchestratedFlowID))
	}
	if h.WorkflowID != "" {
		attrs = append(attrs, slog.String(WorkflowIDKey, h.WorkflowID))
	}
	if h.CorrelationID != "" {
		attrs = append(attrs, slog.String(CorrelationIDKey, h.CorrelationID))
	}
	if h.StepID != "" {
		attrs = append(attrs, slog.String(StepIDKey, h.StepID))
	}
	if h.ProcessorID != "" {
		attrs = append(attrs, slog.String(ProcessorIDKey, h.ProcessorID))
	}
	if h.PublishID != "" {
		attrs = append(attrs, slog.String(PublishIDKey, h.PublishID))
	}
	if h.ExecutionID != "" {
		attrs = append(attrs, slog.String(ExecutionIDKey, h.ExecutionID))
	}
	return attrs
}

// Logger returns the given logger extended with the hierarchy's fields.
func (h Hierarchy) Logger(logger *slog.Logger) *slog.Logger {
	attrs := h.Attrs()
	if len(attrs) == 0 {
		return logger
	}
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return logger.With(args...)
}
