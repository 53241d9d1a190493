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

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/flowmesh/flowmesh/internal/daemon/httputil"
	"github.com/flowmesh/flowmesh/internal/health"
	"github.com/flowmesh/flowmesh/internal/orchestrator"
	"github.com/flowmesh/flowmesh/internal/plan"
	"github.com/flowmesh/flowmesh/internal/scheduler"
	"github.com/flowmesh/flowmesh/internal/tracing"
	flowmesherrors "github.com/flowmesh/flowmesh/pkg/errors"
)

// OrchestrationService is the slice of the orchestrator the handler
// exposes over HTTP. Satisfied by *orchestrator.Service.
type OrchestrationService interface {
	Start(ctx context.Context, flowID string) (*plan.ExecutionPlan, error)
	Stop(ctx context.Context, flowID string) error
	Status(ctx context.Context, flowID string) (*orchestrator.FlowStatus, error)
	StartSchedule(ctx context.Context, flowID, cronExpression string) (scheduler.BindingStatus, error)
	StopSchedule(ctx context.Context, flowID string) error
	ProcessorHealth(ctx context.Context, processorID string) (*health.Snapshot, error)
	PlanHealth(ctx context.Context, flowID string) (health.PlanHealthReport, error)
}

// OrchestrationHandler handles the orchestration control API.
type OrchestrationHandler struct {
	service OrchestrationService
}

// NewOrchestrationHandler creates an orchestration handler.
func NewOrchestrationHandler(service OrchestrationService) *OrchestrationHandler {
	return &OrchestrationHandler{service: service}
}

// RegisterRoutes registers the orchestration routes on the router.
func (h *OrchestrationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /orchestration/start/{flowId}", h.handleStart)
	mux.HandleFunc("POST /orchestration/stop/{flowId}", h.handleStop)
	mux.HandleFunc("GET /orchestration/status/{flowId}", h.handleStatus)
	mux.HandleFunc("GET /orchestration/processor-health/{processorId}", h.handleProcessorHealth)
	mux.HandleFunc("GET /orchestration/processors-health/{flowId}", h.handleProcessorsHealth)
	mux.HandleFunc("POST /orchestration/scheduler/start/{flowId}", h.handleSchedulerStart)
	mux.HandleFunc("POST /orchestration/scheduler/stop/{flowId}", h.handleSchedulerStop)
}

// flowID extracts and validates the flowId path parameter. A malformed
// ID is rejected here so no operation ever sees one.
func flowID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("flowId")
	if !tracing.ValidateUUID(id) {
		httputil.WriteErrorKind(w, &flowmesherrors.InvalidArgumentError{
			Field:   "flowId",
			Message: "must be a valid UUID",
		})
		return "", false
	}
	return id, true
}

// handleStart builds and stores the flow's execution plan.
func (h *OrchestrationHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	id, ok := flowID(w, r)
	if !ok {
		return
	}

	if _, err := h.service.Start(r.Context(), id); err != nil {
		httputil.WriteErrorKind(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"message":   "orchestration started",
		"flowId":    id,
		"startedAt": time.Now().UTC(),
	})
}

// handleStop removes the plan and stops any schedule.
func (h *OrchestrationHandler) handleStop(w http.ResponseWriter, r *http.Request) {
	id, ok := flowID(w, r)
	if !ok {
		return
	}

	if err := h.service.Stop(r.Context(), id); err != nil {
		httputil.WriteErrorKind(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"message":   "orchestration stopped",
		"flowId":    id,
		"stoppedAt": time.Now().UTC(),
	})
}

// handleStatus reports the flow's orchestration state.
func (h *OrchestrationHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := flowID(w, r)
	if !ok {
		return
	}

	status, err := h.service.Status(r.Context(), id)
	if err != nil {
		httputil.WriteErrorKind(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

// handleProcessorHealth returns a single processor's health snapshot.
func (h *OrchestrationHandler) handleProcessorHealth(w http.ResponseWriter, r *http.Request) {
	processorID := r.PathValue("processorId")
	if !tracing.ValidateUUID(processorID) {
		httputil.WriteErrorKind(w, &flowmesherrors.InvalidArgumentError{
			Field:   "processorId",
			Message: "must be a canonical UUID",
		})
		return
	}

	snap, err := h.service.ProcessorHealth(r.Context(), processorID)
	if err != nil {
		httputil.WriteErrorKind(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snap)
}

// handleProcessorsHealth aggregates health over the flow's plan.
func (h *OrchestrationHandler) handleProcessorsHealth(w http.ResponseWriter, r *http.Request) {
	id, ok := flowID(w, r)
	if !ok {
		return
	}

	report, err := h.service.PlanHealth(r.Context(), id)
	if err != nil {
		httputil.WriteErrorKind(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

type schedulerStartRequest struct {
	CronExpression string `json:"cronExpression"`
}

// handleSchedulerStart creates a cron schedule for the flow.
func (h *OrchestrationHandler) handleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	id, ok := flowID(w, r)
	if !ok {
		return
	}

	var req schedulerStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteErrorKind(w, &flowmesherrors.InvalidArgumentError{
			Field:   "body",
			Message: "malformed JSON body",
		})
		return
	}
	if req.CronExpression == "" {
		httputil.WriteErrorKind(w, &flowmesherrors.InvalidArgumentError{
			Field:   "cronExpression",
			Message: "must not be empty",
		})
		return
	}

	binding, err := h.service.StartSchedule(r.Context(), id, req.CronExpression)
	if err != nil {
		httputil.WriteErrorKind(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"cronExpression": binding.Cron,
		"nextExecution":  binding.NextFire,
		"startedAt":      binding.StartedAt,
	})
}

// handleSchedulerStop removes the flow's cron schedule.
func (h *OrchestrationHandler) handleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	id, ok := flowID(w, r)
	if !ok {
		return
	}

	if err := h.service.StopSchedule(r.Context(), id); err != nil {
		httputil.WriteErrorKind(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"flowId":    id,
		"stoppedAt": time.Now().UTC(),
	})
}
