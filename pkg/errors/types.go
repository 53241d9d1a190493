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

// Package errors defines the typed error kinds the orchestrator distinguishes
// and their mapping to HTTP status codes at the API edge.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an error for propagation policy and HTTP mapping.
type Kind string

const (
	// KindInvalidArgument marks malformed input (bad UUID, bad cron expression).
	KindInvalidArgument Kind = "invalid_argument"
	// KindNotFound marks a missing flow, plan, or schedule.
	KindNotFound Kind = "not_found"
	// KindAlreadyRunning marks a duplicate schedule start.
	KindAlreadyRunning Kind = "already_running"
	// KindCacheUnavailable marks a cache operation that failed after its retry budget.
	KindCacheUnavailable Kind = "cache_unavailable"
	// KindBusUnavailable marks a failed bus publish or subscribe.
	KindBusUnavailable Kind = "bus_unavailable"
	// KindDownstreamUnavailable marks a manager HTTP failure other than 404.
	KindDownstreamUnavailable Kind = "downstream_unavailable"
	// KindHealthGateFailed marks a fire skipped because a processor is not healthy.
	// It is non-fatal: the fire is skipped with a warning, never surfaced as 5xx.
	KindHealthGateFailed Kind = "health_gate_failed"
	// KindInternal marks any unexpected error.
	KindInternal Kind = "internal"
)

// kinder is implemented by every typed error in this package.
type kinder interface {
	Kind() Kind
}

// KindOf returns the kind of the first typed error in err's tree,
// or KindInternal when none is found.
func KindOf(err error) Kind {
	var k kinder
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindInternal
}

// HTTPStatus maps an error to the status code the API layer returns for it.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyRunning:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// InvalidArgumentError represents malformed user input.
type InvalidArgumentError struct {
	// Field identifies which input failed validation (e.g., "flowId", "cronExpression")
	Field string

	// Message is the human-readable error description
	Message string
}

// Error implements the error interface.
func (e *InvalidArgumentError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid argument: %s", e.Message)
}

// Kind returns KindInvalidArgument.
func (e *InvalidArgumentError) Kind() Kind { return KindInvalidArgument }

// NotFoundError represents a missing resource.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "orchestrated flow", "execution plan", "schedule")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// Kind returns KindNotFound.
func (e *NotFoundError) Kind() Kind { return KindNotFound }

// AlreadyRunningError is returned when a schedule is started for a flow
// that already has one. Starting twice is an operator error and is never
// silently absorbed.
type AlreadyRunningError struct {
	// FlowID is the orchestrated flow that already has an active schedule
	FlowID string
}

// Error implements the error interface.
func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("scheduler already running for flow %s", e.FlowID)
}

// Kind returns KindAlreadyRunning.
func (e *AlreadyRunningError) Kind() Kind { return KindAlreadyRunning }

// CacheError represents a cache operation that failed after exhausting
// its retry budget.
type CacheError struct {
	// Op is the failed operation ("put", "get", "remove")
	Op string

	// Map is the cache map name
	Map string

	// Key is the cache key
	Key string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s %s/%s: %v", e.Op, e.Map, e.Key, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CacheError) Unwrap() error { return e.Cause }

// Kind returns KindCacheUnavailable.
func (e *CacheError) Kind() Kind { return KindCacheUnavailable }

// BusError represents a failed bus publish or subscribe.
type BusError struct {
	// Stream is the bus stream name
	Stream string

	// Op is the failed operation ("publish", "subscribe", "ack")
	Op string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *BusError) Error() string {
	return fmt.Sprintf("bus %s on %s: %v", e.Op, e.Stream, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *BusError) Unwrap() error { return e.Cause }

// Kind returns KindBusUnavailable.
func (e *BusError) Kind() Kind { return KindBusUnavailable }

// DownstreamError represents a manager HTTP failure. A 404 from a manager is
// a sentinel, not an error, and never produces a DownstreamError.
type DownstreamError struct {
	// Manager names the manager service (e.g., "Step", "Assignment")
	Manager string

	// StatusCode is the HTTP status returned, 0 for transport failures
	StatusCode int

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *DownstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s manager returned HTTP %d", e.Manager, e.StatusCode)
	}
	return fmt.Sprintf("%s manager unreachable: %v", e.Manager, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *DownstreamError) Unwrap() error { return e.Cause }

// Kind returns KindDownstreamUnavailable.
func (e *DownstreamError) Kind() Kind { return KindDownstreamUnavailable }

// HealthGateError is returned when the processor health gate denies a fire.
// Callers skip the fire with a warning instead of failing the flow.
type HealthGateError struct {
	// FlowID is the orchestrated flow whose fire was denied
	FlowID string

	// Unhealthy lists the processor IDs that failed the gate
	Unhealthy []string
}

// Error implements the error interface.
func (e *HealthGateError) Error() string {
	return fmt.Sprintf("processor health validation failed for flow %s: unhealthy processors [%s]",
		e.FlowID, strings.Join(e.Unhealthy, ", "))
}

// Kind returns KindHealthGateFailed.
func (e *HealthGateError) Kind() Kind { return KindHealthGateFailed }
