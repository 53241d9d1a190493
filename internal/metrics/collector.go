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

package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Collector records orchestration metrics. All methods are safe for
// concurrent use.
type Collector struct {
	meter metric.Meter

	// Counters
	commandsPublished metric.Int64Counter
	publishFailures   metric.Int64Counter
	eventsConsumed    metric.Int64Counter
	firesTotal        metric.Int64Counter
	firesSkipped      metric.Int64Counter
	plansBuilt        metric.Int64Counter
	anomaliesTotal    metric.Int64Counter

	// Histograms
	planBuildDuration metric.Float64Histogram

	// Backing state for observable gauges
	published       atomic.Int64
	consumed        atomic.Int64
	activeSchedules atomic.Int64

	environment string
	instance    string
}

// NewCollector creates a metrics collector using the given meter provider.
// Environment and instance are attached to every measurement so parallel
// deployments can be told apart on one scrape endpoint.
func NewCollector(meterProvider metric.MeterProvider, environment, instance string) (*Collector, error) {
	meter := meterProvider.Meter("flowmesh")

	c := &Collector{
		meter:       meter,
		environment: environment,
		instance:    instance,
	}

	var err error

	c.commandsPublished, err = meter.Int64Counter(
		"flowmesh_commands_published_total",
		metric.WithDescription("Total execute-activity commands published to the bus"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, err
	}

	c.publishFailures, err = meter.Int64Counter(
		"flowmesh_publish_failures_total",
		metric.WithDescription("Total command publish failures"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, err
	}

	c.eventsConsumed, err = meter.Int64Counter(
		"flowmesh_events_consumed_total",
		metric.WithDescription("Total activity-executed events consumed from the bus"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	c.firesTotal, err = meter.Int64Counter(
		"flowmesh_fires_total",
		metric.WithDescription("Total flow fires attempted"),
		metric.WithUnit("{fire}"),
	)
	if err != nil {
		return nil, err
	}

	c.firesSkipped, err = meter.Int64Counter(
		"flowmesh_fires_skipped_total",
		metric.WithDescription("Total flow fires skipped, by reason"),
		metric.WithUnit("{fire}"),
	)
	if err != nil {
		return nil, err
	}

	c.plansBuilt, err = meter.Int64Counter(
		"flowmesh_plans_built_total",
		metric.WithDescription("Total execution plans built"),
		metric.WithUnit("{plan}"),
	)
	if err != nil {
		return nil, err
	}

	c.anomaliesTotal, err = meter.Int64Counter(
		"flowmesh_anomalies_total",
		metric.WithDescription("Total anomalies observed during traversal, by kind"),
		metric.WithUnit("{anomaly}"),
	)
	if err != nil {
		return nil, err
	}

	c.planBuildDuration, err = meter.Float64Histogram(
		"flowmesh_plan_build_duration_seconds",
		metric.WithDescription("Execution plan build duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"flowmesh_command_imbalance",
		metric.WithDescription("Commands published minus events consumed since start"),
		metric.WithUnit("{command}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			observer.Observe(c.published.Load() - c.consumed.Load())
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"flowmesh_active_schedules",
		metric.WithDescription("Number of flows with an active scheduler binding"),
		metric.WithUnit("{schedule}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			observer.Observe(c.activeSchedules.Load())
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Collector) baseAttrs(flowID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("environment", c.environment),
		attribute.String("instance", c.instance),
		attribute.String("flow", flowID),
	}
}

func (c *Collector) commandAttrs(flowID, stepID, executionID, correlationID string) []attribute.KeyValue {
	return append(c.baseAttrs(flowID),
		attribute.String("step", stepID),
		attribute.String("execution", executionID),
		attribute.String("correlation", correlationID),
	)
}

// RecordCommandPublished records one published execute-activity command.
// Entry-point commands carry an empty execution ID.
func (c *Collector) RecordCommandPublished(ctx context.Context, flowID, stepID, executionID, correlationID string) {
	c.published.Add(1)
	attrs := c.commandAttrs(flowID, stepID, executionID, correlationID)
	c.commandsPublished.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPublishFailure records one failed command publish.
func (c *Collector) RecordPublishFailure(ctx context.Context, flowID, stepID, executionID, correlationID string) {
	attrs := c.commandAttrs(flowID, stepID, executionID, correlationID)
	c.publishFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordEventConsumed records one consumed activity-executed event.
func (c *Collector) RecordEventConsumed(ctx context.Context, flowID string, outcome string) {
	c.consumed.Add(1)
	attrs := append(c.baseAttrs(flowID), attribute.String("outcome", outcome))
	c.eventsConsumed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordFire records one attempted flow fire.
func (c *Collector) RecordFire(ctx context.Context, flowID string) {
	c.firesTotal.Add(ctx, 1, metric.WithAttributes(c.baseAttrs(flowID)...))
}

// RecordFireSkipped records a skipped fire with the reason (overlap,
// health, missing_plan).
func (c *Collector) RecordFireSkipped(ctx context.Context, flowID, reason string) {
	attrs := append(c.baseAttrs(flowID), attribute.String("reason", reason))
	c.firesSkipped.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPlanBuilt records a successful plan build and its duration.
func (c *Collector) RecordPlanBuilt(ctx context.Context, flowID string, duration time.Duration) {
	attrs := c.baseAttrs(flowID)
	c.plansBuilt.Add(ctx, 1, metric.WithAttributes(attrs...))
	c.planBuildDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordAnomaly records a traversal anomaly by kind (unknown_condition,
// plan_missing, decode_failure).
func (c *Collector) RecordAnomaly(ctx context.Context, flowID, kind string) {
	attrs := append(c.baseAttrs(flowID), attribute.String("kind", kind))
	c.anomaliesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// ScheduleStarted increments the active schedule gauge.
func (c *Collector) ScheduleStarted() {
	c.activeSchedules.Add(1)
}

// ScheduleStopped decrements the active schedule gauge.
func (c *Collector) ScheduleStopped() {
	c.activeSchedules.Add(-1)
}
