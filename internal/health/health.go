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

// Package health is the processor health gate. Processors report health
// snapshots into a shared replicated map; before a fire, the gate reads
// the snapshot of every processor a plan references and answers whether
// dispatch may proceed. The gate never retries: a processor that cannot
// keep its snapshot fresh is exactly the kind of processor a fire should
// not reach.
package health

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/flowmesh/flowmesh/internal/log"
)

// Status is a processor's self-reported health.
type Status string

const (
	StatusHealthy   Status = "Healthy"
	StatusDegraded  Status = "Degraded"
	StatusUnhealthy Status = "Unhealthy"
	// StatusUnknown is used in reports for processors with no snapshot.
	StatusUnknown Status = "Unknown"
)

// Snapshot is one processor's cached health record, written by the
// processor itself. The gate interprets only Status and LastReportedAt;
// Details pass through untouched.
type Snapshot struct {
	ProcessorID    string    `json:"processorId"`
	Status         Status    `json:"status"`
	LastReportedAt time.Time `json:"lastReportedAt"`
	Details        string    `json:"details,omitempty"`
}

// ProcessorHealth is one entry of a plan health report.
type ProcessorHealth struct {
	ProcessorID    string    `json:"processorId"`
	Status         Status    `json:"status"`
	LastReportedAt time.Time `json:"lastReportedAt,omitempty"`
	Details        string    `json:"details,omitempty"`
	Stale          bool      `json:"stale,omitempty"`
}

// PlanHealthReport aggregates processor health for one flow's plan.
// Summary is Healthy only when every processor is Healthy and fresh.
type PlanHealthReport struct {
	Summary Status            `json:"summary"`
	Items   []ProcessorHealth `json:"items"`
}

// Map is the replicated-map contract the gate reads snapshots from.
// It is satisfied by *rmap.Map from goa.design/pulse/rmap; defining it
// here keeps the gate unit-testable without Redis.
type Map interface {
	Get(key string) (string, bool)
}

// Gate answers whether a set of processors may receive dispatches.
type Gate struct {
	m         Map
	staleness time.Duration
	logger    *slog.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a Gate over the given health map. Snapshots older than
// staleness count as Unhealthy.
func New(m Map, staleness time.Duration, logger *slog.Logger) *Gate {
	return &Gate{
		m:         m,
		staleness: staleness,
		logger:    log.WithComponent(logger, "health"),
		now:       time.Now,
	}
}

// GetProcessorHealth returns the snapshot for one processor, or nil when
// the processor has never reported. A snapshot that fails to decode is
// treated as absent; the processor wrote garbage and cannot be trusted.
func (g *Gate) GetProcessorHealth(processorID string) *Snapshot {
	raw, ok := g.m.Get(processorID)
	if !ok {
		return nil
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		g.logger.Warn("discarding undecodable health snapshot",
			slog.String(log.ProcessorIDKey, processorID),
			log.Error(err),
		)
		return nil
	}
	if snap.ProcessorID == "" {
		snap.ProcessorID = processorID
	}
	return &snap
}

// effective applies the staleness policy to a snapshot's status.
func (g *Gate) effective(snap *Snapshot) (Status, bool) {
	stale := g.now().Sub(snap.LastReportedAt) > g.staleness
	if stale {
		return StatusUnhealthy, true
	}
	return snap.Status, false
}

// Report aggregates health over a set of processor IDs. The summary is
// Healthy only when every processor reported Healthy within the staleness
// window; a single Degraded processor degrades the summary; anything
// missing, stale, or Unhealthy makes the summary Unhealthy.
func (g *Gate) Report(processorIDs []string) PlanHealthReport {
	report := PlanHealthReport{
		Summary: StatusHealthy,
		Items:   make([]ProcessorHealth, 0, len(processorIDs)),
	}

	for _, pid := range processorIDs {
		snap := g.GetProcessorHealth(pid)
		if snap == nil {
			report.Items = append(report.Items, ProcessorHealth{
				ProcessorID: pid,
				Status:      StatusUnknown,
			})
			report.Summary = StatusUnhealthy
			continue
		}

		status, stale := g.effective(snap)
		report.Items = append(report.Items, ProcessorHealth{
			ProcessorID:    pid,
			Status:         status,
			LastReportedAt: snap.LastReportedAt,
			Details:        snap.Details,
			Stale:          stale,
		})

		switch status {
		case StatusHealthy:
		case StatusDegraded:
			if report.Summary == StatusHealthy {
				report.Summary = StatusDegraded
			}
		default:
			report.Summary = StatusUnhealthy
		}
	}

	return report
}

// Allow reports whether every processor is Healthy and fresh. The second
// return value lists the processors that failed the gate, for the
// caller's warning log.
func (g *Gate) Allow(processorIDs []string) (bool, []string) {
	var unhealthy []string
	for _, pid := range processorIDs {
		snap := g.GetProcessorHealth(pid)
		if snap == nil {
			unhealthy = append(unhealthy, pid)
			continue
		}
		if status, _ := g.effective(snap); status != StatusHealthy {
			unhealthy = append(unhealthy, pid)
		}
	}
	return len(unhealthy) == 0, unhealthy
}
