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

// Package managers is the read-only client for the manager microservices
// that own the orchestration entities (flows, workflows, steps,
// assignments, addresses, deliveries, plugins, schemas). Every call is a
// GET against /api/{Entity}/{id}; 404 is a sentinel, not a failure, for
// the TryGet variants.
package managers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"github.com/flowmesh/flowmesh/internal/log"
	flowmesherrors "github.com/flowmesh/flowmesh/pkg/errors"
)

// Config holds the manager base URLs and client-side rate limiting.
type Config struct {
	OrchestratedFlowURL string
	WorkflowURL         string
	StepURL             string
	AssignmentURL       string
	AddressURL          string
	DeliveryURL         string
	PluginURL           string
	SchemaURL           string

	// RequestsPerSecond rate-limits outbound calls. Zero disables limiting.
	RequestsPerSecond float64
}

// Client fetches orchestration entities from the managers.
type Client struct {
	http    *http.Client
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a Client using the given HTTP client.
func New(httpClient *http.Client, cfg Config, logger *slog.Logger) *Client {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1)
	}
	return &Client{
		http:    httpClient,
		cfg:     cfg,
		limiter: limiter,
		logger:  log.WithComponent(logger, "managers"),
	}
}

// getJSON fetches /api/{entity}/{id} from baseURL and decodes the response
// into out. A 404 becomes a not-found error; other non-2xx statuses become
// downstream errors.
func (c *Client) getJSON(ctx context.Context, baseURL, entity, id string, out any) error {
	if id == "" {
		return &flowmesherrors.InvalidArgumentError{Field: "id", Message: entity + " id must not be empty"}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return flowmesherrors.Wrapf(err, "rate limit wait for %s", entity)
		}
	}

	reqURL := fmt.Sprintf("%s/api/%s/%s", strings.TrimRight(baseURL, "/"), entity, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return flowmesherrors.Wrapf(err, "build %s request", entity)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &flowmesherrors.DownstreamError{Manager: entity, Cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &flowmesherrors.NotFoundError{Resource: entity, ID: id}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &flowmesherrors.DownstreamError{Manager: entity, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &flowmesherrors.DownstreamError{
			Manager: entity,
			Cause:   fmt.Errorf("decode response for %s: %w", id, err),
		}
	}
	return nil
}

// GetFlow fetches an orchestrated flow by ID.
func (c *Client) GetFlow(ctx context.Context, id string) (*OrchestratedFlow, error) {
	var flow OrchestratedFlow
	if err := c.getJSON(ctx, c.cfg.OrchestratedFlowURL, "OrchestratedFlow", id, &flow); err != nil {
		return nil, err
	}
	return &flow, nil
}

// GetWorkflow fetches a workflow by ID.
func (c *Client) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	var wf Workflow
	if err := c.getJSON(ctx, c.cfg.WorkflowURL, "Workflow", id, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// GetStep fetches a step by ID.
func (c *Client) GetStep(ctx context.Context, id string) (*Step, error) {
	var step Step
	if err := c.getJSON(ctx, c.cfg.StepURL, "Step", id, &step); err != nil {
		return nil, err
	}
	return &step, nil
}

// GetAssignment fetches an assignment by ID.
func (c *Client) GetAssignment(ctx context.Context, id string) (*Assignment, error) {
	var a Assignment
	if err := c.getJSON(ctx, c.cfg.AssignmentURL, "Assignment", id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// TryGetAddress fetches an address by ID, returning nil (no error) on 404.
func (c *Client) TryGetAddress(ctx context.Context, id string) (*Address, error) {
	var a Address
	err := c.getJSON(ctx, c.cfg.AddressURL, "Address", id, &a)
	if err != nil {
		if flowmesherrors.KindOf(err) == flowmesherrors.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// TryGetDelivery fetches a delivery by ID, returning nil (no error) on 404.
func (c *Client) TryGetDelivery(ctx context.Context, id string) (*Delivery, error) {
	var d Delivery
	err := c.getJSON(ctx, c.cfg.DeliveryURL, "Delivery", id, &d)
	if err != nil {
		if flowmesherrors.KindOf(err) == flowmesherrors.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// TryGetPlugin fetches a plugin by ID, returning nil (no error) on 404.
func (c *Client) TryGetPlugin(ctx context.Context, id string) (*Plugin, error) {
	var p Plugin
	err := c.getJSON(ctx, c.cfg.PluginURL, "Plugin", id, &p)
	if err != nil {
		if flowmesherrors.KindOf(err) == flowmesherrors.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// GetSchemaDefinition fetches a schema definition by ID. The schema
// manager sometimes serves definitions double-encoded as a JSON string;
// a leading quote together with an escaped inner quote marks that case
// and the definition is unescaped before returning.
func (c *Client) GetSchemaDefinition(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", &flowmesherrors.InvalidArgumentError{Field: "id", Message: "schema id must not be empty"}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", flowmesherrors.Wrapf(err, "rate limit wait for Schema")
		}
	}

	reqURL := fmt.Sprintf("%s/api/Schema/%s", strings.TrimRight(c.cfg.SchemaURL, "/"), url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", flowmesherrors.Wrap(err, "build schema request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &flowmesherrors.DownstreamError{Manager: "Schema", Cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", &flowmesherrors.NotFoundError{Resource: "Schema", ID: id}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", &flowmesherrors.DownstreamError{Manager: "Schema", StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &flowmesherrors.DownstreamError{Manager: "Schema", Cause: err}
	}

	return unescapeDefinition(string(body)), nil
}

// unescapeDefinition undoes one level of JSON string encoding when the
// body looks like a quoted, escaped definition. Anything else passes
// through untouched.
func unescapeDefinition(body string) string {
	if strings.HasPrefix(body, `"`) && strings.Contains(body, `\"`) {
		var unescaped string
		if err := json.Unmarshal([]byte(body), &unescaped); err == nil {
			return unescaped
		}
	}
	return body
}
