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

package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{
			name: "invalid argument",
			err:  &InvalidArgumentError{Field: "flowId", Message: "not a UUID"},
			want: KindInvalidArgument,
		},
		{
			name: "not found",
			err:  &NotFoundError{Resource: "orchestrated flow", ID: "abc"},
			want: KindNotFound,
		},
		{
			name: "already running",
			err:  &AlreadyRunningError{FlowID: "abc"},
			want: KindAlreadyRunning,
		},
		{
			name: "cache",
			err:  &CacheError{Op: "put", Map: "orchestration-data", Key: "abc", Cause: New("boom")},
			want: KindCacheUnavailable,
		},
		{
			name: "bus",
			err:  &BusError{Stream: "flowmesh.execute", Op: "publish", Cause: New("boom")},
			want: KindBusUnavailable,
		},
		{
			name: "downstream",
			err:  &DownstreamError{Manager: "Step", StatusCode: 503},
			want: KindDownstreamUnavailable,
		},
		{
			name: "health gate",
			err:  &HealthGateError{FlowID: "abc", Unhealthy: []string{"p1"}},
			want: KindHealthGateFailed,
		},
		{
			name: "plain error falls back to internal",
			err:  New("something broke"),
			want: KindInternal,
		},
		{
			name: "wrapped typed error keeps its kind",
			err:  fmt.Errorf("building plan: %w", &NotFoundError{Resource: "orchestrated flow", ID: "abc"}),
			want: KindNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&InvalidArgumentError{Field: "flowId", Message: "bad"}, http.StatusBadRequest},
		{&NotFoundError{Resource: "schedule", ID: "abc"}, http.StatusNotFound},
		{&AlreadyRunningError{FlowID: "abc"}, http.StatusConflict},
		{&CacheError{Op: "get", Map: "m", Key: "k", Cause: New("down")}, http.StatusInternalServerError},
		{New("unexpected"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestCacheErrorUnwrap(t *testing.T) {
	cause := New("connection refused")
	err := &CacheError{Op: "put", Map: "orchestration-data", Key: "abc", Cause: cause}
	if !Is(err, cause) {
		t.Error("expected errors.Is to find the cause through Unwrap")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if Wrapf(nil, "context %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}
}
