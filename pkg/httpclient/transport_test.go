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

package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flowmesh/flowmesh/internal/tracing"
)

func TestLoggingTransportSetsUserAgent(t *testing.T) {
	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.UserAgent = "flowmesh-test/1.0"
	client, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if seen != "flowmesh-test/1.0" {
		t.Errorf("User-Agent = %q, want %q", seen, "flowmesh-test/1.0")
	}
}

func TestLoggingTransportPropagatesCorrelationID(t *testing.T) {
	want := tracing.NewCorrelationID()

	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get(tracing.HeaderCorrelationID)
	}))
	defer srv.Close()

	client, err := New(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	ctx := tracing.ToContext(context.Background(), want)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if seen != want.String() {
		t.Errorf("correlation header = %q, want %q", seen, want)
	}
}

func TestSanitizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "redacts api key",
			in:   "http://localhost:5134/api/Plugin/p1?api_key=hunter2",
			want: "http://localhost:5134/api/Plugin/p1?api_key=%5BREDACTED%5D",
		},
		{
			name: "keeps plain params",
			in:   "http://localhost:5130/api/OrchestratedFlow/f1?version=2",
			want: "http://localhost:5130/api/OrchestratedFlow/f1?version=2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.in, nil)
			if got := sanitizeURL(req.URL); got != tt.want {
				t.Errorf("sanitizeURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
