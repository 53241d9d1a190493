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

package commands

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFlowID = "11111111-1111-1111-1111-111111111111"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(VersionInfo{Version: "1.2.3", Commit: "abc", BuildDate: "today"})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "flowmesh version 1.2.3")
	assert.Contains(t, out, "abc")
}

func TestStartCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orchestration/start/"+testFlowID, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": "orchestration started", "flowId": testFlowID})
	}))
	defer srv.Close()

	out, err := execute(t, "--server", srv.URL, "start", testFlowID)
	require.NoError(t, err)
	assert.Contains(t, out, testFlowID)
}

func TestStartCommandServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "not_found", "message": "flow not found"})
	}))
	defer srv.Close()

	_, err := execute(t, "--server", srv.URL, "start", testFlowID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flow not found")
}

func TestSchedulerStartRequiresCron(t *testing.T) {
	_, err := execute(t, "scheduler", "start", testFlowID)
	require.Error(t, err)
}

func TestSchedulerStartCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "*/5 * * * * ?", body["cronExpression"])
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"cronExpression": body["cronExpression"]})
	}))
	defer srv.Close()

	out, err := execute(t, "--server", srv.URL, "scheduler", "start", testFlowID, "--cron", "*/5 * * * * ?")
	require.NoError(t, err)
	assert.Contains(t, out, "*/5 * * * * ?")
}
