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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	flowmesherrors "github.com/flowmesh/flowmesh/pkg/errors"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default() should validate, got %v", err)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Cache.MapName != "orchestration-data" {
		t.Errorf("cache.map_name = %q, want orchestration-data", cfg.Cache.MapName)
	}
	if cfg.Managers.OrchestratedFlowURL != "http://localhost:5130" {
		t.Errorf("flow manager URL = %q", cfg.Managers.OrchestratedFlowURL)
	}
	if cfg.Managers.SchemaURL != "http://localhost:5137" {
		t.Errorf("schema manager URL = %q", cfg.Managers.SchemaURL)
	}
}

func TestLoadFromFileAppliesDefaultsToGaps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowmesh.yaml")
	content := `
environment: prod
listen:
  addr: ":8080"
cache:
  max_retries: 9
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Environment != "prod" {
		t.Errorf("environment = %q, want prod", cfg.Environment)
	}
	if cfg.Listen.Addr != ":8080" {
		t.Errorf("listen.addr = %q, want :8080", cfg.Listen.Addr)
	}
	if cfg.Cache.MaxRetries != 9 {
		t.Errorf("cache.max_retries = %d, want 9", cfg.Cache.MaxRetries)
	}
	// Unset fields fall back to defaults.
	if cfg.Cache.RetryDelayMs != 200 {
		t.Errorf("cache.retry_delay_ms = %d, want default 200", cfg.Cache.RetryDelayMs)
	}
	if cfg.Bus.ConsumerGroup != "flowmesh-orchestrator" {
		t.Errorf("bus.consumer_group = %q, want default", cfg.Bus.ConsumerGroup)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowmesh.yaml")
	if err := os.WriteFile(path, []byte("redis:\n  addr: file:6379\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("FLOWMESH_REDIS_ADDR", "env:6379")
	t.Setenv("FLOWMESH_MANAGER_STEP_URL", "http://steps.internal:5132")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Redis.Addr != "env:6379" {
		t.Errorf("redis.addr = %q, want env override", cfg.Redis.Addr)
	}
	if cfg.Managers.StepURL != "http://steps.internal:5132" {
		t.Errorf("step manager URL = %q, want env override", cfg.Managers.StepURL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/flowmesh.yaml"); err == nil {
		t.Error("Load() should fail for a missing file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative cache retries", func(c *Config) { c.Cache.MaxRetries = -1 }},
		{"zero consumers", func(c *Config) { c.Bus.Consumers = 0 }},
		{"same streams", func(c *Config) { c.Bus.EventStream = c.Bus.CommandStream }},
		{"zero tick", func(c *Config) { c.Scheduler.TickSeconds = 0 }},
		{"zero staleness", func(c *Config) { c.Health.StalenessSeconds = 0 }},
		{"non-http manager URL", func(c *Config) { c.Managers.PluginURL = "plugin.internal:5136" }},
		{"empty instance name", func(c *Config) { c.Instance.Name = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() should fail")
			}
			if kind := flowmesherrors.KindOf(err); kind != flowmesherrors.KindInvalidArgument {
				t.Errorf("error kind = %v, want invalid_argument", kind)
			}
		})
	}
}

func TestInstanceKey(t *testing.T) {
	inst := InstanceConfig{Name: "flowmesh", Version: "2"}
	if got := inst.Key(); got != "2_flowmesh" {
		t.Errorf("Key() = %q, want 2_flowmesh", got)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()

	if got := cfg.Cache.RetryDelay(); got != 200*time.Millisecond {
		t.Errorf("cache retry delay = %v", got)
	}
	if got := cfg.Scheduler.Tick(); got != time.Second {
		t.Errorf("scheduler tick = %v", got)
	}
	if got := cfg.Health.Staleness(); got != time.Minute {
		t.Errorf("health staleness = %v", got)
	}
	if got := cfg.Bus.PublishTimeout(); got != 5*time.Second {
		t.Errorf("bus publish timeout = %v", got)
	}
}
