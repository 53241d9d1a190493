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

// Package config loads and validates the orchestrator daemon configuration.
// Configuration comes from an optional YAML file with environment variable
// overrides; environment wins over file, file wins over defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	flowmesherrors "github.com/flowmesh/flowmesh/pkg/errors"
)

// Config is the complete flowmesh daemon configuration.
type Config struct {
	// Environment names the deployment environment (dev, staging, prod).
	Environment string `yaml:"environment"`

	Instance  InstanceConfig  `yaml:"instance"`
	Listen    ListenConfig    `yaml:"listen"`
	Managers  ManagersConfig  `yaml:"managers"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	Bus       BusConfig       `yaml:"bus"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Health    HealthConfig    `yaml:"health"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// InstanceConfig identifies this orchestrator instance.
type InstanceConfig struct {
	// Name is the logical instance name. Default: flowmesh.
	Name string `yaml:"name"`

	// Version is the deployed version string. Default: 1.
	Version string `yaml:"version"`
}

// Key returns the instance identity as "version_name", used to qualify
// cache keys and consumer names so parallel deployments do not collide.
func (i InstanceConfig) Key() string {
	return i.Version + "_" + i.Name
}

// ListenConfig configures the control API listener.
type ListenConfig struct {
	// Addr is the host:port the HTTP control API binds to.
	// Default: :580.
	Addr string `yaml:"addr"`
}

// ManagersConfig holds the base URLs of the manager microservices that own
// the orchestration entities.
type ManagersConfig struct {
	OrchestratedFlowURL string `yaml:"orchestrated_flow_url"`
	WorkflowURL         string `yaml:"workflow_url"`
	StepURL             string `yaml:"step_url"`
	AssignmentURL       string `yaml:"assignment_url"`
	AddressURL          string `yaml:"address_url"`
	DeliveryURL         string `yaml:"delivery_url"`
	PluginURL           string `yaml:"plugin_url"`
	SchemaURL           string `yaml:"schema_url"`

	// RequestsPerSecond rate-limits outbound manager calls per client.
	// Zero disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// RedisConfig configures the shared Redis connection used by the cache,
// the bus, and the processor health map.
type RedisConfig struct {
	// Addr is the Redis host:port. Default: localhost:6379.
	Addr string `yaml:"addr"`

	// Password authenticates against Redis. Environment: FLOWMESH_REDIS_PASSWORD.
	Password string `yaml:"password,omitempty"`

	// DB selects the Redis logical database. Default: 0.
	DB int `yaml:"db"`
}

// CacheConfig configures the orchestration data cache gateway.
type CacheConfig struct {
	// MapName prefixes every cache key. Default: orchestration-data.
	MapName string `yaml:"map_name"`

	// MaxRetries bounds write retries against a struggling cache.
	// Default: 5.
	MaxRetries int `yaml:"max_retries"`

	// RetryDelayMs is the initial write retry delay in milliseconds.
	// Default: 200.
	RetryDelayMs int `yaml:"retry_delay_ms"`
}

// RetryDelay returns the initial retry delay as a duration.
func (c CacheConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// BusConfig configures the Redis streams message bus.
type BusConfig struct {
	// CommandStream carries execute-activity commands to processors.
	// Default: flowmesh.execute.
	CommandStream string `yaml:"command_stream"`

	// EventStream carries activity-executed events back from processors.
	// Default: flowmesh.executed.
	EventStream string `yaml:"event_stream"`

	// ConsumerGroup names the orchestrator's consumer group on the event
	// stream. Default: flowmesh-orchestrator.
	ConsumerGroup string `yaml:"consumer_group"`

	// Consumers is the number of concurrent event consumers. Default: 4.
	Consumers int `yaml:"consumers"`

	// MaxLen caps stream length; older entries are evicted. Default: 100000.
	MaxLen int `yaml:"max_len"`

	// PublishTimeoutMs bounds a single publish call. Default: 5000.
	PublishTimeoutMs int `yaml:"publish_timeout_ms"`
}

// PublishTimeout returns the publish timeout as a duration.
func (b BusConfig) PublishTimeout() time.Duration {
	return time.Duration(b.PublishTimeoutMs) * time.Millisecond
}

// SchedulerConfig configures the cron scheduler.
type SchedulerConfig struct {
	// TickSeconds is the scheduler resolution in seconds. Default: 1.
	TickSeconds int `yaml:"tick_seconds"`
}

// Tick returns the scheduler tick as a duration.
func (s SchedulerConfig) Tick() time.Duration {
	return time.Duration(s.TickSeconds) * time.Second
}

// HealthConfig configures the processor health gate.
type HealthConfig struct {
	// MapName is the replicated map holding processor health snapshots.
	// Default: processor-health.
	MapName string `yaml:"map_name"`

	// StalenessSeconds is the age past which a health report counts as
	// unhealthy. Default: 60.
	StalenessSeconds int `yaml:"staleness_seconds"`
}

// Staleness returns the staleness threshold as a duration.
func (h HealthConfig) Staleness() time.Duration {
	return time.Duration(h.StalenessSeconds) * time.Second
}

// HTTPConfig configures outbound HTTP client behavior for manager calls.
type HTTPConfig struct {
	// TimeoutSeconds is the total request timeout. Default: 30.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// RetryAttempts is the maximum retry count. Default: 3.
	RetryAttempts int `yaml:"retry_attempts"`

	// RetryBackoffMs is the initial retry backoff in milliseconds.
	// Default: 100.
	RetryBackoffMs int `yaml:"retry_backoff_ms"`
}

// Timeout returns the request timeout as a duration.
func (h HTTPConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

// RetryBackoff returns the initial retry backoff as a duration.
func (h HTTPConfig) RetryBackoff() time.Duration {
	return time.Duration(h.RetryBackoffMs) * time.Millisecond
}

// Default returns the configuration with all defaults applied. The manager
// URLs default to the conventional local development ports 5130-5137.
func Default() *Config {
	return &Config{
		Environment: "dev",
		Instance: InstanceConfig{
			Name:    "flowmesh",
			Version: "1",
		},
		Listen: ListenConfig{
			Addr: ":580",
		},
		Managers: ManagersConfig{
			OrchestratedFlowURL: "http://localhost:5130",
			WorkflowURL:         "http://localhost:5131",
			StepURL:             "http://localhost:5132",
			AssignmentURL:       "http://localhost:5133",
			AddressURL:          "http://localhost:5134",
			DeliveryURL:         "http://localhost:5135",
			PluginURL:           "http://localhost:5136",
			SchemaURL:           "http://localhost:5137",
			RequestsPerSecond:   50,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			DB:   0,
		},
		Cache: CacheConfig{
			MapName:      "orchestration-data",
			MaxRetries:   5,
			RetryDelayMs: 200,
		},
		Bus: BusConfig{
			CommandStream:    "flowmesh.execute",
			EventStream:      "flowmesh.executed",
			ConsumerGroup:    "flowmesh-orchestrator",
			Consumers:        4,
			MaxLen:           100000,
			PublishTimeoutMs: 5000,
		},
		Scheduler: SchedulerConfig{
			TickSeconds: 1,
		},
		Health: HealthConfig{
			MapName:          "processor-health",
			StalenessSeconds: 60,
		},
		HTTP: HTTPConfig{
			TimeoutSeconds: 30,
			RetryAttempts:  3,
			RetryBackoffMs: 100,
		},
	}
}

// Load loads configuration from an optional YAML file and environment
// variables. Environment variables take precedence over file values.
// An empty path loads defaults plus environment only.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, flowmesherrors.Wrapf(err, "load config from %s", configPath)
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// applyDefaults fills zero values left by a minimal config file.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Environment == "" {
		c.Environment = defaults.Environment
	}
	if c.Instance.Name == "" {
		c.Instance.Name = defaults.Instance.Name
	}
	if c.Instance.Version == "" {
		c.Instance.Version = defaults.Instance.Version
	}
	if c.Listen.Addr == "" {
		c.Listen.Addr = defaults.Listen.Addr
	}

	m := &c.Managers
	dm := defaults.Managers
	for _, pair := range []struct {
		dst *string
		def string
	}{
		{&m.OrchestratedFlowURL, dm.OrchestratedFlowURL},
		{&m.WorkflowURL, dm.WorkflowURL},
		{&m.StepURL, dm.StepURL},
		{&m.AssignmentURL, dm.AssignmentURL},
		{&m.AddressURL, dm.AddressURL},
		{&m.DeliveryURL, dm.DeliveryURL},
		{&m.PluginURL, dm.PluginURL},
		{&m.SchemaURL, dm.SchemaURL},
	} {
		if *pair.dst == "" {
			*pair.dst = pair.def
		}
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = defaults.Redis.Addr
	}
	if c.Cache.MapName == "" {
		c.Cache.MapName = defaults.Cache.MapName
	}
	if c.Cache.MaxRetries == 0 {
		c.Cache.MaxRetries = defaults.Cache.MaxRetries
	}
	if c.Cache.RetryDelayMs == 0 {
		c.Cache.RetryDelayMs = defaults.Cache.RetryDelayMs
	}
	if c.Bus.CommandStream == "" {
		c.Bus.CommandStream = defaults.Bus.CommandStream
	}
	if c.Bus.EventStream == "" {
		c.Bus.EventStream = defaults.Bus.EventStream
	}
	if c.Bus.ConsumerGroup == "" {
		c.Bus.ConsumerGroup = defaults.Bus.ConsumerGroup
	}
	if c.Bus.Consumers == 0 {
		c.Bus.Consumers = defaults.Bus.Consumers
	}
	if c.Bus.MaxLen == 0 {
		c.Bus.MaxLen = defaults.Bus.MaxLen
	}
	if c.Bus.PublishTimeoutMs == 0 {
		c.Bus.PublishTimeoutMs = defaults.Bus.PublishTimeoutMs
	}
	if c.Scheduler.TickSeconds == 0 {
		c.Scheduler.TickSeconds = defaults.Scheduler.TickSeconds
	}
	if c.Health.MapName == "" {
		c.Health.MapName = defaults.Health.MapName
	}
	if c.Health.StalenessSeconds == 0 {
		c.Health.StalenessSeconds = defaults.Health.StalenessSeconds
	}
	if c.HTTP.TimeoutSeconds == 0 {
		c.HTTP.TimeoutSeconds = defaults.HTTP.TimeoutSeconds
	}
	if c.HTTP.RetryBackoffMs == 0 {
		c.HTTP.RetryBackoffMs = defaults.HTTP.RetryBackoffMs
	}
}

// loadFromEnv applies environment variable overrides.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("FLOWMESH_ENVIRONMENT"); val != "" {
		c.Environment = val
	}
	if val := os.Getenv("FLOWMESH_INSTANCE_NAME"); val != "" {
		c.Instance.Name = val
	}
	if val := os.Getenv("FLOWMESH_INSTANCE_VERSION"); val != "" {
		c.Instance.Version = val
	}
	if val := os.Getenv("FLOWMESH_LISTEN_ADDR"); val != "" {
		c.Listen.Addr = val
	}
	if val := os.Getenv("FLOWMESH_REDIS_ADDR"); val != "" {
		c.Redis.Addr = val
	}
	if val := os.Getenv("FLOWMESH_REDIS_PASSWORD"); val != "" {
		c.Redis.Password = val
	}
	if val := os.Getenv("FLOWMESH_REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			c.Redis.DB = db
		}
	}

	for _, pair := range []struct {
		env string
		dst *string
	}{
		{"FLOWMESH_MANAGER_ORCHESTRATED_FLOW_URL", &c.Managers.OrchestratedFlowURL},
		{"FLOWMESH_MANAGER_WORKFLOW_URL", &c.Managers.WorkflowURL},
		{"FLOWMESH_MANAGER_STEP_URL", &c.Managers.StepURL},
		{"FLOWMESH_MANAGER_ASSIGNMENT_URL", &c.Managers.AssignmentURL},
		{"FLOWMESH_MANAGER_ADDRESS_URL", &c.Managers.AddressURL},
		{"FLOWMESH_MANAGER_DELIVERY_URL", &c.Managers.DeliveryURL},
		{"FLOWMESH_MANAGER_PLUGIN_URL", &c.Managers.PluginURL},
		{"FLOWMESH_MANAGER_SCHEMA_URL", &c.Managers.SchemaURL},
	} {
		if val := os.Getenv(pair.env); val != "" {
			*pair.dst = val
		}
	}

	if val := os.Getenv("FLOWMESH_CACHE_MAP_NAME"); val != "" {
		c.Cache.MapName = val
	}
	if val := os.Getenv("FLOWMESH_BUS_COMMAND_STREAM"); val != "" {
		c.Bus.CommandStream = val
	}
	if val := os.Getenv("FLOWMESH_BUS_EVENT_STREAM"); val != "" {
		c.Bus.EventStream = val
	}
	if val := os.Getenv("FLOWMESH_BUS_CONSUMERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			c.Bus.Consumers = n
		}
	}
	if val := os.Getenv("FLOWMESH_SCHEDULER_TICK_SECONDS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			c.Scheduler.TickSeconds = n
		}
	}
	if val := os.Getenv("FLOWMESH_HEALTH_STALENESS_SECONDS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			c.Health.StalenessSeconds = n
		}
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var problems []string

	if c.Instance.Name == "" {
		problems = append(problems, "instance.name must not be empty")
	}
	if c.Listen.Addr == "" {
		problems = append(problems, "listen.addr must not be empty")
	}
	if c.Redis.Addr == "" {
		problems = append(problems, "redis.addr must not be empty")
	}
	if c.Cache.MaxRetries < 0 {
		problems = append(problems, fmt.Sprintf("cache.max_retries must be >= 0, got %d", c.Cache.MaxRetries))
	}
	if c.Cache.RetryDelayMs <= 0 {
		problems = append(problems, fmt.Sprintf("cache.retry_delay_ms must be > 0, got %d", c.Cache.RetryDelayMs))
	}
	if c.Bus.Consumers <= 0 {
		problems = append(problems, fmt.Sprintf("bus.consumers must be > 0, got %d", c.Bus.Consumers))
	}
	if c.Bus.CommandStream == c.Bus.EventStream {
		problems = append(problems, "bus.command_stream and bus.event_stream must differ")
	}
	if c.Scheduler.TickSeconds <= 0 {
		problems = append(problems, fmt.Sprintf("scheduler.tick_seconds must be > 0, got %d", c.Scheduler.TickSeconds))
	}
	if c.Health.StalenessSeconds <= 0 {
		problems = append(problems, fmt.Sprintf("health.staleness_seconds must be > 0, got %d", c.Health.StalenessSeconds))
	}
	if c.Managers.RequestsPerSecond < 0 {
		problems = append(problems, "managers.requests_per_second must be >= 0")
	}

	for name, raw := range map[string]string{
		"managers.orchestrated_flow_url": c.Managers.OrchestratedFlowURL,
		"managers.workflow_url":          c.Managers.WorkflowURL,
		"managers.step_url":              c.Managers.StepURL,
		"managers.assignment_url":        c.Managers.AssignmentURL,
		"managers.address_url":           c.Managers.AddressURL,
		"managers.delivery_url":          c.Managers.DeliveryURL,
		"managers.plugin_url":            c.Managers.PluginURL,
		"managers.schema_url":            c.Managers.SchemaURL,
	} {
		if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
			problems = append(problems, fmt.Sprintf("%s must be an http(s) URL, got %q", name, raw))
		}
	}

	if len(problems) > 0 {
		return &flowmesherrors.InvalidArgumentError{
			Field:   "config",
			Message: strings.Join(problems, "; "),
		}
	}
	return nil
}
