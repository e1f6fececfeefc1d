// Copyright 2025 Kadir Pekel
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

// Package config loads RunnerConfig: the ADK_MAX_TOOL_ITERATIONS,
// ADK_INVOCATION_TIMEOUT_MS and ADK_SESSION_EVENT_CAPACITY knobs recognized
// by the core, plus the session backend and logging settings
// an embedding binary needs, read from YAML over a pluggable Provider
// (file/Consul/ZooKeeper) with environment-variable expansion and optional
// hot reload.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/go-adk/adk/config/provider"
)

// ConfigInterface is implemented by every configuration section, so the
// loader can fill defaults and validate them uniformly.
type ConfigInterface interface {
	// Validate reports the first invalid field, or nil.
	Validate() error

	// SetDefaults fills unset fields in place.
	SetDefaults()
}

// LoggerConfig configures the process-wide slog handler.
type LoggerConfig struct {
	Level  string `yaml:"level,omitempty"`
	File   string `yaml:"file,omitempty"`
	Format string `yaml:"format,omitempty"`
}

func (c *LoggerConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

func (c *LoggerConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logger: unknown level %q", c.Level)
	}
	switch c.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logger: unknown format %q", c.Format)
	}
	return nil
}

// SessionConfig selects and configures the Session service backend.
type SessionConfig struct {
	// Backend is "memory" (default), "postgres", "mysql", or "sqlite".
	Backend string `yaml:"backend,omitempty"`
	// DSN is the driver-specific connection string; unused for "memory".
	DSN string `yaml:"dsn,omitempty"`
}

func (c *SessionConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
}

func (c *SessionConfig) Validate() error {
	switch c.Backend {
	case "memory", "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("session: unknown backend %q", c.Backend)
	}
	if c.Backend != "memory" && c.DSN == "" {
		return fmt.Errorf("session: dsn is required for backend %q", c.Backend)
	}
	return nil
}

// RunnerConfig is the top-level configuration an embedding binary loads
// before constructing a Runner. The three numeric fields
// (MaxToolIterations, InvocationTimeoutMS, SessionEventCapacity) have ADK_*
// env var overrides, applied after the YAML is decoded; the other fields come
// from the YAML only.
type RunnerConfig struct {
	AppName string `yaml:"app_name"`

	// MaxToolIterations bounds the tool-call loop.
	// Env: ADK_MAX_TOOL_ITERATIONS. Default 10.
	MaxToolIterations int `yaml:"max_tool_iterations,omitempty"`

	// InvocationTimeoutMS bounds a single Runner.Run call.
	// Env: ADK_INVOCATION_TIMEOUT_MS. Default 120000.
	InvocationTimeoutMS int `yaml:"invocation_timeout_ms,omitempty"`

	// SessionEventCapacity bounds the event stream buffer an embedding
	// binary places between Runner.Run and a slow consumer.
	// Env: ADK_SESSION_EVENT_CAPACITY. Default 256.
	SessionEventCapacity int `yaml:"session_event_capacity,omitempty"`

	Logger  LoggerConfig  `yaml:"logger,omitempty"`
	Session SessionConfig `yaml:"session,omitempty"`
}

const (
	envMaxToolIterations    = "ADK_MAX_TOOL_ITERATIONS"
	envInvocationTimeoutMS  = "ADK_INVOCATION_TIMEOUT_MS"
	envSessionEventCapacity = "ADK_SESSION_EVENT_CAPACITY"
)

// SetDefaults fills unset fields with their documented defaults.
func (c *RunnerConfig) SetDefaults() {
	if c.MaxToolIterations == 0 {
		c.MaxToolIterations = 10
	}
	if c.InvocationTimeoutMS == 0 {
		c.InvocationTimeoutMS = 120000
	}
	if c.SessionEventCapacity == 0 {
		c.SessionEventCapacity = 256
	}
	c.Logger.SetDefaults()
	c.Session.SetDefaults()
}

// Validate checks RunnerConfig and its nested sections.
func (c *RunnerConfig) Validate() error {
	if c.MaxToolIterations <= 0 {
		return fmt.Errorf("runner: max_tool_iterations must be positive")
	}
	if c.InvocationTimeoutMS <= 0 {
		return fmt.Errorf("runner: invocation_timeout_ms must be positive")
	}
	if c.SessionEventCapacity <= 0 {
		return fmt.Errorf("runner: session_event_capacity must be positive")
	}
	if err := c.Logger.Validate(); err != nil {
		return err
	}
	return c.Session.Validate()
}

// InvocationTimeout returns InvocationTimeoutMS as a time.Duration.
func (c *RunnerConfig) InvocationTimeout() time.Duration {
	return time.Duration(c.InvocationTimeoutMS) * time.Millisecond
}

var _ ConfigInterface = (*RunnerConfig)(nil)

// Loader reads, parses and (optionally) watches a RunnerConfig from a
// Provider, applying env var expansion before YAML decode and the ADK_*
// env vars as a final override after decode.
type Loader struct {
	provider provider.Provider
	onChange func(*RunnerConfig)
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithOnChange registers a callback invoked with the freshly reloaded
// config whenever Watch observes a change.
func WithOnChange(fn func(*RunnerConfig)) LoaderOption {
	return func(l *Loader) { l.onChange = fn }
}

// NewLoader builds a Loader around p.
func NewLoader(p provider.Provider, opts ...LoaderOption) *Loader {
	l := &Loader{provider: p}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads raw bytes from the provider, expands ${VAR} references,
// decodes YAML into a RunnerConfig, applies the ADK_* env var table as a
// final override, fills defaults, and validates.
func (l *Loader) Load(ctx context.Context) (*RunnerConfig, error) {
	data, err := l.provider.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("config: loading: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := &RunnerConfig{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("config: parsing yaml: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return cfg, nil
}

// Watch reloads the config whenever the provider signals a change, invoking
// the Loader's onChange callback with the new value. Blocks until ctx is
// cancelled or the provider's change channel closes.
func (l *Loader) Watch(ctx context.Context) error {
	changes, err := l.provider.Watch(ctx)
	if err != nil {
		return fmt.Errorf("config: watching: %w", err)
	}
	if changes == nil {
		slog.Info("adk/config: provider does not support watching", "type", l.provider.Type())
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			cfg, err := l.Load(ctx)
			if err != nil {
				slog.Error("adk/config: reload failed", "error", err)
				continue
			}
			if l.onChange != nil {
				l.onChange(cfg)
			}
		}
	}
}

func applyEnvOverrides(cfg *RunnerConfig) {
	if v := intEnv(envMaxToolIterations); v > 0 {
		cfg.MaxToolIterations = v
	}
	if v := intEnv(envInvocationTimeoutMS); v > 0 {
		cfg.InvocationTimeoutMS = v
	}
	if v := intEnv(envSessionEventCapacity); v > 0 {
		cfg.SessionEventCapacity = v
	}
}
