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

// Package config loads the coordinator-level YAML configuration.
//
// Environment variables in the file are expanded (${VAR} or $VAR) before
// parsing, so secrets and machine-local paths stay out of the file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/maestro/pkg/observability"
)

// LoggerConfig controls the process logger.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Format string `yaml:"format"`
}

// ShutdownConfig controls coordinator shutdown behavior.
type ShutdownConfig struct {
	Graceful  *bool `yaml:"graceful"`
	TimeoutMs int64 `yaml:"timeout_ms"`
}

// IsGraceful reports the effective graceful flag (default true).
func (s ShutdownConfig) IsGraceful() bool {
	return s.Graceful == nil || *s.Graceful
}

// Timeout returns the effective shutdown timeout.
func (s ShutdownConfig) Timeout() time.Duration {
	if s.TimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// Config is the coordinator-level configuration.
type Config struct {
	Name          string               `yaml:"name"`
	SnapshotDir   string               `yaml:"snapshot_dir"`
	GuidancePath  string               `yaml:"guidance_path"`
	SkillsPath    string               `yaml:"skills_path"`
	Timezone      string               `yaml:"timezone"`
	Logger        LoggerConfig         `yaml:"logger"`
	Shutdown      ShutdownConfig       `yaml:"shutdown"`
	Observability observability.Config `yaml:"observability"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = "maestro"
	}
	if c.SnapshotDir == "" {
		c.SnapshotDir = ".maestro/snapshots"
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "simple"
	}
}

// Validate rejects configurations the coordinator cannot run with.
func (c *Config) Validate() error {
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
		}
	}
	return nil
}

// Load reads, expands, parses, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}
