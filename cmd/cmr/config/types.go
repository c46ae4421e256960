// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the configuration server's YAML settings.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/AleutianAI/AleutianAPM/services/instrumentation/telemetry"
	"github.com/go-playground/validator/v10"
)

// Store kinds.
const (
	StoreFile   = "file"
	StoreBadger = "badger"
	StoreMemory = "memory"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	Debug           bool          `yaml:"debug"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AuthTokens maps a subject to its bearer token. When empty the agent
	// API is unauthenticated.
	AuthTokens map[string]string `yaml:"auth_tokens,omitempty"`
}

// StoreConfig selects where environments, profiles and mappings live.
type StoreConfig struct {
	// Kind is file, badger or memory.
	Kind string `yaml:"kind" validate:"oneof=file badger memory"`

	// Dir is the file store directory.
	Dir string `yaml:"dir" validate:"required_if=Kind file"`

	// Watch reloads the file store on change and reconfigures agents.
	Watch bool `yaml:"watch"`

	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// RegistryConfig selects the identity registry.
type RegistryConfig struct {
	// Kind is badger or memory.
	Kind string `yaml:"kind" validate:"oneof=badger memory"`
}

// BadgerConfig configures the database shared by the badger store and the
// badger registry.
type BadgerConfig struct {
	Path       string        `yaml:"path"`
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	// Format is auto, text or json. auto logs text to terminals and JSON
	// elsewhere.
	Format string `yaml:"format" validate:"omitempty,oneof=auto text json"`
	Dir    string `yaml:"dir"`
}

// InstrumentationConfig tunes the instrumentation service.
type InstrumentationConfig struct {
	ApplierParallelism int `yaml:"applier_parallelism" validate:"min=1"`

	// ReportRate is the per-agent limit on reported types per second; 0
	// disables it.
	ReportRate  float64 `yaml:"report_rate" validate:"min=0"`
	ReportBurst int     `yaml:"report_burst" validate:"min=0"`

	// MinAgentVersion rejects older agents, e.g. "1.4.0".
	MinAgentVersion string `yaml:"min_agent_version"`
}

// Config is the root of cmr.yaml.
type Config struct {
	Server          ServerConfig          `yaml:"server"`
	Store           StoreConfig           `yaml:"store"`
	Registry        RegistryConfig        `yaml:"registry"`
	Badger          BadgerConfig          `yaml:"badger"`
	Logging         LoggingConfig         `yaml:"logging"`
	Telemetry       telemetry.Config      `yaml:"telemetry"`
	Instrumentation InstrumentationConfig `yaml:"instrumentation"`
}

// UsesBadger reports whether the store or the registry needs the badger
// database.
func (c Config) UsesBadger() bool {
	return c.Store.Kind == StoreBadger || c.Registry.Kind == StoreBadger
}

var validate = validator.New()

// Validate checks field constraints and cross-field requirements.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.UsesBadger() && c.Badger.Path == "" {
		return fmt.Errorf("invalid config: badger.path is required when store or registry kind is badger")
	}
	return nil
}

// DefaultConfig returns the configuration written on first run. All data
// lives under baseDir.
func DefaultConfig(baseDir string) Config {
	return Config{
		Server: ServerConfig{
			Port:            12100,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Kind:          StoreFile,
			Dir:           filepath.Join(baseDir, "ci"),
			Watch:         true,
			WatchDebounce: 200 * time.Millisecond,
		},
		Registry: RegistryConfig{Kind: StoreBadger},
		Badger: BadgerConfig{
			Path:       filepath.Join(baseDir, "db"),
			SyncWrites: true,
			GCInterval: 10 * time.Minute,
		},
		Logging:   LoggingConfig{Level: "info", Format: "auto"},
		Telemetry: telemetry.DefaultConfig(),
		Instrumentation: InstrumentationConfig{
			ApplierParallelism: 8,
			ReportBurst:        1000,
		},
	}
}
