// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ci holds the configuration-interface records an instrumentation
// plan is resolved from: environments, profiles and agent mappings, plus the
// Store abstraction they are loaded through.
//
// Records are plain values. Every record serializes to one JSON or YAML
// document; stores never share record memory with callers.
package ci

import (
	"fmt"
	"maps"
	"slices"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// recordValidate validates records before they are stored.
var recordValidate = validator.New()

func validateRecord(kind string, v any) error {
	if err := recordValidate.Struct(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidRecord, kind, err)
	}
	return nil
}

// =============================================================================
// Sensor Configs
// =============================================================================

// Priority orders method sensors attached to the same method.
type Priority string

const (
	PriorityMin    Priority = "MIN"
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityMax    Priority = "MAX"
)

// PlatformSensorConfig configures a platform sensor (cpu, memory, threads...).
type PlatformSensorConfig struct {
	ClassName  string            `json:"class_name" yaml:"class_name" validate:"required"`
	Active     bool              `json:"active" yaml:"active"`
	Parameters map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// MethodSensorConfig configures a method sensor type. Assignments refer to it
// by ClassName.
type MethodSensorConfig struct {
	Name       string            `json:"name" yaml:"name" validate:"required"`
	ClassName  string            `json:"class_name" yaml:"class_name" validate:"required"`
	Priority   Priority          `json:"priority,omitempty" yaml:"priority,omitempty" validate:"omitempty,oneof=MIN LOW NORMAL HIGH MAX"`
	Parameters map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// ExceptionSensorConfig configures the exception sensor.
type ExceptionSensorConfig struct {
	Name       string            `json:"name" yaml:"name" validate:"required"`
	ClassName  string            `json:"class_name" yaml:"class_name" validate:"required"`
	Priority   Priority          `json:"priority,omitempty" yaml:"priority,omitempty" validate:"omitempty,oneof=MIN LOW NORMAL HIGH MAX"`
	Parameters map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Enhanced   bool              `json:"enhanced" yaml:"enhanced"`
}

// StrategyConfig selects a sending or buffer strategy implementation.
type StrategyConfig struct {
	ClassName string            `json:"class_name" yaml:"class_name"`
	Settings  map[string]string `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// Clone returns a deep copy.
func (s StrategyConfig) Clone() StrategyConfig {
	s.Settings = maps.Clone(s.Settings)
	return s
}

// EUMConfig configures end-user monitoring.
type EUMConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	ScriptBaseURL string `json:"script_base_url,omitempty" yaml:"script_base_url,omitempty"`
}

// =============================================================================
// Records
// =============================================================================

// Environment is a named bundle of sensor configs and profile references an
// agent is configured with.
type Environment struct {
	ID          string   `json:"id" yaml:"id" validate:"required"`
	Name        string   `json:"name" yaml:"name" validate:"required"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	ProfileIDs  []string `json:"profile_ids,omitempty" yaml:"profile_ids,omitempty"`

	PlatformSensorConfigs []PlatformSensorConfig `json:"platform_sensor_configs,omitempty" yaml:"platform_sensor_configs,omitempty" validate:"dive"`
	MethodSensorConfigs   []MethodSensorConfig   `json:"method_sensor_configs,omitempty" yaml:"method_sensor_configs,omitempty" validate:"dive"`
	ExceptionSensorConfig *ExceptionSensorConfig `json:"exception_sensor_config,omitempty" yaml:"exception_sensor_config,omitempty"`

	SendingStrategy StrategyConfig `json:"sending_strategy" yaml:"sending_strategy"`
	BufferStrategy  StrategyConfig `json:"buffer_strategy" yaml:"buffer_strategy"`

	ClassLoadingDelegation bool      `json:"class_loading_delegation" yaml:"class_loading_delegation"`
	EUM                    EUMConfig `json:"eum" yaml:"eum"`
}

// Validate checks the environment's validation tags.
func (e *Environment) Validate() error {
	return validateRecord("environment", e)
}

// MethodSensorConfig returns the method sensor config with the given class
// name.
func (e *Environment) MethodSensorConfig(className string) (MethodSensorConfig, bool) {
	for _, c := range e.MethodSensorConfigs {
		if c.ClassName == className {
			return c, true
		}
	}
	return MethodSensorConfig{}, false
}

// Clone returns a deep copy.
func (e *Environment) Clone() *Environment {
	if e == nil {
		return nil
	}
	out := *e
	out.ProfileIDs = slices.Clone(e.ProfileIDs)
	out.PlatformSensorConfigs = slices.Clone(e.PlatformSensorConfigs)
	for i := range out.PlatformSensorConfigs {
		out.PlatformSensorConfigs[i].Parameters = maps.Clone(out.PlatformSensorConfigs[i].Parameters)
	}
	out.MethodSensorConfigs = slices.Clone(e.MethodSensorConfigs)
	for i := range out.MethodSensorConfigs {
		out.MethodSensorConfigs[i].Parameters = maps.Clone(out.MethodSensorConfigs[i].Parameters)
	}
	if e.ExceptionSensorConfig != nil {
		esc := *e.ExceptionSensorConfig
		esc.Parameters = maps.Clone(esc.Parameters)
		out.ExceptionSensorConfig = &esc
	}
	out.SendingStrategy = e.SendingStrategy.Clone()
	out.BufferStrategy = e.BufferStrategy.Clone()
	return &out
}

// ExcludeRule keeps matching classes from being instrumented at all.
type ExcludeRule struct {
	ClassName string `json:"class_name" yaml:"class_name" validate:"required"`
}

// Profile groups sensor assignments and exclude rules.
type Profile struct {
	ID          string `json:"id" yaml:"id" validate:"required"`
	Name        string `json:"name" yaml:"name" validate:"required"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Active      bool   `json:"active" yaml:"active"`

	MethodSensorAssignments    []MethodSensorAssignment    `json:"method_sensor_assignments,omitempty" yaml:"method_sensor_assignments,omitempty" validate:"dive"`
	ExceptionSensorAssignments []ExceptionSensorAssignment `json:"exception_sensor_assignments,omitempty" yaml:"exception_sensor_assignments,omitempty" validate:"dive"`
	ExcludeRules               []ExcludeRule               `json:"exclude_rules,omitempty" yaml:"exclude_rules,omitempty" validate:"dive"`
}

// Validate checks the profile's validation tags.
func (p *Profile) Validate() error {
	return validateRecord("profile", p)
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	out := *p
	out.MethodSensorAssignments = slices.Clone(p.MethodSensorAssignments)
	for i := range out.MethodSensorAssignments {
		a := &out.MethodSensorAssignments[i]
		a.Parameters = slices.Clone(a.Parameters)
		a.Settings = maps.Clone(a.Settings)
	}
	out.ExceptionSensorAssignments = slices.Clone(p.ExceptionSensorAssignments)
	for i := range out.ExceptionSensorAssignments {
		a := &out.ExceptionSensorAssignments[i]
		a.Settings = maps.Clone(a.Settings)
	}
	out.ExcludeRules = slices.Clone(p.ExcludeRules)
	return &out
}

// AgentMapping maps agents, by name and address pattern, to an environment.
type AgentMapping struct {
	ID            string `json:"id,omitempty" yaml:"id,omitempty"`
	AgentName     string `json:"agent_name" yaml:"agent_name" validate:"required"`
	IPAddress     string `json:"ip_address" yaml:"ip_address" validate:"required"`
	EnvironmentID string `json:"environment_id" yaml:"environment_id" validate:"required"`
	Active        bool   `json:"active" yaml:"active"`
	Description   string `json:"description,omitempty" yaml:"description,omitempty"`
}

// ValidateMappings checks every mapping's validation tags.
func ValidateMappings(mappings []AgentMapping) error {
	for i := range mappings {
		if err := validateRecord(fmt.Sprintf("agent mapping %d", i), &mappings[i]); err != nil {
			return err
		}
	}
	return nil
}
