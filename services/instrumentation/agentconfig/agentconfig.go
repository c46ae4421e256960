// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agentconfig defines the configuration payload handed to a
// connected agent.
package agentconfig

import (
	"encoding/hex"
	"encoding/json"
	"hash/fnv"

	"github.com/AleutianAI/AleutianAPM/services/instrumentation/ci"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/pattern"
)

// MatchPattern is a class-name pattern the agent evaluates itself.
type MatchPattern struct {
	Pattern  string `json:"pattern" yaml:"pattern"`
	Wildcard bool   `json:"wildcard" yaml:"wildcard"`
}

// NewMatchPattern returns a wildcard pattern when p contains "*", otherwise
// an equals pattern.
func NewMatchPattern(p string) MatchPattern {
	return MatchPattern{Pattern: p, Wildcard: pattern.IsWildcard(p)}
}

// Match reports whether name matches.
func (m MatchPattern) Match(name string) bool {
	if !m.Wildcard {
		return m.Pattern == name
	}
	return pattern.Match(m.Pattern, name)
}

// PlatformSensorTypeConfig is a registered platform sensor.
type PlatformSensorTypeConfig struct {
	ID         int64             `json:"id" yaml:"id"`
	ClassName  string            `json:"class_name" yaml:"class_name"`
	Parameters map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// MethodSensorTypeConfig is a registered method sensor.
type MethodSensorTypeConfig struct {
	ID         int64             `json:"id" yaml:"id"`
	Name       string            `json:"name" yaml:"name"`
	ClassName  string            `json:"class_name" yaml:"class_name"`
	Priority   ci.Priority       `json:"priority" yaml:"priority"`
	Parameters map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// ExceptionSensorTypeConfig is the registered exception sensor.
type ExceptionSensorTypeConfig struct {
	MethodSensorTypeConfig `yaml:",inline"`

	Enhanced bool `json:"enhanced" yaml:"enhanced"`
}

// StrategyConfig is a sending or buffer strategy as the agent sees it.
type StrategyConfig struct {
	ClassName string            `json:"class_name" yaml:"class_name"`
	Settings  map[string]string `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// AgentConfig is everything an agent needs to start measuring. It is built
// once per resolution and replaced wholesale, never modified in place.
type AgentConfig struct {
	PlatformID int64 `json:"platform_id" yaml:"platform_id"`

	PlatformSensorTypeConfigs []PlatformSensorTypeConfig  `json:"platform_sensor_type_configs" yaml:"platform_sensor_type_configs"`
	MethodSensorTypeConfigs   []MethodSensorTypeConfig    `json:"method_sensor_type_configs" yaml:"method_sensor_type_configs"`
	ExceptionSensorTypeConfig *ExceptionSensorTypeConfig `json:"exception_sensor_type_config,omitempty" yaml:"exception_sensor_type_config,omitempty"`

	ExcludeClassPatterns []MatchPattern `json:"exclude_class_patterns" yaml:"exclude_class_patterns"`

	SendingStrategyConfig StrategyConfig `json:"sending_strategy_config" yaml:"sending_strategy_config"`
	BufferStrategyConfig  StrategyConfig `json:"buffer_strategy_config" yaml:"buffer_strategy_config"`

	ClassLoadingDelegation  bool `json:"class_loading_delegation" yaml:"class_loading_delegation"`
	EnhancedExceptionSensor bool `json:"enhanced_exception_sensor" yaml:"enhanced_exception_sensor"`

	// ConfigurationHash changes whenever any other field changes.
	ConfigurationHash string `json:"configuration_hash" yaml:"configuration_hash"`
}

// MethodSensorTypeConfig returns the registered method sensor with the given
// class name.
func (c *AgentConfig) MethodSensorTypeConfig(className string) (MethodSensorTypeConfig, bool) {
	for _, m := range c.MethodSensorTypeConfigs {
		if m.ClassName == className {
			return m, true
		}
	}
	return MethodSensorTypeConfig{}, false
}

// IsExcluded reports whether className matches an exclude pattern.
func (c *AgentConfig) IsExcluded(className string) bool {
	for _, p := range c.ExcludeClassPatterns {
		if p.Match(className) {
			return true
		}
	}
	return false
}

// Hash returns an FNV-64a hex digest over every field except
// ConfigurationHash. encoding/json sorts map keys, so equal configs hash
// equal.
func (c *AgentConfig) Hash() (string, error) {
	cp := *c
	cp.ConfigurationHash = ""
	data, err := json.Marshal(&cp)
	if err != nil {
		return "", err
	}
	h := fnv.New64a()
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
