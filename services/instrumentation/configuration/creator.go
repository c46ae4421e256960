// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package configuration turns a resolved environment into an agent's
// configuration and caches it per agent.
package configuration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/AleutianAI/AleutianAPM/services/instrumentation/agentconfig"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/ci"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/registration"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/resolver"
)

// ErrNilEnvironment is returned when a configuration is requested for no
// environment.
var ErrNilEnvironment = errors.New("environment is nil")

// Creator builds AgentConfig payloads.
//
// Thread Safety: Safe for concurrent use.
type Creator struct {
	registry registration.Registry
	resolver *resolver.Resolver
	logger   *slog.Logger
}

// NewCreator creates a Creator. A nil logger uses slog.Default().
func NewCreator(registry registration.Registry, res *resolver.Resolver, logger *slog.Logger) *Creator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Creator{registry: registry, resolver: res, logger: logger}
}

// EnvironmentToConfiguration builds the configuration of one agent.
//
// Description:
//
//	Registers every active platform sensor and every method sensor of env,
//	plus the exception sensor if configured, exactly once each, and copies
//	them with their server assigned ids into the payload. Inactive platform
//	sensors cause no registration call and no entry. Exclude rules become
//	match patterns; strategies are copied.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	env - The resolved environment. Must not be nil.
//	platformID - The agent's platform id.
//
// Outputs:
//
//	*agentconfig.AgentConfig - A new payload with ConfigurationHash set.
//	error - ErrNilEnvironment, or a wrapped registration or store error.
func (c *Creator) EnvironmentToConfiguration(ctx context.Context, env *ci.Environment, platformID int64) (*agentconfig.AgentConfig, error) {
	if env == nil {
		return nil, ErrNilEnvironment
	}
	profiles, err := c.resolver.Profiles(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	return c.ConfigurationForProfiles(ctx, env, platformID, profiles)
}

// ConfigurationForProfiles is EnvironmentToConfiguration with the usable
// profiles of env already loaded by the resolver. Exclude rules are taken
// from profiles.
func (c *Creator) ConfigurationForProfiles(ctx context.Context, env *ci.Environment, platformID int64, profiles []*ci.Profile) (*agentconfig.AgentConfig, error) {
	if env == nil {
		return nil, ErrNilEnvironment
	}

	cfg := &agentconfig.AgentConfig{
		PlatformID:                platformID,
		PlatformSensorTypeConfigs: []agentconfig.PlatformSensorTypeConfig{},
		MethodSensorTypeConfigs:   []agentconfig.MethodSensorTypeConfig{},
		ExcludeClassPatterns:      []agentconfig.MatchPattern{},
		SendingStrategyConfig:     copyStrategy(env.SendingStrategy),
		BufferStrategyConfig:      copyStrategy(env.BufferStrategy),
		ClassLoadingDelegation:    env.ClassLoadingDelegation,
	}

	for _, ps := range env.PlatformSensorConfigs {
		if !ps.Active {
			continue
		}
		id, err := c.registry.RegisterPlatformSensorTypeIdent(ctx, platformID, ps.ClassName)
		if err != nil {
			return nil, fmt.Errorf("register platform sensor %s: %w", ps.ClassName, err)
		}
		cfg.PlatformSensorTypeConfigs = append(cfg.PlatformSensorTypeConfigs, agentconfig.PlatformSensorTypeConfig{
			ID:         id,
			ClassName:  ps.ClassName,
			Parameters: maps.Clone(ps.Parameters),
		})
	}

	for _, ms := range env.MethodSensorConfigs {
		id, err := c.registry.RegisterMethodSensorTypeIdent(ctx, platformID, ms.ClassName, ms.Parameters)
		if err != nil {
			return nil, fmt.Errorf("register method sensor %s: %w", ms.ClassName, err)
		}
		cfg.MethodSensorTypeConfigs = append(cfg.MethodSensorTypeConfigs, agentconfig.MethodSensorTypeConfig{
			ID:         id,
			Name:       ms.Name,
			ClassName:  ms.ClassName,
			Priority:   ms.Priority,
			Parameters: maps.Clone(ms.Parameters),
		})
	}

	if es := env.ExceptionSensorConfig; es != nil {
		id, err := c.registry.RegisterMethodSensorTypeIdent(ctx, platformID, es.ClassName, es.Parameters)
		if err != nil {
			return nil, fmt.Errorf("register exception sensor %s: %w", es.ClassName, err)
		}
		priority := es.Priority
		if priority == "" {
			priority = ci.PriorityNormal
		}
		cfg.ExceptionSensorTypeConfig = &agentconfig.ExceptionSensorTypeConfig{
			MethodSensorTypeConfig: agentconfig.MethodSensorTypeConfig{
				ID:         id,
				Name:       es.Name,
				ClassName:  es.ClassName,
				Priority:   priority,
				Parameters: maps.Clone(es.Parameters),
			},
			Enhanced: es.Enhanced,
		}
		cfg.EnhancedExceptionSensor = es.Enhanced
	}

	for _, r := range resolver.ExcludeRules(profiles) {
		cfg.ExcludeClassPatterns = append(cfg.ExcludeClassPatterns, agentconfig.NewMatchPattern(r.ClassName))
	}

	hash, err := cfg.Hash()
	if err != nil {
		return nil, fmt.Errorf("hash configuration: %w", err)
	}
	cfg.ConfigurationHash = hash

	c.logger.Debug("agent configuration created",
		"platform_id", platformID,
		"environment_id", env.ID,
		"platform_sensors", len(cfg.PlatformSensorTypeConfigs),
		"method_sensors", len(cfg.MethodSensorTypeConfigs),
		"exclude_patterns", len(cfg.ExcludeClassPatterns),
		"hash", hash,
	)
	return cfg, nil
}

func copyStrategy(s ci.StrategyConfig) agentconfig.StrategyConfig {
	return agentconfig.StrategyConfig{ClassName: s.ClassName, Settings: maps.Clone(s.Settings)}
}
