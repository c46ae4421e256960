// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolver decides which environment a connecting agent gets and
// which appliers and exclude rules that environment resolves to.
//
// # Profile skipping
//
// A profile that cannot be loaded, or is inactive, is skipped with a log
// entry; the remaining profiles are still resolved. This is expected during
// editing and never retried. Only a cancelled context aborts resolution.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianAPM/services/instrumentation/applier"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/ci"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/pattern"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// Resolver resolves environments, appliers and exclude rules from a store.
//
// Thread Safety: Safe for concurrent use; it holds no mutable state.
type Resolver struct {
	store  ci.Store
	logger *slog.Logger
}

// New creates a Resolver over store.
func New(store ci.Store, opts ...Option) *Resolver {
	r := &Resolver{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveEnvironmentForAgent returns the environment of the one active
// mapping matching the agent.
//
// Description:
//
//	A mapping matches when it is active, its agent name pattern matches
//	agentName and its address pattern matches at least one of ips. The
//	result never depends on mapping order.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	ips - The agent's addresses.
//	agentName - The agent's name.
//
// Outputs:
//
//	*ci.Environment - The mapped environment.
//	error - ErrNoMapping, ErrAmbiguousMapping or ErrNoEnvironment, each
//	also matching ErrBusiness; or a store error.
func (r *Resolver) ResolveEnvironmentForAgent(ctx context.Context, ips []string, agentName string) (*ci.Environment, error) {
	ctx, span := tracer.Start(ctx, "resolver.ResolveEnvironmentForAgent",
		trace.WithAttributes(
			attribute.String("agent.name", agentName),
			attribute.StringSlice("agent.ips", ips),
		),
	)
	defer span.End()

	env, err := r.resolveEnvironment(ctx, ips, agentName)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		switch {
		case errors.Is(err, ErrNoMapping):
			recordResolution(ctx, "no_mapping")
		case errors.Is(err, ErrAmbiguousMapping):
			recordResolution(ctx, "ambiguous")
		default:
			recordResolution(ctx, "error")
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("environment.id", env.ID))
	recordResolution(ctx, "ok")
	return env, nil
}

func (r *Resolver) resolveEnvironment(ctx context.Context, ips []string, agentName string) (*ci.Environment, error) {
	mappings, err := r.store.AgentMappings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load agent mappings: %w", err)
	}

	var matches []ci.AgentMapping
	for _, m := range mappings {
		if !m.Active {
			continue
		}
		if pattern.Match(m.AgentName, agentName) && pattern.MatchAny(m.IPAddress, ips) {
			matches = append(matches, m)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %w: agent %q with addresses %v", ErrBusiness, ErrNoMapping, agentName, ips)
	case 1:
	default:
		described := make([]string, len(matches))
		for i, m := range matches {
			described[i] = fmt.Sprintf("%s/%s->%s", m.AgentName, m.IPAddress, m.EnvironmentID)
		}
		return nil, fmt.Errorf("%w: %w: agent %q matches %s",
			ErrBusiness, ErrAmbiguousMapping, agentName, strings.Join(described, ", "))
	}

	m := matches[0]
	env, err := r.store.Environment(ctx, m.EnvironmentID)
	if errors.Is(err, ci.ErrEnvironmentNotFound) {
		return nil, fmt.Errorf("%w: %w: agent %q is mapped to %q", ErrBusiness, ErrNoEnvironment, agentName, m.EnvironmentID)
	}
	if err != nil {
		return nil, fmt.Errorf("load environment %s: %w", m.EnvironmentID, err)
	}

	r.logger.Debug("environment resolved",
		"agent_name", agentName,
		"environment_id", env.ID,
	)
	return env, nil
}

// InstrumentationAppliers builds the appliers of env.
//
// Description:
//
//	Loads the usable profiles of env and hands them to AppliersForProfiles.
//
// Outputs:
//
//	[]*applier.Applier - Empty for a nil environment.
//	error - ci.ErrUnknownAssignmentShape for an assignment with an
//	impossible flag combination, or a context error.
func (r *Resolver) InstrumentationAppliers(ctx context.Context, env *ci.Environment) ([]*applier.Applier, error) {
	if env == nil {
		return nil, nil
	}
	profiles, err := r.Profiles(ctx, env)
	if err != nil {
		return nil, err
	}
	return r.AppliersForProfiles(ctx, env, profiles)
}

// AppliersForProfiles builds the appliers of env from profiles already
// loaded by Profiles.
//
// Description:
//
//	Walks profiles in order and converts every method sensor and exception
//	sensor assignment into an applier, then appends the functional appliers
//	of the environment. The order is deterministic for identical input.
//
//	Method assignments naming a sensor the environment does not configure,
//	and exception assignments in an environment without an exception sensor,
//	are skipped with a warning.
//
// Outputs:
//
//	[]*applier.Applier - Empty for a nil environment.
//	error - ci.ErrUnknownAssignmentShape for an assignment with an
//	impossible flag combination.
func (r *Resolver) AppliersForProfiles(ctx context.Context, env *ci.Environment, profiles []*ci.Profile) ([]*applier.Applier, error) {
	if env == nil {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "resolver.AppliersForProfiles",
		trace.WithAttributes(
			attribute.String("environment.id", env.ID),
			attribute.Int("profiles", len(profiles)),
		),
	)
	defer span.End()

	var out []*applier.Applier
	for _, p := range profiles {
		aps, err := r.profileAppliers(env, p)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = append(out, aps...)
	}

	functional, err := FunctionalAppliers(env)
	if err != nil {
		return nil, err
	}
	out = append(out, functional...)

	span.SetAttributes(attribute.Int("appliers", len(out)))
	recordAppliers(ctx, len(out))
	return out, nil
}

func (r *Resolver) profileAppliers(env *ci.Environment, p *ci.Profile) ([]*applier.Applier, error) {
	var out []*applier.Applier
	for _, a := range p.MethodSensorAssignments {
		cfg, ok := env.MethodSensorConfig(a.SensorConfigClassName)
		if !ok {
			r.logger.Warn("method sensor not configured in environment, assignment skipped",
				"environment_id", env.ID,
				"profile_id", p.ID,
				"sensor", a.SensorConfigClassName,
				"class_name", a.ClassName,
			)
			continue
		}
		ap, err := applier.NewMethodSensor(a, cfg)
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", p.ID, err)
		}
		out = append(out, ap)
	}

	for _, a := range p.ExceptionSensorAssignments {
		if env.ExceptionSensorConfig == nil {
			r.logger.Warn("exception sensor not configured in environment, assignment skipped",
				"environment_id", env.ID,
				"profile_id", p.ID,
				"class_name", a.ClassName,
			)
			continue
		}
		ap, err := applier.NewExceptionSensor(a, *env.ExceptionSensorConfig)
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", p.ID, err)
		}
		out = append(out, ap)
	}
	return out, nil
}

// AllExcludeRules collects the exclude rules of every usable profile of env,
// in profile order. Empty for a nil environment.
func (r *Resolver) AllExcludeRules(ctx context.Context, env *ci.Environment) ([]ci.ExcludeRule, error) {
	if env == nil {
		return nil, nil
	}
	profiles, err := r.Profiles(ctx, env)
	if err != nil {
		return nil, err
	}
	return ExcludeRules(profiles), nil
}

// ExcludeRules concatenates the exclude rules of profiles in order.
func ExcludeRules(profiles []*ci.Profile) []ci.ExcludeRule {
	var out []ci.ExcludeRule
	for _, p := range profiles {
		out = append(out, p.ExcludeRules...)
	}
	return out
}

// Profiles loads the usable profiles of env in order.
//
// Description:
//
//	Each profile id is loaded from the store once. Profiles that fail to
//	load or are inactive are skipped with a log entry. Callers that need
//	both appliers and exclude rules load once and pass the result to
//	AppliersForProfiles and ExcludeRules.
//
// Outputs:
//
//	[]*ci.Profile - The active profiles; empty for a nil environment.
//	error - A context error only.
func (r *Resolver) Profiles(ctx context.Context, env *ci.Environment) ([]*ci.Profile, error) {
	if env == nil {
		return nil, nil
	}
	out := make([]*ci.Profile, 0, len(env.ProfileIDs))
	for _, id := range env.ProfileIDs {
		p, err := r.store.Profile(ctx, id)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			reason := "load_error"
			if errors.Is(err, ci.ErrProfileNotFound) {
				reason = "not_found"
			}
			r.logger.Warn("profile skipped",
				"environment_id", env.ID,
				"profile_id", id,
				"reason", reason,
				"error", err,
			)
			recordProfileSkipped(ctx, reason)
			continue
		}
		if !p.Active {
			r.logger.Debug("inactive profile skipped",
				"environment_id", env.ID,
				"profile_id", id,
			)
			recordProfileSkipped(ctx, "inactive")
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
