// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package configuration

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianAPM/services/instrumentation/agentconfig"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/applier"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/ci"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/resolver"
)

// Snapshot is one resolved configuration of an agent. Snapshots are never
// modified after being published.
type Snapshot struct {
	PlatformID    int64
	Environment   *ci.Environment
	Configuration *agentconfig.AgentConfig
	Appliers      []*applier.Applier
	UpdatedAt     time.Time
}

// Holder caches the current Snapshot of one agent.
//
// Readers load the snapshot pointer and never see a partial update; a
// failed Update leaves the previous snapshot in place.
//
// Thread Safety: Safe for concurrent use. Updates are serialized.
type Holder struct {
	creator  *Creator
	resolver *resolver.Resolver

	updateMu sync.Mutex
	current  atomic.Pointer[Snapshot]
}

// NewHolder creates an uninitialized Holder.
func NewHolder(creator *Creator, res *resolver.Resolver) *Holder {
	return &Holder{creator: creator, resolver: res}
}

// Update resolves env for the agent and publishes the result.
//
// Description:
//
//	With a nil env the holder is reset to uninitialized. Otherwise the
//	usable profiles are loaded once, the configuration and the appliers are
//	built from them, and both are published together in one swap.
//
// Outputs:
//
//	error - A creator or resolver error. The previous snapshot is kept.
func (h *Holder) Update(ctx context.Context, env *ci.Environment, platformID int64) error {
	h.updateMu.Lock()
	defer h.updateMu.Unlock()

	if env == nil {
		h.current.Store(nil)
		return nil
	}

	// One load serves both the exclude rules and the appliers.
	profiles, err := h.resolver.Profiles(ctx, env)
	if err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}
	cfg, err := h.creator.ConfigurationForProfiles(ctx, env, platformID, profiles)
	if err != nil {
		return fmt.Errorf("create configuration: %w", err)
	}
	appliers, err := h.resolver.AppliersForProfiles(ctx, env, profiles)
	if err != nil {
		return fmt.Errorf("resolve appliers: %w", err)
	}

	h.current.Store(&Snapshot{
		PlatformID:    platformID,
		Environment:   env.Clone(),
		Configuration: cfg,
		Appliers:      appliers,
		UpdatedAt:     time.Now(),
	})
	return nil
}

// IsInitialized reports whether an environment is cached.
func (h *Holder) IsInitialized() bool {
	return h.current.Load() != nil
}

// Snapshot returns the current snapshot, nil when uninitialized.
func (h *Holder) Snapshot() *Snapshot {
	return h.current.Load()
}

// Environment returns the cached environment, nil when uninitialized.
func (h *Holder) Environment() *ci.Environment {
	if s := h.current.Load(); s != nil {
		return s.Environment
	}
	return nil
}

// AgentConfiguration returns the cached configuration, nil when
// uninitialized.
func (h *Holder) AgentConfiguration() *agentconfig.AgentConfig {
	if s := h.current.Load(); s != nil {
		return s.Configuration
	}
	return nil
}

// Appliers returns a copy of the cached applier list.
func (h *Holder) Appliers() []*applier.Applier {
	if s := h.current.Load(); s != nil {
		return slices.Clone(s.Appliers)
	}
	return nil
}
