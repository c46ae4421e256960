// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ci

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Store loads and stores configuration-interface records.
//
// Lookups of an unknown id return ErrEnvironmentNotFound or
// ErrProfileNotFound. Returned records are copies. Put operations validate
// the record and return ErrInvalidRecord without storing anything when it
// fails.
//
// Implementations must be safe for concurrent use.
type Store interface {
	AgentMappings(ctx context.Context) ([]AgentMapping, error)
	Environment(ctx context.Context, id string) (*Environment, error)
	Profile(ctx context.Context, id string) (*Profile, error)

	PutEnvironment(ctx context.Context, env *Environment) error
	PutProfile(ctx context.Context, p *Profile) error
	PutAgentMappings(ctx context.Context, mappings []AgentMapping) error
}

// Lister enumerates stored record ids in ascending order.
type Lister interface {
	EnvironmentIDs(ctx context.Context) ([]string, error)
	ProfileIDs(ctx context.Context) ([]string, error)
}

// ListingStore is a Store that can enumerate its records.
type ListingStore interface {
	Store
	Lister
}

// CopyStats counts the records Copy wrote.
type CopyStats struct {
	Environments int
	Profiles     int
	Mappings     int
}

// Copy writes every record of src into dst. dst's agent mappings are
// replaced by src's; other dst records with ids absent from src are kept.
//
// The copy is not atomic: on error, records written so far stay in dst.
func Copy(ctx context.Context, dst Store, src ListingStore) (CopyStats, error) {
	var stats CopyStats

	envIDs, err := src.EnvironmentIDs(ctx)
	if err != nil {
		return stats, err
	}
	for _, id := range envIDs {
		env, err := src.Environment(ctx, id)
		if err != nil {
			return stats, err
		}
		if err := dst.PutEnvironment(ctx, env); err != nil {
			return stats, fmt.Errorf("copy environment %s: %w", id, err)
		}
		stats.Environments++
	}

	profileIDs, err := src.ProfileIDs(ctx)
	if err != nil {
		return stats, err
	}
	for _, id := range profileIDs {
		p, err := src.Profile(ctx, id)
		if err != nil {
			return stats, err
		}
		if err := dst.PutProfile(ctx, p); err != nil {
			return stats, fmt.Errorf("copy profile %s: %w", id, err)
		}
		stats.Profiles++
	}

	mappings, err := src.AgentMappings(ctx)
	if err != nil {
		return stats, err
	}
	if err := dst.PutAgentMappings(ctx, mappings); err != nil {
		return stats, fmt.Errorf("copy agent mappings: %w", err)
	}
	stats.Mappings = len(mappings)
	return stats, nil
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu           sync.RWMutex
	environments map[string]*Environment
	profiles     map[string]*Profile
	mappings     []AgentMapping
}

var _ ListingStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		environments: make(map[string]*Environment),
		profiles:     make(map[string]*Profile),
	}
}

// AgentMappings returns all mappings in insertion order.
func (s *MemoryStore) AgentMappings(ctx context.Context) ([]AgentMapping, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.mappings), nil
}

// Environment returns the environment with the given id.
func (s *MemoryStore) Environment(ctx context.Context, id string) (*Environment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	env, ok := s.environments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEnvironmentNotFound, id)
	}
	return env.Clone(), nil
}

// Profile returns the profile with the given id.
func (s *MemoryStore) Profile(ctx context.Context, id string) (*Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
	}
	return p.Clone(), nil
}

// EnvironmentIDs returns all environment ids, sorted.
func (s *MemoryStore) EnvironmentIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.environments)), nil
}

// ProfileIDs returns all profile ids, sorted.
func (s *MemoryStore) ProfileIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.profiles)), nil
}

// PutEnvironment inserts or replaces an environment.
func (s *MemoryStore) PutEnvironment(ctx context.Context, env *Environment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if env == nil {
		return fmt.Errorf("%w: nil environment", ErrInvalidRecord)
	}
	if err := env.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.environments[env.ID] = env.Clone()
	return nil
}

// PutProfile inserts or replaces a profile.
func (s *MemoryStore) PutProfile(ctx context.Context, p *Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: nil profile", ErrInvalidRecord)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p.Clone()
	return nil
}

// PutAgentMappings replaces the whole mapping list.
func (s *MemoryStore) PutAgentMappings(ctx context.Context, mappings []AgentMapping) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateMappings(mappings); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings = slices.Clone(mappings)
	return nil
}

// Replace swaps all records at once. Used by stores that load complete
// snapshots, such as the file store.
func (s *MemoryStore) Replace(envs []*Environment, profiles []*Profile, mappings []AgentMapping) {
	environments := make(map[string]*Environment, len(envs))
	for _, e := range envs {
		environments[e.ID] = e.Clone()
	}
	profs := make(map[string]*Profile, len(profiles))
	for _, p := range profiles {
		profs[p.ID] = p.Clone()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.environments = environments
	s.profiles = profs
	s.mappings = slices.Clone(mappings)
}
