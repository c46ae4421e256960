// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package filestore keeps configuration-interface records as YAML files:
//
//	<dir>/environments/<id>.yaml
//	<dir>/profiles/<id>.yaml
//	<dir>/mappings.yaml
//
// The whole directory is loaded into memory. Watch reloads it when files
// change so operators can edit records by hand.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianAPM/services/instrumentation/ci"
	"gopkg.in/yaml.v3"
)

const (
	environmentsDir = "environments"
	profilesDir     = "profiles"
	mappingsFile    = "mappings.yaml"
	yamlExt         = ".yaml"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDebounce sets how long Watch waits for more events before reloading.
// Defaults to 200ms.
func WithDebounce(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// Store is a ci.Store over a YAML directory.
//
// Thread Safety: Safe for concurrent use. Writes are serialized; reads are
// served from the in-memory snapshot.
type Store struct {
	dir      string
	logger   *slog.Logger
	debounce time.Duration

	writeMu sync.Mutex
	mem     *ci.MemoryStore
}

var _ ci.ListingStore = (*Store)(nil)

// Open creates the directory layout if needed and loads all records.
//
// Errors: filesystem errors, YAML errors, or ci.ErrInvalidRecord when a
// file holds an invalid record. Nothing is served from a partial load.
func Open(ctx context.Context, dir string, opts ...Option) (*Store, error) {
	s := &Store{
		dir:      dir,
		logger:   slog.Default(),
		debounce: 200 * time.Millisecond,
		mem:      ci.NewMemoryStore(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, sub := range []string{environmentsDir, profilesDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o750); err != nil {
			return nil, fmt.Errorf("create %s: %w", sub, err)
		}
	}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Reload reads the whole directory and swaps the in-memory snapshot. On
// error the previous snapshot stays in place.
func (s *Store) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var envs []*ci.Environment
	err := readDir(filepath.Join(s.dir, environmentsDir), func(path string) error {
		var env ci.Environment
		if err := readYAML(path, &env); err != nil {
			return err
		}
		if err := env.Validate(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		envs = append(envs, &env)
		return nil
	})
	if err != nil {
		return err
	}

	var profiles []*ci.Profile
	err = readDir(filepath.Join(s.dir, profilesDir), func(path string) error {
		var p ci.Profile
		if err := readYAML(path, &p); err != nil {
			return err
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		profiles = append(profiles, &p)
		return nil
	})
	if err != nil {
		return err
	}

	var mappings []ci.AgentMapping
	if err := readYAML(filepath.Join(s.dir, mappingsFile), &mappings); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := ci.ValidateMappings(mappings); err != nil {
		return fmt.Errorf("%s: %w", mappingsFile, err)
	}

	s.mem.Replace(envs, profiles, mappings)
	s.logger.Debug("configuration store loaded",
		"dir", s.dir,
		"environments", len(envs),
		"profiles", len(profiles),
		"mappings", len(mappings),
	)
	return nil
}

// EnvironmentIDs returns the loaded environment ids, sorted.
func (s *Store) EnvironmentIDs(ctx context.Context) ([]string, error) {
	return s.mem.EnvironmentIDs(ctx)
}

// ProfileIDs returns the loaded profile ids, sorted.
func (s *Store) ProfileIDs(ctx context.Context) ([]string, error) {
	return s.mem.ProfileIDs(ctx)
}

// AgentMappings returns the loaded mappings in file order.
func (s *Store) AgentMappings(ctx context.Context) ([]ci.AgentMapping, error) {
	return s.mem.AgentMappings(ctx)
}

// Environment returns the environment with the given id.
func (s *Store) Environment(ctx context.Context, id string) (*ci.Environment, error) {
	return s.mem.Environment(ctx, id)
}

// Profile returns the profile with the given id.
func (s *Store) Profile(ctx context.Context, id string) (*ci.Profile, error) {
	return s.mem.Profile(ctx, id)
}

// PutEnvironment writes environments/<id>.yaml and updates the snapshot.
func (s *Store) PutEnvironment(ctx context.Context, env *ci.Environment) error {
	if env == nil {
		return fmt.Errorf("%w: nil environment", ci.ErrInvalidRecord)
	}
	if err := env.Validate(); err != nil {
		return err
	}
	path, err := s.recordPath(environmentsDir, env.ID)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := writeYAML(path, env); err != nil {
		return err
	}
	return s.mem.PutEnvironment(ctx, env)
}

// PutProfile writes profiles/<id>.yaml and updates the snapshot.
func (s *Store) PutProfile(ctx context.Context, p *ci.Profile) error {
	if p == nil {
		return fmt.Errorf("%w: nil profile", ci.ErrInvalidRecord)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	path, err := s.recordPath(profilesDir, p.ID)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := writeYAML(path, p); err != nil {
		return err
	}
	return s.mem.PutProfile(ctx, p)
}

// PutAgentMappings rewrites mappings.yaml and updates the snapshot.
func (s *Store) PutAgentMappings(ctx context.Context, mappings []ci.AgentMapping) error {
	if err := ci.ValidateMappings(mappings); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := writeYAML(filepath.Join(s.dir, mappingsFile), mappings); err != nil {
		return err
	}
	return s.mem.PutAgentMappings(ctx, mappings)
}

func (s *Store) recordPath(sub, id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("%w: id %q is not a valid file name", ci.ErrInvalidRecord, id)
	}
	return filepath.Join(s.dir, sub, id+yamlExt), nil
}

// =============================================================================
// YAML helpers
// =============================================================================

func readDir(dir string, fn func(path string) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != yamlExt {
			continue
		}
		if err := fn(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// writeYAML writes through a temp file and rename so readers and the
// watcher never see a half-written document.
func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
