// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badgerstore persists configuration-interface records in BadgerDB.
//
// Layout, one JSON document per key:
//
//	env/<id>      Environment
//	profile/<id>  Profile
//	mappings      []AgentMapping
package badgerstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianAPM/services/instrumentation/ci"
	kv "github.com/AleutianAI/AleutianAPM/services/instrumentation/storage/badger"
	"github.com/dgraph-io/badger/v4"
)

const (
	environmentPrefix = "env/"
	profilePrefix     = "profile/"
	mappingsKey       = "mappings"
)

// Store is a ci.Store backed by BadgerDB.
//
// Thread Safety: Safe for concurrent use; every call is one badger
// transaction.
type Store struct {
	db *kv.DB
}

var _ ci.ListingStore = (*Store)(nil)

// New wraps an opened database. The caller keeps ownership of db.
func New(db *kv.DB) *Store {
	return &Store{db: db}
}

// AgentMappings returns the stored mapping list, empty if none was stored.
func (s *Store) AgentMappings(ctx context.Context) ([]ci.AgentMapping, error) {
	var out []ci.AgentMapping
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		err := kv.GetJSON(txn, mappingsKey, &out)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load agent mappings: %w", err)
	}
	return out, nil
}

// Environment returns the environment with the given id.
func (s *Store) Environment(ctx context.Context, id string) (*ci.Environment, error) {
	var env ci.Environment
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return kv.GetJSON(txn, environmentPrefix+id, &env)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ci.ErrEnvironmentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load environment %s: %w", id, err)
	}
	return &env, nil
}

// Profile returns the profile with the given id.
func (s *Store) Profile(ctx context.Context, id string) (*ci.Profile, error) {
	var p ci.Profile
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return kv.GetJSON(txn, profilePrefix+id, &p)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ci.ErrProfileNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", id, err)
	}
	return &p, nil
}

// PutEnvironment validates and stores env.
func (s *Store) PutEnvironment(ctx context.Context, env *ci.Environment) error {
	if env == nil {
		return fmt.Errorf("%w: nil environment", ci.ErrInvalidRecord)
	}
	if err := env.Validate(); err != nil {
		return err
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return kv.PutJSON(txn, environmentPrefix+env.ID, env)
	})
}

// PutProfile validates and stores p.
func (s *Store) PutProfile(ctx context.Context, p *ci.Profile) error {
	if p == nil {
		return fmt.Errorf("%w: nil profile", ci.ErrInvalidRecord)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return kv.PutJSON(txn, profilePrefix+p.ID, p)
	})
}

// PutAgentMappings validates and replaces the mapping list.
func (s *Store) PutAgentMappings(ctx context.Context, mappings []ci.AgentMapping) error {
	if err := ci.ValidateMappings(mappings); err != nil {
		return err
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return kv.PutJSON(txn, mappingsKey, mappings)
	})
}

// EnvironmentIDs lists the ids of all stored environments in key order.
func (s *Store) EnvironmentIDs(ctx context.Context) ([]string, error) {
	ids, err := s.ids(ctx, environmentPrefix)
	if err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}
	return ids, nil
}

// ProfileIDs lists the ids of all stored profiles in key order.
func (s *Store) ProfileIDs(ctx context.Context) ([]string, error) {
	ids, err := s.ids(ctx, profilePrefix)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return ids, nil
}

func (s *Store) ids(ctx context.Context, prefix string) ([]string, error) {
	ids := []string{}
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return kv.ScanPrefix(txn, prefix, func(key string, _ []byte) error {
			ids = append(ids, key[len(prefix):])
			return nil
		})
	})
	return ids, err
}
