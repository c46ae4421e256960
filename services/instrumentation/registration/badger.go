// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registration

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	kv "github.com/AleutianAI/AleutianAPM/services/instrumentation/storage/badger"
	"github.com/dgraph-io/badger/v4"
)

const (
	identPrefix    = "registry/ident/"
	sequenceKey    = "registry/seq"
	sequenceLeases = 64
)

// BadgerRegistry is a Registry whose identities survive restarts.
//
// Ids come from a badger Sequence; the key to id mapping is stored under
// registry/ident/<key>.
//
// Thread Safety: Safe for concurrent use. Registrations are serialized in
// process.
type BadgerRegistry struct {
	db     *kv.DB
	seq    *badger.Sequence
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

var _ Registry = (*BadgerRegistry)(nil)

// NewBadgerRegistry opens the id sequence on db. The caller keeps ownership
// of db and must close the registry before closing db.
func NewBadgerRegistry(db *kv.DB, logger *slog.Logger) (*BadgerRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	seq, err := db.GetSequence([]byte(sequenceKey), sequenceLeases)
	if err != nil {
		return nil, fmt.Errorf("open id sequence: %w", err)
	}
	return &BadgerRegistry{db: db, seq: seq, logger: logger}, nil
}

func (r *BadgerRegistry) register(ctx context.Context, key string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrRegistryClosed
	}

	var id int64
	err := r.db.WithTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(identPrefix + key))
		switch {
		case err == nil:
			return item.Value(func(val []byte) error {
				if len(val) != 8 {
					return fmt.Errorf("corrupt identity %s", key)
				}
				id = int64(binary.BigEndian.Uint64(val))
				return nil
			})
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		// Sequences start at 0; ids start at 1.
		n, err := r.seq.Next()
		if err != nil {
			return fmt.Errorf("next id: %w", err)
		}
		id = int64(n) + 1
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(id))
		r.logger.Debug("identity registered", "key", key, "id", id)
		return txn.Set([]byte(identPrefix+key), buf)
	})
	if err != nil {
		return 0, fmt.Errorf("register %s: %w", key, err)
	}
	return id, nil
}

// RegisterPlatformIdent implements Registry.
func (r *BadgerRegistry) RegisterPlatformIdent(ctx context.Context, agentName string, ips []string) (int64, error) {
	return r.register(ctx, platformKey(agentName, ips))
}

// RegisterPlatformSensorTypeIdent implements Registry.
func (r *BadgerRegistry) RegisterPlatformSensorTypeIdent(ctx context.Context, platformID int64, className string) (int64, error) {
	return r.register(ctx, platformSensorKey(platformID, className))
}

// RegisterMethodSensorTypeIdent implements Registry.
func (r *BadgerRegistry) RegisterMethodSensorTypeIdent(ctx context.Context, platformID int64, className string, parameters map[string]string) (int64, error) {
	return r.register(ctx, methodSensorKey(platformID, className, parameters))
}

// Close releases the unused part of the sequence lease.
func (r *BadgerRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.seq.Release()
}
