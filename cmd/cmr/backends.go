// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianAPM/cmd/cmr/config"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/ci"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/ci/badgerstore"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/ci/filestore"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/registration"
	kv "github.com/AleutianAI/AleutianAPM/services/instrumentation/storage/badger"
)

// backends are the store and registry selected by the config.
type backends struct {
	db       *kv.DB
	store    ci.ListingStore
	files    *filestore.Store
	registry registration.Registry
}

// openBackends opens the configured store. With withRegistry false the
// registry is an in-memory one, so dry runs never allocate persistent ids.
func openBackends(ctx context.Context, cfg config.Config, logger *slog.Logger, withRegistry bool) (*backends, error) {
	b := &backends{}

	needDB := cfg.Store.Kind == config.StoreBadger || (withRegistry && cfg.Registry.Kind == config.StoreBadger)
	if needDB {
		dbCfg := kv.DefaultConfig()
		dbCfg.Path = cfg.Badger.Path
		dbCfg.SyncWrites = cfg.Badger.SyncWrites
		dbCfg.GCInterval = cfg.Badger.GCInterval
		dbCfg.Logger = logger
		db, err := kv.Open(dbCfg)
		if err != nil {
			return nil, fmt.Errorf("open badger: %w", err)
		}
		b.db = db
	}

	switch cfg.Store.Kind {
	case config.StoreFile:
		files, err := filestore.Open(ctx, cfg.Store.Dir,
			filestore.WithLogger(logger),
			filestore.WithDebounce(cfg.Store.WatchDebounce),
		)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("open file store: %w", err)
		}
		b.files = files
		b.store = files
	case config.StoreBadger:
		b.store = badgerstore.New(b.db)
	default:
		b.store = ci.NewMemoryStore()
	}

	if withRegistry && cfg.Registry.Kind == config.StoreBadger {
		reg, err := registration.NewBadgerRegistry(b.db, logger)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("open registry: %w", err)
		}
		b.registry = reg
	} else {
		b.registry = registration.NewMemoryRegistry()
	}
	return b, nil
}

// Close releases the registry and then the database.
func (b *backends) Close() error {
	var errs []error
	if b.registry != nil {
		errs = append(errs, b.registry.Close())
	}
	if b.db != nil {
		errs = append(errs, b.db.Close())
	}
	return errors.Join(errs...)
}
