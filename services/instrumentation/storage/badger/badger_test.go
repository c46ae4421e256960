// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.ErrorIs(t, err, ErrPathRequired)
}

func TestJSONRoundTrip(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.WithTxn(ctx, func(txn *badger.Txn) error {
		return PutJSON(txn, "rec/a", record{Name: "a", Count: 1})
	}))

	var got record
	require.NoError(t, db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return GetJSON(txn, "rec/a", &got)
	}))
	assert.Equal(t, record{Name: "a", Count: 1}, got)

	err = db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return GetJSON(txn, "rec/missing", &got)
	})
	assert.True(t, errors.Is(err, badger.ErrKeyNotFound))
}

func TestScanPrefix(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.WithTxn(ctx, func(txn *badger.Txn) error {
		for _, k := range []string{"rec/b", "rec/a", "other/c"} {
			if err := PutJSON(txn, k, record{Name: k}); err != nil {
				return err
			}
		}
		return nil
	}))

	var keys []string
	require.NoError(t, db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return ScanPrefix(txn, "rec/", func(key string, _ []byte) error {
			keys = append(keys, key)
			return nil
		})
	}))
	assert.Equal(t, []string{"rec/a", "rec/b"}, keys)
}

func TestWithTxn_CancelledContext(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err = db.WithTxn(ctx, func(*badger.Txn) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestWithTxn_ErrorDiscards(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	boom := errors.New("boom")
	err = db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := PutJSON(txn, "rec/x", record{}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return GetJSON(txn, "rec/x", &record{})
	})
	assert.ErrorIs(t, err, badger.ErrKeyNotFound)
}

func TestOpen_PersistentWithGC(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Path = dir
	cfg.SyncWrites = false
	cfg.GCInterval = 10 * time.Millisecond

	db, err := Open(cfg)
	require.NoError(t, err)
	assert.Equal(t, dir, db.Path())

	ctx := context.Background()
	require.NoError(t, db.WithTxn(ctx, func(txn *badger.Txn) error {
		return PutJSON(txn, "rec/p", record{Name: "p"})
	}))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	db2, err := Open(cfg)
	require.NoError(t, err)
	defer db2.Close()

	var got record
	require.NoError(t, db2.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return GetJSON(txn, "rec/p", &got)
	}))
	assert.Equal(t, "p", got.Name)
}
