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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenInMemory_PutGet(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.Put(ctx, []byte("diff/s1/a"), []byte("one")))

	val, err := db.Get(ctx, []byte("diff/s1/a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), val)
	assert.True(t, db.InMemory())
	assert.Empty(t, db.Path())
}

func TestGet_NotFound(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Get(context.Background(), []byte("missing"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.GCInterval = time.Hour

	db, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, db.Put(context.Background(), []byte("k"), []byte("v")))
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	db2, err := Open(cfg)
	require.NoError(t, err)
	defer db2.Close()

	val, err := db2.Get(context.Background(), []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)
	assert.Equal(t, dir, db2.Path())
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestScanPrefix(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	for _, k := range []string{"diff/s1/b", "diff/s1/a", "diff/s2/a"} {
		require.NoError(t, db.Put(ctx, []byte(k), []byte(k)))
	}

	var keys []string
	err = db.ScanPrefix(ctx, []byte("diff/s1/"), func(key, value []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"diff/s1/a", "diff/s1/b"}, keys)

	stop := errors.New("stop")
	err = db.ScanPrefix(ctx, []byte("diff/"), func(key, value []byte) error {
		return stop
	})
	assert.ErrorIs(t, err, stop)
}

func TestUpdate_CancelledContext(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, db.Put(ctx, []byte("k"), []byte("v")), context.Canceled)
}
