// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextmesh/core/storage"
)

func engines(t *testing.T) map[string]storage.Engine {
	t.Helper()
	badgerEngine, err := storage.OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = badgerEngine.Close() })

	return map[string]storage.Engine{
		"memory": storage.NewMemoryEngine(),
		"badger": badgerEngine,
	}
}

func TestEngineGetPutDelete(t *testing.T) {
	ctx := context.Background()
	for name, eng := range engines(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := eng.Get(ctx, storage.ColumnState, []byte("k"))
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, eng.Put(ctx, storage.ColumnState, []byte("k"), []byte("v")))
			v, ok, err := eng.Get(ctx, storage.ColumnState, []byte("k"))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte("v"), v)

			has, err := eng.Has(ctx, storage.ColumnState, []byte("k"))
			require.NoError(t, err)
			assert.True(t, has)

			require.NoError(t, eng.Delete(ctx, storage.ColumnState, []byte("k")))
			has, err = eng.Has(ctx, storage.ColumnState, []byte("k"))
			require.NoError(t, err)
			assert.False(t, has)
		})
	}
}

func TestEngineIterOrdered(t *testing.T) {
	ctx := context.Background()
	for name, eng := range engines(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, eng.Put(ctx, storage.ColumnState, []byte("prefix-b"), []byte("2")))
			require.NoError(t, eng.Put(ctx, storage.ColumnState, []byte("prefix-a"), []byte("1")))
			require.NoError(t, eng.Put(ctx, storage.ColumnState, []byte("other"), []byte("x")))

			it, err := eng.Iter(ctx, storage.ColumnState, []byte("prefix-"))
			require.NoError(t, err)
			defer it.Close()

			var keys []string
			for it.Next() {
				keys = append(keys, string(it.Entry().Key))
			}
			require.NoError(t, it.Err())
			assert.Equal(t, []string{"prefix-a", "prefix-b"}, keys)
		})
	}
}

func TestEngineColumnsAreIsolated(t *testing.T) {
	ctx := context.Background()
	for name, eng := range engines(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, eng.Put(ctx, storage.ColumnMeta, []byte("k"), []byte("meta")))
			_, ok, err := eng.Get(ctx, storage.ColumnState, []byte("k"))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}
