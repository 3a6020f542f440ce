// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package crdt_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextmesh/core/crdt"
	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/storage"
)

func TestFrozenSetIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryEngine()
	f := crdt.NewFrozen(store, ids.ContextId{1}, []byte("blob"))

	require.NoError(t, f.Set(ctx, []byte("content")))
	require.NoError(t, f.Set(ctx, []byte("content")))

	v, ok, err := f.Value(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("content"), v)
}

func TestFrozenRejectsDifferentContent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryEngine()
	f := crdt.NewFrozen(store, ids.ContextId{2}, []byte("blob"))

	require.NoError(t, f.Set(ctx, []byte("content")))
	err := f.Set(ctx, []byte("other"))
	require.Error(t, err)

	v, _, err := f.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), v)
}
