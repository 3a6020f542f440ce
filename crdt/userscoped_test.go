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
	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/storage"
)

func TestUserScopedOwnerWriteSucceeds(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryEngine()
	owner := ids.PublicKey{0x01}
	u := crdt.NewUserScoped(store, ids.ContextId{1}, owner)

	require.NoError(t, u.Write(ctx, owner, []byte("v1")))

	got, ok, err := u.Value(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), got)
	assert.Equal(t, owner, u.Owner())
}

func TestUserScopedRejectsNonOwnerWrite(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryEngine()
	owner := ids.PublicKey{0x01}
	other := ids.PublicKey{0x02}
	u := crdt.NewUserScoped(store, ids.ContextId{2}, owner)

	err := u.Write(ctx, other, []byte("hijack"))
	require.Error(t, err)
	assert.Equal(t, errors.KindAuthentication, errors.KindOf(err))

	_, ok, err := u.Value(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, u.Write(ctx, owner, []byte("v1")))
	err = u.Write(ctx, other, []byte("v2"))
	require.Error(t, err)
	assert.Equal(t, errors.KindAuthentication, errors.KindOf(err))

	v, _, err := u.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)
}

func TestUserScopedMergeDropsNonOwnerWrite(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryEngine()
	owner := ids.PublicKey{0x01}
	other := ids.PublicKey{0x02}
	u := crdt.NewUserScoped(store, ids.ContextId{3}, owner)

	require.NoError(t, u.Merge(ctx, owner, []byte("v1")))
	require.NoError(t, u.Merge(ctx, other, []byte("hijack")))

	v, ok, err := u.Value(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)
}
