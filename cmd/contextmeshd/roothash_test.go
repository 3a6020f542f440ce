// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/contextmesh/core/crdt"
	"github.com/contextmesh/core/ids"
)

var errBoom = errors.New("boom")

type fakeApplier struct {
	hash ids.Hash
	err  error
}

func (f *fakeApplier) Apply(_ context.Context, _ ids.ContextId, _ []crdt.Action, _ ids.Hash) (ids.Hash, error) {
	return f.hash, f.err
}

func TestRootHashTrackerRecordsAppliedHash(t *testing.T) {
	contextID := ids.ContextId{1}
	want := ids.Hash{9, 9, 9}
	tracker := newRootHashTracker(&fakeApplier{hash: want})

	got, err := tracker.Apply(context.Background(), contextID, nil, ids.Hash{})
	require.NoError(t, err)
	require.Equal(t, want, got)

	stored, err := tracker.RootHash(context.Background(), contextID)
	require.NoError(t, err)
	require.Equal(t, want, stored)
}

func TestRootHashTrackerDefaultsToZeroHashForUnknownContext(t *testing.T) {
	tracker := newRootHashTracker(&fakeApplier{})
	got, err := tracker.RootHash(context.Background(), ids.ContextId{2})
	require.NoError(t, err)
	require.Equal(t, ids.Hash{}, got)
}

func TestRootHashTrackerDoesNotRecordOnApplierError(t *testing.T) {
	contextID := ids.ContextId{3}
	tracker := newRootHashTracker(&fakeApplier{hash: ids.Hash{1}, err: errBoom})

	_, err := tracker.Apply(context.Background(), contextID, nil, ids.Hash{})
	require.Error(t, err)

	got, err := tracker.RootHash(context.Background(), contextID)
	require.NoError(t, err)
	require.Equal(t, ids.Hash{}, got)
}
