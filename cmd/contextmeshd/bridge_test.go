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
	"testing"

	libpeer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"github.com/contextmesh/core/broadcast"
	"github.com/contextmesh/core/deltastore"
	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/logging"
	"github.com/contextmesh/core/storage"
)

func newTestDeltaStore(t *testing.T) *deltastore.DeltaStore {
	t.Helper()
	applier := &fakeApplier{}
	return deltastore.NewDeltaStore(storage.NewMemoryEngine(), applier, plaintextDecryptor{}, logging.MustNewLogger("test"))
}

type plaintextDecryptor struct{}

func (plaintextDecryptor) Decrypt(_ context.Context, _ ids.ContextId, _ ids.PublicKey, _ ids.Nonce, ciphertext []byte) ([]byte, error) {
	return ciphertext, nil
}

func TestDeltaSubmitterHandsGossipedDeltaToStore(t *testing.T) {
	store := newTestDeltaStore(t)
	submitter := &deltaSubmitter{store: store, log: logging.MustNewLogger("test")}

	contextID := ids.ContextId{1}
	msg := broadcast.StateDelta{
		ContextID: contextID,
		DeltaID:   ids.DeltaId{1},
		Artifact:  []byte("payload"),
	}

	submitter.HandleStateDelta(context.Background(), libpeer.ID("peer-a"), msg)

	heads, err := store.Heads(context.Background(), contextID)
	require.NoError(t, err)
	require.Contains(t, heads, ids.DeltaId{1})
}

func TestLocalStateReflectsRootHashTrackerAndStore(t *testing.T) {
	store := newTestDeltaStore(t)
	roots := newRootHashTracker(&fakeApplier{hash: ids.Hash{7}})
	local := &localState{store: store, roots: roots}

	contextID := ids.ContextId{2}
	_, err := roots.Apply(context.Background(), contextID, nil, ids.Hash{})
	require.NoError(t, err)

	got, err := local.RootHash(context.Background(), contextID)
	require.NoError(t, err)
	require.Equal(t, ids.Hash{7}, got)

	heads, err := local.Heads(context.Background(), contextID)
	require.NoError(t, err)
	require.Empty(t, heads)
}

func TestSchedulerTriggerRequiresASchedulerToForwardTo(t *testing.T) {
	trigger := &schedulerTrigger{}
	// RequestSync calls straight through to its scheduler; with none set
	// (the construction-order shell newNode starts from) it panics
	// rather than silently dropping the request.
	require.Panics(t, func() {
		trigger.RequestSync(context.Background(), ids.ContextId{1}, nil)
	})
}
