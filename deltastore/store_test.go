// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package deltastore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextmesh/core/crdt"
	"github.com/contextmesh/core/dag"
	"github.com/contextmesh/core/deltastore"
	"github.com/contextmesh/core/hlc"
	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/logging"
	"github.com/contextmesh/core/storage"
)

type plaintextDecryptor struct{}

func (plaintextDecryptor) Decrypt(_ context.Context, _ ids.ContextId, _ ids.PublicKey, _ ids.Nonce, ciphertext []byte) ([]byte, error) {
	return ciphertext, nil
}

type recordingApplier struct {
	calls [][]crdt.Action
}

func (a *recordingApplier) Apply(_ context.Context, _ ids.ContextId, payload []crdt.Action, expected ids.Hash) (ids.Hash, error) {
	a.calls = append(a.calls, payload)
	return expected, nil
}

func newTestStore(applier *recordingApplier) *deltastore.DeltaStore {
	return deltastore.NewDeltaStore(storage.NewMemoryEngine(), applier, plaintextDecryptor{}, logging.MustNewLogger("test"))
}

func bufferedFor(id byte, parents []ids.DeltaId, ts hlc.Timestamp) deltastore.BufferedDelta {
	var deltaID ids.DeltaId
	deltaID[0] = id
	return deltastore.BufferedDelta{
		ID:      deltaID,
		Parents: parents,
		HLC:     ts,
		Payload: dag.EncodeActions(nil),
	}
}

func TestSubmitAppliesImmediatelyWhenNotBuffering(t *testing.T) {
	ctx := context.Background()
	applier := &recordingApplier{}
	s := newTestStore(applier)
	contextID := ids.ContextId{1}

	outcome, err := s.Submit(ctx, contextID, bufferedFor(1, nil, 1))
	require.NoError(t, err)
	assert.Equal(t, deltastore.OutcomeApplied, outcome)
	assert.Len(t, applier.calls, 1)
}

func TestSubmitReturnsMissingParents(t *testing.T) {
	ctx := context.Background()
	applier := &recordingApplier{}
	s := newTestStore(applier)
	contextID := ids.ContextId{1}

	var missing ids.DeltaId
	missing[0] = 9
	outcome, err := s.Submit(ctx, contextID, bufferedFor(2, []ids.DeltaId{missing}, 1))
	require.Error(t, err)
	assert.Equal(t, deltastore.OutcomeMissingParents, outcome)
	assert.Empty(t, applier.calls)
}

func TestSubmitDuplicateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	applier := &recordingApplier{}
	s := newTestStore(applier)
	contextID := ids.ContextId{1}

	bd := bufferedFor(3, nil, 1)
	_, err := s.Submit(ctx, contextID, bd)
	require.NoError(t, err)

	outcome, err := s.Submit(ctx, contextID, bd)
	require.NoError(t, err)
	assert.Equal(t, deltastore.OutcomeDuplicate, outcome)
	assert.Len(t, applier.calls, 1)
}

func TestBufferingHoldsDeltasUntilSnapshotSyncEnds(t *testing.T) {
	ctx := context.Background()
	applier := &recordingApplier{}
	s := newTestStore(applier)
	contextID := ids.ContextId{1}

	s.BeginSnapshotSync(contextID, 0, 10)
	assert.True(t, s.IsBuffering(contextID))

	outcome, err := s.Submit(ctx, contextID, bufferedFor(1, nil, 5))
	require.NoError(t, err)
	assert.Equal(t, deltastore.OutcomeBuffered, outcome)
	assert.Empty(t, applier.calls)

	outcome, err = s.Submit(ctx, contextID, bufferedFor(2, nil, 2))
	require.NoError(t, err)
	assert.Equal(t, deltastore.OutcomeBuffered, outcome)

	require.NoError(t, s.EndSnapshotSync(ctx, contextID))
	assert.False(t, s.IsBuffering(contextID))
	require.Len(t, applier.calls, 2)

	heads, err := s.Heads(ctx, contextID)
	require.NoError(t, err)
	assert.Len(t, heads, 2)
}

func TestBufferOverflowReturnsFatalError(t *testing.T) {
	ctx := context.Background()
	applier := &recordingApplier{}
	s := newTestStore(applier)
	contextID := ids.ContextId{1}

	s.BeginSnapshotSync(contextID, 0, 1)
	_, err := s.Submit(ctx, contextID, bufferedFor(1, nil, 1))
	require.NoError(t, err)

	_, err = s.Submit(ctx, contextID, bufferedFor(2, nil, 2))
	require.Error(t, err)
}
