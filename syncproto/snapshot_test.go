// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package syncproto_test

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextmesh/core/dag"
	"github.com/contextmesh/core/hlc"
	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/storage"
	"github.com/contextmesh/core/syncproto"
)

type fakeBuffer struct {
	began bool
	ended bool
}

func (b *fakeBuffer) BeginSnapshotSync(ids.ContextId, hlc.Timestamp, int) { b.began = true }
func (b *fakeBuffer) EndSnapshotSync(context.Context, ids.ContextId) error {
	b.ended = true
	return nil
}

func TestSnapshotInstallsResponderStateAndHeads(t *testing.T) {
	ctx := context.Background()
	contextID := ids.ContextId{1}

	responderStore := storage.NewMemoryEngine()
	putState(t, responderStore, contextID, "entity/1", "v1")
	putState(t, responderStore, contextID, "entity/2", "v2")
	responderDAG := dag.NewDeltaDAG(responderStore)
	_, err := responderDAG.AddDelta(ctx, contextID, dag.Delta{ID: mustDeltaID(1)})
	require.NoError(t, err)

	initiatorStore := storage.NewMemoryEngine()
	putState(t, initiatorStore, contextID, "entity/stale", "old")
	initiatorDAG := dag.NewDeltaDAG(initiatorStore)
	buf := &fakeBuffer{}

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	initiator := &syncproto.Snapshot{Store: initiatorStore, DAG: initiatorDAG, Clock: hlc.NewClock(), Buf: buf}
	responder := &syncproto.Snapshot{Store: responderStore, DAG: responderDAG, Clock: hlc.NewClock(), Buf: buf}

	type result struct {
		report syncproto.Report
		err    error
	}
	initDone := make(chan result, 1)
	respDone := make(chan result, 1)

	go func() {
		r, err := initiator.RunInitiator(ctx, clientConn, contextID)
		initDone <- result{r, err}
	}()
	go func() {
		r, err := responder.RunResponder(ctx, serverConn, contextID)
		respDone <- result{r, err}
	}()

	initRes := <-initDone
	respRes := <-respDone
	require.NoError(t, initRes.err)
	require.NoError(t, respRes.err)
	assert.Equal(t, 2, initRes.report.EntitiesMerged)
	assert.True(t, buf.began)
	assert.True(t, buf.ended)

	v, ok, err := initiatorStore.Get(ctx, storage.ColumnState, storage.ContextStateKey(contextID[:], []byte("entity/1")))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	_, ok, err = initiatorStore.Get(ctx, storage.ColumnState, storage.ContextStateKey(contextID[:], []byte("entity/stale")))
	require.NoError(t, err)
	assert.False(t, ok, "stale pre-snapshot state must be wiped by the atomic replace")

	heads, err := initiatorDAG.GetHeads(ctx, contextID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []ids.DeltaId{mustDeltaID(1)}, heads)
}

func TestSnapshotPagesLargeStateAcrossMultipleFrames(t *testing.T) {
	ctx := context.Background()
	contextID := ids.ContextId{2}

	responderStore := storage.NewMemoryEngine()
	for i := 0; i < syncproto.SnapshotPageSize+10; i++ {
		key := string(rune('a')) + string(rune(i%26)) + string(rune(i/26))
		putState(t, responderStore, contextID, key, "v")
	}
	responderDAG := dag.NewDeltaDAG(responderStore)

	initiatorStore := storage.NewMemoryEngine()
	initiatorDAG := dag.NewDeltaDAG(initiatorStore)
	buf := &fakeBuffer{}

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	initiator := &syncproto.Snapshot{Store: initiatorStore, DAG: initiatorDAG, Clock: hlc.NewClock(), Buf: buf}
	responder := &syncproto.Snapshot{Store: responderStore, DAG: responderDAG, Clock: hlc.NewClock(), Buf: buf}

	type result struct {
		report syncproto.Report
		err    error
	}
	initDone := make(chan result, 1)
	respDone := make(chan result, 1)

	go func() {
		r, err := initiator.RunInitiator(ctx, clientConn, contextID)
		initDone <- result{r, err}
	}()
	go func() {
		r, err := responder.RunResponder(ctx, serverConn, contextID)
		respDone <- result{r, err}
	}()

	initRes := <-initDone
	respRes := <-respDone
	require.NoError(t, initRes.err)
	require.NoError(t, respRes.err)
	assert.Equal(t, syncproto.SnapshotPageSize+10, initRes.report.EntitiesMerged)
	assert.Greater(t, respRes.report.RequestsSent, 1)
}
