// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	libpeer "github.com/libp2p/go-libp2p/core/peer"

	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/logging"
	"github.com/contextmesh/core/scheduler"
	"github.com/contextmesh/core/syncproto"
)

type stubTopicPeers struct {
	peers []libpeer.ID
}

func (s stubTopicPeers) Peers(ids.ContextId) []libpeer.ID { return s.peers }

type stubLocalHeads struct{ heads []ids.DeltaId }

func (s stubLocalHeads) Heads(context.Context, ids.ContextId) ([]ids.DeltaId, error) {
	return s.heads, nil
}

type countingSyncer struct {
	calls    int32
	fail     bool
	released chan struct{}
	block    bool
}

func (c *countingSyncer) Sync(ctx context.Context, contextID ids.ContextId, peer libpeer.ID) (syncproto.Report, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.block {
		<-c.released
	}
	if c.fail {
		return syncproto.Report{}, assert.AnError
	}
	return syncproto.Report{Protocol: syncproto.ProtocolDeltaCatchup}, nil
}

func newTestScheduler(syncer scheduler.Syncer, peer libpeer.ID) *scheduler.Scheduler {
	topics := stubTopicPeers{peers: []libpeer.ID{peer}}
	local := stubLocalHeads{}
	tracker := scheduler.NewPeerHeadTracker()
	log := logging.MustNewLogger("scheduler-test")
	return scheduler.New(syncer, topics, local, tracker, log, 1)
}

func TestTriggerRunsASyncAndRecordsSuccess(t *testing.T) {
	syncer := &countingSyncer{}
	s := newTestScheduler(syncer, "peer-1")
	contextID := ids.ContextId{1}

	s.Trigger(context.Background(), contextID)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&syncer.calls) == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return s.State(contextID).SuccessCount == 1 }, time.Second, time.Millisecond)

	st := s.State(contextID)
	assert.Equal(t, syncproto.ProtocolDeltaCatchup, st.LastProtocol)
	assert.Equal(t, libpeer.ID("peer-1"), st.LastPeer)
}

func TestTriggerCoalescesWhileSyncInFlight(t *testing.T) {
	syncer := &countingSyncer{block: true, released: make(chan struct{})}
	s := newTestScheduler(syncer, "peer-1")
	contextID := ids.ContextId{1}

	s.Trigger(context.Background(), contextID)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&syncer.calls) == 1 }, time.Second, time.Millisecond)

	// Three more triggers while the first sync is still blocked in-flight
	// must coalesce into at most one extra run.
	s.Trigger(context.Background(), contextID)
	s.Trigger(context.Background(), contextID)
	s.Trigger(context.Background(), contextID)

	close(syncer.released)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&syncer.calls) == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&syncer.calls))
}

func TestTriggerHonorsBackoffAfterFailure(t *testing.T) {
	syncer := &countingSyncer{fail: true}
	s := newTestScheduler(syncer, "peer-1")
	contextID := ids.ContextId{1}

	s.Trigger(context.Background(), contextID)
	require.Eventually(t, func() bool { return s.State(contextID).FailureCount == 1 }, time.Second, time.Millisecond)

	// Immediately retriggering should be dropped: backoff after one
	// failure is 2 seconds.
	s.Trigger(context.Background(), contextID)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&syncer.calls))
}

func TestTriggerWithNoCandidatePeersIsANoop(t *testing.T) {
	syncer := &countingSyncer{}
	topics := stubTopicPeers{}
	local := stubLocalHeads{}
	tracker := scheduler.NewPeerHeadTracker()
	log := logging.MustNewLogger("scheduler-test")
	s := scheduler.New(syncer, topics, local, tracker, log, 1)

	s.Trigger(context.Background(), ids.ContextId{1})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&syncer.calls))
}
