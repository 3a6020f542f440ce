// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package broadcast

import (
	"context"

	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/logging"
)

// LocalState answers the questions needed to run the §4.3 divergence
// check against a peer's heartbeat. Implemented by an adapter over
// dag.DeltaDAG plus whatever tracks the context's current root hash at
// the composition root.
type LocalState interface {
	RootHash(ctx context.Context, contextID ids.ContextId) (ids.Hash, error)
	Heads(ctx context.Context, contextID ids.ContextId) ([]ids.DeltaId, error)
}

// SyncRequester is asked to start a sync when a heartbeat reveals heads
// we don't have (routed to C9, the sync scheduler).
type SyncRequester interface {
	RequestSync(ctx context.Context, contextID ids.ContextId, missingHeads []ids.DeltaId)
}

// DivergenceDetector implements HeartbeatSink by running the §4.3
// comparison: equal heads with differing root hash is a correctness bug
// worth alerting on; heads we don't recognize trigger a sync.
type DivergenceDetector struct {
	local LocalState
	sync  SyncRequester
	log   *logging.Logger
}

// NewDivergenceDetector builds a HeartbeatSink wired to local DAG state
// and the sync scheduler.
func NewDivergenceDetector(local LocalState, sync SyncRequester, log *logging.Logger) *DivergenceDetector {
	return &DivergenceDetector{local: local, sync: sync, log: log}
}

func sameHeadSet(a, b []ids.DeltaId) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[ids.DeltaId]struct{}, len(a))
	for _, id := range a {
		seen[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := seen[id]; !ok {
			return false
		}
	}
	return true
}

func missingFrom(ours, peerHeads []ids.DeltaId) []ids.DeltaId {
	have := make(map[ids.DeltaId]struct{}, len(ours))
	for _, id := range ours {
		have[id] = struct{}{}
	}
	var missing []ids.DeltaId
	for _, id := range peerHeads {
		if _, ok := have[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// HandleHeartbeat implements HeartbeatSink.
func (d *DivergenceDetector) HandleHeartbeat(ctx context.Context, contextID ids.ContextId, peer HashHeartbeat) {
	ourRoot, err := d.local.RootHash(ctx, contextID)
	if err != nil {
		d.log.ErrorE(ctx, "failed to read local root hash for heartbeat comparison", err)
		return
	}
	ourHeads, err := d.local.Heads(ctx, contextID)
	if err != nil {
		d.log.ErrorE(ctx, "failed to read local dag heads for heartbeat comparison", err)
		return
	}

	if sameHeadSet(ourHeads, peer.DagHeads) {
		if ourRoot != peer.RootHash {
			d.log.Error(ctx, "state divergence detected: equal dag heads but different root hash",
				logging.NewKV("ContextID", contextID),
				logging.NewKV("OurRootHash", ourRoot),
				logging.NewKV("PeerRootHash", peer.RootHash),
			)
		}
		return
	}

	missing := missingFrom(ourHeads, peer.DagHeads)
	if len(missing) > 0 && d.sync != nil {
		d.sync.RequestSync(ctx, contextID, missing)
	}
}
