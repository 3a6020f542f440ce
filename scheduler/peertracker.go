// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package scheduler

import (
	"math/rand"
	"sync"

	libpeer "github.com/libp2p/go-libp2p/core/peer"

	"github.com/contextmesh/core/ids"
)

// PeerHeadTracker remembers the most recent DAG heads each peer reported
// over the heartbeat channel (§4.3), per context. The scheduler consults
// it to prefer syncing with a peer known to be ahead (§4.7's peer choice
// rule) instead of picking blindly.
type PeerHeadTracker struct {
	mu    sync.Mutex
	heads map[ids.ContextId]map[libpeer.ID][]ids.DeltaId
}

// NewPeerHeadTracker returns an empty tracker.
func NewPeerHeadTracker() *PeerHeadTracker {
	return &PeerHeadTracker{heads: make(map[ids.ContextId]map[libpeer.ID][]ids.DeltaId)}
}

// Observe records peer's latest reported heads for contextID, overwriting
// any prior observation.
func (t *PeerHeadTracker) Observe(contextID ids.ContextId, peer libpeer.ID, heads []ids.DeltaId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	byPeer, ok := t.heads[contextID]
	if !ok {
		byPeer = make(map[libpeer.ID][]ids.DeltaId)
		t.heads[contextID] = byPeer
	}
	byPeer[peer] = append([]ids.DeltaId(nil), heads...)
}

// Forget discards every observation for contextID, e.g. when it's dropped.
func (t *PeerHeadTracker) Forget(contextID ids.ContextId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.heads, contextID)
}

func headSet(heads []ids.DeltaId) map[ids.DeltaId]struct{} {
	m := make(map[ids.DeltaId]struct{}, len(heads))
	for _, id := range heads {
		m[id] = struct{}{}
	}
	return m
}

// isStrictlyNewer reports whether peerHeads is a proper superset of
// ourHeads: the peer has every head we have, plus at least one we don't.
func isStrictlyNewer(ourHeads, peerHeads []ids.DeltaId) bool {
	ours := headSet(ourHeads)
	theirs := headSet(peerHeads)
	for id := range ours {
		if _, ok := theirs[id]; !ok {
			return false
		}
	}
	return len(theirs) > len(ours)
}

// Choose implements §4.7's peer choice rule: prefer a peer with strictly
// newer heads than ourHeads; otherwise pick uniformly at random from
// subscribed among rng. Returns false if subscribed is empty.
func (t *PeerHeadTracker) Choose(contextID ids.ContextId, subscribed []libpeer.ID, ourHeads []ids.DeltaId, rng *rand.Rand) (libpeer.ID, bool) {
	if len(subscribed) == 0 {
		return "", false
	}

	t.mu.Lock()
	byPeer := t.heads[contextID]
	t.mu.Unlock()

	for _, p := range subscribed {
		if heads, ok := byPeer[p]; ok && isStrictlyNewer(ourHeads, heads) {
			return p, true
		}
	}

	return subscribed[rng.Intn(len(subscribed))], true
}
