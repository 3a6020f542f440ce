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
	"context"
	"math/rand"
	"sync"
	"time"

	libpeer "github.com/libp2p/go-libp2p/core/peer"

	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/logging"
	"github.com/contextmesh/core/syncproto"
)

// Syncer opens an authenticated stream to peer and drives it to
// convergence: the C6 handshake, the C8 selection step, and whichever
// protocol Select picked. A Syncer call that returns (zero Report, nil)
// means Select decided no sync was needed.
type Syncer interface {
	Sync(ctx context.Context, contextID ids.ContextId, peer libpeer.ID) (syncproto.Report, error)
}

// TopicPeers lists the peers currently subscribed to a context's gossip
// topic, the candidate pool §4.7's peer choice draws from.
type TopicPeers interface {
	Peers(contextID ids.ContextId) []libpeer.ID
}

// LocalHeads reports this node's current DAG heads for a context, used
// to judge whether a candidate peer is "strictly newer".
type LocalHeads interface {
	Heads(ctx context.Context, contextID ids.ContextId) ([]ids.DeltaId, error)
}

type contextEntry struct {
	mu      sync.Mutex
	state   State
	running bool
	pending bool
}

// Scheduler implements C9 (§4.7): per-context sync triggering with a
// single-concurrent-sync guard, pending-attempt coalescing, exponential
// backoff, and heartbeat-informed peer choice.
type Scheduler struct {
	syncer Syncer
	topics TopicPeers
	local  LocalHeads
	peers  *PeerHeadTracker
	log    *logging.Logger

	entriesMu sync.Mutex
	entries   map[ids.ContextId]*contextEntry

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New returns a Scheduler. rngSeed fixes the peer-choice tie-break for
// reproducible simulation runs (§4.7); pass a time-derived seed in
// production.
func New(syncer Syncer, topics TopicPeers, local LocalHeads, peers *PeerHeadTracker, log *logging.Logger, rngSeed int64) *Scheduler {
	return &Scheduler{
		syncer:  syncer,
		topics:  topics,
		local:   local,
		peers:   peers,
		log:     log,
		entries: make(map[ids.ContextId]*contextEntry),
		rng:     rand.New(rand.NewSource(rngSeed)),
	}
}

func (s *Scheduler) entry(contextID ids.ContextId) *contextEntry {
	s.entriesMu.Lock()
	defer s.entriesMu.Unlock()
	e, ok := s.entries[contextID]
	if !ok {
		e = &contextEntry{}
		s.entries[contextID] = e
	}
	return e
}

// State returns a copy of contextID's current tracked sync state, for
// diagnostics and the `sync` RPC's report.
func (s *Scheduler) State(contextID ids.ContextId) State {
	e := s.entry(contextID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Trigger requests a sync for contextID. If one is already running, this
// attempt is coalesced into a single pending flag rather than starting a
// second concurrent sync (§4.7). Backoff from a prior failure is
// honored: a trigger arriving before the backoff window elapses is
// dropped silently, matching "the next sync for that context is
// delayed" rather than queued.
func (s *Scheduler) Trigger(ctx context.Context, contextID ids.ContextId) {
	e := s.entry(contextID)

	e.mu.Lock()
	if e.running {
		e.pending = true
		e.mu.Unlock()
		return
	}
	if !e.state.LastSync.IsZero() && e.state.FailureCount > 0 {
		if time.Since(e.state.LastSync) < e.state.BackoffDelay() {
			e.mu.Unlock()
			return
		}
	}
	e.running = true
	e.mu.Unlock()

	go s.run(ctx, contextID, e)
}

// Forget drops all tracked state for contextID (dropped context, §4.7's
// cancellation clause) and stops it from being resurrected by a stale
// pending flag.
func (s *Scheduler) Forget(contextID ids.ContextId) {
	s.entriesMu.Lock()
	delete(s.entries, contextID)
	s.entriesMu.Unlock()
	s.peers.Forget(contextID)
}

func (s *Scheduler) run(ctx context.Context, contextID ids.ContextId, e *contextEntry) {
	for {
		s.attempt(ctx, contextID, e)

		e.mu.Lock()
		if !e.pending || ctx.Err() != nil {
			e.running = false
			e.pending = false
			e.mu.Unlock()
			return
		}
		e.pending = false
		e.mu.Unlock()
	}
}

func (s *Scheduler) attempt(ctx context.Context, contextID ids.ContextId, e *contextEntry) {
	candidates := s.topics.Peers(contextID)
	if len(candidates) == 0 {
		return
	}

	ourHeads, err := s.local.Heads(ctx, contextID)
	if err != nil {
		s.recordFailure(e, err.Error())
		return
	}

	s.rngMu.Lock()
	peer, ok := s.peers.Choose(contextID, candidates, ourHeads, s.rng)
	s.rngMu.Unlock()
	if !ok {
		return
	}

	report, err := s.syncer.Sync(ctx, contextID, peer)
	if err != nil {
		s.log.ErrorE(ctx, "sync attempt failed", err,
			logging.NewKV("context_id", contextID), logging.NewKV("peer", peer))
		s.recordFailure(e, err.Error())
		return
	}

	e.mu.Lock()
	e.state.OnSuccess(peer, report.Protocol, time.Now())
	e.mu.Unlock()
}

func (s *Scheduler) recordFailure(e *contextEntry, reason string) {
	e.mu.Lock()
	e.state.OnFailure(reason, time.Now())
	e.mu.Unlock()
}

// Sweep triggers a sync for every context currently known to topics,
// for the periodic background pass §4.7 names as one of the four
// trigger sources.
func (s *Scheduler) Sweep(ctx context.Context, contexts []ids.ContextId) {
	for _, c := range contexts {
		s.Trigger(ctx, c)
	}
}
