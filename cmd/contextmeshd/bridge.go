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

	libpeer "github.com/libp2p/go-libp2p/core/peer"

	"github.com/contextmesh/core/broadcast"
	"github.com/contextmesh/core/deltastore"
	"github.com/contextmesh/core/hlc"
	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/logging"
	"github.com/contextmesh/core/scheduler"
)

// deltaSubmitter implements broadcast.DeltaSink by handing a gossiped
// StateDelta to the delta store's normal submit path (§4.3, C4/C7 wiring).
type deltaSubmitter struct {
	store *deltastore.DeltaStore
	log   *logging.Logger
}

var _ broadcast.DeltaSink = (*deltaSubmitter)(nil)

func (d *deltaSubmitter) HandleStateDelta(ctx context.Context, from libpeer.ID, msg broadcast.StateDelta) {
	bd := deltastore.BufferedDelta{
		ID:         msg.DeltaID,
		Parents:    msg.ParentIDs,
		HLC:        hlc.Timestamp(msg.HLC),
		Payload:    msg.Artifact,
		Nonce:      msg.Nonce,
		AuthorID:   msg.AuthorID,
		RootHash:   msg.RootHash,
		Events:     msg.Events.Value(),
		SourcePeer: from.String(),
	}
	if _, err := d.store.Submit(ctx, msg.ContextID, bd); err != nil {
		d.log.ErrorE(ctx, "failed to submit gossiped state delta", err,
			logging.NewKV("ContextID", msg.ContextID), logging.NewKV("DeltaID", msg.DeltaID))
	}
}

// localState adapts the DAG and root hash tracker into broadcast.LocalState
// for the §4.3 divergence check.
type localState struct {
	store *deltastore.DeltaStore
	roots *rootHashTracker
}

var _ broadcast.LocalState = (*localState)(nil)

func (l *localState) RootHash(ctx context.Context, contextID ids.ContextId) (ids.Hash, error) {
	return l.roots.RootHash(ctx, contextID)
}

func (l *localState) Heads(ctx context.Context, contextID ids.ContextId) ([]ids.DeltaId, error) {
	return l.store.Heads(ctx, contextID)
}

// schedulerTrigger adapts scheduler.Scheduler into broadcast.SyncRequester:
// a heartbeat-detected divergence (§4.3) and the scheduler's other three
// trigger sources (§4.7) all funnel into the same Trigger call, so the
// scheduler itself decides whether this is a new attempt or a coalesced
// one; the specific missing heads a heartbeat found don't change which
// peer or protocol the sync picks.
type schedulerTrigger struct {
	sched *scheduler.Scheduler
}

var _ broadcast.SyncRequester = (*schedulerTrigger)(nil)

func (s *schedulerTrigger) RequestSync(ctx context.Context, contextID ids.ContextId, _ []ids.DeltaId) {
	s.sched.Trigger(ctx, contextID)
}
