// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package deltastore

import (
	"context"
	"sync"

	"github.com/contextmesh/core/crdt"
	"github.com/contextmesh/core/dag"
	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/hlc"
	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/logging"
	"github.com/contextmesh/core/storage"
)

// Applier is the CRDT runtime bridge (C5): replaying a delta's action list
// against the application's WASM state and returning the root hash that
// resulted. When the replayed hash disagrees with expectedRootHash, the
// implementation is responsible for the §4.5 reconciliation rule (force
// the author's hash and log the divergence) and returns that forced hash.
type Applier interface {
	Apply(ctx context.Context, contextID ids.ContextId, payload []crdt.Action, expectedRootHash ids.Hash) (ids.Hash, error)
}

// Decryptor recovers a delta's plaintext action payload, given the
// author's identity and the per-delta nonce (§4.4's sender_key scheme).
type Decryptor interface {
	Decrypt(ctx context.Context, contextID ids.ContextId, authorID ids.PublicKey, nonce ids.Nonce, ciphertext []byte) ([]byte, error)
}

// Outcome is the externally observable result of submitting a delta.
type Outcome int

const (
	OutcomeApplied Outcome = iota
	OutcomeDuplicate
	OutcomeMissingParents
	OutcomeBuffered
)

// DeltaStore wraps a DeltaDAG with the applier and the per-context sync
// buffer (§4.2). The applier is invoked with at most one in-flight call
// per context at a time (serialized apply — the WASM runtime state is not
// reentrant).
type DeltaStore struct {
	dag       *dag.DeltaDAG
	applier   Applier
	decryptor Decryptor
	log       *logging.Logger

	mu        sync.Mutex
	buffering map[ids.ContextId]*DeltaBuffer

	applyLocksMu sync.Mutex
	applyLocks   map[ids.ContextId]*sync.Mutex
}

// NewDeltaStore returns a DeltaStore over engine, applying accepted deltas
// through applier after decrypting them with decryptor.
func NewDeltaStore(engine storage.Engine, applier Applier, decryptor Decryptor, log *logging.Logger) *DeltaStore {
	return &DeltaStore{
		dag:        dag.NewDeltaDAG(engine),
		applier:    applier,
		decryptor:  decryptor,
		log:        log,
		buffering:  make(map[ids.ContextId]*DeltaBuffer),
		applyLocks: make(map[ids.ContextId]*sync.Mutex),
	}
}

func (s *DeltaStore) contextLock(contextID ids.ContextId) *sync.Mutex {
	s.applyLocksMu.Lock()
	defer s.applyLocksMu.Unlock()
	l, ok := s.applyLocks[contextID]
	if !ok {
		l = &sync.Mutex{}
		s.applyLocks[contextID] = l
	}
	return l
}

// BeginSnapshotSync switches contextID into buffering mode: deltas
// submitted from now on are held rather than applied, until
// EndSnapshotSync is called.
func (s *DeltaStore) BeginSnapshotSync(contextID ids.ContextId, now hlc.Timestamp, maxBufferSize int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffering[contextID] = NewDeltaBuffer(maxBufferSize, now)
}

// IsBuffering reports whether contextID is currently in buffering mode.
func (s *DeltaStore) IsBuffering(contextID ids.ContextId) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.buffering[contextID]
	return ok
}

// EndSnapshotSync leaves buffering mode for contextID and replays every
// buffered delta in HLC order through the normal submit path.
func (s *DeltaStore) EndSnapshotSync(ctx context.Context, contextID ids.ContextId) error {
	s.mu.Lock()
	buf, ok := s.buffering[contextID]
	delete(s.buffering, contextID)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	drained := buf.Drain()
	s.log.Debug(ctx, "replaying buffered deltas", logging.NewKV("count", len(drained)))
	for _, bd := range drained {
		if _, err := s.applyOne(ctx, contextID, bd); err != nil {
			return errors.Wrap("failed to replay buffered delta", err)
		}
	}
	return nil
}

// Submit processes an inbound delta: buffered while contextID is mid
// snapshot-sync, applied immediately otherwise.
func (s *DeltaStore) Submit(ctx context.Context, contextID ids.ContextId, bd BufferedDelta) (Outcome, error) {
	s.mu.Lock()
	buf, buffering := s.buffering[contextID]
	s.mu.Unlock()

	if buffering {
		if err := buf.Push(bd); err != nil {
			return OutcomeBuffered, err
		}
		return OutcomeBuffered, nil
	}
	return s.applyOne(ctx, contextID, bd)
}

func (s *DeltaStore) applyOne(ctx context.Context, contextID ids.ContextId, bd BufferedDelta) (Outcome, error) {
	plaintext, err := s.decryptor.Decrypt(ctx, contextID, bd.AuthorID, bd.Nonce, bd.Payload)
	if err != nil {
		return OutcomeApplied, errors.Wrap("failed to decrypt delta payload", err)
	}
	actions, err := dag.DecodeActions(plaintext)
	if err != nil {
		return OutcomeApplied, err
	}

	d := dag.Delta{
		ID:               bd.ID,
		Parents:          bd.Parents,
		Payload:          actions,
		HLC:              bd.HLC,
		ExpectedRootHash: bd.RootHash,
	}

	res, err := s.dag.AddDelta(ctx, contextID, d)
	switch res {
	case dag.Duplicate:
		return OutcomeDuplicate, nil
	case dag.MissingParentsResult:
		return OutcomeMissingParents, err
	}
	if err != nil {
		return OutcomeApplied, err
	}

	lock := s.contextLock(contextID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.applier.Apply(ctx, contextID, actions, bd.RootHash); err != nil {
		return OutcomeApplied, errors.Wrap("applier failed", err)
	}
	return OutcomeApplied, nil
}

// Heads delegates to the underlying DAG.
func (s *DeltaStore) Heads(ctx context.Context, contextID ids.ContextId) ([]ids.DeltaId, error) {
	return s.dag.GetHeads(ctx, contextID)
}

// HasDelta delegates to the underlying DAG.
func (s *DeltaStore) HasDelta(ctx context.Context, contextID ids.ContextId, id ids.DeltaId) (bool, error) {
	return s.dag.HasDelta(ctx, contextID, id)
}

// DAG exposes the underlying graph for sync protocols that need direct
// topological-order or get-delta access.
func (s *DeltaStore) DAG() *dag.DeltaDAG { return s.dag }
