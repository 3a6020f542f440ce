// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package dag

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/storage"
)

// AddResult is the outcome of DeltaDAG.AddDelta.
type AddResult int

const (
	Accepted AddResult = iota
	Duplicate
	MissingParentsResult
)

func (r AddResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	case MissingParentsResult:
		return "missing_parents"
	default:
		return "unknown"
	}
}

// MissingParentsError carries the parent ids a caller must fetch before
// AddDelta can succeed.
type MissingParentsError struct {
	Missing []ids.DeltaId
}

func (e *MissingParentsError) Error() string { return "delta has missing parents" }

// DeltaDAG is an in-memory, storage-backed causal graph of deltas with
// head tracking, keyed per context (§4.1). It mirrors the lock-guarded
// map-of-nodes-plus-tips shape of a classic DAG ledger: every mutation
// holds the single mutex for the lifetime of the call, and head
// bookkeeping (removing newly-non-tip parents, adding the new delta) is
// updated in the same critical section as the persistence write so a
// partial update is never observable.
type DeltaDAG struct {
	mu    sync.Mutex
	store storage.Engine
}

// NewDeltaDAG returns a DeltaDAG persisting into store.
func NewDeltaDAG(store storage.Engine) *DeltaDAG {
	return &DeltaDAG{store: store}
}

func deltaKey(contextID ids.ContextId, id ids.DeltaId) []byte {
	k := make([]byte, 0, ids.Size+1+ids.Size)
	k = append(k, contextID[:]...)
	k = append(k, 0x01)
	return append(k, id[:]...)
}

func headKey(contextID ids.ContextId, id ids.DeltaId) []byte {
	k := make([]byte, 0, ids.Size+1+ids.Size)
	k = append(k, contextID[:]...)
	k = append(k, 0x02)
	return append(k, id[:]...)
}

func headPrefix(contextID ids.ContextId) []byte {
	k := make([]byte, 0, ids.Size+1)
	return append(append(k, contextID[:]...), 0x02)
}

// HasDelta reports whether id is stored for contextID.
func (g *DeltaDAG) HasDelta(ctx context.Context, contextID ids.ContextId, id ids.DeltaId) (bool, error) {
	if id == ids.Genesis {
		return true, nil
	}
	return g.store.Has(ctx, storage.ColumnGeneric, deltaKey(contextID, id))
}

// GetDelta returns the stored delta, or ErrNotFound.
func (g *DeltaDAG) GetDelta(ctx context.Context, contextID ids.ContextId, id ids.DeltaId) (Delta, error) {
	raw, ok, err := g.store.Get(ctx, storage.ColumnGeneric, deltaKey(contextID, id))
	if err != nil {
		return Delta{}, err
	}
	if !ok {
		return Delta{}, errors.ErrNotFound
	}
	return DecodeDelta(raw)
}

// AddDelta inserts d into the DAG for contextID (§4.1, R2). It is
// idempotent: inserting the same id twice returns Duplicate and leaves the
// DAG unchanged on the second call. If any parent is neither stored nor
// the genesis id, it returns MissingParentsResult and a
// *MissingParentsError describing what is missing; no partial state is
// written (I1 is preserved).
func (g *DeltaDAG) AddDelta(ctx context.Context, contextID ids.ContextId, d Delta) (AddResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	exists, err := g.HasDelta(ctx, contextID, d.ID)
	if err != nil {
		return Accepted, err
	}
	if exists {
		return Duplicate, nil
	}

	var missing []ids.DeltaId
	for _, p := range d.Parents {
		has, err := g.HasDelta(ctx, contextID, p)
		if err != nil {
			return Accepted, err
		}
		if !has {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return MissingParentsResult, &MissingParentsError{Missing: missing}
	}

	if err := g.store.Put(ctx, storage.ColumnGeneric, deltaKey(contextID, d.ID), d.Encode()); err != nil {
		return Accepted, errors.Resource("failed to persist delta", err)
	}

	for _, p := range d.Parents {
		if p == ids.Genesis {
			continue
		}
		if err := g.store.Delete(ctx, storage.ColumnMeta, headKey(contextID, p)); err != nil {
			return Accepted, errors.Resource("failed to retire parent head", err)
		}
	}
	if err := g.store.Put(ctx, storage.ColumnMeta, headKey(contextID, d.ID), []byte{1}); err != nil {
		return Accepted, errors.Resource("failed to record new head", err)
	}

	return Accepted, nil
}

// GetHeads returns every stored delta id that is not the parent of any
// other stored delta (I2).
func (g *DeltaDAG) GetHeads(ctx context.Context, contextID ids.ContextId) ([]ids.DeltaId, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	it, err := g.store.Iter(ctx, storage.ColumnMeta, headPrefix(contextID))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	prefixLen := len(headPrefix(contextID))
	var heads []ids.DeltaId
	for it.Next() {
		k := it.Entry().Key
		if len(k)-prefixLen != ids.Size {
			continue
		}
		var id ids.DeltaId
		copy(id[:], k[prefixLen:])
		heads = append(heads, id)
	}
	return heads, it.Err()
}

// ResetHeads replaces contextID's entire head set with heads, with no
// requirement that the replaced ids have a corresponding stored Delta.
// Snapshot sync (§4.6.4) uses this to adopt a peer's head set atomically
// with the state rows it just installed; the resulting heads are
// provenance-opaque until this node observes their deltas some other way
// (e.g. a future gossip message naming them as a parent).
func (g *DeltaDAG) ResetHeads(ctx context.Context, contextID ids.ContextId, heads []ids.DeltaId) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	it, err := g.store.Iter(ctx, storage.ColumnMeta, headPrefix(contextID))
	if err != nil {
		return err
	}
	var old [][]byte
	for it.Next() {
		old = append(old, append([]byte(nil), it.Entry().Key...))
	}
	if err := it.Err(); err != nil {
		it.Close()
		return err
	}
	it.Close()
	if len(old) > 0 {
		if err := g.store.BatchDelete(ctx, storage.ColumnMeta, old); err != nil {
			return errors.Resource("failed to clear stale heads", err)
		}
	}

	fresh := make(map[string][]byte, len(heads))
	for _, id := range heads {
		fresh[string(headKey(contextID, id))] = []byte{1}
	}
	if len(fresh) > 0 {
		if err := g.store.BatchPut(ctx, storage.ColumnMeta, fresh); err != nil {
			return errors.Resource("failed to install snapshot heads", err)
		}
	}
	return nil
}

// TopologicalOrder returns subset in an order where every delta appears
// after all of its parents. Among deltas with no ordering constraint
// between them, ties are broken by the lexicographically smaller id, so
// every replica computing the order over the same subset gets the same
// sequence (§4.1 branch resolution).
func (g *DeltaDAG) TopologicalOrder(ctx context.Context, contextID ids.ContextId, subset []ids.DeltaId) ([]ids.DeltaId, error) {
	deltas := make(map[ids.DeltaId]Delta, len(subset))
	inDegree := make(map[ids.DeltaId]int, len(subset))
	inSubset := make(map[ids.DeltaId]bool, len(subset))
	for _, id := range subset {
		inSubset[id] = true
	}

	for _, id := range subset {
		d, err := g.GetDelta(ctx, contextID, id)
		if err != nil {
			return nil, err
		}
		deltas[id] = d
		count := 0
		for _, p := range d.Parents {
			if inSubset[p] {
				count++
			}
		}
		inDegree[id] = count
	}

	children := make(map[ids.DeltaId][]ids.DeltaId)
	for id, d := range deltas {
		for _, p := range d.Parents {
			if inSubset[p] {
				children[p] = append(children[p], id)
			}
		}
	}

	var ready []ids.DeltaId
	for _, id := range subset {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	var order []ids.DeltaId
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return bytes.Compare(ready[i][:], ready[j][:]) < 0 })
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, c := range children[next] {
			inDegree[c]--
			if inDegree[c] == 0 {
				ready = append(ready, c)
			}
		}
	}

	if len(order) != len(subset) {
		return nil, errors.Causal("topological order requested over a non-closed subset", nil)
	}
	return order, nil
}
