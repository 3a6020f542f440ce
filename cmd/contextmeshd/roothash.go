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
	"sync"

	"github.com/contextmesh/core/crdt"
	"github.com/contextmesh/core/deltastore"
	"github.com/contextmesh/core/ids"
)

// rootHashTracker decorates a deltastore.Applier, recording each
// context's most recently applied root hash. Nothing else in the core
// persists this value (the WASM bridge keeps its state opaque), but the
// sync layer needs it for every SyncRequest it sends (§4.6.1) and for
// the §4.3 heartbeat divergence comparison.
type rootHashTracker struct {
	applier deltastore.Applier

	mu    sync.RWMutex
	roots map[ids.ContextId]ids.Hash
}

var _ deltastore.Applier = (*rootHashTracker)(nil)

func newRootHashTracker(applier deltastore.Applier) *rootHashTracker {
	return &rootHashTracker{applier: applier, roots: make(map[ids.ContextId]ids.Hash)}
}

// Apply implements deltastore.Applier.
func (t *rootHashTracker) Apply(ctx context.Context, contextID ids.ContextId, payload []crdt.Action, expectedRootHash ids.Hash) (ids.Hash, error) {
	hash, err := t.applier.Apply(ctx, contextID, payload, expectedRootHash)
	if err != nil {
		return hash, err
	}
	t.mu.Lock()
	t.roots[contextID] = hash
	t.mu.Unlock()
	return hash, nil
}

// RootHash returns contextID's last-applied root hash, or the genesis
// hash for a context nothing has been applied to yet.
func (t *rootHashTracker) RootHash(_ context.Context, contextID ids.ContextId) (ids.Hash, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.roots[contextID], nil
}
