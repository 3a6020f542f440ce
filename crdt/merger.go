// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package crdt

import (
	"context"

	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/storage"
)

// RawOverwriteMerger resolves a Merkle-comparison leaf conflict by
// adopting the peer's raw bytes for that state key, whatever CRDT type
// owns it. It does not decode the row or run the owning type's Merge
// rule: a differing Frozen row (which Frozen.Merge would reject) or a
// Vector slot with an older LWW priority is replaced by the peer's bytes
// all the same.
type RawOverwriteMerger struct {
	store storage.Engine
}

// NewRawOverwriteMerger returns a LeafMerger backed by store.
func NewRawOverwriteMerger(store storage.Engine) *RawOverwriteMerger {
	return &RawOverwriteMerger{store: store}
}

// MergeLeaf implements syncproto.LeafMerger.
func (m *RawOverwriteMerger) MergeLeaf(ctx context.Context, contextID ids.ContextId, key, remoteValue []byte) error {
	fullKey := storage.ContextStateKey(contextID[:], key)
	return m.store.Put(ctx, storage.ColumnState, fullKey, remoteValue)
}
