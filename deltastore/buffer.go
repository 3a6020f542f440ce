// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package deltastore wraps the causal delta DAG with an applier and the
// sync-time delta buffer (§4.2).
package deltastore

import (
	"sort"
	"sync"

	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/hlc"
	"github.com/contextmesh/core/ids"
)

// BufferedDelta carries every field needed to decrypt and apply a delta
// that arrived while a snapshot sync was in progress (§4.2). The field set
// mirrors what a replay needs end to end: decoding (id, parents, hlc),
// decryption (payload, nonce, author_id), hash reconciliation (root_hash),
// optional side-effect replay (events), and diagnostics (source_peer).
type BufferedDelta struct {
	ID         ids.DeltaId
	Parents    []ids.DeltaId
	HLC        hlc.Timestamp
	Payload    []byte
	Nonce      ids.Nonce
	AuthorID   ids.PublicKey
	RootHash   ids.Hash
	Events     []byte
	SourcePeer string
}

// DeltaBuffer accumulates deltas that arrive while a context is mid
// snapshot-sync, for replay once the snapshot lands (§4.2).
type DeltaBuffer struct {
	mu           sync.Mutex
	deltas       []BufferedDelta
	syncStartHLC hlc.Timestamp
	maxSize      int
}

// NewDeltaBuffer returns an empty buffer bounded at maxSize, stamped with
// the HLC at which buffering began.
func NewDeltaBuffer(maxSize int, syncStartHLC hlc.Timestamp) *DeltaBuffer {
	return &DeltaBuffer{maxSize: maxSize, syncStartHLC: syncStartHLC}
}

// Push appends d, or returns errors.ErrBufferFull once maxSize is reached
// (I-B4: overflow is a fatal, operator-surfaced condition, not silently
// dropped).
func (b *DeltaBuffer) Push(d BufferedDelta) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.deltas) >= b.maxSize {
		return errors.Resource("delta buffer full", errors.ErrBufferFull)
	}
	b.deltas = append(b.deltas, d)
	return nil
}

// Drain returns every buffered delta in ascending HLC order and empties
// the buffer, per the §4.2 replay-in-HLC-order requirement.
func (b *DeltaBuffer) Drain() []BufferedDelta {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.deltas
	b.deltas = nil
	sort.Slice(out, func(i, j int) bool { return out[i].HLC < out[j].HLC })
	return out
}

// Len reports the number of currently buffered deltas.
func (b *DeltaBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.deltas)
}

// IsEmpty reports whether the buffer currently holds no deltas.
func (b *DeltaBuffer) IsEmpty() bool { return b.Len() == 0 }

// SyncStartHLC returns the HLC timestamp recorded when buffering began.
func (b *DeltaBuffer) SyncStartHLC() hlc.Timestamp { return b.syncStartHLC }
