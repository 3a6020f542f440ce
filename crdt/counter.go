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
	"encoding/binary"

	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/storage"
)

// GCounter is a grow-only counter (§3.6): structured storage, one cell per
// node; merge takes the per-node max and sums across nodes.
type GCounter struct {
	baseCRDT
}

// NewGCounter returns a GCounter bound to key within context.
func NewGCounter(store storage.Engine, contextID ids.ContextId, key []byte) GCounter {
	return GCounter{baseCRDT: newBaseCRDT(store, contextID, key)}
}

func (c GCounter) ID() string { return string(c.stateKey()) }

func (c GCounter) cellKey(node ids.PublicKey) []byte {
	return append([]byte{0x10}, node[:]...)
}

func (c GCounter) cell(ctx context.Context, node ids.PublicKey) (uint64, error) {
	raw, ok, err := c.get(ctx, c.cellKey(node)...)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	if len(raw) != 8 {
		return 0, errors.Decoding("malformed gcounter cell", nil)
	}
	return binary.LittleEndian.Uint64(raw), nil
}

// Increment raises node's cell to newTotal, the node's new running total
// (not an amount to add). A newTotal at or below the stored value is
// ignored, so re-applying a stale total cannot double-count.
func (c GCounter) Increment(ctx context.Context, node ids.PublicKey, newTotal uint64) error {
	cur, err := c.cell(ctx, node)
	if err != nil {
		return err
	}
	if newTotal <= cur {
		return nil
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], newTotal)
	return c.put(ctx, buf[:], c.cellKey(node)...)
}

// Merge folds a remote node's observed total into the local cell via
// per-node max (R3/R4: idempotent, commutative, associative by construction).
func (c GCounter) Merge(ctx context.Context, node ids.PublicKey, total uint64) error {
	return c.Increment(ctx, node, total)
}

// Value sums every node's cell.
func (c GCounter) Value(ctx context.Context) (uint64, error) {
	it, err := c.iterPrefix(ctx, 0x10)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	var sum uint64
	for it.Next() {
		v := it.Entry().Value
		if len(v) != 8 {
			continue
		}
		sum += binary.LittleEndian.Uint64(v)
	}
	return sum, it.Err()
}
