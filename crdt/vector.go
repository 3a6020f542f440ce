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
	"encoding/binary"

	"context"

	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/hlc"
	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/storage"
)

// Vector is an ordered sequence (§3.6): structured storage, one slot per
// position. Positions are opaque sortable strings (fractional indices
// assigned by the caller so a new element can be inserted between any two
// existing ones without rewriting their neighbors); iteration order is
// lexicographic over the position string, which is also the vector's
// element order. Each slot recursively applies the same HLC/node-id
// LWW merge rule as LWWRegister, so a concurrent write to the same
// position resolves deterministically on every replica.
type Vector struct {
	baseCRDT
}

// NewVector returns a Vector bound to key within context.
func NewVector(store storage.Engine, contextID ids.ContextId, key []byte) Vector {
	return Vector{baseCRDT: newBaseCRDT(store, contextID, key)}
}

func (v Vector) ID() string { return string(v.stateKey()) }

// Value and priority records share the same key prefix (stateKey) but are
// distinguished by a leading record-kind tag, not by anything derived from
// the caller-supplied position. Positions are opaque sortable strings with
// no excluded byte values, so the tag must occupy a fixed position ahead of
// the position bytes rather than trail them.
const (
	vectorValueTag    = 0x40
	vectorPriorityTag = 0x41
)

func vectorValueSuffix(position string) []byte {
	suffix := make([]byte, 0, 1+len(position))
	suffix = append(suffix, vectorValueTag)
	return append(suffix, position...)
}

func vectorPrioritySuffix(position string) []byte {
	suffix := make([]byte, 0, 1+len(position))
	suffix = append(suffix, vectorPriorityTag)
	return append(suffix, position...)
}

// Slot is the value stored at one position, with the priority needed to
// resolve concurrent writes to that position.
type Slot struct {
	Position string
	Value    []byte
	HLC      hlc.Timestamp
	NodeID   ids.PublicKey
}

func (v Vector) priority(ctx context.Context, position string) (hlc.Timestamp, ids.PublicKey, bool, error) {
	raw, ok, err := v.get(ctx, vectorPrioritySuffix(position)...)
	if err != nil || !ok {
		return 0, ids.PublicKey{}, ok, err
	}
	if len(raw) != 8+ids.Size {
		return 0, ids.PublicKey{}, false, errors.Decoding("malformed vector slot priority", nil)
	}
	ts := hlc.Timestamp(binary.LittleEndian.Uint64(raw[:8]))
	node, err := ids.FromBytes(raw[8:])
	if err != nil {
		return 0, ids.PublicKey{}, false, err
	}
	return ts, node, true, nil
}

// Set writes value at position, recursively resolving against whatever is
// already there via the LWW rule (R3/R4 inherited from LWWRegister).
func (v Vector) Set(ctx context.Context, s Slot) error {
	curTS, curNode, ok, err := v.priority(ctx, s.Position)
	if err != nil {
		return errors.Wrap("failed to read vector slot priority", err)
	}
	if ok {
		if s.HLC < curTS {
			return nil
		}
		if s.HLC == curTS && !curNode.Less(s.NodeID) {
			return nil
		}
	}

	if err := v.put(ctx, s.Value, vectorValueSuffix(s.Position)...); err != nil {
		return errors.Wrap("failed to store vector slot value", err)
	}

	rec := make([]byte, 8+ids.Size)
	binary.LittleEndian.PutUint64(rec[:8], uint64(s.HLC))
	copy(rec[8:], s.NodeID[:])
	return v.put(ctx, rec, vectorPrioritySuffix(s.Position)...)
}

// Merge applies a remote slot write using the same rule as Set.
func (v Vector) Merge(ctx context.Context, s Slot) error { return v.Set(ctx, s) }

// Get returns the value stored at position, or (nil, false) if unset.
func (v Vector) Get(ctx context.Context, position string) ([]byte, bool, error) {
	return v.get(ctx, vectorValueSuffix(position)...)
}

// Remove clears the value at position while preserving its priority record,
// so a stale concurrent re-write with lower priority still loses.
func (v Vector) Remove(ctx context.Context, position string, ts hlc.Timestamp, nodeID ids.PublicKey) error {
	return v.Set(ctx, Slot{Position: position, Value: nil, HLC: ts, NodeID: nodeID})
}

// Elements returns every live (position, value) pair in ascending position
// order, skipping positions whose current value has been cleared. Scanning
// the vectorValueTag prefix alone excludes priority records entirely, so no
// position content can ever be mistaken for one.
func (v Vector) Elements(ctx context.Context) ([]Slot, error) {
	it, err := v.iterPrefix(ctx, vectorValueTag)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	prefixLen := len(v.stateKey(vectorValueTag))
	var out []Slot
	for it.Next() {
		e := it.Entry()
		if len(e.Value) == 0 {
			continue
		}
		position := string(e.Key[prefixLen:])
		out = append(out, Slot{Position: position, Value: e.Value})
	}
	return out, it.Err()
}
