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
	"bytes"
	"context"
	"encoding/binary"

	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/hlc"
	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/storage"
)

// LWWRegister is a Last-Write-Wins single value (§3.6): higher HLC wins;
// ties are broken by higher node id. Storage strategy: blob (a single
// serialized value under the entity's key).
type LWWRegister struct {
	baseCRDT
}

// NewLWWRegister returns an LWWRegister bound to key within context.
func NewLWWRegister(store storage.Engine, contextID ids.ContextId, key []byte) LWWRegister {
	return LWWRegister{baseCRDT: newBaseCRDT(store, contextID, key)}
}

func (r LWWRegister) ID() string { return string(r.stateKey()) }

// LWWDelta is the wire payload of a single LWW Set operation.
type LWWDelta struct {
	Value    []byte
	HLC      hlc.Timestamp
	NodeID   ids.PublicKey
}

const lwwValueSuffix = 0x01
const lwwPrioritySuffix = 0x02

// Value returns the register's current value, or (nil, false) if unset.
func (r LWWRegister) Value(ctx context.Context) ([]byte, bool, error) {
	return r.get(ctx, lwwValueSuffix)
}

func (r LWWRegister) priority(ctx context.Context) (hlc.Timestamp, ids.PublicKey, bool, error) {
	raw, ok, err := r.get(ctx, lwwPrioritySuffix)
	if err != nil || !ok {
		return 0, ids.PublicKey{}, ok, err
	}
	if len(raw) != 8+ids.Size {
		return 0, ids.PublicKey{}, false, errors.Decoding("malformed lww priority record", nil)
	}
	ts := hlc.Timestamp(binary.LittleEndian.Uint64(raw[:8]))
	node, err := ids.FromBytes(raw[8:])
	if err != nil {
		return 0, ids.PublicKey{}, false, err
	}
	return ts, node, true, nil
}

// Set applies a local write and returns the delta to broadcast.
func (r LWWRegister) Set(ctx context.Context, value []byte, ts hlc.Timestamp, nodeID ids.PublicKey) (LWWDelta, error) {
	d := LWWDelta{Value: value, HLC: ts, NodeID: nodeID}
	return d, r.Merge(ctx, d)
}

// Merge implements the LWW merge rule: higher HLC wins, tie broken by
// higher node id (R3: merging with itself is a no-op since the stored
// priority already matches, R4: commutative/associative because it is a
// pure comparison against the single stored max).
func (r LWWRegister) Merge(ctx context.Context, d LWWDelta) error {
	curTS, curNode, ok, err := r.priority(ctx)
	if err != nil {
		return errors.Wrap("failed to read lww priority", err)
	}
	if ok {
		if d.HLC < curTS {
			return nil
		}
		if d.HLC == curTS && !curNode.Less(d.NodeID) {
			return nil
		}
	}

	if err := r.put(ctx, d.Value, lwwValueSuffix); err != nil {
		return errors.Wrap("failed to store lww value", err)
	}

	rec := make([]byte, 8+ids.Size)
	binary.LittleEndian.PutUint64(rec[:8], uint64(d.HLC))
	copy(rec[8:], d.NodeID[:])
	return r.put(ctx, rec, lwwPrioritySuffix)
}

// Encode serializes d for wire transmission / delta payloads.
func (d LWWDelta) Encode() []byte {
	buf := &bytes.Buffer{}
	var tsBuf [8]byte
	binary.LittleEndian.PutUint64(tsBuf[:], uint64(d.HLC))
	buf.Write(tsBuf[:])
	buf.Write(d.NodeID[:])
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(d.Value)))
	buf.Write(lenBuf[:])
	buf.Write(d.Value)
	return buf.Bytes()
}

// DecodeLWWDelta is the inverse of Encode.
func DecodeLWWDelta(b []byte) (LWWDelta, error) {
	if len(b) < 8+ids.Size+4 {
		return LWWDelta{}, errors.Decoding("lww delta truncated", nil)
	}
	ts := hlc.Timestamp(binary.LittleEndian.Uint64(b[:8]))
	node, err := ids.FromBytes(b[8 : 8+ids.Size])
	if err != nil {
		return LWWDelta{}, err
	}
	rest := b[8+ids.Size:]
	n := binary.LittleEndian.Uint32(rest[:4])
	if uint32(len(rest)-4) < n {
		return LWWDelta{}, errors.Decoding("lww delta value truncated", nil)
	}
	value := append([]byte(nil), rest[4:4+n]...)
	return LWWDelta{Value: value, HLC: ts, NodeID: node}, nil
}
