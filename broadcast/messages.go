// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package broadcast implements the gossip channel (C7, §4.3): publishing
// and delivering StateDelta and HashHeartbeat messages over a best-effort
// pubsub transport keyed by context id.
package broadcast

import (
	"bytes"
	"encoding/binary"

	"github.com/sourcenetwork/immutable"

	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/ids"
)

// StateDelta is the author-encrypted fan-out message sent immediately
// after a local mutation (§6.6).
type StateDelta struct {
	ContextID ids.ContextId
	AuthorID  ids.PublicKey
	DeltaID   ids.DeltaId
	ParentIDs []ids.DeltaId
	HLC       uint64
	RootHash  ids.Hash
	Artifact  []byte
	Nonce     ids.Nonce
	Events    immutable.Option[[]byte]
}

func putIDList(buf *bytes.Buffer, ids_ []ids.DeltaId) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(ids_)))
	buf.Write(n[:])
	for _, id := range ids_ {
		buf.Write(id[:])
	}
}

func readIDList(b []byte) ([]ids.DeltaId, []byte, error) {
	if len(b) < 4 {
		return nil, nil, errors.Decoding("id list truncated", nil)
	}
	n := binary.LittleEndian.Uint32(b[:4])
	rest := b[4:]
	out := make([]ids.DeltaId, 0, n)
	for i := uint32(0); i < n; i++ {
		if len(rest) < ids.Size {
			return nil, nil, errors.Decoding("id list entry truncated", nil)
		}
		var id ids.DeltaId
		copy(id[:], rest[:ids.Size])
		out = append(out, id)
		rest = rest[ids.Size:]
	}
	return out, rest, nil
}

func putBytesField(buf *bytes.Buffer, b []byte) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(b)))
	buf.Write(n[:])
	buf.Write(b)
}

func readBytesField(b []byte) ([]byte, []byte, error) {
	if len(b) < 4 {
		return nil, nil, errors.Decoding("byte field truncated", nil)
	}
	n := binary.LittleEndian.Uint32(b[:4])
	rest := b[4:]
	if uint32(len(rest)) < n {
		return nil, nil, errors.Decoding("byte field body truncated", nil)
	}
	return append([]byte(nil), rest[:n]...), rest[n:], nil
}

// Encode serializes d into the wire format described in §6.6.
func (d StateDelta) Encode() []byte {
	buf := &bytes.Buffer{}
	buf.Write(d.ContextID[:])
	buf.Write(d.AuthorID[:])
	buf.Write(d.DeltaID[:])
	putIDList(buf, d.ParentIDs)
	var hlcBuf [8]byte
	binary.LittleEndian.PutUint64(hlcBuf[:], d.HLC)
	buf.Write(hlcBuf[:])
	buf.Write(d.RootHash[:])
	putBytesField(buf, d.Artifact)
	buf.Write(d.Nonce[:])
	if d.Events.HasValue() {
		buf.WriteByte(1)
		putBytesField(buf, d.Events.Value())
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// DecodeStateDelta is the inverse of StateDelta.Encode.
func DecodeStateDelta(b []byte) (StateDelta, error) {
	if len(b) < ids.Size*3 {
		return StateDelta{}, errors.Decoding("state delta truncated", nil)
	}
	var d StateDelta
	copy(d.ContextID[:], b[:ids.Size])
	copy(d.AuthorID[:], b[ids.Size:2*ids.Size])
	copy(d.DeltaID[:], b[2*ids.Size:3*ids.Size])
	rest := b[3*ids.Size:]

	parents, rest, err := readIDList(rest)
	if err != nil {
		return StateDelta{}, err
	}
	d.ParentIDs = parents

	if len(rest) < 8+ids.Size {
		return StateDelta{}, errors.Decoding("state delta hlc/root truncated", nil)
	}
	d.HLC = binary.LittleEndian.Uint64(rest[:8])
	rest = rest[8:]
	copy(d.RootHash[:], rest[:ids.Size])
	rest = rest[ids.Size:]

	artifact, rest, err := readBytesField(rest)
	if err != nil {
		return StateDelta{}, err
	}
	d.Artifact = artifact

	if len(rest) < int(ids.NonceSize)+1 {
		return StateDelta{}, errors.Decoding("state delta nonce/events-flag truncated", nil)
	}
	copy(d.Nonce[:], rest[:ids.NonceSize])
	rest = rest[ids.NonceSize:]
	hasEvents := rest[0] != 0
	rest = rest[1:]

	if hasEvents {
		events, _, err := readBytesField(rest)
		if err != nil {
			return StateDelta{}, err
		}
		d.Events = immutable.Some(events)
	}
	return d, nil
}

// HashHeartbeat is the periodic liveness and divergence probe (§4.3, §6.6).
type HashHeartbeat struct {
	ContextID ids.ContextId
	RootHash  ids.Hash
	DagHeads  []ids.DeltaId
}

// Encode serializes h into the wire format described in §6.6.
func (h HashHeartbeat) Encode() []byte {
	buf := &bytes.Buffer{}
	buf.Write(h.ContextID[:])
	buf.Write(h.RootHash[:])
	putIDList(buf, h.DagHeads)
	return buf.Bytes()
}

// DecodeHashHeartbeat is the inverse of HashHeartbeat.Encode.
func DecodeHashHeartbeat(b []byte) (HashHeartbeat, error) {
	if len(b) < ids.Size*2 {
		return HashHeartbeat{}, errors.Decoding("hash heartbeat truncated", nil)
	}
	var h HashHeartbeat
	copy(h.ContextID[:], b[:ids.Size])
	copy(h.RootHash[:], b[ids.Size:2*ids.Size])
	heads, _, err := readIDList(b[2*ids.Size:])
	if err != nil {
		return HashHeartbeat{}, err
	}
	h.DagHeads = heads
	return h, nil
}
