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
	"encoding/binary"

	"github.com/contextmesh/core/crdt"
	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/hlc"
	"github.com/contextmesh/core/ids"
)

func putUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putBytes(buf *bytes.Buffer, data []byte) {
	putUint32(buf, uint32(len(data)))
	buf.Write(data)
}

func putString(buf *bytes.Buffer, s string) { putBytes(buf, []byte(s)) }

func readUint32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, errors.Decoding("truncated length prefix", nil)
	}
	return binary.LittleEndian.Uint32(b[:4]), b[4:], nil
}

func readBytes(b []byte) ([]byte, []byte, error) {
	n, rest, err := readUint32(b)
	if err != nil {
		return nil, nil, err
	}
	if uint32(len(rest)) < n {
		return nil, nil, errors.Decoding("truncated byte field", nil)
	}
	return append([]byte(nil), rest[:n]...), rest[n:], nil
}

func readString(b []byte) (string, []byte, error) {
	v, rest, err := readBytes(b)
	return string(v), rest, err
}

func encodeAction(buf *bytes.Buffer, a crdt.Action) {
	buf.WriteByte(byte(a.Kind))
	buf.WriteByte(a.TypeID)
	putString(buf, a.ID)
	putBytes(buf, a.Data)
	putUint32(buf, uint32(len(a.Ancestors)))
	for _, anc := range a.Ancestors {
		putString(buf, anc)
	}
	putBytes(buf, a.Metadata)
}

func decodeAction(b []byte) (crdt.Action, []byte, error) {
	if len(b) < 2 {
		return crdt.Action{}, nil, errors.Decoding("truncated action header", nil)
	}
	kind := crdt.ActionKind(b[0])
	typeID := b[1]
	rest := b[2:]

	id, rest, err := readString(rest)
	if err != nil {
		return crdt.Action{}, nil, err
	}
	data, rest, err := readBytes(rest)
	if err != nil {
		return crdt.Action{}, nil, err
	}
	n, rest, err := readUint32(rest)
	if err != nil {
		return crdt.Action{}, nil, err
	}
	ancestors := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		var anc string
		anc, rest, err = readString(rest)
		if err != nil {
			return crdt.Action{}, nil, err
		}
		ancestors = append(ancestors, anc)
	}
	metadata, rest, err := readBytes(rest)
	if err != nil {
		return crdt.Action{}, nil, err
	}
	return crdt.Action{
		Kind: kind, TypeID: typeID, ID: id, Data: data,
		Ancestors: ancestors, Metadata: metadata,
	}, rest, nil
}

// EncodeActions serializes an action list using the same per-action layout
// Delta.Encode uses for its payload, for callers (deltastore) that carry
// actions separately from their enclosing delta.
func EncodeActions(actions []crdt.Action) []byte {
	buf := &bytes.Buffer{}
	putUint32(buf, uint32(len(actions)))
	for _, a := range actions {
		encodeAction(buf, a)
	}
	return buf.Bytes()
}

// DecodeActions is the inverse of EncodeActions.
func DecodeActions(b []byte) ([]crdt.Action, error) {
	n, rest, err := readUint32(b)
	if err != nil {
		return nil, err
	}
	actions := make([]crdt.Action, 0, n)
	for i := uint32(0); i < n; i++ {
		var a crdt.Action
		a, rest, err = decodeAction(rest)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, nil
}

// Encode serializes d into the compact length-prefixed binary wire format
// (§6.6): little-endian fixed-width integers, 4-byte length-prefixed byte
// and string fields, 1-byte enum tags.
func (d Delta) Encode() []byte {
	buf := &bytes.Buffer{}
	buf.Write(d.ID[:])
	putUint32(buf, uint32(len(d.Parents)))
	for _, p := range d.Parents {
		buf.Write(p[:])
	}
	putUint32(buf, uint32(len(d.Payload)))
	for _, a := range d.Payload {
		encodeAction(buf, a)
	}
	var hlcBuf [8]byte
	binary.LittleEndian.PutUint64(hlcBuf[:], uint64(d.HLC))
	buf.Write(hlcBuf[:])
	buf.Write(d.ExpectedRootHash[:])
	buf.WriteByte(byte(d.Kind))
	return buf.Bytes()
}

// DecodeDelta is the inverse of Delta.Encode.
func DecodeDelta(b []byte) (Delta, error) {
	if len(b) < ids.Size+4 {
		return Delta{}, errors.Decoding("delta truncated", nil)
	}
	var id ids.DeltaId
	copy(id[:], b[:ids.Size])
	rest := b[ids.Size:]

	n, rest, err := readUint32(rest)
	if err != nil {
		return Delta{}, err
	}
	parents := make([]ids.DeltaId, 0, n)
	for i := uint32(0); i < n; i++ {
		if len(rest) < ids.Size {
			return Delta{}, errors.Decoding("truncated parent id", nil)
		}
		var p ids.DeltaId
		copy(p[:], rest[:ids.Size])
		parents = append(parents, p)
		rest = rest[ids.Size:]
	}

	actionCount, rest, err := readUint32(rest)
	if err != nil {
		return Delta{}, err
	}
	payload := make([]crdt.Action, 0, actionCount)
	for i := uint32(0); i < actionCount; i++ {
		var a crdt.Action
		a, rest, err = decodeAction(rest)
		if err != nil {
			return Delta{}, err
		}
		payload = append(payload, a)
	}

	if len(rest) < 8+ids.Size+1 {
		return Delta{}, errors.Decoding("delta trailer truncated", nil)
	}
	ts := hlc.Timestamp(binary.LittleEndian.Uint64(rest[:8]))
	rest = rest[8:]
	var rootHash ids.Hash
	copy(rootHash[:], rest[:ids.Size])
	rest = rest[ids.Size:]
	kind := Kind(rest[0])

	return Delta{
		ID: id, Parents: parents, Payload: payload,
		HLC: ts, ExpectedRootHash: rootHash, Kind: kind,
	}, nil
}
