// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package syncproto implements the three sync protocols (C8, §4.6):
// delta catch-up, Merkle hash-comparison, and full snapshot, plus the
// handshake/selection logic that picks among them.
package syncproto

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/ids"
)

// ProtocolKind identifies one of the three wire protocols (§4.6.1's
// `supports: set<protocol>`).
type ProtocolKind byte

const (
	ProtocolDeltaCatchup ProtocolKind = iota + 1
	ProtocolHashComparison
	ProtocolSnapshot
)

func (p ProtocolKind) String() string {
	switch p {
	case ProtocolDeltaCatchup:
		return "delta-catchup"
	case ProtocolHashComparison:
		return "hash-comparison"
	case ProtocolSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// SyncRequest is sent by the initiator to open a sync session (§4.6.1).
type SyncRequest struct {
	ContextID           ids.ContextId
	OurRootHash         ids.Hash
	OurDagHeads         []ids.DeltaId
	ApplicationRevision uint64
	MembersRevision     uint64
}

// SyncResponse is the responder's reply to SyncRequest.
type SyncResponse struct {
	TheirRootHash ids.Hash
	TheirDagHeads []ids.DeltaId
	Supports      []ProtocolKind
}

func writeFrame(w io.Writer, data []byte) error {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(data)))
	if _, err := w.Write(n[:]); err != nil {
		return errors.Wrap("failed to write sync frame length", err)
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrap("failed to write sync frame body", err)
	}
	return nil
}

func readFrame(r io.Reader) ([]byte, error) {
	var n [4]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return nil, errors.Wrap("failed to read sync frame length", err)
	}
	size := binary.LittleEndian.Uint32(n[:])
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap("failed to read sync frame body", err)
	}
	return buf, nil
}

func putIDList(buf *bytes.Buffer, list []ids.DeltaId) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(list)))
	buf.Write(n[:])
	for _, id := range list {
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

// Encode serializes r per §6.6's conventions.
func (r SyncRequest) Encode() []byte {
	buf := &bytes.Buffer{}
	buf.Write(r.ContextID[:])
	buf.Write(r.OurRootHash[:])
	putIDList(buf, r.OurDagHeads)
	var rev [16]byte
	binary.LittleEndian.PutUint64(rev[:8], r.ApplicationRevision)
	binary.LittleEndian.PutUint64(rev[8:], r.MembersRevision)
	buf.Write(rev[:])
	return buf.Bytes()
}

// DecodeSyncRequest is the inverse of SyncRequest.Encode.
func DecodeSyncRequest(b []byte) (SyncRequest, error) {
	if len(b) < ids.Size*2 {
		return SyncRequest{}, errors.Decoding("sync request truncated", nil)
	}
	var r SyncRequest
	copy(r.ContextID[:], b[:ids.Size])
	copy(r.OurRootHash[:], b[ids.Size:2*ids.Size])
	heads, rest, err := readIDList(b[2*ids.Size:])
	if err != nil {
		return SyncRequest{}, err
	}
	r.OurDagHeads = heads
	if len(rest) < 16 {
		return SyncRequest{}, errors.Decoding("sync request revisions truncated", nil)
	}
	r.ApplicationRevision = binary.LittleEndian.Uint64(rest[:8])
	r.MembersRevision = binary.LittleEndian.Uint64(rest[8:16])
	return r, nil
}

// Encode serializes r per §6.6's conventions.
func (r SyncResponse) Encode() []byte {
	buf := &bytes.Buffer{}
	buf.Write(r.TheirRootHash[:])
	putIDList(buf, r.TheirDagHeads)
	buf.WriteByte(byte(len(r.Supports)))
	for _, p := range r.Supports {
		buf.WriteByte(byte(p))
	}
	return buf.Bytes()
}

// DecodeSyncResponse is the inverse of SyncResponse.Encode.
func DecodeSyncResponse(b []byte) (SyncResponse, error) {
	if len(b) < ids.Size {
		return SyncResponse{}, errors.Decoding("sync response truncated", nil)
	}
	var r SyncResponse
	copy(r.TheirRootHash[:], b[:ids.Size])
	heads, rest, err := readIDList(b[ids.Size:])
	if err != nil {
		return SyncResponse{}, err
	}
	r.TheirDagHeads = heads
	if len(rest) < 1 {
		return SyncResponse{}, errors.Decoding("sync response supports-count truncated", nil)
	}
	n := int(rest[0])
	rest = rest[1:]
	if len(rest) < n {
		return SyncResponse{}, errors.Decoding("sync response supports list truncated", nil)
	}
	for i := 0; i < n; i++ {
		r.Supports = append(r.Supports, ProtocolKind(rest[i]))
	}
	return r, nil
}

// SendSyncRequest/ReceiveSyncRequest and their Response counterparts
// frame the above messages for a raw stream (already authenticated by C6).
func SendSyncRequest(w io.Writer, r SyncRequest) error { return writeFrame(w, r.Encode()) }

func ReceiveSyncRequest(r io.Reader) (SyncRequest, error) {
	raw, err := readFrame(r)
	if err != nil {
		return SyncRequest{}, err
	}
	return DecodeSyncRequest(raw)
}

func SendSyncResponse(w io.Writer, r SyncResponse) error { return writeFrame(w, r.Encode()) }

func ReceiveSyncResponse(r io.Reader) (SyncResponse, error) {
	raw, err := readFrame(r)
	if err != nil {
		return SyncResponse{}, err
	}
	return DecodeSyncResponse(raw)
}
