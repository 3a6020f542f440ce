// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package syncproto

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"

	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/ids"
)

// treeNodeRequest asks the peer for the node rooted at Path. MaxDepth is
// carried on the wire, but the responder ignores it and always answers
// with the node's direct children only.
type treeNodeRequest struct {
	Path     []byte
	MaxDepth uint8
}

func (r treeNodeRequest) encode() []byte {
	buf := &bytes.Buffer{}
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(r.Path)))
	buf.Write(n[:])
	buf.Write(r.Path)
	buf.WriteByte(r.MaxDepth)
	return buf.Bytes()
}

func decodeTreeNodeRequest(b []byte) (treeNodeRequest, error) {
	if len(b) < 5 {
		return treeNodeRequest{}, errors.Decoding("tree node request truncated", nil)
	}
	n := binary.LittleEndian.Uint32(b[:4])
	if uint32(len(b)) < 4+n+1 {
		return treeNodeRequest{}, errors.Decoding("tree node request path truncated", nil)
	}
	path := append([]byte(nil), b[4:4+n]...)
	depth := b[4+n]
	return treeNodeRequest{Path: path, MaxDepth: depth}, nil
}

// treeNodeResponse describes one node and (up to MaxChildrenPerResponse)
// of its children, plus a leaf value when the node is terminal.
type treeNodeResponse struct {
	Digest   ids.Hash
	IsLeaf   bool
	LeafKey  []byte
	LeafVal  []byte
	Children []childDescriptor
}

func (r treeNodeResponse) encode() []byte {
	buf := &bytes.Buffer{}
	buf.Write(r.Digest[:])
	if r.IsLeaf {
		buf.WriteByte(1)
		putLenPrefixed(buf, r.LeafKey)
		putLenPrefixed(buf, r.LeafVal)
	} else {
		buf.WriteByte(0)
	}
	var n [2]byte
	binary.LittleEndian.PutUint16(n[:], uint16(len(r.Children)))
	buf.Write(n[:])
	for _, c := range r.Children {
		buf.WriteByte(c.Branch)
		buf.Write(c.Digest[:])
	}
	return buf.Bytes()
}

func putLenPrefixed(buf *bytes.Buffer, b []byte) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(b)))
	buf.Write(n[:])
	buf.Write(b)
}

func readLenPrefixed(b []byte) ([]byte, []byte, error) {
	if len(b) < 4 {
		return nil, nil, errors.Decoding("length-prefixed field truncated", nil)
	}
	n := binary.LittleEndian.Uint32(b[:4])
	rest := b[4:]
	if uint32(len(rest)) < n {
		return nil, nil, errors.Decoding("length-prefixed field body truncated", nil)
	}
	return append([]byte(nil), rest[:n]...), rest[n:], nil
}

func decodeTreeNodeResponse(b []byte) (treeNodeResponse, error) {
	if len(b) < ids.Size+1 {
		return treeNodeResponse{}, errors.Decoding("tree node response truncated", nil)
	}
	var r treeNodeResponse
	copy(r.Digest[:], b[:ids.Size])
	rest := b[ids.Size:]
	r.IsLeaf = rest[0] != 0
	rest = rest[1:]
	if r.IsLeaf {
		var err error
		r.LeafKey, rest, err = readLenPrefixed(rest)
		if err != nil {
			return treeNodeResponse{}, err
		}
		r.LeafVal, rest, err = readLenPrefixed(rest)
		if err != nil {
			return treeNodeResponse{}, err
		}
	}
	if len(rest) < 2 {
		return treeNodeResponse{}, errors.Decoding("tree node response child count truncated", nil)
	}
	count := binary.LittleEndian.Uint16(rest[:2])
	rest = rest[2:]
	for i := uint16(0); i < count; i++ {
		if len(rest) < 1+ids.Size {
			return treeNodeResponse{}, errors.Decoding("tree node response child truncated", nil)
		}
		var d childDescriptor
		d.Branch = rest[0]
		copy(d.Digest[:], rest[1:1+ids.Size])
		r.Children = append(r.Children, d)
		rest = rest[1+ids.Size:]
	}
	return r, nil
}

func sendTreeNodeRequest(w io.Writer, r treeNodeRequest) error   { return writeFrame(w, r.encode()) }
func sendTreeNodeResponse(w io.Writer, r treeNodeResponse) error { return writeFrame(w, r.encode()) }

func receiveTreeNodeRequest(r io.Reader) (treeNodeRequest, error) {
	raw, err := readFrame(r)
	if err != nil {
		return treeNodeRequest{}, err
	}
	return decodeTreeNodeRequest(raw)
}

func receiveTreeNodeResponse(r io.Reader) (treeNodeResponse, error) {
	raw, err := readFrame(r)
	if err != nil {
		return treeNodeResponse{}, err
	}
	return decodeTreeNodeResponse(raw)
}

// LeafMerger resolves a conflicting leaf the way §3.6 requires: dispatch
// to the entity's own merge function. The core's generic sync layer has
// no notion of which CRDT type owns a given key, so this is supplied by
// the composition root, which does.
type LeafMerger interface {
	MergeLeaf(ctx context.Context, contextID ids.ContextId, key, remoteValue []byte) error
}

// HashComparison implements §4.6.3: a Merkle tree walk that requests
// only the subtrees whose digests differ, reconciling leaves via
// LeafMerger.
type HashComparison struct {
	Tree   *Tree
	Merger LeafMerger
}

var _ Protocol = (*HashComparison)(nil)

// endOfTreeRequests closes the request side of the stream, mirroring
// DeltaCatchup's sentinel.
var endOfTreeRequests = treeNodeRequest{Path: []byte{0xFE}, MaxDepth: 0xFF}.encode()

func (h *HashComparison) RunInitiator(ctx context.Context, stream io.ReadWriter, contextID ids.ContextId) (Report, error) {
	report := Report{Protocol: ProtocolHashComparison}

	type frontierItem struct {
		path  []byte
		depth uint8
	}
	queue := []frontierItem{{path: nil, depth: 0}}

	for len(queue) > 0 {
		if report.RequestsSent >= MaxRequestsPerSession {
			return report, errors.Protocol("hash-comparison request limit exceeded", nil)
		}
		item := queue[0]
		queue = queue[1:]
		if item.depth > MaxRequestDepth {
			continue
		}

		ourNode, err := h.Tree.Node(ctx, item.path)
		if err != nil {
			return report, err
		}

		if err := sendTreeNodeRequest(stream, treeNodeRequest{Path: item.path, MaxDepth: 1}); err != nil {
			return report, err
		}
		report.RequestsSent++

		resp, err := receiveTreeNodeResponse(stream)
		if err != nil {
			return report, err
		}

		if resp.Digest == ourNode.Digest {
			continue
		}

		if resp.IsLeaf {
			if ourNode.IsLeaf && bytes.Equal(ourNode.LeafVal, resp.LeafVal) {
				continue
			}
			if err := h.Merger.MergeLeaf(ctx, contextID, resp.LeafKey, resp.LeafVal); err != nil {
				return report, err
			}
			report.EntitiesMerged++
			continue
		}

		ourChildren := make(map[byte]ids.Hash, len(ourNode.Children))
		for _, c := range ourNode.Children {
			ourChildren[c.Branch] = c.Digest
		}
		for _, c := range resp.Children {
			if item.depth+1 > MaxRequestDepth {
				continue
			}
			if ourDigest, ok := ourChildren[c.Branch]; ok && ourDigest == c.Digest {
				continue
			}
			childPath := append(append([]byte(nil), item.path...), c.Branch)
			queue = append(queue, frontierItem{path: childPath, depth: item.depth + 1})
		}
	}

	if err := writeFrame(stream, endOfTreeRequests); err != nil {
		return report, err
	}
	return report, nil
}

func (h *HashComparison) RunResponder(ctx context.Context, stream io.ReadWriter, contextID ids.ContextId) (Report, error) {
	report := Report{Protocol: ProtocolHashComparison}
	for {
		raw, err := readFrame(stream)
		if err != nil {
			return report, err
		}
		if bytes.Equal(raw, endOfTreeRequests) {
			return report, nil
		}
		req, err := decodeTreeNodeRequest(raw)
		if err != nil {
			return report, err
		}

		node, err := h.Tree.Node(ctx, req.Path)
		if err != nil {
			return report, err
		}
		resp := treeNodeResponse{Digest: node.Digest, IsLeaf: node.IsLeaf, LeafKey: node.LeafKey, LeafVal: node.LeafVal}
		if !node.IsLeaf {
			children := node.Children
			if len(children) > MaxChildrenPerResponse {
				children = children[:MaxChildrenPerResponse]
			}
			resp.Children = children
		}
		if err := sendTreeNodeResponse(stream, resp); err != nil {
			return report, err
		}
	}
}
