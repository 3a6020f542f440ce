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
	"crypto/sha256"
	"sort"

	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/storage"
)

// MaxRequestDepth caps how deep a hash-comparison walk may recurse
// (§4.6.3). MaxChildrenPerResponse caps how many child descriptors one
// TreeNodeResponse may carry.
const (
	MaxRequestDepth        = 16
	MaxChildrenPerResponse = 256
	MaxRequestsPerSession  = 10000
)

// childDescriptor names one child of a tree node by the byte it branches
// on and the digest of the subtree rooted there.
type childDescriptor struct {
	Branch byte
	Digest ids.Hash
}

// treeNode is the computed shape of one Merkle node: either a leaf
// holding a single ColumnState row, or an internal node with up to 256
// children (one per possible next key byte — §4.6.3's byte-level trie).
type treeNode struct {
	Digest   ids.Hash
	IsLeaf   bool
	LeafKey  []byte
	LeafVal  []byte
	Children []childDescriptor
}

// Tree computes Merkle digests over a context's CRDT state (ColumnState
// rows keyed by context_id ∥ state_key), arranged as a byte-level trie:
// each level branches on the next byte of the relative key, so a node
// never has more than 256 children, matching §4.6.3's response cap
// exactly. A real entity (a CRDT's full stateKey plus its internal
// suffixes) may span several adjacent leaves here rather than being one
// leaf — entity-aware grouping is known only to the crdt package's
// types, which this layer doesn't depend on.
type Tree struct {
	store     storage.Engine
	contextID ids.ContextId
}

// NewTree builds a Tree over the given engine and context.
func NewTree(store storage.Engine, contextID ids.ContextId) *Tree {
	return &Tree{store: store, contextID: contextID}
}

func (t *Tree) entriesUnderPath(ctx context.Context, path []byte) ([]storage.Entry, error) {
	prefix := append(append([]byte(nil), t.contextID[:]...), path...)
	it, err := t.store.Iter(ctx, storage.ColumnState, prefix)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []storage.Entry
	for it.Next() {
		e := it.Entry()
		rel := e.Key[len(t.contextID):]
		out = append(out, storage.Entry{Key: rel, Value: e.Value})
	}
	return out, it.Err()
}

// Node computes the tree node rooted at path.
func (t *Tree) Node(ctx context.Context, path []byte) (treeNode, error) {
	entries, err := t.entriesUnderPath(ctx, path)
	if err != nil {
		return treeNode{}, err
	}
	if len(entries) == 0 {
		return treeNode{}, nil
	}
	if len(entries) == 1 && bytes.Equal(entries[0].Key, path) {
		leaf := entries[0]
		return treeNode{
			Digest:  leafDigest(leaf.Key, leaf.Value),
			IsLeaf:  true,
			LeafKey: append([]byte(nil), leaf.Key...),
			LeafVal: append([]byte(nil), leaf.Value...),
		}, nil
	}

	byBranch := make(map[byte][]storage.Entry)
	for _, e := range entries {
		if len(e.Key) <= len(path) {
			continue // a key that terminates exactly at path but collides with longer ones; ignore at this level
		}
		b := e.Key[len(path)]
		byBranch[b] = append(byBranch[b], e)
	}

	var branches []byte
	for b := range byBranch {
		branches = append(branches, b)
	}
	sort.Slice(branches, func(i, j int) bool { return branches[i] < branches[j] })

	h := sha256.New()
	children := make([]childDescriptor, 0, len(branches))
	for _, b := range branches {
		childPath := append(append([]byte(nil), path...), b)
		child, err := t.Node(ctx, childPath)
		if err != nil {
			return treeNode{}, err
		}
		children = append(children, childDescriptor{Branch: b, Digest: child.Digest})
		h.Write([]byte{b})
		h.Write(child.Digest[:])
	}

	var digest ids.Hash
	copy(digest[:], h.Sum(nil))
	return treeNode{Digest: digest, Children: children}, nil
}

// RootDigest is Node(ctx, nil).Digest — the whole context's state hash
// as seen by this tree.
func (t *Tree) RootDigest(ctx context.Context) (ids.Hash, error) {
	n, err := t.Node(ctx, nil)
	if err != nil {
		return ids.Hash{}, err
	}
	return n.Digest, nil
}

func leafDigest(key, value []byte) ids.Hash {
	h := sha256.New()
	h.Write(key)
	h.Write(value)
	var out ids.Hash
	copy(out[:], h.Sum(nil))
	return out
}
