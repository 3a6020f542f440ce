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

	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/storage"
)

// UnorderedMap is an add-wins key/value map (§3.6): structured storage, one
// entry per (mapKey, add-tag) carrying the value written under that tag.
// Like UnorderedSet, a remove only tombstones tags the remover actually
// observed, so a concurrent write to the same mapKey survives a concurrent
// delete (R4: add-wins). When more than one live tag remains for a mapKey
// (two genuinely concurrent writers), the value with the lexicographically
// greatest tag is reported, giving every replica the same deterministic
// view without requiring a vector clock.
type UnorderedMap struct {
	baseCRDT
}

// NewUnorderedMap returns an UnorderedMap bound to key within context.
func NewUnorderedMap(store storage.Engine, contextID ids.ContextId, key []byte) UnorderedMap {
	return UnorderedMap{baseCRDT: newBaseCRDT(store, contextID, key)}
}

func (m UnorderedMap) ID() string { return string(m.stateKey()) }

const (
	mapKeyTag        = 0x30
	mapAddTagKind    = 0x01
	mapRemoveTagKind = 0x02
)

func mapEntrySuffix(mapKey []byte, kind byte, tag ids.DeltaId) []byte {
	suffix := make([]byte, 0, 1+4+len(mapKey)+1+ids.Size)
	suffix = append(suffix, mapKeyTag)
	suffix = appendLengthPrefixed(suffix, mapKey)
	suffix = append(suffix, kind)
	suffix = append(suffix, tag[:]...)
	return suffix
}

func appendLengthPrefixed(dst, data []byte) []byte {
	var lenBuf [4]byte
	n := uint32(len(data))
	lenBuf[0] = byte(n)
	lenBuf[1] = byte(n >> 8)
	lenBuf[2] = byte(n >> 16)
	lenBuf[3] = byte(n >> 24)
	dst = append(dst, lenBuf[:]...)
	return append(dst, data...)
}

// Put records a write of value under mapKey, tagged by tag (typically the id
// of the delta carrying the write).
func (m UnorderedMap) Put(ctx context.Context, mapKey, value []byte, tag ids.DeltaId) error {
	return m.put(ctx, value, mapEntrySuffix(mapKey, mapAddTagKind, tag)...)
}

// Delete tombstones a specific previously-observed write tag for mapKey.
func (m UnorderedMap) Delete(ctx context.Context, mapKey []byte, tag ids.DeltaId) error {
	return m.put(ctx, nil, mapEntrySuffix(mapKey, mapRemoveTagKind, tag)...)
}

// Merge folds a remote put or delete observation into local state.
func (m UnorderedMap) Merge(ctx context.Context, mapKey []byte, tag ids.DeltaId, value []byte, isDelete bool) error {
	if isDelete {
		return m.Delete(ctx, mapKey, tag)
	}
	return m.Put(ctx, mapKey, value, tag)
}

type mapEntry struct {
	tag   ids.DeltaId
	value []byte
}

func (m UnorderedMap) liveEntries(ctx context.Context, mapKey []byte) ([]mapEntry, error) {
	prefix := append([]byte{mapKeyTag}, appendLengthPrefixed(nil, mapKey)...)
	it, err := m.iterPrefix(ctx, prefix...)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	prefixLen := len(m.stateKey(prefix...))
	adds := make(map[ids.DeltaId][]byte)
	removed := make(map[ids.DeltaId]bool)
	for it.Next() {
		e := it.Entry()
		rest := e.Key[prefixLen:]
		if len(rest) != 1+ids.Size {
			continue
		}
		tag, err := ids.FromBytes(rest[1:])
		if err != nil {
			return nil, err
		}
		if rest[0] == mapAddTagKind {
			adds[tag] = e.Value
		} else {
			removed[tag] = true
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	var live []mapEntry
	for tag, value := range adds {
		if !removed[tag] {
			live = append(live, mapEntry{tag: tag, value: value})
		}
	}
	return live, nil
}

// Get returns the current value for mapKey, or (nil, false) if no live
// write remains.
func (m UnorderedMap) Get(ctx context.Context, mapKey []byte) ([]byte, bool, error) {
	live, err := m.liveEntries(ctx, mapKey)
	if err != nil || len(live) == 0 {
		return nil, false, err
	}

	best := live[0]
	for _, e := range live[1:] {
		if bytes.Compare(e.tag[:], best.tag[:]) > 0 {
			best = e
		}
	}
	return best.value, true, nil
}

// Has reports whether mapKey currently has a live entry.
func (m UnorderedMap) Has(ctx context.Context, mapKey []byte) (bool, error) {
	_, ok, err := m.Get(ctx, mapKey)
	return ok, err
}
