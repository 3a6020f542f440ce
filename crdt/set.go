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

	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/storage"
)

// UnorderedSet is an add-wins set (§3.6): structured storage, one entry per
// (element, add-tag). An element is a member if at least one of its add-tags
// has not been observed-and-removed. Concurrent add/remove of the same
// element resolves in favor of the add (R4: add-wins).
type UnorderedSet struct {
	baseCRDT
}

// NewUnorderedSet returns an UnorderedSet bound to key within context.
func NewUnorderedSet(store storage.Engine, contextID ids.ContextId, key []byte) UnorderedSet {
	return UnorderedSet{baseCRDT: newBaseCRDT(store, contextID, key)}
}

func (s UnorderedSet) ID() string { return string(s.stateKey()) }

const (
	setElementTag    = 0x20
	setAddTagKind    = 0x01
	setRemoveTagKind = 0x02
)

// entrySuffix builds the [0x20][element][kind][tag] suffix shared by add and
// remove records for element.
func entrySuffix(element ids.ID, kind byte, tag ids.DeltaId) []byte {
	suffix := make([]byte, 0, 1+ids.Size+1+ids.Size)
	suffix = append(suffix, setElementTag)
	suffix = append(suffix, element[:]...)
	suffix = append(suffix, kind)
	suffix = append(suffix, tag[:]...)
	return suffix
}

// Add records element as observed-added under tag (typically the id of the
// delta carrying the add). Re-adding the same (element, tag) pair is a no-op
// (R3: idempotent).
func (s UnorderedSet) Add(ctx context.Context, element ids.ID, tag ids.DeltaId) error {
	return s.put(ctx, nil, entrySuffix(element, setAddTagKind, tag)...)
}

// Remove tombstones a specific previously-observed add-tag. Remove only ever
// retires tags the remover has actually seen; an add concurrent with the
// remove (a tag the remover never observed) survives, giving add-wins
// semantics under merge.
func (s UnorderedSet) Remove(ctx context.Context, element ids.ID, tag ids.DeltaId) error {
	return s.put(ctx, nil, entrySuffix(element, setRemoveTagKind, tag)...)
}

// Merge folds a remote add or remove observation into local state. Both
// operations are idempotent set-insertions of a tombstone/tag record, so
// Merge is commutative and associative regardless of application order.
func (s UnorderedSet) Merge(ctx context.Context, element ids.ID, tag ids.DeltaId, isRemove bool) error {
	if isRemove {
		return s.Remove(ctx, element, tag)
	}
	return s.Add(ctx, element, tag)
}

// Contains reports whether element currently has a live (non-tombstoned)
// add-tag.
func (s UnorderedSet) Contains(ctx context.Context, element ids.ID) (bool, error) {
	tags, err := s.liveTags(ctx, element)
	if err != nil {
		return false, err
	}
	return len(tags) > 0, nil
}

// liveTags returns the add-tags for element that have not been tombstoned.
func (s UnorderedSet) liveTags(ctx context.Context, element ids.ID) ([]ids.DeltaId, error) {
	prefix := append([]byte{setElementTag}, element[:]...)
	it, err := s.iterPrefix(ctx, prefix...)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	prefixLen := len(s.stateKey(prefix...))
	adds := make(map[ids.DeltaId]bool)
	removed := make(map[ids.DeltaId]bool)
	for it.Next() {
		k := it.Entry().Key
		rest := k[prefixLen:]
		if len(rest) != 1+ids.Size {
			continue
		}
		tag, err := ids.FromBytes(rest[1:])
		if err != nil {
			return nil, err
		}
		if rest[0] == setAddTagKind {
			adds[tag] = true
		} else {
			removed[tag] = true
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	var live []ids.DeltaId
	for tag := range adds {
		if !removed[tag] {
			live = append(live, tag)
		}
	}
	return live, nil
}

// Members returns every element with at least one live add-tag.
func (s UnorderedSet) Members(ctx context.Context) ([]ids.ID, error) {
	it, err := s.iterPrefix(ctx, setElementTag)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	prefixLen := len(s.stateKey(setElementTag))
	seen := make(map[ids.ID]bool)
	var elements []ids.ID
	for it.Next() {
		k := it.Entry().Key
		rest := k[prefixLen:]
		if len(rest) < ids.Size {
			continue
		}
		var el ids.ID
		copy(el[:], rest[:ids.Size])
		if seen[el] {
			continue
		}
		seen[el] = true
		elements = append(elements, el)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	var live []ids.ID
	for _, el := range elements {
		ok, err := s.Contains(ctx, el)
		if err != nil {
			return nil, err
		}
		if ok {
			live = append(live, el)
		}
	}
	return live, nil
}
