// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package crdt implements the typed CRDT collection layer (§3.6): LWW
// register, G-counter, add-wins map/set, ordered vector, user-scoped and
// frozen storage, each with a declared storage strategy (blob or
// structured) over the ordered key-value Engine (C1).
//
// Types here follow the shape of defradb's core/crdt package (baseCRDT plus
// one struct per CRDT kind) generalized from defradb's single LWW register
// to the full §3.6 table.
package crdt

import (
	"context"

	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/storage"
)

// ActionKind is the 1-byte discriminant for an Action (§3.5).
type ActionKind uint8

const (
	ActionAdd ActionKind = iota
	ActionUpdate
	ActionDelete
	ActionCompare
)

// Action is one CRDT mutation produced by application logic and carried in
// a delta's payload (§3.5). Compare is used only in tree-comparison
// responses and is never stored.
type Action struct {
	Kind      ActionKind
	TypeID    byte
	ID        string
	Data      []byte
	Ancestors []string
	Metadata  []byte
}

// baseCRDT mirrors defradb's core/crdt.baseCRDT: every entity type embeds a
// store handle and the state key it owns within ColumnState.
type baseCRDT struct {
	store     storage.Engine
	contextID ids.ContextId
	key       []byte
}

func newBaseCRDT(store storage.Engine, contextID ids.ContextId, key []byte) baseCRDT {
	return baseCRDT{store: store, contextID: contextID, key: key}
}

func (b baseCRDT) stateKey(suffix ...byte) []byte {
	k := storage.ContextStateKey(b.contextID[:], b.key)
	if len(suffix) > 0 {
		k = append(k, suffix...)
	}
	return k
}

func (b baseCRDT) get(ctx context.Context, suffix ...byte) ([]byte, bool, error) {
	return b.store.Get(ctx, storage.ColumnState, b.stateKey(suffix...))
}

func (b baseCRDT) put(ctx context.Context, value []byte, suffix ...byte) error {
	return b.store.Put(ctx, storage.ColumnState, b.stateKey(suffix...), value)
}

func (b baseCRDT) delete(ctx context.Context, suffix ...byte) error {
	return b.store.Delete(ctx, storage.ColumnState, b.stateKey(suffix...))
}

func (b baseCRDT) iterPrefix(ctx context.Context, suffix ...byte) (storage.Iterator, error) {
	return b.store.Iter(ctx, storage.ColumnState, b.stateKey(suffix...))
}

// Merger is implemented by every CRDT entity: merging a serialized delta's
// value into the locally stored state must be idempotent (R3) and the
// entity's Merge must be commutative/associative across concurrent callers
// applying different deltas in different orders (R4).
type Merger interface {
	// ID returns the fully-qualified storage key identifying this entity.
	ID() string
}
