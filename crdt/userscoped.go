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

	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/storage"
)

// UserScoped is ownership-enforced storage (§3.6): the structured "map from
// PublicKey to T" strategy, one entity per owning identity K. A UserScoped
// value is bound to its owner K at construction; only the identity equal to
// K may ever write it.
type UserScoped struct {
	baseCRDT
	owner ids.PublicKey
}

// NewUserScoped returns the UserScoped entity owned by owner within context.
func NewUserScoped(store storage.Engine, contextID ids.ContextId, owner ids.PublicKey) UserScoped {
	return UserScoped{baseCRDT: newBaseCRDT(store, contextID, owner[:]), owner: owner}
}

func (u UserScoped) ID() string { return string(u.stateKey()) }

const userScopedValueSuffix = 0x01

// Owner returns the identity this entity is scoped to.
func (u UserScoped) Owner() ids.PublicKey { return u.owner }

// Value returns the currently stored value, or (nil, false) if unset.
func (u UserScoped) Value(ctx context.Context) ([]byte, bool, error) {
	return u.get(ctx, userScopedValueSuffix)
}

// Write sets value on behalf of invoker. It fails with ErrNotOwner unless
// invoker equals the entity's owner key K (this is the one entity type in
// §3.6 whose Merge is NOT commutative across distinct writers by design —
// ownership is the whole point).
func (u UserScoped) Write(ctx context.Context, invoker ids.PublicKey, value []byte) error {
	if invoker != u.owner {
		return errors.Authentication("userscoped write rejected", errors.ErrNotOwner)
	}
	return u.put(ctx, value, userScopedValueSuffix)
}

// Merge applies a remote write, enforcing the same identity check as Write.
// A write from a non-owner is dropped rather than erroring, since it may
// legitimately arrive via replay of a delta authored under a different
// entity's scope.
func (u UserScoped) Merge(ctx context.Context, invoker ids.PublicKey, value []byte) error {
	if invoker != u.owner {
		return nil
	}
	return u.Write(ctx, invoker, value)
}
