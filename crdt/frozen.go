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

	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/storage"
)

// Frozen is idempotent immutable blob storage (§3.6): once a key's content
// is set, every later write must carry byte-identical content (R3:
// re-applying the same write is a no-op) or it is rejected — there is no
// notion of "newer" content for a frozen entity, unlike LWWRegister.
type Frozen struct {
	baseCRDT
}

// NewFrozen returns a Frozen entity bound to key within context.
func NewFrozen(store storage.Engine, contextID ids.ContextId, key []byte) Frozen {
	return Frozen{baseCRDT: newBaseCRDT(store, contextID, key)}
}

func (f Frozen) ID() string { return string(f.stateKey()) }

const frozenValueSuffix = 0x01

// Value returns the stored content, or (nil, false) if never set.
func (f Frozen) Value(ctx context.Context) ([]byte, bool, error) {
	return f.get(ctx, frozenValueSuffix)
}

// Set stores content the first time it is called for this key. A later call
// with identical content is a no-op; a call with different content is
// rejected, since a frozen entity's identity IS its content.
func (f Frozen) Set(ctx context.Context, content []byte) error {
	cur, ok, err := f.Value(ctx)
	if err != nil {
		return errors.Wrap("failed to read frozen value", err)
	}
	if ok {
		if bytes.Equal(cur, content) {
			return nil
		}
		return errors.Causal("frozen value cannot be changed once set", nil)
	}
	return f.put(ctx, content, frozenValueSuffix)
}

// Merge applies a remote write using the same rule as Set.
func (f Frozen) Merge(ctx context.Context, content []byte) error { return f.Set(ctx, content) }
