// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/contextmesh/core/ids"
)

func TestDedupSetFiltersRepeatedIDs(t *testing.T) {
	d := newDedupSet(10)
	id := ids.DeltaId{1}
	assert.False(t, d.seenBefore(id))
	assert.True(t, d.seenBefore(id))
	assert.True(t, d.seenBefore(id))
}

func TestDedupSetEvictsOldestBeyondCapacity(t *testing.T) {
	d := newDedupSet(2)
	a, b, c := ids.DeltaId{1}, ids.DeltaId{2}, ids.DeltaId{3}
	assert.False(t, d.seenBefore(a))
	assert.False(t, d.seenBefore(b))
	assert.False(t, d.seenBefore(c)) // evicts a
	assert.False(t, d.seenBefore(a)) // a was evicted, looks new again
}
