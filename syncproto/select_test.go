// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package syncproto_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/syncproto"
)

func TestSelectReturnsNoneWhenConverged(t *testing.T) {
	heads := []ids.DeltaId{mustDeltaID(1), mustDeltaID(2)}
	root := ids.Hash{7}
	kind, ok := syncproto.Select(root, root, heads, heads, nil, nil, syncproto.DefaultCatchupThreshold)
	assert.False(t, ok)
	assert.Equal(t, syncproto.ProtocolKind(0), kind)
}

func TestSelectPicksDeltaCatchupWithinThreshold(t *testing.T) {
	ours := []ids.DeltaId{mustDeltaID(1)}
	theirs := []ids.DeltaId{mustDeltaID(1), mustDeltaID(2)}
	supports := []syncproto.ProtocolKind{syncproto.ProtocolDeltaCatchup, syncproto.ProtocolHashComparison}

	kind, ok := syncproto.Select(ids.Hash{1}, ids.Hash{2}, ours, theirs, supports, supports, syncproto.DefaultCatchupThreshold)
	assert.True(t, ok)
	assert.Equal(t, syncproto.ProtocolDeltaCatchup, kind)
}

func TestSelectFallsBackToHashComparisonBeyondThreshold(t *testing.T) {
	var ours, theirs []ids.DeltaId
	for i := byte(0); i < 20; i++ {
		ours = append(ours, mustDeltaID(i))
	}
	for i := byte(20); i < 40; i++ {
		theirs = append(theirs, mustDeltaID(i))
	}
	supports := []syncproto.ProtocolKind{syncproto.ProtocolDeltaCatchup, syncproto.ProtocolHashComparison}

	kind, ok := syncproto.Select(ids.Hash{1}, ids.Hash{2}, ours, theirs, supports, supports, syncproto.DefaultCatchupThreshold)
	assert.True(t, ok)
	assert.Equal(t, syncproto.ProtocolHashComparison, kind)
}

func TestSelectFallsBackToSnapshotWhenNothingElseApplies(t *testing.T) {
	var ours, theirs []ids.DeltaId
	for i := byte(0); i < 20; i++ {
		ours = append(ours, mustDeltaID(i))
	}
	for i := byte(20); i < 40; i++ {
		theirs = append(theirs, mustDeltaID(i))
	}
	// Neither side supports hash-comparison and the head sets are too far
	// apart for catch-up, so only snapshot remains.
	supports := []syncproto.ProtocolKind{syncproto.ProtocolSnapshot}

	kind, ok := syncproto.Select(ids.Hash{1}, ids.Hash{2}, ours, theirs, supports, supports, syncproto.DefaultCatchupThreshold)
	assert.True(t, ok)
	assert.Equal(t, syncproto.ProtocolSnapshot, kind)
}

func TestSelectUsesSnapshotWhenOneSideHasEmptyHeads(t *testing.T) {
	supports := []syncproto.ProtocolKind{syncproto.ProtocolDeltaCatchup, syncproto.ProtocolHashComparison, syncproto.ProtocolSnapshot}
	theirs := []ids.DeltaId{mustDeltaID(1)}
	for i := byte(2); i < 20; i++ {
		theirs = append(theirs, mustDeltaID(i))
	}

	kind, ok := syncproto.Select(ids.Hash{1}, ids.Hash{2}, nil, theirs, supports, supports, syncproto.DefaultCatchupThreshold)
	assert.True(t, ok)
	assert.Equal(t, syncproto.ProtocolSnapshot, kind)
}
