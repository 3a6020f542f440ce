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

import "github.com/contextmesh/core/ids"

// DefaultCatchupThreshold is K in §4.6.1 rule 2.
const DefaultCatchupThreshold = 8

func headSetSymmetricDifference(a, b []ids.DeltaId) int {
	inA := make(map[ids.DeltaId]struct{}, len(a))
	for _, id := range a {
		inA[id] = struct{}{}
	}
	inB := make(map[ids.DeltaId]struct{}, len(b))
	for _, id := range b {
		inB[id] = struct{}{}
	}
	count := 0
	for id := range inA {
		if _, ok := inB[id]; !ok {
			count++
		}
	}
	for id := range inB {
		if _, ok := inA[id]; !ok {
			count++
		}
	}
	return count
}

func supports(list []ProtocolKind, p ProtocolKind) bool {
	for _, x := range list {
		if x == p {
			return true
		}
	}
	return false
}

func headSetsEqual(a, b []ids.DeltaId) bool {
	return headSetSymmetricDifference(a, b) == 0
}

// Select implements the deterministic §4.6.1 selection rule. None means
// the two sides are already converged and no protocol should run.
// catchupThreshold is K (pass DefaultCatchupThreshold for the spec
// default); ourSupports/theirSupports are each side's protocol support
// sets (e.g. a fresh node with no CRDT-tree implementation yet might
// support only delta-catchup and snapshot).
func Select(
	ourRootHash, theirRootHash ids.Hash,
	ourHeads, theirHeads []ids.DeltaId,
	ourSupports, theirSupports []ProtocolKind,
	catchupThreshold int,
) (ProtocolKind, bool) {
	if ourRootHash == theirRootHash && headSetsEqual(ourHeads, theirHeads) {
		return 0, false
	}

	if headSetSymmetricDifference(ourHeads, theirHeads) <= catchupThreshold &&
		supports(ourSupports, ProtocolDeltaCatchup) && supports(theirSupports, ProtocolDeltaCatchup) {
		return ProtocolDeltaCatchup, true
	}

	if supports(ourSupports, ProtocolHashComparison) && supports(theirSupports, ProtocolHashComparison) &&
		len(ourHeads) > 0 && len(theirHeads) > 0 {
		return ProtocolHashComparison, true
	}

	return ProtocolSnapshot, true
}
