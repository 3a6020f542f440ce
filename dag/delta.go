// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package dag implements the causal delta DAG (§4.1): an in-memory graph of
// deltas, backed by persistent storage, with head tracking, topological
// ordering and deterministic branch resolution.
package dag

import (
	"github.com/contextmesh/core/crdt"
	"github.com/contextmesh/core/hlc"
	"github.com/contextmesh/core/ids"
)

// Kind distinguishes a regular delta from a merge delta that collapses
// concurrent heads.
type Kind uint8

const (
	KindRegular Kind = iota
	KindMerge
)

// Delta is one causal unit of state mutation (§3.4). It is never mutated
// after creation; id is content-addressable and globally unique.
type Delta struct {
	ID               ids.DeltaId
	Parents          []ids.DeltaId
	Payload          []crdt.Action
	HLC              hlc.Timestamp
	ExpectedRootHash ids.Hash
	Kind             Kind
}

// IsGenesisChild reports whether d declares no parents, which is
// equivalent to a single parent of the reserved genesis id.
func (d Delta) IsGenesisChild() bool { return len(d.Parents) == 0 }
