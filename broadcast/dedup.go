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
	"container/list"
	"sync"

	"github.com/contextmesh/core/ids"
)

// dedupSet filters duplicate deltas by id for at-most-once delivery
// (§4.3). It is a bounded LRU rather than an ever-growing set, since a
// long-lived node would otherwise accumulate one entry per delta ever
// seen.
type dedupSet struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[ids.DeltaId]*list.Element
}

func newDedupSet(capacity int) *dedupSet {
	return &dedupSet{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[ids.DeltaId]*list.Element),
	}
}

// seenBefore reports whether id was already marked seen, and marks it
// seen as a side effect if not. Equivalent to a single atomic
// check-and-insert.
func (d *dedupSet) seenBefore(id ids.DeltaId) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.index[id]; ok {
		d.order.MoveToFront(el)
		return true
	}
	d.insertLocked(id)
	return false
}

func (d *dedupSet) markSeen(id ids.DeltaId) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.index[id]; ok {
		d.order.MoveToFront(el)
		return
	}
	d.insertLocked(id)
}

func (d *dedupSet) insertLocked(id ids.DeltaId) {
	el := d.order.PushFront(id)
	d.index[id] = el
	if d.order.Len() > d.capacity {
		oldest := d.order.Back()
		if oldest != nil {
			d.order.Remove(oldest)
			delete(d.index, oldest.Value.(ids.DeltaId))
		}
	}
}
