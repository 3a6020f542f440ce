// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package hlc implements the Hybrid Logical Clock used to order deltas
// within a node and across the causal DAG (§3.1, §5).
package hlc

import (
	"sync"
	"time"
)

// physicalBits is the number of low bits reserved for the logical counter;
// the remaining high bits hold millisecond physical time. Comparison of the
// combined 64-bit Timestamp is a plain integer compare, which is what makes
// it "lexicographic" per §3.1.
const physicalBits = 16

const counterMask = (1 << physicalBits) - 1

// Timestamp is a monotonic 64-bit HLC value: physical time in the high
// bits, a per-node logical counter in the low bits.
type Timestamp uint64

// Physical returns the millisecond physical-time component.
func (t Timestamp) Physical() uint64 {
	return uint64(t) >> physicalBits
}

// Logical returns the logical-counter component.
func (t Timestamp) Logical() uint64 {
	return uint64(t) & counterMask
}

func compose(physical, logical uint64) Timestamp {
	return Timestamp((physical << physicalBits) | (logical & counterMask))
}

// Clock is a per-node HLC generator. It is safe for concurrent use.
type Clock struct {
	mu   sync.Mutex
	last Timestamp
	now  func() time.Time
}

// NewClock creates a Clock using wall-clock time as the physical source.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// Now advances and returns the clock's current timestamp: physical time if
// it has moved forward since the last call, otherwise the same physical
// time with an incremented logical counter.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	physicalMs := uint64(c.now().UnixMilli())
	lastPhysical := c.last.Physical()

	var next Timestamp
	if physicalMs > lastPhysical {
		next = compose(physicalMs, 0)
	} else {
		next = compose(lastPhysical, c.last.Logical()+1)
	}
	c.last = next
	return next
}

// Observe merges an externally-observed timestamp into the clock so that a
// subsequent Now() is guaranteed to be strictly greater than both the local
// clock and the observed one — the standard HLC receive-update rule.
func (c *Clock) Observe(remote Timestamp) Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	physicalMs := uint64(c.now().UnixMilli())
	lastPhysical := c.last.Physical()
	remotePhysical := remote.Physical()

	maxPhysical := physicalMs
	if lastPhysical > maxPhysical {
		maxPhysical = lastPhysical
	}
	if remotePhysical > maxPhysical {
		maxPhysical = remotePhysical
	}

	var next Timestamp
	switch {
	case maxPhysical == lastPhysical && maxPhysical == remotePhysical:
		logical := c.last.Logical()
		if remote.Logical() > logical {
			logical = remote.Logical()
		}
		next = compose(maxPhysical, logical+1)
	case maxPhysical == lastPhysical:
		next = compose(maxPhysical, c.last.Logical()+1)
	case maxPhysical == remotePhysical:
		next = compose(maxPhysical, remote.Logical()+1)
	default:
		next = compose(maxPhysical, 0)
	}
	c.last = next
	return next
}
