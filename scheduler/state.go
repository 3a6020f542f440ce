// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package scheduler implements the per-context sync scheduler (C9,
// §4.7): peer choice, retry with exponential backoff, and the
// single-concurrent-sync-per-context guard.
package scheduler

import (
	"time"

	libpeer "github.com/libp2p/go-libp2p/core/peer"

	"github.com/contextmesh/core/syncproto"
)

// maxBackoffFailures caps the exponent so failure_count can grow without
// bound while the delay itself still saturates at maxBackoffSeconds.
const maxBackoffFailures = 9

// maxBackoffSeconds is the backoff ceiling (§4.7: "min(2^failures, 300)").
const maxBackoffSeconds = 300

// State tracks one context's sync history (§4.7's "state per
// (context, peer)" — kept here per context, since the scheduler's
// concurrency guard is itself per context and the last-used peer is
// just one more observed field, following tracking.rs's SyncState).
// LastSync is set when an attempt concludes, whether it succeeded or
// failed — it is what backoff gating measures from.
type State struct {
	LastSync     time.Time
	LastPeer     libpeer.ID
	FailureCount int
	LastError    string
	SuccessCount uint64
	LastProtocol syncproto.ProtocolKind
}

// OnSuccess records a converged sync: failure_count resets.
func (s *State) OnSuccess(peer libpeer.ID, protocol syncproto.ProtocolKind, at time.Time) {
	s.LastSync = at
	s.LastPeer = peer
	s.FailureCount = 0
	s.LastError = ""
	s.SuccessCount++
	s.LastProtocol = protocol
}

// OnFailure records a failed sync attempt and its reason.
func (s *State) OnFailure(reason string, at time.Time) {
	s.LastSync = at
	s.FailureCount++
	s.LastError = reason
}

// BackoffDelay is the §4.7 formula: min(2^failure_count, 300) seconds.
func (s *State) BackoffDelay() time.Duration {
	n := s.FailureCount
	if n > maxBackoffFailures {
		n = maxBackoffFailures
	}
	secs := uint64(1) << uint(n)
	if secs > maxBackoffSeconds {
		secs = maxBackoffSeconds
	}
	return time.Duration(secs) * time.Second
}
