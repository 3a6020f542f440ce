// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package config

import (
	"context"
	"sync"

	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/runtime"
)

// ApplicationDescriptor is what the configuration client reports about a
// context's application bytecode (§6.2): its content-addressed id, the
// URL it can be fetched from, and arbitrary operator-defined metadata.
type ApplicationDescriptor struct {
	ID       ids.ApplicationId
	Source   string
	Metadata []byte
}

// Client is the external, consumed-only blockchain configuration
// contract (§6.2, explicitly out of scope per §1's collaborator list):
// membership and application resolution for a context, plus the two
// monotonic revision counters a local cache compares against to decide
// whether it is stale.
type Client interface {
	GetMembers(ctx context.Context, contextID ids.ContextId) ([]ids.PublicKey, error)
	GetApplication(ctx context.Context, contextID ids.ContextId) (ApplicationDescriptor, error)
	MembersRevision(ctx context.Context, contextID ids.ContextId) (uint64, error)
	ApplicationRevision(ctx context.Context, contextID ids.ContextId) (uint64, error)
	HasMember(ctx context.Context, contextID ids.ContextId, member ids.PublicKey) (bool, error)
	AddMembers(ctx context.Context, contextID ids.ContextId, members []ids.PublicKey, signer ids.PublicKey) error
	RemoveMembers(ctx context.Context, contextID ids.ContextId, members []ids.PublicKey, signer ids.PublicKey) error
}

type membershipEntry struct {
	members  map[ids.PublicKey]struct{}
	revision uint64
}

// MembershipCache is the local cache §3's Context type keeps: "every
// member PublicKey present in dag_heads-reachable deltas is also in the
// membership set (cached locally, refreshed from the external
// contract)". Refresh compares the client's current members_revision
// against the cached one and only re-fetches the roster when it moved,
// matching §6.2's "a change triggers re-sync of the corresponding local
// cache" rather than polling unconditionally on every lookup.
type MembershipCache struct {
	client Client

	mu      sync.RWMutex
	entries map[ids.ContextId]membershipEntry
}

// NewMembershipCache returns an empty cache backed by client.
func NewMembershipCache(client Client) *MembershipCache {
	return &MembershipCache{
		client:  client,
		entries: make(map[ids.ContextId]membershipEntry),
	}
}

// Refresh pulls contextID's current members_revision from the external
// contract and, if it differs from the cached one (or nothing is
// cached yet), re-fetches the full roster.
func (c *MembershipCache) Refresh(ctx context.Context, contextID ids.ContextId) error {
	rev, err := c.client.MembersRevision(ctx, contextID)
	if err != nil {
		return err
	}

	c.mu.RLock()
	cached, ok := c.entries[contextID]
	c.mu.RUnlock()
	if ok && cached.revision == rev {
		return nil
	}

	members, err := c.client.GetMembers(ctx, contextID)
	if err != nil {
		return err
	}
	set := make(map[ids.PublicKey]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}

	c.mu.Lock()
	c.entries[contextID] = membershipEntry{members: set, revision: rev}
	c.mu.Unlock()
	return nil
}

// HasMember reports whether member is in contextID's cached roster.
// Callers that need a guaranteed-fresh answer should Refresh first; this
// method never itself calls out to the external contract, matching
// Channel's "network worker never blocks on an external collaborator
// mid-message" posture.
func (c *MembershipCache) HasMember(contextID ids.ContextId, member ids.PublicKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[contextID]
	if !ok {
		return false
	}
	_, present := entry.members[member]
	return present
}

// Members returns a snapshot of contextID's cached roster.
func (c *MembershipCache) Members(contextID ids.ContextId) []ids.PublicKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[contextID]
	if !ok {
		return nil
	}
	out := make([]ids.PublicKey, 0, len(entry.members))
	for m := range entry.members {
		out = append(out, m)
	}
	return out
}

// Forget drops contextID's cached roster, for a dropped context.
func (c *MembershipCache) Forget(contextID ids.ContextId) {
	c.mu.Lock()
	delete(c.entries, contextID)
	c.mu.Unlock()
}

// MemberChangeForwarder adapts a Client into a runtime.ConfigClient: the
// WASM bridge (C5) emits add/remove side effects without knowing
// anything about the external contract's signing requirements, so this
// is where the node's own identity is attached as the proposing signer.
type MemberChangeForwarder struct {
	client Client
	signer ids.PublicKey
}

var _ runtime.ConfigClient = (*MemberChangeForwarder)(nil)

// NewMemberChangeForwarder returns a runtime.ConfigClient that forwards
// member-change side effects to client, signed as signer (this node's
// own identity).
func NewMemberChangeForwarder(client Client, signer ids.PublicKey) *MemberChangeForwarder {
	return &MemberChangeForwarder{client: client, signer: signer}
}

// RequestMemberChange forwards a WASM-emitted membership side effect to
// the external configuration contract without blocking the delta commit
// that produced it (§4.5's "Side effects" clause).
func (f *MemberChangeForwarder) RequestMemberChange(ctx context.Context, contextID ids.ContextId, req runtime.MemberChangeRequest) error {
	if req.Add {
		return f.client.AddMembers(ctx, contextID, []ids.PublicKey{req.Member}, f.signer)
	}
	return f.client.RemoveMembers(ctx, contextID, []ids.PublicKey{req.Member}, f.signer)
}
