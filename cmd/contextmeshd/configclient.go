// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package main

import (
	"context"
	"sync"

	"github.com/contextmesh/core/config"
	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/ids"
)

// staticConfigClient is a standalone, in-memory config.Client: the real
// blockchain configuration client is an external collaborator this
// implementation only ever consumes through the interface (§1), so a
// running node needs some concrete Client to point the core at. This
// one tracks membership and the application descriptor entirely in
// memory and bumps the matching revision counter on every write. The
// running node reads only its revision counters and forwards member
// changes to it; HasMember and GetApplication are not called by the
// node itself.
type staticConfigClient struct {
	mu sync.Mutex

	members     map[ids.ContextId]map[ids.PublicKey]struct{}
	membersRev  map[ids.ContextId]uint64
	application map[ids.ContextId]config.ApplicationDescriptor
	appRev      map[ids.ContextId]uint64
}

var _ config.Client = (*staticConfigClient)(nil)

func newStaticConfigClient() *staticConfigClient {
	return &staticConfigClient{
		members:     make(map[ids.ContextId]map[ids.PublicKey]struct{}),
		membersRev:  make(map[ids.ContextId]uint64),
		application: make(map[ids.ContextId]config.ApplicationDescriptor),
		appRev:      make(map[ids.ContextId]uint64),
	}
}

// RegisterApplication seeds contextID's application descriptor before
// the node joins it, the local-operator equivalent of whatever a real
// chain client would have resolved from on-chain state.
func (c *staticConfigClient) RegisterApplication(contextID ids.ContextId, desc config.ApplicationDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.application[contextID] = desc
	c.appRev[contextID]++
}

func (c *staticConfigClient) GetMembers(_ context.Context, contextID ids.ContextId) ([]ids.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ids.PublicKey, 0, len(c.members[contextID]))
	for m := range c.members[contextID] {
		out = append(out, m)
	}
	return out, nil
}

func (c *staticConfigClient) GetApplication(_ context.Context, contextID ids.ContextId) (config.ApplicationDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	desc, ok := c.application[contextID]
	if !ok {
		return config.ApplicationDescriptor{}, errors.ErrNotFound
	}
	return desc, nil
}

func (c *staticConfigClient) MembersRevision(_ context.Context, contextID ids.ContextId) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.membersRev[contextID], nil
}

func (c *staticConfigClient) ApplicationRevision(_ context.Context, contextID ids.ContextId) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appRev[contextID], nil
}

func (c *staticConfigClient) HasMember(_ context.Context, contextID ids.ContextId, member ids.PublicKey) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.members[contextID][member]
	return ok, nil
}

func (c *staticConfigClient) AddMembers(_ context.Context, contextID ids.ContextId, members []ids.PublicKey, _ ids.PublicKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.members[contextID]
	if !ok {
		set = make(map[ids.PublicKey]struct{})
		c.members[contextID] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	c.membersRev[contextID]++
	return nil
}

func (c *staticConfigClient) RemoveMembers(_ context.Context, contextID ids.ContextId, members []ids.PublicKey, _ ids.PublicKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := c.members[contextID]
	for _, m := range members {
		delete(set, m)
	}
	c.membersRev[contextID]++
	return nil
}
