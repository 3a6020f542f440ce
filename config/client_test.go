// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package config_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextmesh/core/config"
	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/runtime"
)

type fakeClient struct {
	members  []ids.PublicKey
	revision uint64
	getCalls int32
	revCalls int32
	added    [][]ids.PublicKey
	removed  [][]ids.PublicKey
}

func (f *fakeClient) GetMembers(context.Context, ids.ContextId) ([]ids.PublicKey, error) {
	atomic.AddInt32(&f.getCalls, 1)
	return f.members, nil
}

func (f *fakeClient) GetApplication(context.Context, ids.ContextId) (config.ApplicationDescriptor, error) {
	return config.ApplicationDescriptor{}, nil
}

func (f *fakeClient) MembersRevision(context.Context, ids.ContextId) (uint64, error) {
	atomic.AddInt32(&f.revCalls, 1)
	return f.revision, nil
}

func (f *fakeClient) ApplicationRevision(context.Context, ids.ContextId) (uint64, error) {
	return 0, nil
}

func (f *fakeClient) HasMember(_ context.Context, _ ids.ContextId, member ids.PublicKey) (bool, error) {
	for _, m := range f.members {
		if m == member {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeClient) AddMembers(_ context.Context, _ ids.ContextId, members []ids.PublicKey, _ ids.PublicKey) error {
	f.added = append(f.added, members)
	return nil
}

func (f *fakeClient) RemoveMembers(_ context.Context, _ ids.ContextId, members []ids.PublicKey, _ ids.PublicKey) error {
	f.removed = append(f.removed, members)
	return nil
}

func mustPubKey(b byte) ids.PublicKey {
	var k ids.PublicKey
	k[0] = b
	return k
}

func TestMembershipCacheRefreshPopulatesRoster(t *testing.T) {
	alice := mustPubKey(1)
	client := &fakeClient{members: []ids.PublicKey{alice}, revision: 1}
	cache := config.NewMembershipCache(client)
	contextID := ids.ContextId{9}

	require.NoError(t, cache.Refresh(context.Background(), contextID))
	assert.True(t, cache.HasMember(contextID, alice))
	assert.False(t, cache.HasMember(contextID, mustPubKey(2)))
}

func TestMembershipCacheSkipsRefetchWhenRevisionUnchanged(t *testing.T) {
	client := &fakeClient{members: []ids.PublicKey{mustPubKey(1)}, revision: 1}
	cache := config.NewMembershipCache(client)
	contextID := ids.ContextId{9}

	require.NoError(t, cache.Refresh(context.Background(), contextID))
	require.NoError(t, cache.Refresh(context.Background(), contextID))
	assert.Equal(t, int32(1), atomic.LoadInt32(&client.getCalls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&client.revCalls))
}

func TestMembershipCacheRefetchesWhenRevisionAdvances(t *testing.T) {
	client := &fakeClient{members: []ids.PublicKey{mustPubKey(1)}, revision: 1}
	cache := config.NewMembershipCache(client)
	contextID := ids.ContextId{9}

	require.NoError(t, cache.Refresh(context.Background(), contextID))
	client.members = []ids.PublicKey{mustPubKey(1), mustPubKey(2)}
	client.revision = 2
	require.NoError(t, cache.Refresh(context.Background(), contextID))

	assert.Equal(t, int32(2), atomic.LoadInt32(&client.getCalls))
	assert.True(t, cache.HasMember(contextID, mustPubKey(2)))
}

func TestMembershipCacheForgetClearsRoster(t *testing.T) {
	client := &fakeClient{members: []ids.PublicKey{mustPubKey(1)}, revision: 1}
	cache := config.NewMembershipCache(client)
	contextID := ids.ContextId{9}

	require.NoError(t, cache.Refresh(context.Background(), contextID))
	cache.Forget(contextID)
	assert.False(t, cache.HasMember(contextID, mustPubKey(1)))
	assert.Nil(t, cache.Members(contextID))
}

func TestMemberChangeForwarderForwardsAddAndRemove(t *testing.T) {
	client := &fakeClient{}
	signer := mustPubKey(7)
	forwarder := config.NewMemberChangeForwarder(client, signer)
	contextID := ids.ContextId{3}
	member := mustPubKey(4)

	require.NoError(t, forwarder.RequestMemberChange(context.Background(), contextID, runtime.MemberChangeRequest{Add: true, Member: member}))
	require.NoError(t, forwarder.RequestMemberChange(context.Background(), contextID, runtime.MemberChangeRequest{Add: false, Member: member}))

	require.Len(t, client.added, 1)
	assert.Equal(t, []ids.PublicKey{member}, client.added[0])
	require.Len(t, client.removed, 1)
	assert.Equal(t, []ids.PublicKey{member}, client.removed[0])
}
