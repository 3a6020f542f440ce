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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/contextmesh/core/config"
	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/ids"
)

func TestStaticConfigClientTracksMembersAndRevisions(t *testing.T) {
	client := newStaticConfigClient()
	contextID := ids.ContextId{1}
	member := ids.PublicKey{2}

	rev, err := client.MembersRevision(context.Background(), contextID)
	require.NoError(t, err)
	require.Zero(t, rev)

	require.NoError(t, client.AddMembers(context.Background(), contextID, []ids.PublicKey{member}, ids.PublicKey{}))

	has, err := client.HasMember(context.Background(), contextID, member)
	require.NoError(t, err)
	require.True(t, has)

	rev, err = client.MembersRevision(context.Background(), contextID)
	require.NoError(t, err)
	require.Equal(t, uint64(1), rev)

	require.NoError(t, client.RemoveMembers(context.Background(), contextID, []ids.PublicKey{member}, ids.PublicKey{}))
	has, err = client.HasMember(context.Background(), contextID, member)
	require.NoError(t, err)
	require.False(t, has)

	rev, err = client.MembersRevision(context.Background(), contextID)
	require.NoError(t, err)
	require.Equal(t, uint64(2), rev)
}

func TestStaticConfigClientApplicationLookupAndRevision(t *testing.T) {
	client := newStaticConfigClient()
	contextID := ids.ContextId{3}

	_, err := client.GetApplication(context.Background(), contextID)
	require.ErrorIs(t, err, errors.ErrNotFound)

	desc := config.ApplicationDescriptor{Source: "wasm://app", Metadata: []byte("meta")}
	client.RegisterApplication(contextID, desc)

	got, err := client.GetApplication(context.Background(), contextID)
	require.NoError(t, err)
	require.Equal(t, desc, got)

	rev, err := client.ApplicationRevision(context.Background(), contextID)
	require.NoError(t, err)
	require.Equal(t, uint64(1), rev)
}

func TestStaticConfigClientGetMembersReturnsAllAddedMembers(t *testing.T) {
	client := newStaticConfigClient()
	contextID := ids.ContextId{5}
	a, b := ids.PublicKey{1}, ids.PublicKey{2}

	require.NoError(t, client.AddMembers(context.Background(), contextID, []ids.PublicKey{a, b}, ids.PublicKey{}))

	members, err := client.GetMembers(context.Background(), contextID)
	require.NoError(t, err)
	require.ElementsMatch(t, []ids.PublicKey{a, b}, members)
}
