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
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/contextmesh/core/deltastore"
	"github.com/contextmesh/core/hlc"
	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/logging"
	"github.com/contextmesh/core/secure"
	"github.com/contextmesh/core/storage"
	"github.com/contextmesh/core/syncproto"
)

// newTestPeerSyncer builds a peerSyncer with no libp2p host, enough to
// exercise respond directly over a net.Pipe the way RunInitiator/
// RunResponder tests in syncproto exercise their protocols directly.
func newTestPeerSyncer(t *testing.T) (*peerSyncer, secure.Identity) {
	t.Helper()
	identity, err := secure.NewIdentity()
	require.NoError(t, err)

	store := storage.NewMemoryEngine()
	deltaStore := deltastore.NewDeltaStore(store, &fakeApplier{}, plaintextDecryptor{}, logging.MustNewLogger("test"))
	roots := newRootHashTracker(&fakeApplier{})
	keys := secure.NewKeyStore()

	p := newPeerSyncer(nil, identity, keys, store, deltaStore, roots, hlc.NewClock(), nil, time.Second, logging.MustNewLogger("test"))
	return p, identity
}

func TestPeerSyncerRespondNoOpWhenStatesAlreadyMatch(t *testing.T) {
	p, _ := newTestPeerSyncer(t)
	contextID := ids.ContextId{1, 2}

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	initiator, err := secure.NewIdentity()
	require.NoError(t, err)
	initiatorSenderKey, err := secure.NewSenderKey()
	require.NoError(t, err)

	type result struct {
		err error
	}
	respondCh := make(chan result, 1)
	go func() {
		respondCh <- result{p.respond(context.Background(), contextID, serverConn)}
	}()

	_, err = secure.Handshake(contextID, initiator, initiatorSenderKey, contextID[:], clientConn)
	require.NoError(t, err)

	req := syncproto.SyncRequest{ContextID: contextID}
	require.NoError(t, syncproto.SendSyncRequest(clientConn, req))

	resp, err := syncproto.ReceiveSyncResponse(clientConn)
	require.NoError(t, err)
	require.Equal(t, ids.Hash{}, resp.TheirRootHash)
	require.Empty(t, resp.TheirDagHeads)
	require.ElementsMatch(t, ourSupportedProtocols, resp.Supports)

	res := <-respondCh
	require.NoError(t, res.err)
}

func TestPeerSyncerRespondRejectsMismatchedContextID(t *testing.T) {
	p, _ := newTestPeerSyncer(t)
	contextID := ids.ContextId{3, 4}
	otherContextID := ids.ContextId{5, 6}

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	initiator, err := secure.NewIdentity()
	require.NoError(t, err)
	initiatorSenderKey, err := secure.NewSenderKey()
	require.NoError(t, err)

	respondCh := make(chan error, 1)
	go func() {
		respondCh <- p.respond(context.Background(), contextID, serverConn)
	}()

	_, err = secure.Handshake(contextID, initiator, initiatorSenderKey, contextID[:], clientConn)
	require.NoError(t, err)

	req := syncproto.SyncRequest{ContextID: otherContextID}
	require.NoError(t, syncproto.SendSyncRequest(clientConn, req))

	err = <-respondCh
	require.Error(t, err)
}

func TestProtocolForContextIsStablePerContextID(t *testing.T) {
	a := protocolForContext(ids.ContextId{1})
	b := protocolForContext(ids.ContextId{1})
	c := protocolForContext(ids.ContextId{2})
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}
