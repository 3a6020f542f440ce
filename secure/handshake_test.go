// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package secure_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/secure"
)

func TestHandshakeMutualAuthenticationExchangesSenderKeys(t *testing.T) {
	alice, err := secure.NewIdentity()
	require.NoError(t, err)
	bob, err := secure.NewIdentity()
	require.NoError(t, err)

	contextID := ids.ContextId{1, 2, 3}
	aliceSenderKey := []byte("alice-sender-key-bytes")
	bobSenderKey := []byte("bob-sender-key-bytes")

	aliceConn, bobConn := net.Pipe()
	defer aliceConn.Close()
	defer bobConn.Close()

	type outcome struct {
		res secure.Result
		err error
	}
	aliceCh := make(chan outcome, 1)
	bobCh := make(chan outcome, 1)

	go func() {
		res, err := secure.Handshake(contextID, alice, aliceSenderKey, []byte("tag"), aliceConn)
		aliceCh <- outcome{res, err}
	}()
	go func() {
		res, err := secure.Handshake(contextID, bob, bobSenderKey, []byte("tag"), bobConn)
		bobCh <- outcome{res, err}
	}()

	aliceOut := <-aliceCh
	bobOut := <-bobCh

	require.NoError(t, aliceOut.err)
	require.NoError(t, bobOut.err)

	require.Equal(t, bob.PublicKey, aliceOut.res.PeerPublicKey)
	require.Equal(t, alice.PublicKey, bobOut.res.PeerPublicKey)
	require.Equal(t, bobSenderKey, aliceOut.res.PeerSenderKey)
	require.Equal(t, aliceSenderKey, bobOut.res.PeerSenderKey)
}

func TestHandshakeRejectsContextMismatch(t *testing.T) {
	alice, err := secure.NewIdentity()
	require.NoError(t, err)
	bob, err := secure.NewIdentity()
	require.NoError(t, err)

	aliceConn, bobConn := net.Pipe()
	defer aliceConn.Close()
	defer bobConn.Close()

	type outcome struct {
		res secure.Result
		err error
	}
	aliceCh := make(chan outcome, 1)
	bobCh := make(chan outcome, 1)

	go func() {
		res, err := secure.Handshake(ids.ContextId{1}, alice, nil, nil, aliceConn)
		aliceCh <- outcome{res, err}
	}()
	go func() {
		res, err := secure.Handshake(ids.ContextId{2}, bob, nil, nil, bobConn)
		bobCh <- outcome{res, err}
	}()

	aliceOut := <-aliceCh
	bobOut := <-bobCh

	require.Error(t, aliceOut.err)
	require.Error(t, bobOut.err)
}
