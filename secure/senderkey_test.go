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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/secure"
)

func TestSenderKeyCipherRoundTrips(t *testing.T) {
	key, err := secure.NewSenderKey()
	require.NoError(t, err)

	cipher, err := secure.NewSenderKeyCipher(key)
	require.NoError(t, err)

	var nonce ids.Nonce
	nonce[0] = 7
	plaintext := []byte("delta action payload")
	additionalData := []byte("header bytes")

	ciphertext := cipher.Seal(nonce, plaintext, additionalData)
	assert.NotEqual(t, plaintext, ciphertext)

	recovered, err := cipher.Open(nonce, ciphertext, additionalData)
	require.NoError(t, err)
	assert.Equal(t, plaintext, recovered)
}

func TestSenderKeyCipherRejectsTamperedAdditionalData(t *testing.T) {
	key, err := secure.NewSenderKey()
	require.NoError(t, err)
	cipher, err := secure.NewSenderKeyCipher(key)
	require.NoError(t, err)

	var nonce ids.Nonce
	ciphertext := cipher.Seal(nonce, []byte("payload"), []byte("header-a"))

	_, err = cipher.Open(nonce, ciphertext, []byte("header-b"))
	assert.Error(t, err)
}

func TestSenderKeyCipherRejectsWrongKey(t *testing.T) {
	keyA, err := secure.NewSenderKey()
	require.NoError(t, err)
	keyB, err := secure.NewSenderKey()
	require.NoError(t, err)

	cipherA, err := secure.NewSenderKeyCipher(keyA)
	require.NoError(t, err)
	cipherB, err := secure.NewSenderKeyCipher(keyB)
	require.NoError(t, err)

	var nonce ids.Nonce
	ciphertext := cipherA.Seal(nonce, []byte("payload"), nil)

	_, err = cipherB.Open(nonce, ciphertext, nil)
	assert.Error(t, err)
}
