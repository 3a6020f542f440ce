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
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/secure"
)

func TestKeyStoreDecryptorDecryptsUnderAuthorsSenderKey(t *testing.T) {
	author, err := secure.NewIdentity()
	require.NoError(t, err)
	senderKey, err := secure.NewSenderKey()
	require.NoError(t, err)

	contextID := ids.ContextId{9, 9, 9}
	keys := secure.NewKeyStore()
	keys.SetSenderKey(contextID, author.PublicKey, senderKey)

	cipher, err := secure.NewSenderKeyCipher(senderKey)
	require.NoError(t, err)
	nonce := ids.Nonce{1, 2, 3}
	plaintext := []byte("delta payload")
	ciphertext := cipher.Seal(nonce, plaintext, author.PublicKey[:])

	decryptor := secure.NewKeyStoreDecryptor(keys)
	got, err := decryptor.Decrypt(context.Background(), contextID, author.PublicKey, nonce, ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestKeyStoreDecryptorReturnsNotFoundWithoutSenderKey(t *testing.T) {
	author, err := secure.NewIdentity()
	require.NoError(t, err)

	decryptor := secure.NewKeyStoreDecryptor(secure.NewKeyStore())
	_, err = decryptor.Decrypt(context.Background(), ids.ContextId{1}, author.PublicKey, ids.Nonce{}, []byte("x"))
	require.ErrorIs(t, err, errors.ErrNotFound)
}

func TestKeyStoreDecryptorRejectsTamperedCiphertext(t *testing.T) {
	author, err := secure.NewIdentity()
	require.NoError(t, err)
	senderKey, err := secure.NewSenderKey()
	require.NoError(t, err)

	contextID := ids.ContextId{4, 4, 4}
	keys := secure.NewKeyStore()
	keys.SetSenderKey(contextID, author.PublicKey, senderKey)

	cipher, err := secure.NewSenderKeyCipher(senderKey)
	require.NoError(t, err)
	nonce := ids.Nonce{5}
	ciphertext := cipher.Seal(nonce, []byte("delta payload"), author.PublicKey[:])
	ciphertext[0] ^= 0xFF

	decryptor := secure.NewKeyStoreDecryptor(keys)
	_, err = decryptor.Decrypt(context.Background(), contextID, author.PublicKey, nonce, ciphertext)
	require.Error(t, err)
}
