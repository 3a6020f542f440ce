// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package secure

import (
	"context"

	"github.com/contextmesh/core/ids"
)

// KeyStoreDecryptor adapts a KeyStore into a deltastore.Decryptor: an
// inbound delta is decrypted under its author's sender_key, looked up by
// (contextID, authorID) rather than by the connection it arrived over,
// since a delta may be relayed through a peer other than its author.
type KeyStoreDecryptor struct {
	keys *KeyStore
}

// NewKeyStoreDecryptor returns a deltastore.Decryptor backed by keys.
func NewKeyStoreDecryptor(keys *KeyStore) *KeyStoreDecryptor {
	return &KeyStoreDecryptor{keys: keys}
}

// Decrypt implements deltastore.Decryptor.
func (d *KeyStoreDecryptor) Decrypt(_ context.Context, contextID ids.ContextId, authorID ids.PublicKey, nonce ids.Nonce, ciphertext []byte) ([]byte, error) {
	cipher, err := d.keys.Cipher(contextID, authorID)
	if err != nil {
		return nil, err
	}
	return cipher.Open(nonce, ciphertext, authorID[:])
}
