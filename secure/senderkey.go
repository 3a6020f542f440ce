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
	"crypto/cipher"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/ids"
)

// NewSenderKey generates a fresh random sender_key (§3.2): a symmetric
// key an identity uses, for the lifetime of a context epoch, to encrypt
// every broadcast delta it authors in that context. It is set once per
// peer-pair via Handshake and never rotated within the epoch (§3.2's
// invariant).
func NewSenderKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if err := fillRandom(key); err != nil {
		return nil, err
	}
	return key, nil
}

// SenderKeyCipher seals and opens broadcast delta payloads under a
// single peer's sender_key (§4.3/§4.4). This is deliberately a
// different key, and a different AEAD construction, from the ephemeral
// DH-derived key Handshake uses to transport the sender_key itself: the
// sender_key outlives any one handshake's shared secret.
type SenderKeyCipher struct {
	aead cipher.AEAD
}

// NewSenderKeyCipher builds a cipher over senderKey, a
// chacha20poly1305.KeySize-byte key as produced by NewSenderKey or
// decrypted from a peer's encryptedKey during Handshake.
func NewSenderKeyCipher(senderKey []byte) (*SenderKeyCipher, error) {
	aead, err := chacha20poly1305.New(senderKey)
	if err != nil {
		return nil, errors.Crypto("failed to construct sender-key cipher", err)
	}
	return &SenderKeyCipher{aead: aead}, nil
}

// Seal encrypts plaintext under nonce, authenticating additionalData
// (the delta's non-encrypted fields, so a delta can't be replayed with
// a swapped header) without including it in the output.
func (c *SenderKeyCipher) Seal(nonce ids.Nonce, plaintext, additionalData []byte) []byte {
	return c.aead.Seal(nil, nonce[:], plaintext, additionalData)
}

// Open is the inverse of Seal.
func (c *SenderKeyCipher) Open(nonce ids.Nonce, ciphertext, additionalData []byte) ([]byte, error) {
	pt, err := c.aead.Open(nil, nonce[:], ciphertext, additionalData)
	if err != nil {
		return nil, errors.Crypto("failed to decrypt broadcast delta", err)
	}
	return pt, nil
}
