// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package secure implements the secure stream handshake and key exchange
// (C6, §4.4): mutual authentication over a raw bidirectional byte stream,
// ending with both sides holding each other's sender_key.
package secure

import (
	"crypto/ed25519"
	"crypto/rand"

	"golang.org/x/crypto/curve25519"

	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/ids"
)

// Identity is a node's signing keypair, used to prove possession of the
// private key behind a claimed ids.PublicKey.
type Identity struct {
	PublicKey  ids.PublicKey
	PrivateKey ed25519.PrivateKey
}

// NewIdentity generates a fresh ed25519 identity.
func NewIdentity() (Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Identity{}, errors.Crypto("failed to generate identity keypair", err)
	}
	var pk ids.PublicKey
	copy(pk[:], pub)
	return Identity{PublicKey: pk, PrivateKey: priv}, nil
}

// DHKeyPair is an ephemeral X25519 keypair used once per handshake to
// derive the Diffie-Hellman shared secret (§4.4 step b).
type DHKeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// NewDHKeyPair generates a fresh X25519 keypair.
func NewDHKeyPair() (DHKeyPair, error) {
	var kp DHKeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return DHKeyPair{}, errors.Crypto("failed to generate dh private key", err)
	}
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return DHKeyPair{}, errors.Crypto("failed to derive dh public key", err)
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// SharedSecret computes the X25519 Diffie-Hellman shared secret between
// this keypair's private half and the peer's public half.
func (kp DHKeyPair) SharedSecret(peerPublic [32]byte) ([]byte, error) {
	secret, err := curve25519.X25519(kp.Private[:], peerPublic[:])
	if err != nil {
		return nil, errors.Crypto("failed to derive dh shared secret", err)
	}
	return secret, nil
}
