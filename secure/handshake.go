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
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/ids"
)

const hkdfInfo = "contextmesh/secure/sender-key-v1"

// isVerifierFirst decides which side of a handshake speaks first, per
// §4.4: the side with the lexicographically larger party_id goes first,
// breaking the symmetry that would otherwise deadlock two peers that
// both wait to receive before sending.
func isVerifierFirst(local, remote ids.PublicKey) bool {
	return bytes.Compare(local[:], remote[:]) > 0
}

// challenge binds the context, both parties' identities, and both
// nonces into a single value that each side signs as proof of
// possession of its identity private key. Binding the context and both
// nonces prevents a signature captured on one stream from being replayed
// on another.
func challenge(contextID ids.ContextId, partyA, partyB ids.PublicKey, nonceA, nonceB ids.Nonce) []byte {
	h := sha256.New()
	h.Write(contextID[:])
	h.Write(partyA[:])
	h.Write(partyB[:])
	h.Write(nonceA[:])
	h.Write(nonceB[:])
	return h.Sum(nil)
}

// canonicalChallenge orders the two parties by public key so both sides
// of a handshake hash the same bytes regardless of which one is "local":
// whoever has the lexicographically smaller public key is always partyA.
func canonicalChallenge(contextID ids.ContextId, localID, remoteID ids.PublicKey, localNonce, remoteNonce ids.Nonce) []byte {
	if bytes.Compare(localID[:], remoteID[:]) < 0 {
		return challenge(contextID, localID, remoteID, localNonce, remoteNonce)
	}
	return challenge(contextID, remoteID, localID, remoteNonce, localNonce)
}

func deriveAEADKey(sharedSecret []byte) ([]byte, error) {
	kdf := hkdf.New(sha256.New, sharedSecret, nil, []byte(hkdfInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, errors.Crypto("failed to derive sender-key encryption key", err)
	}
	return key, nil
}

// Result is what a successful Handshake produces: the verified identity
// of the remote peer and the peer's sender_key, which the caller stores
// for use authenticating subsequent broadcast messages from that peer.
type Result struct {
	PeerPublicKey ids.PublicKey
	PeerSenderKey []byte
}

// Handshake performs mutual authentication and sender_key exchange over
// a raw bidirectional byte stream (§4.4). On any failure the shared
// secret is discarded and an error is returned; the caller must close
// conn and must not treat any partial state as trusted.
func Handshake(
	contextID ids.ContextId,
	local Identity,
	localSenderKey []byte,
	payloadTag []byte,
	conn io.ReadWriter,
) (Result, error) {
	localDH, err := NewDHKeyPair()
	if err != nil {
		return Result{}, err
	}
	var localNonce ids.Nonce
	if err := fillRandom(localNonce[:]); err != nil {
		return Result{}, err
	}

	// The Init exchange is symmetric: neither side yet knows the other's
	// party_id, so there is no way to order who sends first. Write it on
	// a separate goroutine so this works over transports with no internal
	// buffering (net.Pipe) as well as real sockets.
	localInit := Init{ContextID: contextID, PartyID: local.PublicKey, PayloadTag: payloadTag, NextNonce: localNonce}
	sendInitDone := make(chan error, 1)
	go func() { sendInitDone <- SendInit(conn, localInit) }()

	remoteInit, err := ReceiveInit(conn)
	if err != nil {
		<-sendInitDone
		return Result{}, err
	}
	if err := <-sendInitDone; err != nil {
		return Result{}, err
	}
	if remoteInit.ContextID != contextID {
		return Result{}, errors.Authentication("handshake context mismatch", nil)
	}

	ch := canonicalChallenge(contextID, local.PublicKey, remoteInit.PartyID, localNonce, remoteInit.NextNonce)
	localProof := proof{Signature: ed25519.Sign(local.PrivateKey, ch), DHPublic: localDH.Public}

	verifierFirst := isVerifierFirst(local.PublicKey, remoteInit.PartyID)

	var remoteProof proof
	if verifierFirst {
		if err := sendProof(conn, localProof); err != nil {
			return Result{}, err
		}
		remoteProof, err = receiveProof(conn)
		if err != nil {
			return Result{}, err
		}
	} else {
		remoteProof, err = receiveProof(conn)
		if err != nil {
			return Result{}, err
		}
		if err := sendProof(conn, localProof); err != nil {
			return Result{}, err
		}
	}

	if !ed25519.Verify(ed25519.PublicKey(remoteInit.PartyID[:]), ch, remoteProof.Signature) {
		return Result{}, errors.Authentication("handshake signature verification failed", nil)
	}

	sharedSecret, err := localDH.SharedSecret(remoteProof.DHPublic)
	if err != nil {
		return Result{}, err
	}
	aeadKey, err := deriveAEADKey(sharedSecret)
	if err != nil {
		return Result{}, err
	}
	aead, err := chacha20poly1305.NewX(aeadKey)
	if err != nil {
		return Result{}, errors.Crypto("failed to construct sender-key cipher", err)
	}

	var localKeyMsg encryptedKey
	if err := fillRandom(localKeyMsg.Nonce[:]); err != nil {
		return Result{}, err
	}
	localKeyMsg.Ciphertext = aead.Seal(nil, localKeyMsg.Nonce[:], localSenderKey, ch)

	var remoteKeyMsg encryptedKey
	if verifierFirst {
		if err := sendEncryptedKey(conn, localKeyMsg); err != nil {
			return Result{}, err
		}
		remoteKeyMsg, err = receiveEncryptedKey(conn)
		if err != nil {
			return Result{}, err
		}
	} else {
		remoteKeyMsg, err = receiveEncryptedKey(conn)
		if err != nil {
			return Result{}, err
		}
		if err := sendEncryptedKey(conn, localKeyMsg); err != nil {
			return Result{}, err
		}
	}

	peerSenderKey, err := aead.Open(nil, remoteKeyMsg.Nonce[:], remoteKeyMsg.Ciphertext, ch)
	if err != nil {
		return Result{}, errors.Authentication("failed to decrypt peer sender-key", err)
	}

	return Result{PeerPublicKey: remoteInit.PartyID, PeerSenderKey: peerSenderKey}, nil
}
