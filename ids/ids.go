// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package ids defines the 32-byte opaque identifiers shared across the
// core (§3.1): ContextId, PublicKey, ApplicationId, BlobId, DeltaId, Hash,
// and the 12-byte Nonce, all rendered as base-58 for logs and UIs.
package ids

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/mr-tron/base58"
)

// Size is the byte length of every identifier type in this package.
const Size = 32

// NonceSize is the byte length of an encryption nonce (§3.1).
const NonceSize = 12

// ID is a 32-byte opaque identifier. The zero value is the reserved
// "genesis / empty" value.
type ID [Size]byte

// ContextId identifies a replicated context.
type ContextId = ID

// PublicKey identifies a member's signing/DH identity.
type PublicKey = ID

// ApplicationId is the content hash of a context's WASM bytecode.
type ApplicationId = ID

// BlobId identifies an opaque blob in the external blob store.
type BlobId = ID

// DeltaId is the content address of a delta.
type DeltaId = ID

// Hash is a 32-byte digest, used for root hashes and tree node digests.
type Hash = ID

// Nonce is a 12-byte value generated uniformly at random per encrypted message.
type Nonce [NonceSize]byte

// Genesis is the reserved zero id representing "no parent" / "empty state".
var Genesis = ID{}

// IsGenesis reports whether id is the reserved genesis/empty value.
func (id ID) IsGenesis() bool {
	return id == Genesis
}

// String renders id as base-58, the convention used in logs and UIs.
func (id ID) String() string {
	return base58.Encode(id[:])
}

// Bytes returns the id's raw 32 bytes.
func (id ID) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, id[:])
	return out
}

// Hex renders id as lowercase hex, useful for storage key debugging.
func (id ID) Hex() string {
	return hex.EncodeToString(id[:])
}

// Less provides the lexicographic (byte-wise) ordering used for DAG
// branch-resolution tie-breaks (§4.1).
func (id ID) Less(other ID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// FromBytes copies b (which must be exactly Size bytes) into a new ID.
func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != Size {
		return id, ErrWrongLength
	}
	copy(id[:], b)
	return id, nil
}

// ParseString decodes a base-58 rendering back into an ID.
func ParseString(s string) (ID, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return ID{}, err
	}
	return FromBytes(b)
}

// NewNonce generates a cryptographically random Nonce.
func NewNonce() (Nonce, error) {
	var n Nonce
	if _, err := rand.Read(n[:]); err != nil {
		return n, err
	}
	return n, nil
}

// ErrWrongLength is returned by FromBytes when given a slice that isn't
// exactly Size bytes.
var ErrWrongLength = idLengthError{}

type idLengthError struct{}

func (idLengthError) Error() string { return "ids: expected 32-byte identifier" }
