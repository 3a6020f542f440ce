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
	"sync"

	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/ids"
)

// KeyStore holds, per (ContextId, PublicKey), the optional per-peer
// sender_key a completed Handshake populates (§3.2): "the store holds
// ... optional per-peer sender_key ... used by that peer to encrypt
// deltas it authors." A local node's own outbound sender_key for a
// context is stored under its own PublicKey.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[ids.ContextId]map[ids.PublicKey][]byte
}

// NewKeyStore returns an empty KeyStore.
func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[ids.ContextId]map[ids.PublicKey][]byte)}
}

// SetSenderKey records identity's sender_key for contextID. Per §3.2's
// "never rotated within a context epoch" invariant, callers should only
// call this once per (contextID, identity) pair in this process's
// lifetime; a second call simply overwrites, since enforcing the
// invariant against a misbehaving peer is the handshake's job, not the
// store's.
func (k *KeyStore) SetSenderKey(contextID ids.ContextId, identity ids.PublicKey, senderKey []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	byIdentity, ok := k.keys[contextID]
	if !ok {
		byIdentity = make(map[ids.PublicKey][]byte)
		k.keys[contextID] = byIdentity
	}
	byIdentity[identity] = append([]byte(nil), senderKey...)
}

// SenderKey returns identity's stored sender_key for contextID, if any.
func (k *KeyStore) SenderKey(contextID ids.ContextId, identity ids.PublicKey) ([]byte, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	byIdentity, ok := k.keys[contextID]
	if !ok {
		return nil, false
	}
	key, ok := byIdentity[identity]
	return key, ok
}

// Forget drops every sender_key recorded for contextID, for a dropped
// context.
func (k *KeyStore) Forget(contextID ids.ContextId) {
	k.mu.Lock()
	delete(k.keys, contextID)
	k.mu.Unlock()
}

// Cipher looks up identity's sender_key for contextID and builds a
// SenderKeyCipher over it. Returns errors.ErrNotFound if no key has
// been recorded yet (e.g. the handshake with that peer hasn't run).
func (k *KeyStore) Cipher(contextID ids.ContextId, identity ids.PublicKey) (*SenderKeyCipher, error) {
	key, ok := k.SenderKey(contextID, identity)
	if !ok {
		return nil, errors.ErrNotFound
	}
	return NewSenderKeyCipher(key)
}
