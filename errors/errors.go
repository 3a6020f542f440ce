// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package errors provides the typed error taxonomy used across the core:
// decoding, authentication, cryptographic, causal, resource, protocol and
// timeout errors, plus the wrapping helpers every other package uses.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error per the taxonomy.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindDecoding
	KindAuthentication
	KindCrypto
	KindCausal
	KindResource
	KindProtocol
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindDecoding:
		return "decoding"
	case KindAuthentication:
		return "authentication"
	case KindCrypto:
		return "cryptographic"
	case KindCausal:
		return "causal"
	case KindResource:
		return "resource"
	case KindProtocol:
		return "protocol"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Typed is an error tagged with a taxonomy Kind.
type Typed struct {
	kind Kind
	msg  string
	err  error
}

func (e *Typed) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *Typed) Unwrap() error { return e.err }

// KindOf returns the taxonomy classification of err, or KindUnknown if err is
// not a Typed error.
func KindOf(err error) Kind {
	var t *Typed
	if errors.As(err, &t) {
		return t.kind
	}
	return KindUnknown
}

func newTyped(kind Kind, msg string, cause error) *Typed {
	return &Typed{kind: kind, msg: msg, err: cause}
}

// Decoding wraps a malformed-wire-or-persisted-bytes error. Never retried
// with the same input.
func Decoding(msg string, cause error) error { return newTyped(KindDecoding, msg, cause) }

// Authentication wraps a signature/identity/key-exchange mismatch error.
func Authentication(msg string, cause error) error {
	return newTyped(KindAuthentication, msg, cause)
}

// Crypto wraps a decryption failure or nonce-reuse error.
func Crypto(msg string, cause error) error { return newTyped(KindCrypto, msg, cause) }

// Causal wraps a missing-parents/unknown-type/state-inconsistency error.
func Causal(msg string, cause error) error { return newTyped(KindCausal, msg, cause) }

// Resource wraps a buffer-overflow/concurrency-limit/storage-write error.
func Resource(msg string, cause error) error { return newTyped(KindResource, msg, cause) }

// Protocol wraps a request-limit/depth-exceeded/unexpected-message error.
func Protocol(msg string, cause error) error { return newTyped(KindProtocol, msg, cause) }

// Timeout wraps a suspension-point-exceeded-its-bound error.
func Timeout(msg string, cause error) error { return newTyped(KindTimeout, msg, cause) }

// New creates a plain untyped error, mirroring errors.New.
func New(msg string) error { return errors.New(msg) }

// Wrap annotates cause with msg, mirroring github.com/pkg/errors.Wrap.
func Wrap(msg string, cause error) error { return errors.Wrap(cause, msg) }

// Is mirrors errors.Is.
func Is(err, target error) bool { return errors.Is(err, target) }

// As mirrors errors.As.
func As(err error, target any) bool { return errors.As(err, target) }

var (
	// ErrNotFound indicates the requested record does not exist in storage.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate indicates an add_delta call observed a delta id already stored.
	ErrDuplicate = errors.New("duplicate delta")
	// ErrBufferFull indicates the snapshot-sync delta buffer has reached its bound (I-B4).
	ErrBufferFull = errors.New("delta buffer full")
	// ErrUnknownTypeID indicates an action carries a type_id with no registered CRDT schema.
	ErrUnknownTypeID = errors.New("unknown crdt type id")
	// ErrNotOwner indicates a write to a user-scoped container by a non-matching identity.
	ErrNotOwner = errors.New("write rejected: invoking identity is not the container owner")
	// ErrEmptyParentsNotGenesis indicates a non-genesis delta declared an empty parent set (B1).
	ErrEmptyParentsNotGenesis = errors.New("delta has empty parent set but is not genesis")
	// ErrSyncInProgress indicates a concurrent sync was attempted for a context already syncing.
	ErrSyncInProgress = errors.New("sync already in progress for context")
	// ErrDepthExceeded indicates a hash-comparison request exceeded the maximum tree depth.
	ErrDepthExceeded = errors.New("hash-comparison request depth exceeded")
	// ErrRequestLimitExceeded indicates a sync session exceeded its per-session request budget.
	ErrRequestLimitExceeded = errors.New("sync session request limit exceeded")
)
