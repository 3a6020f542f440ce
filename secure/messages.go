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
	"encoding/binary"
	"io"

	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/ids"
)

// Init is the first message exchanged by both sides of a handshake
// (§4.4). payload_tag is opaque caller data (e.g. which application-level
// exchange this stream is for); it is not interpreted by this package.
type Init struct {
	ContextID  ids.ContextId
	PartyID    ids.PublicKey
	PayloadTag []byte
	NextNonce  ids.Nonce
}

func writeFrame(w io.Writer, data []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errors.Wrap("failed to write frame length", err)
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrap("failed to write frame body", err)
	}
	return nil
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, errors.Wrap("failed to read frame length", err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap("failed to read frame body", err)
	}
	return buf, nil
}

// Encode serializes i into the compact binary wire format shared by the
// rest of the core (fixed-width ids, 4-byte length-prefixed byte fields).
func (i Init) Encode() []byte {
	buf := &bytes.Buffer{}
	buf.Write(i.ContextID[:])
	buf.Write(i.PartyID[:])
	var tagLen [4]byte
	binary.LittleEndian.PutUint32(tagLen[:], uint32(len(i.PayloadTag)))
	buf.Write(tagLen[:])
	buf.Write(i.PayloadTag)
	buf.Write(i.NextNonce[:])
	return buf.Bytes()
}

// DecodeInit is the inverse of Init.Encode.
func DecodeInit(b []byte) (Init, error) {
	if len(b) < ids.Size*2+4 {
		return Init{}, errors.Decoding("init message truncated", nil)
	}
	var i Init
	copy(i.ContextID[:], b[:ids.Size])
	copy(i.PartyID[:], b[ids.Size:2*ids.Size])
	rest := b[2*ids.Size:]
	tagLen := binary.LittleEndian.Uint32(rest[:4])
	rest = rest[4:]
	if uint32(len(rest)) < tagLen+ids.NonceSize {
		return Init{}, errors.Decoding("init message payload truncated", nil)
	}
	i.PayloadTag = append([]byte(nil), rest[:tagLen]...)
	rest = rest[tagLen:]
	copy(i.NextNonce[:], rest[:ids.NonceSize])
	return i, nil
}

// SendInit writes i as a length-prefixed frame.
func SendInit(w io.Writer, i Init) error { return writeFrame(w, i.Encode()) }

// ReceiveInit reads and decodes one Init frame.
func ReceiveInit(r io.Reader) (Init, error) {
	raw, err := readFrame(r)
	if err != nil {
		return Init{}, err
	}
	return DecodeInit(raw)
}

// proof carries the signed challenge and the sender's ephemeral DH
// public key (§4.4 steps a and b, bundled into one message).
type proof struct {
	Signature []byte
	DHPublic  [32]byte
}

func (p proof) encode() []byte {
	buf := &bytes.Buffer{}
	var sigLen [4]byte
	binary.LittleEndian.PutUint32(sigLen[:], uint32(len(p.Signature)))
	buf.Write(sigLen[:])
	buf.Write(p.Signature)
	buf.Write(p.DHPublic[:])
	return buf.Bytes()
}

func decodeProof(b []byte) (proof, error) {
	if len(b) < 4 {
		return proof{}, errors.Decoding("proof message truncated", nil)
	}
	sigLen := binary.LittleEndian.Uint32(b[:4])
	rest := b[4:]
	if uint32(len(rest)) < sigLen+32 {
		return proof{}, errors.Decoding("proof message body truncated", nil)
	}
	var p proof
	p.Signature = append([]byte(nil), rest[:sigLen]...)
	copy(p.DHPublic[:], rest[sigLen:sigLen+32])
	return p, nil
}

func sendProof(w io.Writer, p proof) error { return writeFrame(w, p.encode()) }

func receiveProof(r io.Reader) (proof, error) {
	raw, err := readFrame(r)
	if err != nil {
		return proof{}, err
	}
	return decodeProof(raw)
}

// encryptedKey carries a peer's sender_key, encrypted under the derived
// shared secret (§4.4 step c).
type encryptedKey struct {
	Nonce      [24]byte
	Ciphertext []byte
}

func (e encryptedKey) encode() []byte {
	buf := &bytes.Buffer{}
	buf.Write(e.Nonce[:])
	buf.Write(e.Ciphertext)
	return buf.Bytes()
}

func decodeEncryptedKey(b []byte) (encryptedKey, error) {
	if len(b) < 24 {
		return encryptedKey{}, errors.Decoding("encrypted key message truncated", nil)
	}
	var e encryptedKey
	copy(e.Nonce[:], b[:24])
	e.Ciphertext = append([]byte(nil), b[24:]...)
	return e, nil
}

func sendEncryptedKey(w io.Writer, e encryptedKey) error { return writeFrame(w, e.encode()) }

func receiveEncryptedKey(r io.Reader) (encryptedKey, error) {
	raw, err := readFrame(r)
	if err != nil {
		return encryptedKey{}, err
	}
	return decodeEncryptedKey(raw)
}
