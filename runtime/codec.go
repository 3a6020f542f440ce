// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package runtime

import (
	"encoding/binary"

	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/ids"
)

// decodeOutcome parses the apply_next result buffer: a 32-byte root hash
// followed by three length-prefixed repeated sections (events, member
// changes, log lines), matching the layout the application's WASM
// compiler targets.
func decodeOutcome(b []byte) (Outcome, error) {
	if len(b) < ids.Size {
		return Outcome{}, errors.Decoding("apply_next result truncated", nil)
	}
	var out Outcome
	copy(out.RootHash[:], b[:ids.Size])
	rest := b[ids.Size:]

	var err error
	out.Events, rest, err = readByteList(rest)
	if err != nil {
		return Outcome{}, err
	}

	var changeCount uint32
	changeCount, rest, err = takeUint32(rest)
	if err != nil {
		return Outcome{}, err
	}
	for i := uint32(0); i < changeCount; i++ {
		if len(rest) < 1+ids.Size {
			return Outcome{}, errors.Decoding("truncated member change record", nil)
		}
		add := rest[0] != 0
		var member ids.PublicKey
		copy(member[:], rest[1:1+ids.Size])
		out.MemberChanges = append(out.MemberChanges, MemberChangeRequest{Add: add, Member: member})
		rest = rest[1+ids.Size:]
	}

	var logs [][]byte
	logs, rest, err = readByteList(rest)
	if err != nil {
		return Outcome{}, err
	}
	for _, l := range logs {
		out.LogLines = append(out.LogLines, string(l))
	}
	_ = rest

	return out, nil
}

func takeUint32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, errors.Decoding("truncated length prefix", nil)
	}
	return binary.LittleEndian.Uint32(b[:4]), b[4:], nil
}

func readByteList(b []byte) ([][]byte, []byte, error) {
	n, rest, err := takeUint32(b)
	if err != nil {
		return nil, nil, err
	}
	out := make([][]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		var itemLen uint32
		itemLen, rest, err = takeUint32(rest)
		if err != nil {
			return nil, nil, err
		}
		if uint32(len(rest)) < itemLen {
			return nil, nil, errors.Decoding("truncated list item", nil)
		}
		out = append(out, append([]byte(nil), rest[:itemLen]...))
		rest = rest[itemLen:]
	}
	return out, rest, nil
}
