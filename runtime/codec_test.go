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
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeTestOutcome(t *testing.T, root [32]byte, events [][]byte, changes []MemberChangeRequest, logs []string) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	buf.Write(root[:])

	putList := func(items [][]byte) {
		var n [4]byte
		binary.LittleEndian.PutUint32(n[:], uint32(len(items)))
		buf.Write(n[:])
		for _, it := range items {
			var l [4]byte
			binary.LittleEndian.PutUint32(l[:], uint32(len(it)))
			buf.Write(l[:])
			buf.Write(it)
		}
	}

	putList(events)

	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(changes)))
	buf.Write(n[:])
	for _, c := range changes {
		if c.Add {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		buf.Write(c.Member[:])
	}

	logBytes := make([][]byte, len(logs))
	for i, l := range logs {
		logBytes[i] = []byte(l)
	}
	putList(logBytes)

	return buf.Bytes()
}

func TestDecodeOutcomeRoundTrip(t *testing.T) {
	root := [32]byte{0xAB}
	changes := []MemberChangeRequest{{Add: true, Member: [32]byte{0x01}}}
	raw := encodeTestOutcome(t, root, [][]byte{[]byte("ev1")}, changes, []string{"hello"})

	out, err := decodeOutcome(raw)
	require.NoError(t, err)
	assert.Equal(t, root, [32]byte(out.RootHash))
	assert.Equal(t, [][]byte{[]byte("ev1")}, out.Events)
	assert.Equal(t, changes, out.MemberChanges)
	assert.Equal(t, []string{"hello"}, out.LogLines)
}

func TestDecodeOutcomeTruncated(t *testing.T) {
	_, err := decodeOutcome([]byte{0x01, 0x02})
	require.Error(t, err)
}
