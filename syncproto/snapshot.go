// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package syncproto

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"

	"github.com/contextmesh/core/dag"
	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/hlc"
	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/storage"
)

// SnapshotPageSize bounds how many state rows one wire page carries.
const SnapshotPageSize = 256

// SnapshotBufferSize bounds how many deltas Buffer will hold for replay
// while a snapshot transfer is in flight (§4.6.4's "buffer drain").
const SnapshotBufferSize = 4096

type snapshotEntry struct {
	Key   []byte
	Value []byte
}

// snapshotPage is one frame of the full-state stream. A page with Final
// set carries no entries of its own; it closes the stream and names the
// head set the receiver should adopt.
type snapshotPage struct {
	Entries []snapshotEntry
	Final   bool
	Heads   []ids.DeltaId
}

func (p snapshotPage) encode() []byte {
	buf := &bytes.Buffer{}
	if p.Final {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(p.Entries)))
	buf.Write(n[:])
	for _, e := range p.Entries {
		putLenPrefixed(buf, e.Key)
		putLenPrefixed(buf, e.Value)
	}
	putIDList(buf, p.Heads)
	return buf.Bytes()
}

func decodeSnapshotPage(b []byte) (snapshotPage, error) {
	if len(b) < 5 {
		return snapshotPage{}, errors.Decoding("snapshot page truncated", nil)
	}
	var p snapshotPage
	p.Final = b[0] != 0
	rest := b[1:]
	count := binary.LittleEndian.Uint32(rest[:4])
	rest = rest[4:]
	for i := uint32(0); i < count; i++ {
		var e snapshotEntry
		var err error
		e.Key, rest, err = readLenPrefixed(rest)
		if err != nil {
			return snapshotPage{}, err
		}
		e.Value, rest, err = readLenPrefixed(rest)
		if err != nil {
			return snapshotPage{}, err
		}
		p.Entries = append(p.Entries, e)
	}
	heads, rest, err := readIDList(rest)
	if err != nil {
		return snapshotPage{}, err
	}
	p.Heads = heads
	_ = rest
	return p, nil
}

func sendSnapshotPage(w io.Writer, p snapshotPage) error { return writeFrame(w, p.encode()) }

func receiveSnapshotPage(r io.Reader) (snapshotPage, error) {
	raw, err := readFrame(r)
	if err != nil {
		return snapshotPage{}, err
	}
	return decodeSnapshotPage(raw)
}

// Buffer is the subset of deltastore.DeltaStore a Snapshot needs: a way
// to hold inbound gossip deltas for contextID while its state rows are
// being wholesale replaced, and to replay them afterwards.
type Buffer interface {
	BeginSnapshotSync(contextID ids.ContextId, now hlc.Timestamp, maxBufferSize int)
	EndSnapshotSync(ctx context.Context, contextID ids.ContextId) error
}

// Snapshot implements §4.6.4: the responder streams every ColumnState row
// it holds for a context; the initiator buffers concurrent gossip,
// replaces its local rows atomically once the stream closes, adopts the
// responder's head set, then drains the buffer. Per §4.6.5, no partial
// progress survives a failed snapshot: the initiator only touches local
// storage after the final page arrives.
type Snapshot struct {
	Store storage.Engine
	DAG   *dag.DeltaDAG
	Clock *hlc.Clock
	Buf   Buffer
}

var _ Protocol = (*Snapshot)(nil)

func (s *Snapshot) RunInitiator(ctx context.Context, stream io.ReadWriter, contextID ids.ContextId) (Report, error) {
	report := Report{Protocol: ProtocolSnapshot}

	s.Buf.BeginSnapshotSync(contextID, s.Clock.Now(), SnapshotBufferSize)
	committed := false
	defer func() {
		if !committed {
			// Best effort: drop back out of buffering mode so gossip
			// resumes flowing normally even though this attempt failed.
			_ = s.Buf.EndSnapshotSync(ctx, contextID)
		}
	}()

	var collected []snapshotEntry
	var heads []ids.DeltaId
	for {
		page, err := receiveSnapshotPage(stream)
		if err != nil {
			return report, err
		}
		if page.Final {
			heads = page.Heads
			break
		}
		collected = append(collected, page.Entries...)
	}

	existing, err := collectKeysUnderContext(ctx, s.Store, contextID)
	if err != nil {
		return report, err
	}
	if len(existing) > 0 {
		if err := s.Store.BatchDelete(ctx, storage.ColumnState, existing); err != nil {
			return report, errors.Resource("failed to clear state before snapshot install", err)
		}
	}

	if len(collected) > 0 {
		kvs := make(map[string][]byte, len(collected))
		for _, e := range collected {
			full := storage.ContextStateKey(contextID[:], e.Key)
			kvs[string(full)] = e.Value
		}
		if err := s.Store.BatchPut(ctx, storage.ColumnState, kvs); err != nil {
			return report, errors.Resource("failed to install snapshot state", err)
		}
	}

	if err := s.DAG.ResetHeads(ctx, contextID, heads); err != nil {
		return report, err
	}

	if err := s.Buf.EndSnapshotSync(ctx, contextID); err != nil {
		return report, err
	}
	committed = true

	report.EntitiesMerged = len(collected)
	return report, nil
}

func collectKeysUnderContext(ctx context.Context, store storage.Engine, contextID ids.ContextId) ([][]byte, error) {
	it, err := store.Iter(ctx, storage.ColumnState, contextID[:])
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var keys [][]byte
	for it.Next() {
		keys = append(keys, append([]byte(nil), it.Entry().Key...))
	}
	return keys, it.Err()
}

func (s *Snapshot) RunResponder(ctx context.Context, stream io.ReadWriter, contextID ids.ContextId) (Report, error) {
	report := Report{Protocol: ProtocolSnapshot}

	it, err := s.Store.Iter(ctx, storage.ColumnState, contextID[:])
	if err != nil {
		return report, err
	}
	defer it.Close()

	var page []snapshotEntry
	flush := func() error {
		if len(page) == 0 {
			return nil
		}
		if err := sendSnapshotPage(stream, snapshotPage{Entries: page}); err != nil {
			return err
		}
		report.RequestsSent++ // page count, reusing the field rather than adding a snapshot-only one
		page = nil
		return nil
	}

	for it.Next() {
		e := it.Entry()
		rel := e.Key[len(contextID):]
		page = append(page, snapshotEntry{Key: append([]byte(nil), rel...), Value: append([]byte(nil), e.Value...)})
		if len(page) >= SnapshotPageSize {
			if err := flush(); err != nil {
				return report, err
			}
		}
	}
	if err := it.Err(); err != nil {
		return report, err
	}
	if err := flush(); err != nil {
		return report, err
	}

	heads, err := s.DAG.GetHeads(ctx, contextID)
	if err != nil {
		return report, err
	}
	if err := sendSnapshotPage(stream, snapshotPage{Final: true, Heads: heads}); err != nil {
		return report, err
	}

	return report, nil
}
