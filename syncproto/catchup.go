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
	"io"

	"github.com/contextmesh/core/dag"
	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/ids"
)

// Report summarizes the outcome of running one protocol session, for the
// scheduler's success/failure bookkeeping (§4.7).
type Report struct {
	Protocol       ProtocolKind
	DeltasReceived int
	EntitiesMerged int
	RequestsSent   int
}

// Protocol is the common shape of all three sync protocols, mirroring
// the SyncProtocolExecutor trait the original implementation factors its
// protocols behind: the initiator and responder sides of one protocol
// share a type so the handshake's selection step can dispatch uniformly.
type Protocol interface {
	RunInitiator(ctx context.Context, stream io.ReadWriter, contextID ids.ContextId) (Report, error)
	RunResponder(ctx context.Context, stream io.ReadWriter, contextID ids.ContextId) (Report, error)
}

// deltaRequest asks the peer for one delta by id.
type deltaRequest struct {
	DeltaID ids.DeltaId
}

func (r deltaRequest) encode() []byte { return append([]byte(nil), r.DeltaID[:]...) }

func decodeDeltaRequest(b []byte) (deltaRequest, error) {
	if len(b) < ids.Size {
		return deltaRequest{}, errors.Decoding("delta request truncated", nil)
	}
	var r deltaRequest
	copy(r.DeltaID[:], b[:ids.Size])
	return r, nil
}

// deltaResponse carries the requested delta, or signals DeltaNotFound
// (§4.6.2) when the responder doesn't have it either.
type deltaResponse struct {
	Found bool
	Delta dag.Delta
}

func (r deltaResponse) encode() []byte {
	buf := &bytes.Buffer{}
	if r.Found {
		buf.WriteByte(1)
		buf.Write(r.Delta.Encode())
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func decodeDeltaResponse(b []byte) (deltaResponse, error) {
	if len(b) < 1 {
		return deltaResponse{}, errors.Decoding("delta response truncated", nil)
	}
	if b[0] == 0 {
		return deltaResponse{Found: false}, nil
	}
	d, err := dag.DecodeDelta(b[1:])
	if err != nil {
		return deltaResponse{}, err
	}
	return deltaResponse{Found: true, Delta: d}, nil
}

// DeltaCatchup implements §4.6.2: walk the peer's DAG from heads we lack
// back to ids we already have, then apply the collected deltas in
// topological order. The already-authenticated C6 stream carries the
// decoded dag.Delta directly rather than re-deriving the encrypted
// StateDelta artifact — both peers already hold the decrypted record in
// their local DAG by the time catch-up can run, and the stream itself is
// already confidential and authenticated.
type DeltaCatchup struct {
	DAG *dag.DeltaDAG
	// TheirHeads seeds the initiator's walk; normally the DagHeads from
	// the peer's SyncResponse.
	TheirHeads []ids.DeltaId
}

var _ Protocol = (*DeltaCatchup)(nil)

func sendDeltaRequest(w io.Writer, r deltaRequest) error { return writeFrame(w, r.encode()) }

func sendDeltaResponse(w io.Writer, r deltaResponse) error { return writeFrame(w, r.encode()) }

func receiveDeltaResponse(r io.Reader) (deltaResponse, error) {
	raw, err := readFrame(r)
	if err != nil {
		return deltaResponse{}, err
	}
	return decodeDeltaResponse(raw)
}

// a one-byte sentinel closes the request stream (§4.6.2: "the walk
// terminates when all enqueued ids are either in our DAG or resolved").
var endOfRequests = []byte{0xFF}

func (c *DeltaCatchup) RunInitiator(ctx context.Context, stream io.ReadWriter, contextID ids.ContextId) (Report, error) {
	report := Report{Protocol: ProtocolDeltaCatchup}

	queue := append([]ids.DeltaId(nil), c.TheirHeads...)
	seen := make(map[ids.DeltaId]bool)
	collected := make(map[ids.DeltaId]dag.Delta)
	var unresolved []ids.DeltaId

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] || id == ids.Genesis {
			continue
		}
		seen[id] = true

		has, err := c.DAG.HasDelta(ctx, contextID, id)
		if err != nil {
			return report, err
		}
		if has {
			continue
		}

		if err := sendDeltaRequest(stream, deltaRequest{DeltaID: id}); err != nil {
			return report, err
		}
		report.RequestsSent++

		resp, err := receiveDeltaResponse(stream)
		if err != nil {
			return report, err
		}
		if !resp.Found {
			unresolved = append(unresolved, id)
			continue
		}

		collected[id] = resp.Delta
		report.DeltasReceived++
		for _, p := range resp.Delta.Parents {
			if !seen[p] {
				queue = append(queue, p)
			}
		}
	}

	if err := writeFrame(stream, endOfRequests); err != nil {
		return report, err
	}

	for _, id := range unresolved {
		if _, ok := collected[id]; !ok {
			return report, errors.Causal("delta catch-up left an unresolved parent", nil)
		}
	}

	// Apply in topological order: repeatedly sweep for deltas whose
	// collected parents are already applied, until every collected delta
	// has been added.
	applied := make(map[ids.DeltaId]bool)
	for progress := true; progress && len(applied) < len(collected); {
		progress = false
		for id, d := range collected {
			if applied[id] {
				continue
			}
			ready := true
			for _, p := range d.Parents {
				if p == ids.Genesis || applied[p] {
					continue
				}
				if _, isLocal := collected[p]; !isLocal {
					continue
				}
				ready = false
				break
			}
			if !ready {
				continue
			}
			if _, err := c.DAG.AddDelta(ctx, contextID, d); err != nil {
				if _, isMissing := err.(*dag.MissingParentsError); !isMissing {
					return report, err
				}
			}
			applied[id] = true
			progress = true
		}
	}

	return report, nil
}

func (c *DeltaCatchup) RunResponder(ctx context.Context, stream io.ReadWriter, contextID ids.ContextId) (Report, error) {
	report := Report{Protocol: ProtocolDeltaCatchup}
	for {
		raw, err := readFrame(stream)
		if err != nil {
			return report, err
		}
		if bytes.Equal(raw, endOfRequests) {
			return report, nil
		}
		req, err := decodeDeltaRequest(raw)
		if err != nil {
			return report, err
		}

		d, err := c.DAG.GetDelta(ctx, contextID, req.DeltaID)
		resp := deltaResponse{}
		switch {
		case err == nil:
			resp.Found = true
			resp.Delta = d
		case errors.Is(err, errors.ErrNotFound):
			// resp.Found stays false: DeltaNotFound per §4.6.2.
		default:
			return report, err
		}
		if err := sendDeltaResponse(stream, resp); err != nil {
			return report, err
		}
	}
}
