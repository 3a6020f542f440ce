// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package broadcast

import (
	"context"
	"fmt"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	libpeer "github.com/libp2p/go-libp2p/core/peer"
	rpc "github.com/textileio/go-libp2p-pubsub-rpc"

	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/logging"
)

// DeltaSink receives StateDelta messages that passed dedup, for handoff
// into the delta store (C4). Implemented by a thin adapter over
// deltastore.DeltaStore.Submit at the composition root.
type DeltaSink interface {
	HandleStateDelta(ctx context.Context, from libpeer.ID, msg StateDelta)
}

// HeartbeatSink reacts to peer heartbeats (§4.3's divergence detection).
// Implementations are expected to look up their own current root hash and
// DAG heads for contextID and run the comparison described in §4.3;
// Channel itself has no access to DAG/runtime state.
type HeartbeatSink interface {
	HandleHeartbeat(ctx context.Context, contextID ids.ContextId, peer HashHeartbeat)
}

// Channel manages one gossip topic per context, mirroring the teacher's
// docKey-per-topic pubsub wiring but keyed by context id and carrying
// StateDelta/HashHeartbeat instead of PushLogRequest.
type Channel struct {
	ctx  context.Context
	ps   *pubsub.PubSub
	self libpeer.ID

	deltas     DeltaSink
	heartbeats HeartbeatSink
	log        *logging.Logger

	mu     sync.Mutex
	topics map[ids.ContextId]*rpc.Topic

	dedup *dedupSet
}

// NewChannel constructs a broadcast channel bound to a libp2p pubsub
// instance. ps may be nil, in which case all operations are no-ops — the
// same "running without a pubsub net" allowance the teacher makes for
// single-node/test deployments.
func NewChannel(ctx context.Context, ps *pubsub.PubSub, self libpeer.ID, deltas DeltaSink, heartbeats HeartbeatSink, log *logging.Logger) *Channel {
	return &Channel{
		ctx:        ctx,
		ps:         ps,
		self:       self,
		deltas:     deltas,
		heartbeats: heartbeats,
		log:        log,
		topics:     make(map[ids.ContextId]*rpc.Topic),
		dedup:      newDedupSet(4096),
	}
}

func topicName(contextID ids.ContextId) string {
	return fmt.Sprintf("contextmesh/%s", contextID)
}

// Join subscribes to the gossip topic for a context. Idempotent.
func (c *Channel) Join(contextID ids.ContextId) error {
	if c.ps == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.topics[contextID]; ok {
		return nil
	}
	t, err := rpc.NewTopic(c.ctx, c.ps, c.self, topicName(contextID), true)
	if err != nil {
		return errors.Wrap("failed to join context gossip topic", err)
	}
	t.SetMessageHandler(c.messageHandler(contextID))
	c.topics[contextID] = t
	return nil
}

// Leave unsubscribes from a context's gossip topic.
func (c *Channel) Leave(contextID ids.ContextId) error {
	if c.ps == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.topics[contextID]
	if !ok {
		return nil
	}
	delete(c.topics, contextID)
	return t.Close()
}

func (c *Channel) topicFor(contextID ids.ContextId) (*rpc.Topic, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.topics[contextID]
	return t, ok
}

// Peers lists the peers currently subscribed to contextID's gossip
// topic, the candidate pool the scheduler's peer choice (§4.7) draws
// from. A context this node hasn't joined, or a channel running
// without a pubsub net, has no peers.
func (c *Channel) Peers(contextID ids.ContextId) []libpeer.ID {
	t, ok := c.topicFor(contextID)
	if !ok {
		return nil
	}
	return t.ListPeers()
}

// PublishDelta fans out a freshly minted delta immediately after local
// mutation (§4.3, StateDelta).
func (c *Channel) PublishDelta(ctx context.Context, d StateDelta) error {
	if c.ps == nil {
		return nil
	}
	t, ok := c.topicFor(d.ContextID)
	if !ok {
		if err := c.Join(d.ContextID); err != nil {
			return err
		}
		t, _ = c.topicFor(d.ContextID)
	}
	c.dedup.markSeen(d.DeltaID)
	wire := append([]byte{wireKindDelta}, d.Encode()...)
	if _, err := t.Publish(ctx, wire, rpc.WithIgnoreResponse(true)); err != nil {
		return errors.Wrap("failed to publish state delta", err)
	}
	c.log.Debug(ctx, "published state delta", logging.NewKV("DeltaID", d.DeltaID), logging.NewKV("ContextID", d.ContextID))
	return nil
}

// PublishHeartbeat emits a liveness/divergence probe (§4.3, default 30s
// interval — the caller's scheduler drives the cadence).
func (c *Channel) PublishHeartbeat(ctx context.Context, h HashHeartbeat) error {
	if c.ps == nil {
		return nil
	}
	t, ok := c.topicFor(h.ContextID)
	if !ok {
		return nil
	}
	wire := append([]byte{wireKindHeartbeat}, h.Encode()...)
	if _, err := t.Publish(ctx, wire, rpc.WithIgnoreResponse(true)); err != nil {
		return errors.Wrap("failed to publish hash heartbeat", err)
	}
	return nil
}

const (
	wireKindDelta     byte = 0x01
	wireKindHeartbeat byte = 0x02
)

func (c *Channel) messageHandler(contextID ids.ContextId) func(from libpeer.ID, topic string, msg []byte) ([]byte, error) {
	return func(from libpeer.ID, topic string, msg []byte) ([]byte, error) {
		if len(msg) == 0 {
			return nil, errors.Decoding("empty gossip message", nil)
		}
		kind, body := msg[0], msg[1:]
		switch kind {
		case wireKindDelta:
			d, err := DecodeStateDelta(body)
			if err != nil {
				c.log.ErrorE(c.ctx, "failed to decode gossiped state delta", err)
				return nil, err
			}
			if c.dedup.seenBefore(d.DeltaID) {
				return nil, nil
			}
			c.deltas.HandleStateDelta(c.ctx, from, d)
		case wireKindHeartbeat:
			h, err := DecodeHashHeartbeat(body)
			if err != nil {
				c.log.ErrorE(c.ctx, "failed to decode gossiped heartbeat", err)
				return nil, err
			}
			if c.heartbeats != nil {
				c.heartbeats.HandleHeartbeat(c.ctx, contextID, h)
			}
		default:
			return nil, errors.Decoding("unknown gossip message kind", nil)
		}
		return nil, nil
	}
}
