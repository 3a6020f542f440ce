// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package main

import (
	"context"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	libpeer "github.com/libp2p/go-libp2p/core/peer"

	"github.com/contextmesh/core/broadcast"
	"github.com/contextmesh/core/config"
	"github.com/contextmesh/core/dag"
	"github.com/contextmesh/core/deltastore"
	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/hlc"
	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/logging"
	"github.com/contextmesh/core/runtime"
	"github.com/contextmesh/core/scheduler"
	"github.com/contextmesh/core/secure"
	"github.com/contextmesh/core/storage"
)

// node is the composition root: every package above this one is wired
// together here exactly once, the way defradb's defraInstance holds the
// db/net/server triple that cli/start.go assembles.
type node struct {
	cfg      *config.Config
	identity secure.Identity

	store      storage.Engine
	deltaStore *deltastore.DeltaStore
	roots      *rootHashTracker
	keys       *secure.KeyStore
	clock      *hlc.Clock
	runtime    *runtime.Engine
	events     *eventBus

	host    host.Host
	pubsub  *pubsub.PubSub
	channel *broadcast.Channel
	syncer  *peerSyncer
	sched   *scheduler.Scheduler

	log *logging.Logger

	cancel context.CancelFunc

	mu     sync.Mutex
	joined map[ids.ContextId]context.CancelFunc
}

// newNode builds every collaborator but does not yet open a listener or
// dial any peer; call start to bring the node online.
func newNode(ctx context.Context, cfg *config.Config, configClient config.Client, log *logging.Logger) (*node, error) {
	identity, err := secure.NewIdentity()
	if err != nil {
		return nil, err
	}

	var store storage.Engine
	switch cfg.Datastore.Store {
	case "memory":
		store = storage.NewMemoryEngine()
	default:
		store, err = storage.OpenBadger(cfg.Datastore.Path)
		if err != nil {
			return nil, errors.Wrap("failed to open datastore", err)
		}
	}

	events := newEventBus(log)
	forwarder := config.NewMemberChangeForwarder(configClient, identity.PublicKey)
	runtimeEngine := runtime.NewEngine(forwarder, events, log)
	roots := newRootHashTracker(runtimeEngine)
	keys := secure.NewKeyStore()
	deltaStore := deltastore.NewDeltaStore(store, roots, secure.NewKeyStoreDecryptor(keys), log)
	clock := hlc.NewClock()

	n := &node{
		cfg:        cfg,
		identity:   identity,
		store:      store,
		deltaStore: deltaStore,
		roots:      roots,
		keys:       keys,
		clock:      clock,
		runtime:    runtimeEngine,
		events:     events,
		log:        log,
		joined:     make(map[ids.ContextId]context.CancelFunc),
	}

	if cfg.Net.P2PDisabled {
		n.syncer = newPeerSyncer(nil, identity, keys, store, deltaStore, roots, clock, configClient, cfg.Sync.SyncTimeout, log)
		return n, nil
	}

	p2pKey, err := p2pcrypto.UnmarshalEd25519PrivateKey(identity.PrivateKey)
	if err != nil {
		return nil, errors.Wrap("failed to derive libp2p identity from node identity", err)
	}
	h, err := libp2p.New(
		libp2p.Identity(p2pKey),
		libp2p.ListenAddrStrings(cfg.Net.P2PAddress),
	)
	if err != nil {
		return nil, errors.Wrap("failed to create libp2p host", err)
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, errors.Wrap("failed to create gossip pubsub", err)
	}

	n.host = h
	n.pubsub = ps
	n.syncer = newPeerSyncer(h, identity, keys, store, deltaStore, roots, clock, configClient, cfg.Sync.SyncTimeout, log)

	// schedulerTrigger needs the scheduler and the scheduler needs the
	// channel as its TopicPeers, but the channel's divergence sink needs
	// a SyncRequester up front: break the cycle by handing the trigger
	// an empty shell now and filling in its scheduler once built.
	trigger := &schedulerTrigger{}
	submitter := &deltaSubmitter{store: deltaStore, log: log}
	divergence := broadcast.NewDivergenceDetector(
		&localState{store: deltaStore, roots: roots},
		trigger,
		log,
	)
	n.channel = broadcast.NewChannel(ctx, ps, h.ID(), submitter, divergence, log)

	seed := cfg.Sync.RNGSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	n.sched = scheduler.New(n.syncer, n.channel, deltaStore, scheduler.NewPeerHeadTracker(), log, seed)
	trigger.sched = n.sched

	return n, nil
}

// Join subscribes contextID to its gossip topic, registers the C6/C8
// stream handler under its dedicated protocol id, and starts the
// periodic heartbeat this context publishes until Leave.
func (n *node) Join(ctx context.Context, contextID ids.ContextId) error {
	n.mu.Lock()
	if _, ok := n.joined[contextID]; ok {
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()

	if n.host != nil {
		n.host.SetStreamHandler(protocolForContext(contextID), n.syncer.streamHandlerFor(contextID))
	}
	if n.channel != nil {
		if err := n.channel.Join(contextID); err != nil {
			return err
		}
	}

	hbCtx, cancel := context.WithCancel(ctx)
	n.mu.Lock()
	n.joined[contextID] = cancel
	n.mu.Unlock()

	if n.channel != nil && n.cfg.Net.HeartbeatInterval > 0 {
		go n.heartbeatLoop(hbCtx, contextID)
	}
	return nil
}

// Leave reverses Join: the heartbeat loop stops, the gossip topic is
// left, and the per-context stream handler is deregistered so a late
// inbound stream for a dropped context is refused rather than served.
func (n *node) Leave(contextID ids.ContextId) error {
	n.mu.Lock()
	cancel, ok := n.joined[contextID]
	delete(n.joined, contextID)
	n.mu.Unlock()
	if !ok {
		return nil
	}
	cancel()

	if n.sched != nil {
		n.sched.Forget(contextID)
	}
	if n.host != nil {
		n.host.RemoveStreamHandler(protocolForContext(contextID))
	}
	if n.channel != nil {
		return n.channel.Leave(contextID)
	}
	return nil
}

func (n *node) heartbeatLoop(ctx context.Context, contextID ids.ContextId) {
	ticker := time.NewTicker(n.cfg.Net.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.publishHeartbeat(ctx, contextID)
		}
	}
}

func (n *node) publishHeartbeat(ctx context.Context, contextID ids.ContextId) {
	root, err := n.roots.RootHash(ctx, contextID)
	if err != nil {
		n.log.ErrorE(ctx, "failed to read root hash for heartbeat", err, logging.NewKV("ContextID", contextID))
		return
	}
	heads, err := n.deltaStore.Heads(ctx, contextID)
	if err != nil {
		n.log.ErrorE(ctx, "failed to read dag heads for heartbeat", err, logging.NewKV("ContextID", contextID))
		return
	}
	h := broadcast.HashHeartbeat{ContextID: contextID, RootHash: root, DagHeads: heads}
	if err := n.channel.PublishHeartbeat(ctx, h); err != nil {
		n.log.ErrorE(ctx, "failed to publish heartbeat", err, logging.NewKV("ContextID", contextID))
	}
}

// joinedContexts snapshots the contexts currently joined, for the
// scheduler's periodic sweep (§4.7).
func (n *node) joinedContexts() []ids.ContextId {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]ids.ContextId, 0, len(n.joined))
	for c := range n.joined {
		out = append(out, c)
	}
	return out
}

// sweepLoop drives the scheduler's periodic background trigger (§4.7).
// Besides this loop, only the heartbeat divergence path calls
// Scheduler.Trigger; Join and local mutations do not trigger a sync.
func (n *node) sweepLoop(ctx context.Context) {
	if n.sched == nil {
		return
	}
	ticker := time.NewTicker(n.cfg.Sync.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.sched.Sweep(ctx, n.joinedContexts())
		}
	}
}

// dialBootstrapPeers connects to every address in addrs, logging but not
// failing startup on a peer that can't be reached — mirroring
// defradb's own "warn and continue" bootstrap behavior.
func (n *node) dialBootstrapPeers(ctx context.Context, addrs []libpeer.AddrInfo) {
	for _, addr := range addrs {
		if err := n.host.Connect(ctx, addr); err != nil {
			n.log.ErrorE(ctx, "failed to connect to bootstrap peer", err, logging.NewKV("peer", addr.ID))
		}
	}
}

// Close shuts down the node's background work and storage engine.
func (n *node) Close() error {
	if n.cancel != nil {
		n.cancel()
	}
	n.mu.Lock()
	for _, cancel := range n.joined {
		cancel()
	}
	n.mu.Unlock()
	if n.host != nil {
		if err := n.host.Close(); err != nil {
			n.log.ErrorE(context.Background(), "failed to close libp2p host", err)
		}
	}
	return n.store.Close()
}

// DAGFor is a thin accessor for the DeltaDAG behind this node's delta
// store, the authoritative per-context graph.
func (n *node) DAGFor() *dag.DeltaDAG { return n.deltaStore.DAG() }
