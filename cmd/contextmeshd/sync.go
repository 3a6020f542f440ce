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
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	libpeer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/contextmesh/core/config"
	"github.com/contextmesh/core/crdt"
	"github.com/contextmesh/core/deltastore"
	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/hlc"
	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/logging"
	"github.com/contextmesh/core/scheduler"
	"github.com/contextmesh/core/secure"
	"github.com/contextmesh/core/storage"
	"github.com/contextmesh/core/syncproto"
)

// syncProtocolPrefix names the stream protocol family C6/C8 run over,
// distinct from the pubsub topics C7 uses for gossip fan-out. Each
// context gets its own protocol id under this prefix: libp2p's
// multistream-select negotiation then tells a responder which context an
// inbound stream is for before a single byte of application data is
// read, which is what lets the C6 handshake bind the context id into its
// very first message on both sides without a separate discovery step.
const syncProtocolPrefix = "/contextmesh/sync/1.0.0/"

func protocolForContext(contextID ids.ContextId) protocol.ID {
	return protocol.ID(syncProtocolPrefix + contextID.Hex())
}

// ourSupportedProtocols is the full §4.6 roster; every node built from
// this implementation supports all three.
var ourSupportedProtocols = []syncproto.ProtocolKind{
	syncproto.ProtocolDeltaCatchup,
	syncproto.ProtocolHashComparison,
	syncproto.ProtocolSnapshot,
}

// peerSyncer implements scheduler.Syncer (C9's collaborator): open an
// authenticated stream to a candidate peer, run the C6 handshake, the C8
// selection exchange, then whichever protocol Select picked. It is also
// the libp2p stream handler for the responder side of the same exchange.
type peerSyncer struct {
	host     host.Host
	identity secure.Identity

	keys       *secure.KeyStore
	store      storage.Engine
	deltaStore *deltastore.DeltaStore
	roots      *rootHashTracker
	merger     *crdt.RawOverwriteMerger
	clock      *hlc.Clock
	config     config.Client

	timeout time.Duration
	log     *logging.Logger
}

var _ scheduler.Syncer = (*peerSyncer)(nil)

func newPeerSyncer(
	h host.Host,
	identity secure.Identity,
	keys *secure.KeyStore,
	store storage.Engine,
	deltaStore *deltastore.DeltaStore,
	roots *rootHashTracker,
	clock *hlc.Clock,
	configClient config.Client,
	timeout time.Duration,
	log *logging.Logger,
) *peerSyncer {
	return &peerSyncer{
		host:       h,
		identity:   identity,
		keys:       keys,
		store:      store,
		deltaStore: deltaStore,
		roots:      roots,
		merger:     crdt.NewRawOverwriteMerger(store),
		clock:      clock,
		config:     configClient,
		timeout:    timeout,
		log:        log,
	}
}

// localSenderKey fetches, generating on first use, the sender_key this
// identity broadcasts with for contextID (§3.2). A production node would
// persist this in ColumnIdentity; it is read back through the same
// KeyStore every other peer's decryption path uses.
func (p *peerSyncer) localSenderKey(contextID ids.ContextId) ([]byte, error) {
	if key, ok := p.keys.SenderKey(contextID, p.identity.PublicKey); ok {
		return key, nil
	}
	key, err := secure.NewSenderKey()
	if err != nil {
		return nil, err
	}
	p.keys.SetSenderKey(contextID, p.identity.PublicKey, key)
	return key, nil
}

func (p *peerSyncer) revisions(ctx context.Context, contextID ids.ContextId) (applicationRevision, membersRevision uint64) {
	if p.config == nil {
		return 0, 0
	}
	if rev, err := p.config.ApplicationRevision(ctx, contextID); err == nil {
		applicationRevision = rev
	}
	if rev, err := p.config.MembersRevision(ctx, contextID); err == nil {
		membersRevision = rev
	}
	return applicationRevision, membersRevision
}

// buildProtocol resolves kind into a concrete syncproto.Protocol wired to
// this node's storage/DAG, the way the spec's own SyncProtocolExecutor
// factoring suggests: selection only decides which of the three runs,
// each protocol already carries everything it needs to execute.
func (p *peerSyncer) buildProtocol(contextID ids.ContextId, kind syncproto.ProtocolKind, theirHeads []ids.DeltaId) syncproto.Protocol {
	switch kind {
	case syncproto.ProtocolDeltaCatchup:
		return &syncproto.DeltaCatchup{DAG: p.deltaStore.DAG(), TheirHeads: theirHeads}
	case syncproto.ProtocolHashComparison:
		return &syncproto.HashComparison{Tree: syncproto.NewTree(p.store, contextID), Merger: p.merger}
	case syncproto.ProtocolSnapshot:
		return &syncproto.Snapshot{Store: p.store, DAG: p.deltaStore.DAG(), Clock: p.clock, Buf: p.deltaStore}
	default:
		return nil
	}
}

// Sync implements scheduler.Syncer: the initiator side of C6 through C8.
func (p *peerSyncer) Sync(ctx context.Context, contextID ids.ContextId, peer libpeer.ID) (syncproto.Report, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	stream, err := p.host.NewStream(ctx, peer, protocolForContext(contextID))
	if err != nil {
		return syncproto.Report{}, errors.Resource("failed to open sync stream", err)
	}
	defer stream.Close()

	senderKey, err := p.localSenderKey(contextID)
	if err != nil {
		return syncproto.Report{}, err
	}
	result, err := secure.Handshake(contextID, p.identity, senderKey, contextID[:], stream)
	if err != nil {
		return syncproto.Report{}, err
	}
	p.keys.SetSenderKey(contextID, result.PeerPublicKey, result.PeerSenderKey)

	ourRoot, err := p.roots.RootHash(ctx, contextID)
	if err != nil {
		return syncproto.Report{}, err
	}
	ourHeads, err := p.deltaStore.Heads(ctx, contextID)
	if err != nil {
		return syncproto.Report{}, err
	}
	appRev, membersRev := p.revisions(ctx, contextID)

	req := syncproto.SyncRequest{
		ContextID:           contextID,
		OurRootHash:         ourRoot,
		OurDagHeads:         ourHeads,
		ApplicationRevision: appRev,
		MembersRevision:     membersRev,
	}
	if err := syncproto.SendSyncRequest(stream, req); err != nil {
		return syncproto.Report{}, err
	}
	resp, err := syncproto.ReceiveSyncResponse(stream)
	if err != nil {
		return syncproto.Report{}, err
	}

	kind, shouldRun := syncproto.Select(ourRoot, resp.TheirRootHash, ourHeads, resp.TheirDagHeads,
		ourSupportedProtocols, resp.Supports, syncproto.DefaultCatchupThreshold)
	if !shouldRun {
		return syncproto.Report{}, nil
	}

	proto := p.buildProtocol(contextID, kind, resp.TheirDagHeads)
	report, err := proto.RunInitiator(ctx, stream, contextID)
	if err != nil {
		return report, err
	}
	p.log.Debug(ctx, "sync session completed",
		logging.NewKV("ContextID", contextID), logging.NewKV("Peer", peer.String()), logging.NewKV("Protocol", kind.String()))
	return report, nil
}

// streamHandlerFor returns the libp2p stream handler to register against
// protocolForContext(contextID) for as long as this node has contextID
// joined (§4.3's Join/Leave lifecycle).
func (p *peerSyncer) streamHandlerFor(contextID ids.ContextId) network.StreamHandler {
	return func(stream network.Stream) {
		defer stream.Close()
		ctx := context.Background()
		if p.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}
		if err := p.respond(ctx, contextID, stream); err != nil {
			p.log.ErrorE(ctx, "inbound sync session failed", err, logging.NewKV("ContextID", contextID))
		}
	}
}

// respond mirrors Sync's step order exactly (handshake, then the
// request/response exchange) so the two sides never disagree about what
// comes next on the wire.
func (p *peerSyncer) respond(ctx context.Context, contextID ids.ContextId, stream io.ReadWriter) error {
	senderKey, err := p.localSenderKey(contextID)
	if err != nil {
		return err
	}
	result, err := secure.Handshake(contextID, p.identity, senderKey, contextID[:], stream)
	if err != nil {
		return err
	}
	p.keys.SetSenderKey(contextID, result.PeerPublicKey, result.PeerSenderKey)

	req, err := syncproto.ReceiveSyncRequest(stream)
	if err != nil {
		return err
	}
	if req.ContextID != contextID {
		return errors.Protocol("sync request context id does not match negotiated protocol", nil)
	}

	ourRoot, err := p.roots.RootHash(ctx, contextID)
	if err != nil {
		return err
	}
	ourHeads, err := p.deltaStore.Heads(ctx, contextID)
	if err != nil {
		return err
	}

	resp := syncproto.SyncResponse{
		TheirRootHash: ourRoot,
		TheirDagHeads: ourHeads,
		Supports:      ourSupportedProtocols,
	}
	if err := syncproto.SendSyncResponse(stream, resp); err != nil {
		return err
	}

	kind, shouldRun := syncproto.Select(ourRoot, req.OurRootHash, ourHeads, req.OurDagHeads,
		ourSupportedProtocols, ourSupportedProtocols, syncproto.DefaultCatchupThreshold)
	if !shouldRun {
		return nil
	}

	proto := p.buildProtocol(contextID, kind, req.OurDagHeads)
	_, err = proto.RunResponder(ctx, stream, contextID)
	return err
}
