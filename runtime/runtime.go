// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package runtime is the WASM bridge (C5, §4.5): it replays a delta's
// action payload through an application's compiled WASM module and
// reconciles the runtime-computed root hash against the author's
// expected one.
package runtime

import (
	"context"
	"sync"

	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/contextmesh/core/crdt"
	"github.com/contextmesh/core/dag"
	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/logging"
)

// MemberChangeRequest is a side effect an application emits to add or
// remove a context member; the bridge forwards these without blocking
// the delta's commit.
type MemberChangeRequest struct {
	Add    bool
	Member ids.PublicKey
}

// ConfigClient is the external, consumed-only membership/application
// configuration boundary the bridge forwards member-change requests to.
type ConfigClient interface {
	RequestMemberChange(ctx context.Context, contextID ids.ContextId, req MemberChangeRequest) error
}

// EventSink receives typed events emitted by application logic for
// external subscribers, independent of the operator log stream.
type EventSink interface {
	Publish(ctx context.Context, contextID ids.ContextId, event []byte)
}

// Engine hosts one compiled WASM module per application id and exposes
// Apply as a deltastore.Applier.
type Engine struct {
	wasmEngine *wasmer.Engine
	config     ConfigClient
	events     EventSink
	log        *logging.Logger

	mu      sync.Mutex
	modules map[ids.ApplicationId]*wasmer.Module
	appOf   map[ids.ContextId]ids.ApplicationId
	stateOf map[ids.ContextId][]byte
}

// NewEngine returns a runtime bridge using a fresh Wasmer engine instance.
func NewEngine(config ConfigClient, events EventSink, log *logging.Logger) *Engine {
	return &Engine{
		wasmEngine: wasmer.NewEngine(),
		config:     config,
		events:     events,
		log:        log,
		modules:    make(map[ids.ApplicationId]*wasmer.Module),
		appOf:      make(map[ids.ContextId]ids.ApplicationId),
		stateOf:    make(map[ids.ContextId][]byte),
	}
}

// RegisterApplication compiles code for applicationID and binds it as the
// WASM module used for contextID's future Apply calls.
func (e *Engine) RegisterApplication(contextID ids.ContextId, applicationID ids.ApplicationId, code []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.modules[applicationID]; !ok {
		store := wasmer.NewStore(e.wasmEngine)
		mod, err := wasmer.NewModule(store, code)
		if err != nil {
			return errors.Wrap("failed to compile wasm module", err)
		}
		e.modules[applicationID] = mod
	}
	e.appOf[contextID] = applicationID
	return nil
}

// Outcome is the decoded result of one apply_next invocation.
type Outcome struct {
	RootHash      ids.Hash
	Events        [][]byte
	MemberChanges []MemberChangeRequest
	LogLines      []string
}

// Apply serializes payload and invokes the bound application's
// apply_next entry point, then reconciles the resulting hash against
// expectedRootHash per §4.5: on mismatch, the author's hash is forced
// and the divergence is logged, rather than the call failing.
func (e *Engine) Apply(ctx context.Context, contextID ids.ContextId, payload []crdt.Action, expectedRootHash ids.Hash) (ids.Hash, error) {
	e.mu.Lock()
	appID, ok := e.appOf[contextID]
	mod, modOK := e.modules[appID]
	prevState := e.stateOf[contextID]
	e.mu.Unlock()
	if !ok || !modOK {
		return ids.Hash{}, errors.Causal("no wasm application registered for context", nil)
	}

	serialized := dag.EncodeActions(payload)

	outcome, newState, err := e.invokeApplyNext(mod, prevState, serialized)
	if err != nil {
		return ids.Hash{}, errors.Wrap("apply_next invocation failed", err)
	}

	e.mu.Lock()
	e.stateOf[contextID] = newState
	e.mu.Unlock()

	finalHash := outcome.RootHash
	if finalHash != expectedRootHash {
		e.log.Error(ctx, "root hash divergence during apply; forcing author hash",
			logging.NewKV("computed", finalHash.String()),
			logging.NewKV("expected", expectedRootHash.String()))
		finalHash = expectedRootHash
	}

	for _, ev := range outcome.Events {
		e.events.Publish(ctx, contextID, ev)
	}
	for _, line := range outcome.LogLines {
		e.log.Info(ctx, "application log", logging.NewKV("line", line))
	}
	for _, mc := range outcome.MemberChanges {
		if err := e.config.RequestMemberChange(ctx, contextID, mc); err != nil {
			e.log.ErrorE(ctx, "member-change request failed", err)
		}
	}

	return finalHash, nil
}
