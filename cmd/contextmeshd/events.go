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

	"github.com/contextmesh/core/ids"
	"github.com/contextmesh/core/logging"
)

// appEvent is one typed event an application emitted, tagged with the
// context it came from so a single subscriber can serve every joined
// context.
type appEvent struct {
	ContextID ids.ContextId
	Payload   []byte
}

const eventChannelCapacity = 256

// eventBus is the single-writer, single-consumer-per-subscriber channel
// the bridge publishes application events onto. A full subscriber
// channel never blocks the apply path: the send is dropped and logged,
// the same way the write path here is expected to behave.
type eventBus struct {
	log *logging.Logger

	mu   sync.Mutex
	subs []chan appEvent
}

func newEventBus(log *logging.Logger) *eventBus {
	return &eventBus{log: log}
}

// Publish implements runtime.EventSink.
func (b *eventBus) Publish(ctx context.Context, contextID ids.ContextId, event []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub <- appEvent{ContextID: contextID, Payload: event}:
		default:
			b.log.Error(ctx, "dropping application event, subscriber channel full",
				logging.NewKV("ContextID", contextID))
		}
	}
}

// Subscribe returns a bounded channel of future events across every
// context this node joins. The caller owns the returned channel but
// must keep draining it; eventBus never closes it.
func (b *eventBus) Subscribe() <-chan appEvent {
	ch := make(chan appEvent, eventChannelCapacity)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}
