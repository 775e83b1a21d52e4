// Copyright 2026 The LinkMQ Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"context"
	"sync"

	"github.com/cskr/pubsub"
	"github.com/iotali/linkmq/internal/mqtt"
)

const eventsTopic = "session.events"

// EventBus fans the connection events out to in-process listeners.
type EventBus struct {
	mu     sync.RWMutex
	bus    *pubsub.PubSub
	closed bool
}

// NewEventBus creates an EventBus where each listener buffers up to capacity events.
func NewEventBus(capacity int) *EventBus {
	return &EventBus{bus: pubsub.New(capacity)}
}

// Publish sends the event to every listener. It blocks while a listener's buffer is full.
func (b *EventBus) Publish(e mqtt.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.bus.Pub(e, eventsTopic)
}

// Listen calls fn for each published event until the context is cancelled or the EventBus is
// closed.
func (b *EventBus) Listen(ctx context.Context, fn func(mqtt.Event)) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	ch := b.bus.Sub(eventsTopic)
	b.mu.RUnlock()

	for {
		select {
		case <-ctx.Done():
			b.unsubscribe(ch)
			return
		case v, ok := <-ch:
			if !ok {
				return
			}
			if e, ok := v.(mqtt.Event); ok {
				fn(e)
			}
		}
	}
}

func (b *EventBus) unsubscribe(ch chan interface{}) {
	// The channel must be drained while unsubscribing, otherwise a pending publication blocks
	// the unsubscription.
	go func() {
		for range ch {
		}
	}()

	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.closed {
		b.bus.Unsub(ch, eventsTopic)
	}
}

// Close closes the EventBus and stops every listener.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.bus.Shutdown()
}
