// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package pubsub provides the in-process event broker that fans
// streaming events out to RPC subscribers.
package pubsub

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// defaultBufferSize is the per-subscriber channel capacity. A slow
// subscriber drops events rather than stalling the turn loop.
const defaultBufferSize = 256

// Broker fans published values out to all current subscribers. Each
// subscriber owns a bounded channel; publish never blocks.
type Broker[T any] struct {
	mu     sync.RWMutex
	subs   map[int]chan T
	nextID int
	closed bool
	logger *zap.Logger
}

// NewBroker creates a broker.
func NewBroker[T any](logger *zap.Logger) *Broker[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker[T]{
		subs:   make(map[int]chan T),
		logger: logger,
	}
}

// Subscribe registers a subscriber whose channel is closed and removed
// when ctx is cancelled or the broker shuts down.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan T {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan T, defaultBufferSize)
	if b.closed {
		close(ch)
		return ch
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}()

	return ch
}

// Publish delivers v to every subscriber. Subscribers whose buffer is
// full miss the event; streaming events are advisory and the persisted
// log remains the source of truth.
func (b *Broker[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			b.logger.Warn("pubsub subscriber buffer full, dropping event")
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts the broker down, closing all subscriber channels.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
