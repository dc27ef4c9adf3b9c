// Copyright 2025 Tom Barlow
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

// Package broadcast implements a bounded, in-process fan-out channel: one
// publisher, many subscribers, each with its own bounded buffer. A
// subscriber that falls behind has its oldest-pending messages dropped
// rather than ever blocking the publisher.
package broadcast

import (
	"log/slog"
	"sync"
)

// Topic fans out values of type T to any number of subscribers.
type Topic[T any] struct {
	mu          sync.RWMutex
	subscribers map[int]chan T
	nextID      int
	bufferSize  int
	logger      *slog.Logger
}

// New creates a Topic whose subscriber channels are buffered to
// bufferSize. A bufferSize of 0 still delivers to subscribers that are
// actively receiving, but drops any publish to a subscriber with no room.
func New[T any](bufferSize int, logger *slog.Logger) *Topic[T] {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &Topic[T]{
		subscribers: make(map[int]chan T),
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

// Subscription is a handle to a live subscription. Call Unsubscribe when
// done to release the channel and stop further delivery.
type Subscription[T any] struct {
	id    int
	ch    chan T
	topic *Topic[T]
}

// C returns the channel to receive published values from.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Unsubscribe removes this subscription from the topic and closes its
// channel. Safe to call more than once.
func (s *Subscription[T]) Unsubscribe() {
	s.topic.mu.Lock()
	defer s.topic.mu.Unlock()
	if ch, ok := s.topic.subscribers[s.id]; ok {
		delete(s.topic.subscribers, s.id)
		close(ch)
	}
}

// Subscribe registers a new subscriber and returns its Subscription.
func (t *Topic[T]) Subscribe() *Subscription[T] {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	ch := make(chan T, t.bufferSize)
	t.subscribers[id] = ch
	return &Subscription[T]{id: id, ch: ch, topic: t}
}

// Publish delivers v to every current subscriber. Delivery never blocks:
// a subscriber whose buffer is full has this value dropped for it, and the
// drop is logged at debug level so a persistently slow consumer is
// diagnosable without the publisher ever stalling.
func (t *Topic[T]) Publish(v T) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for id, ch := range t.subscribers {
		select {
		case ch <- v:
		default:
			t.logger.Debug("broadcast subscriber buffer full, dropping message", slog.Int("subscriber_id", id))
		}
	}
}

// SubscriberCount returns the number of currently registered subscribers.
func (t *Topic[T]) SubscriberCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subscribers)
}

// Close unsubscribes and closes the channel of every current subscriber.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ch := range t.subscribers {
		delete(t.subscribers, id)
		close(ch)
	}
}
