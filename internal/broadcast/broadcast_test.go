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

package broadcast

import (
	"testing"
	"time"
)

func TestTopic_PublishDeliversToAllSubscribers(t *testing.T) {
	topic := New[int](4, nil)
	sub1 := topic.Subscribe()
	sub2 := topic.Subscribe()

	topic.Publish(42)

	select {
	case v := <-sub1.C():
		if v != 42 {
			t.Fatalf("expected 42, got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sub1")
	}

	select {
	case v := <-sub2.C():
		if v != 42 {
			t.Fatalf("expected 42, got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sub2")
	}
}

func TestTopic_SlowSubscriberDropsRatherThanBlocks(t *testing.T) {
	topic := New[int](1, nil)
	sub := topic.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			topic.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber instead of dropping")
	}

	// Drain whatever made it through; the point is the publisher never stalled.
	select {
	case <-sub.C():
	default:
	}
}

func TestTopic_Unsubscribe(t *testing.T) {
	topic := New[int](2, nil)
	sub := topic.Subscribe()
	if topic.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", topic.SubscriberCount())
	}

	sub.Unsubscribe()
	if topic.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe, got %d", topic.SubscriberCount())
	}

	// Publishing after everyone has unsubscribed should not panic.
	topic.Publish(1)
}
