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

package projection

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/relaywork/relay/internal/broadcast"
	"github.com/relaywork/relay/internal/eventstore"
)

// countingProjection counts events of a single interesting type.
type countingProjection struct {
	mu    sync.Mutex
	count int
	typ   string
}

func (p *countingProjection) Name() string          { return "counting" }
func (p *countingProjection) EventTypes() []string   { return []string{p.typ} }
func (p *countingProjection) Initialize(context.Context) error { return nil }

func (p *countingProjection) Reset(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count = 0
	return nil
}

func (p *countingProjection) HandleEvent(ctx context.Context, event *eventstore.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++
	return nil
}

func (p *countingProjection) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func waitForCount(t *testing.T, p *countingProjection, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if p.Count() >= want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for count to reach %d, got %d", want, p.Count())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestManager_FeedsEventsToProjection(t *testing.T) {
	store := eventstore.NewMemStore(false)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		e := eventstore.NewEnvelope("agg-1", "widget", "widget.created", i, json.RawMessage(`{}`))
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	cp := NewMemCheckpointStore()
	wake := broadcast.New[struct{}](4, nil)
	cfg := ManagerConfig{CheckpointFrequency: 2, BatchSize: 1000, FallbackPollInterval: 50 * time.Millisecond}
	mgr := NewManager(store, cp, wake, cfg, nil)

	proj := &countingProjection{typ: "widget.created"}
	if err := mgr.Register(ctx, proj); err != nil {
		t.Fatalf("register: %v", err)
	}
	defer mgr.Unregister("counting")

	waitForCount(t, proj, 5)

	state, ok := mgr.State("counting")
	if !ok || state != StateActive {
		t.Fatalf("expected projection to be Active, got %v (ok=%v)", state, ok)
	}

	checkpoint, err := cp.Get(ctx, "counting")
	if err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if checkpoint.EventsProcessed != 5 {
		t.Fatalf("expected checkpoint to record 5 events processed, got %d", checkpoint.EventsProcessed)
	}
}

func TestManager_IgnoresNonMatchingEventTypes(t *testing.T) {
	store := eventstore.NewMemStore(false)
	ctx := context.Background()

	store.Append(ctx, eventstore.NewEnvelope("agg-1", "widget", "widget.created", 1, json.RawMessage(`{}`)))
	store.Append(ctx, eventstore.NewEnvelope("agg-1", "widget", "widget.deleted", 2, json.RawMessage(`{}`)))

	cp := NewMemCheckpointStore()
	cfg := DefaultManagerConfig()
	mgr := NewManager(store, cp, nil, cfg, nil)

	proj := &countingProjection{typ: "widget.created"}
	if err := mgr.Register(ctx, proj); err != nil {
		t.Fatalf("register: %v", err)
	}
	defer mgr.Unregister("counting")

	waitForCount(t, proj, 1)
	time.Sleep(50 * time.Millisecond)
	if proj.Count() != 1 {
		t.Fatalf("expected only the matching event to be counted, got %d", proj.Count())
	}
}

func TestManager_Rebuild(t *testing.T) {
	store := eventstore.NewMemStore(false)
	ctx := context.Background()
	store.Append(ctx, eventstore.NewEnvelope("agg-1", "widget", "widget.created", 1, json.RawMessage(`{}`)))

	cp := NewMemCheckpointStore()
	cfg := DefaultManagerConfig()
	mgr := NewManager(store, cp, nil, cfg, nil)

	proj := &countingProjection{typ: "widget.created"}
	if err := mgr.Register(ctx, proj); err != nil {
		t.Fatalf("register: %v", err)
	}
	waitForCount(t, proj, 1)

	if err := mgr.Rebuild(ctx, "counting"); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	defer mgr.Unregister("counting")

	waitForCount(t, proj, 1)
}
