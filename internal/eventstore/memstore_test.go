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

package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestMemStore_AppendAndLoad(t *testing.T) {
	s := NewMemStore(true)
	ctx := context.Background()

	e1 := NewEnvelope("agg-1", "widget", "widget.created", 1, json.RawMessage(`{"a":1}`))
	if err := s.Append(ctx, e1); err != nil {
		t.Fatalf("append: %v", err)
	}
	if e1.Checksum == "" {
		t.Fatal("expected checksum to be set when enableChecksums is true")
	}

	e2 := NewEnvelope("agg-1", "widget", "widget.updated", 2, json.RawMessage(`{"a":2}`))
	if err := s.Append(ctx, e2); err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := s.Load(ctx, "agg-1", 0)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].AggregateVersion != 1 || events[1].AggregateVersion != 2 {
		t.Fatalf("expected ascending versions, got %d, %d", events[0].AggregateVersion, events[1].AggregateVersion)
	}

	fromV1, err := s.Load(ctx, "agg-1", 1)
	if err != nil {
		t.Fatalf("load from version 1: %v", err)
	}
	if len(fromV1) != 1 || fromV1[0].AggregateVersion != 2 {
		t.Fatalf("expected only version 2, got %+v", fromV1)
	}
}

func TestMemStore_ConcurrencyConflict(t *testing.T) {
	s := NewMemStore(false)
	ctx := context.Background()

	e1 := NewEnvelope("agg-1", "widget", "widget.created", 1, json.RawMessage(`{}`))
	if err := s.Append(ctx, e1); err != nil {
		t.Fatalf("append: %v", err)
	}

	dup := NewEnvelope("agg-1", "widget", "widget.created", 1, json.RawMessage(`{}`))
	err := s.Append(ctx, dup)
	var conflict *ConcurrencyConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConcurrencyConflictError, got %v", err)
	}
	if conflict.ExpectedAtLeast != 1 || conflict.Got != 1 {
		t.Fatalf("unexpected conflict details: %+v", conflict)
	}
}

func TestMemStore_AppendBatchAllOrNothing(t *testing.T) {
	s := NewMemStore(false)
	ctx := context.Background()

	if err := s.Append(ctx, NewEnvelope("agg-1", "widget", "widget.created", 1, json.RawMessage(`{}`))); err != nil {
		t.Fatalf("append: %v", err)
	}

	batch := []*Envelope{
		NewEnvelope("agg-2", "widget", "widget.created", 1, json.RawMessage(`{}`)),
		NewEnvelope("agg-1", "widget", "widget.updated", 1, json.RawMessage(`{}`)), // stale version, should conflict
	}

	err := s.AppendBatch(ctx, batch)
	var conflict *ConcurrencyConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConcurrencyConflictError, got %v", err)
	}

	exists, err := s.AggregateExists(ctx, "agg-2")
	if err != nil {
		t.Fatalf("aggregate exists: %v", err)
	}
	if exists {
		t.Fatal("expected agg-2's event to be rolled back when the batch failed partway through")
	}
}

func TestMemStore_SnapshotRoundTrip(t *testing.T) {
	s := NewMemStore(false)
	ctx := context.Background()

	snap := NewSnapshot("agg-1", "widget", 5, json.RawMessage(`{"count":5}`))
	if err := s.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	got, err := s.GetSnapshot(ctx, "agg-1")
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if got == nil || got.AggregateVersion != 5 {
		t.Fatalf("expected snapshot at version 5, got %+v", got)
	}

	newer := NewSnapshot("agg-1", "widget", 9, json.RawMessage(`{"count":9}`))
	if err := s.SaveSnapshot(ctx, newer); err != nil {
		t.Fatalf("save newer snapshot: %v", err)
	}
	got, err = s.GetSnapshot(ctx, "agg-1")
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if got.AggregateVersion != 9 {
		t.Fatalf("expected snapshot to be replaced in place, got version %d", got.AggregateVersion)
	}
}

func TestMemStore_EventsFromPositionOrdering(t *testing.T) {
	s := NewMemStore(false)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		e := NewEnvelope("agg-1", "widget", "widget.tick", i, json.RawMessage(`{}`))
		if err := s.Append(ctx, e); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	all, err := s.EventsFromPosition(ctx, Position{}, 0)
	if err != nil {
		t.Fatalf("events from position: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}

	current, err := s.CurrentPosition(ctx)
	if err != nil {
		t.Fatalf("current position: %v", err)
	}

	none, err := s.EventsFromPosition(ctx, current, 0)
	if err != nil {
		t.Fatalf("events from current position: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no events after current position, got %d", len(none))
	}
}

func TestEnvelope_VerifyChecksum(t *testing.T) {
	s := NewMemStore(true)
	ctx := context.Background()

	e := NewEnvelope("agg-1", "widget", "widget.created", 1, json.RawMessage(`{"a":1}`))
	if err := s.Append(ctx, e); err != nil {
		t.Fatalf("append: %v", err)
	}

	ok, err := e.VerifyChecksum()
	if err != nil {
		t.Fatalf("verify checksum: %v", err)
	}
	if !ok {
		t.Fatal("expected checksum to verify")
	}

	e.EventData = json.RawMessage(`{"a":2}`)
	ok, err = e.VerifyChecksum()
	if err != nil {
		t.Fatalf("verify checksum: %v", err)
	}
	if ok {
		t.Fatal("expected checksum mismatch after mutating event data")
	}
}
