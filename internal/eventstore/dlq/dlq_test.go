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

package dlq

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemQueue_AddAndRetryCandidates(t *testing.T) {
	q := NewMemQueue()
	ctx := context.Background()
	cfg := Config{MaxRetries: 3, BaseRetryDelay: 0, BackoffMultiplier: 2.0, MaxRetryDelay: time.Hour}

	entry, err := q.AddFailedEvent(ctx, "evt-1", []byte(`{}`), "boom", nil, cfg)
	if err != nil {
		t.Fatalf("add failed event: %v", err)
	}
	if entry.Status != StatusFailed {
		t.Fatalf("expected status Failed, got %s", entry.Status)
	}

	candidates, err := q.RetryCandidates(ctx, 0)
	if err != nil {
		t.Fatalf("retry candidates: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}
}

func TestMemQueue_IncrementRetryBackoffAndExceeded(t *testing.T) {
	q := NewMemQueue()
	ctx := context.Background()
	cfg := Config{MaxRetries: 2, BaseRetryDelay: time.Second, BackoffMultiplier: 2.0, MaxRetryDelay: time.Hour}

	entry, _ := q.AddFailedEvent(ctx, "evt-1", []byte(`{}`), "boom", nil, cfg)

	if err := q.IncrementRetry(ctx, entry.ID, "still broken", cfg); err != nil {
		t.Fatalf("increment retry: %v", err)
	}
	candidates, _ := q.RetryCandidates(ctx, 0)
	if len(candidates) != 0 {
		t.Fatalf("expected candidate not yet due (backoff applied), got %d", len(candidates))
	}

	if err := q.IncrementRetry(ctx, entry.ID, "still broken again", cfg); err != nil {
		t.Fatalf("increment retry: %v", err)
	}

	stats, err := q.Statistics(ctx)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.MaxRetriesExceeded != 1 {
		t.Fatalf("expected entry to hit max retries exceeded, got stats %+v", stats)
	}
}

func TestMemQueue_MarkResolvedClearsNextRetry(t *testing.T) {
	q := NewMemQueue()
	ctx := context.Background()
	cfg := DefaultConfig()

	entry, _ := q.AddFailedEvent(ctx, "evt-1", []byte(`{}`), "boom", nil, cfg)
	if err := q.MarkResolved(ctx, entry.ID); err != nil {
		t.Fatalf("mark resolved: %v", err)
	}

	stats, err := q.Statistics(ctx)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.ResolvedCount != 1 {
		t.Fatalf("expected 1 resolved entry, got %+v", stats)
	}
}

func TestMemQueue_PurgeOlderThan(t *testing.T) {
	q := NewMemQueue()
	ctx := context.Background()
	cfg := DefaultConfig()

	entry, _ := q.AddFailedEvent(ctx, "evt-1", []byte(`{}`), "boom", nil, cfg)
	if err := q.MarkResolved(ctx, entry.ID); err != nil {
		t.Fatalf("mark resolved: %v", err)
	}

	n, err := q.PurgeOlderThan(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 entry purged, got %d", n)
	}
}

func TestProcessor_RetrySucceedsMarksResolved(t *testing.T) {
	q := NewMemQueue()
	ctx := context.Background()
	cfg := Config{MaxRetries: 3, BaseRetryDelay: 0, BackoffMultiplier: 2.0, MaxRetryDelay: time.Hour, ProcessingInterval: time.Hour, Enabled: true}

	entry, _ := q.AddFailedEvent(ctx, "evt-1", []byte(`{}`), "boom", nil, cfg)

	handler := func(ctx context.Context, e *Entry) error { return nil }
	p := NewProcessor(q, handler, cfg, 10, nil)

	if err := p.ProcessRetries(ctx); err != nil {
		t.Fatalf("process retries: %v", err)
	}

	stats, err := q.Statistics(ctx)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.ResolvedCount != 1 {
		t.Fatalf("expected entry to be resolved, got %+v", stats)
	}
	_ = entry
}

func TestProcessor_RetryFailureIncrementsCount(t *testing.T) {
	q := NewMemQueue()
	ctx := context.Background()
	cfg := Config{MaxRetries: 3, BaseRetryDelay: 0, BackoffMultiplier: 2.0, MaxRetryDelay: time.Hour, ProcessingInterval: time.Hour, Enabled: true}

	q.AddFailedEvent(ctx, "evt-1", []byte(`{}`), "boom", nil, cfg)

	handler := func(ctx context.Context, e *Entry) error { return errors.New("still failing") }
	p := NewProcessor(q, handler, cfg, 10, nil)

	if err := p.ProcessRetries(ctx); err != nil {
		t.Fatalf("process retries: %v", err)
	}

	stats, err := q.Statistics(ctx)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.RetryingCount != 0 || stats.FailedCount != 1 {
		t.Fatalf("expected entry back in Failed with incremented retry count, got %+v", stats)
	}
}

func TestProcessor_StartStop(t *testing.T) {
	q := NewMemQueue()
	cfg := Config{MaxRetries: 3, BaseRetryDelay: 0, BackoffMultiplier: 2.0, MaxRetryDelay: time.Hour, ProcessingInterval: 10 * time.Millisecond, Enabled: true}

	handler := func(ctx context.Context, e *Entry) error { return nil }
	p := NewProcessor(q, handler, cfg, 10, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.Start(ctx)
	if !p.IsRunning() {
		t.Fatal("expected processor to be running after Start")
	}

	p.Stop()
	if p.IsRunning() {
		t.Fatal("expected processor to be stopped after Stop")
	}
}
