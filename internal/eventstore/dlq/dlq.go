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

// Package dlq implements the dead-letter queue: failed events parked for
// retry with exponential backoff, and a background processor that drains
// retry-eligible entries through a caller-supplied handler.
package dlq

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a dead-letter entry.
type Status string

const (
	StatusFailed             Status = "failed"
	StatusRetrying           Status = "retrying"
	StatusMaxRetriesExceeded Status = "max_retries_exceeded"
	StatusResolved           Status = "resolved"
)

// Entry is a single dead-lettered event awaiting retry or resolution.
// next_retry_at is nil exactly when Status is Resolved or
// MaxRetriesExceeded.
type Entry struct {
	ID              string
	OriginalEventID string
	EventData       []byte
	ErrorMessage    string
	ErrorDetails    map[string]string
	RetryCount      int
	MaxRetries      int
	Status          Status
	CreatedAt       time.Time
	LastRetryAt     *time.Time
	NextRetryAt     *time.Time
}

// Config tunes backoff and processing cadence. Matches the defaults of the
// Rust dead-letter queue this package is modeled on.
type Config struct {
	MaxRetries         int
	BaseRetryDelay     time.Duration
	BackoffMultiplier  float64
	MaxRetryDelay      time.Duration
	ProcessingInterval time.Duration
	Enabled            bool
}

// DefaultConfig returns the queue's baseline tuning.
func DefaultConfig() Config {
	return Config{
		MaxRetries:         3,
		BaseRetryDelay:     60 * time.Second,
		BackoffMultiplier:  2.0,
		MaxRetryDelay:      time.Hour,
		ProcessingInterval: 5 * time.Minute,
		Enabled:            true,
	}
}

// Statistics summarizes the current queue contents by status.
type Statistics struct {
	TotalEntries        int
	FailedCount         int
	RetryingCount       int
	MaxRetriesExceeded  int
	ResolvedCount       int
	OldestUnresolvedAge time.Duration
}

// Queue is the dead-letter queue's storage contract.
type Queue interface {
	// AddFailedEvent parks eventData with errMsg, scheduling its first retry.
	AddFailedEvent(ctx context.Context, originalEventID string, eventData []byte, errMsg string, details map[string]string, cfg Config) (*Entry, error)

	// RetryCandidates returns entries with status Failed or Retrying whose
	// next_retry_at is due, oldest first, capped at limit (0 = no cap).
	RetryCandidates(ctx context.Context, limit int) ([]*Entry, error)

	// MarkRetrying transitions an entry into Retrying without advancing its
	// retry count (set when a retry attempt begins).
	MarkRetrying(ctx context.Context, id string) error

	// MarkResolved transitions an entry to Resolved and clears next_retry_at.
	MarkResolved(ctx context.Context, id string) error

	// IncrementRetry records a failed retry attempt, recomputing
	// next_retry_at via exponential backoff, or transitioning to
	// MaxRetriesExceeded once retry_count+1 >= max_retries.
	IncrementRetry(ctx context.Context, id string, errMsg string, cfg Config) error

	// MarkPermanentlyFailed forces an entry to MaxRetriesExceeded, clearing
	// next_retry_at regardless of retry count.
	MarkPermanentlyFailed(ctx context.Context, id string, errMsg string) error

	// Statistics summarizes the queue's current contents.
	Statistics(ctx context.Context) (Statistics, error)

	// PurgeOlderThan deletes Resolved or MaxRetriesExceeded entries created
	// before cutoff, returning the count removed.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// nextRetryTime applies exponential backoff: base * multiplier^retryCount,
// capped at maxDelay.
func nextRetryTime(now time.Time, retryCount int, cfg Config) time.Time {
	delay := float64(cfg.BaseRetryDelay) * math.Pow(cfg.BackoffMultiplier, float64(retryCount))
	if cap := float64(cfg.MaxRetryDelay); delay > cap {
		delay = cap
	}
	return now.Add(time.Duration(delay))
}

// MemQueue is an in-memory Queue, used by tests and single-process runs.
type MemQueue struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// Compile-time interface assertion.
var _ Queue = (*MemQueue)(nil)

// NewMemQueue creates an empty in-memory dead-letter queue.
func NewMemQueue() *MemQueue {
	return &MemQueue{entries: make(map[string]*Entry)}
}

func (q *MemQueue) AddFailedEvent(ctx context.Context, originalEventID string, eventData []byte, errMsg string, details map[string]string, cfg Config) (*Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	next := nextRetryTime(now, 0, cfg)
	e := &Entry{
		ID:              uuid.NewString(),
		OriginalEventID: originalEventID,
		EventData:       eventData,
		ErrorMessage:    errMsg,
		ErrorDetails:    details,
		RetryCount:      0,
		MaxRetries:      cfg.MaxRetries,
		Status:          StatusFailed,
		CreatedAt:       now,
		NextRetryAt:     &next,
	}
	q.entries[e.ID] = e
	return e, nil
}

func (q *MemQueue) RetryCandidates(ctx context.Context, limit int) ([]*Entry, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	now := time.Now()
	var out []*Entry
	for _, e := range q.entries {
		if e.Status != StatusFailed && e.Status != StatusRetrying {
			continue
		}
		if e.NextRetryAt == nil || e.NextRetryAt.After(now) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt.Before(*out[j].NextRetryAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *MemQueue) MarkRetrying(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return fmt.Errorf("dead-letter entry %s not found", id)
	}
	now := time.Now()
	e.Status = StatusRetrying
	e.LastRetryAt = &now
	return nil
}

func (q *MemQueue) MarkResolved(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return fmt.Errorf("dead-letter entry %s not found", id)
	}
	e.Status = StatusResolved
	e.NextRetryAt = nil
	return nil
}

func (q *MemQueue) IncrementRetry(ctx context.Context, id string, errMsg string, cfg Config) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return fmt.Errorf("dead-letter entry %s not found", id)
	}

	e.RetryCount++
	e.ErrorMessage = errMsg
	now := time.Now()
	e.LastRetryAt = &now

	if e.RetryCount >= e.MaxRetries {
		e.Status = StatusMaxRetriesExceeded
		e.NextRetryAt = nil
		return nil
	}

	e.Status = StatusFailed
	next := nextRetryTime(now, e.RetryCount, cfg)
	e.NextRetryAt = &next
	return nil
}

func (q *MemQueue) MarkPermanentlyFailed(ctx context.Context, id string, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return fmt.Errorf("dead-letter entry %s not found", id)
	}
	e.Status = StatusMaxRetriesExceeded
	e.ErrorMessage = errMsg
	e.NextRetryAt = nil
	return nil
}

func (q *MemQueue) Statistics(ctx context.Context) (Statistics, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var stats Statistics
	var oldestUnresolved time.Time
	now := time.Now()

	for _, e := range q.entries {
		stats.TotalEntries++
		switch e.Status {
		case StatusFailed:
			stats.FailedCount++
		case StatusRetrying:
			stats.RetryingCount++
		case StatusMaxRetriesExceeded:
			stats.MaxRetriesExceeded++
		case StatusResolved:
			stats.ResolvedCount++
		}
		if e.Status != StatusResolved {
			if oldestUnresolved.IsZero() || e.CreatedAt.Before(oldestUnresolved) {
				oldestUnresolved = e.CreatedAt
			}
		}
	}
	if !oldestUnresolved.IsZero() {
		stats.OldestUnresolvedAge = now.Sub(oldestUnresolved)
	}
	return stats, nil
}

func (q *MemQueue) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for id, e := range q.entries {
		if (e.Status == StatusResolved || e.Status == StatusMaxRetriesExceeded) && e.CreatedAt.Before(cutoff) {
			delete(q.entries, id)
			n++
		}
	}
	return n, nil
}
