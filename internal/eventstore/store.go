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
	"fmt"
	"time"
)

// Position is the portable global-position marker used by streaming reads.
// recorded_at (milliseconds since epoch) gives coarse ordering across
// backends; EventID breaks ties within the same millisecond.
type Position struct {
	Millis  int64
	EventID string
}

// Before reports whether p sorts strictly before other under
// (Millis, EventID) lexicographic order.
func (p Position) Before(other Position) bool {
	if p.Millis != other.Millis {
		return p.Millis < other.Millis
	}
	return p.EventID < other.EventID
}

// PositionFromTime builds a Position at the start of the given millisecond
// with no tiebreak, suitable as a lower exclusive bound for a from-scratch
// read.
func PositionFromTime(t time.Time) Position {
	return Position{Millis: t.UnixMilli()}
}

// Store is the event store's storage contract: append, append_batch, load,
// optimistic concurrency, checksums, snapshots, and global-position reads.
// Concrete backends: memstore (tests), sqlitestore (single node),
// pgstore (multi node).
type Store interface {
	// Append persists a single event, failing with ConcurrencyConflictError
	// if event.AggregateVersion <= the aggregate's current max version.
	Append(ctx context.Context, event *Envelope) error

	// AppendBatch persists events atomically: all or none. The same
	// concurrency check as Append applies to each event in sequence within
	// the transaction.
	AppendBatch(ctx context.Context, events []*Envelope) error

	// Load returns events for aggregateID in strictly ascending version
	// order. If fromVersion > 0, only versions > fromVersion are returned.
	Load(ctx context.Context, aggregateID string, fromVersion int64) ([]*Envelope, error)

	// AggregateVersion returns the current max version for aggregateID, or
	// 0 if the aggregate has no events.
	AggregateVersion(ctx context.Context, aggregateID string) (int64, error)

	// AggregateExists reports whether any event has been recorded for
	// aggregateID.
	AggregateExists(ctx context.Context, aggregateID string) (bool, error)

	// EventsByType returns events of the given type within the optional
	// [from, to] occurred_at range, oldest first, capped at limit (0 = no
	// cap).
	EventsByType(ctx context.Context, eventType string, from, to *time.Time, limit int) ([]*Envelope, error)

	// EventsByCorrelationID returns all events sharing correlationID,
	// oldest first.
	EventsByCorrelationID(ctx context.Context, correlationID string) ([]*Envelope, error)

	// SaveSnapshot upserts the snapshot for snapshot.AggregateID, replacing
	// any existing one.
	SaveSnapshot(ctx context.Context, snapshot *AggregateSnapshot) error

	// GetSnapshot returns the latest snapshot for aggregateID, or nil if
	// none exists.
	GetSnapshot(ctx context.Context, aggregateID string) (*AggregateSnapshot, error)

	// CleanupOldSnapshots removes, per aggregate, all but the keepLatest
	// most recent snapshots, returning the number deleted.
	CleanupOldSnapshots(ctx context.Context, keepLatest int) (int, error)

	// EventsFromPosition returns up to limit events with recorded_at (and,
	// within the same millisecond, event_id) strictly greater than
	// position, in ascending global-position order.
	EventsFromPosition(ctx context.Context, position Position, limit int) ([]*Envelope, error)

	// CurrentPosition returns the position of the most recently recorded
	// event, or the zero Position if the store is empty.
	CurrentPosition(ctx context.Context) (Position, error)

	// Close releases any resources held by the store.
	Close() error
}

// ConcurrencyConflictError is returned by Append/AppendBatch when the
// supplied aggregate_version does not strictly exceed the aggregate's
// current version.
type ConcurrencyConflictError struct {
	AggregateID     string
	ExpectedAtLeast int64
	Got             int64
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on aggregate %s: expected version > %d, got %d",
		e.AggregateID, e.ExpectedAtLeast, e.Got)
}

// IntegrityError is returned when a recomputed checksum does not match the
// one stored alongside an event.
type IntegrityError struct {
	EventID string
	Reason  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for event %s: %s", e.EventID, e.Reason)
}
