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
	"sort"
	"sync"
	"time"
)

// Compile-time interface assertion.
var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store, used by tests and single-process
// development runs where durability doesn't matter.
type MemStore struct {
	mu              sync.RWMutex
	byAggregate     map[string][]*Envelope
	all             []*Envelope // append order == recorded_at order
	snapshots       map[string]*AggregateSnapshot
	enableChecksums bool
}

// NewMemStore creates an empty in-memory store. Checksums are computed and
// stored on every append when enableChecksums is true.
func NewMemStore(enableChecksums bool) *MemStore {
	return &MemStore{
		byAggregate:     make(map[string][]*Envelope),
		snapshots:       make(map[string]*AggregateSnapshot),
		enableChecksums: enableChecksums,
	}
}

func (m *MemStore) Append(ctx context.Context, event *Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(event)
}

func (m *MemStore) appendLocked(event *Envelope) error {
	current := currentVersionLocked(m.byAggregate[event.AggregateID])
	if event.AggregateVersion <= current {
		return &ConcurrencyConflictError{
			AggregateID:     event.AggregateID,
			ExpectedAtLeast: current,
			Got:             event.AggregateVersion,
		}
	}

	event.RecordedAt = time.Now()
	if m.enableChecksums {
		sum, err := event.computeChecksum()
		if err != nil {
			return err
		}
		event.Checksum = sum
	}

	m.byAggregate[event.AggregateID] = append(m.byAggregate[event.AggregateID], event)
	m.all = append(m.all, event)
	return nil
}

func currentVersionLocked(events []*Envelope) int64 {
	if len(events) == 0 {
		return 0
	}
	return events[len(events)-1].AggregateVersion
}

func (m *MemStore) AppendBatch(ctx context.Context, events []*Envelope) error {
	if len(events) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Snapshot current versions so a mid-batch failure leaves no partial
	// writes — all or none, per the atomic append_batch contract.
	seen := make(map[string]int64, len(events))
	for _, e := range events {
		if _, ok := seen[e.AggregateID]; !ok {
			seen[e.AggregateID] = currentVersionLocked(m.byAggregate[e.AggregateID])
		}
		if e.AggregateVersion <= seen[e.AggregateID] {
			return &ConcurrencyConflictError{
				AggregateID:     e.AggregateID,
				ExpectedAtLeast: seen[e.AggregateID],
				Got:             e.AggregateVersion,
			}
		}
		seen[e.AggregateID] = e.AggregateVersion
	}

	for _, e := range events {
		if err := m.appendLocked(e); err != nil {
			// Should be unreachable given the pre-check above, but keeps
			// the all-or-nothing contract honest if it ever fires.
			return err
		}
	}
	return nil
}

func (m *MemStore) Load(ctx context.Context, aggregateID string, fromVersion int64) ([]*Envelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Envelope
	for _, e := range m.byAggregate[aggregateID] {
		if e.AggregateVersion > fromVersion {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemStore) AggregateVersion(ctx context.Context, aggregateID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return currentVersionLocked(m.byAggregate[aggregateID]), nil
}

func (m *MemStore) AggregateExists(ctx context.Context, aggregateID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byAggregate[aggregateID]) > 0, nil
}

func (m *MemStore) EventsByType(ctx context.Context, eventType string, from, to *time.Time, limit int) ([]*Envelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Envelope
	for _, e := range m.all {
		if e.EventType != eventType {
			continue
		}
		if from != nil && e.OccurredAt.Before(*from) {
			continue
		}
		if to != nil && e.OccurredAt.After(*to) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemStore) EventsByCorrelationID(ctx context.Context, correlationID string) ([]*Envelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Envelope
	for _, e := range m.all {
		if e.Metadata.CorrelationID == correlationID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemStore) SaveSnapshot(ctx context.Context, snapshot *AggregateSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snapshot.AggregateID] = snapshot
	return nil
}

func (m *MemStore) GetSnapshot(ctx context.Context, aggregateID string) (*AggregateSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshots[aggregateID], nil
}

func (m *MemStore) CleanupOldSnapshots(ctx context.Context, keepLatest int) (int, error) {
	// MemStore only ever holds one live snapshot per aggregate (SaveSnapshot
	// replaces in place), so there is nothing to prune for keepLatest >= 1.
	if keepLatest >= 1 {
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.snapshots)
	m.snapshots = make(map[string]*AggregateSnapshot)
	return n, nil
}

func (m *MemStore) EventsFromPosition(ctx context.Context, position Position, limit int) ([]*Envelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	candidates := make([]*Envelope, len(m.all))
	copy(candidates, m.all)
	sort.Slice(candidates, func(i, j int) bool {
		return positionOf(candidates[i]).Before(positionOf(candidates[j]))
	})

	var out []*Envelope
	for _, e := range candidates {
		if position.Before(positionOf(e)) {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemStore) CurrentPosition(ctx context.Context) (Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest Position
	for _, e := range m.all {
		p := positionOf(e)
		if latest.Before(p) {
			latest = p
		}
	}
	return latest, nil
}

func (m *MemStore) Close() error { return nil }

func positionOf(e *Envelope) Position {
	return Position{Millis: e.RecordedAt.UnixMilli(), EventID: e.EventID}
}
