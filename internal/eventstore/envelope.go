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

// Package eventstore implements the append-only event log: envelopes,
// optimistic concurrency, checksums, snapshots, and global position.
package eventstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Metadata carries the correlation/causation ids and any caller-supplied
// key/value annotations that ride alongside an event.
type Metadata struct {
	CorrelationID string            `json:"correlation_id,omitempty"`
	CausationID   string            `json:"causation_id,omitempty"`
	Custom        map[string]string `json:"custom,omitempty"`
}

// Envelope is the unit of persistence in the event store. aggregate_version
// is monotonic per aggregate_id, starting at 1, with no gaps.
type Envelope struct {
	EventID          string          `json:"event_id"`
	AggregateID      string          `json:"aggregate_id"`
	AggregateType    string          `json:"aggregate_type"`
	EventType        string          `json:"event_type"`
	AggregateVersion int64           `json:"aggregate_version"`
	EventData        json.RawMessage `json:"event_data"`
	Metadata         Metadata        `json:"metadata"`
	OccurredAt       time.Time       `json:"occurred_at"`
	RecordedAt       time.Time       `json:"recorded_at"`
	SchemaVersion    int             `json:"schema_version"`
	Checksum         string          `json:"checksum,omitempty"`
}

// NewEnvelope builds an envelope with a fresh event_id and occurred_at set to
// now. recorded_at is left zero — the store stamps it on append so that
// global position reflects persistence order, not creation order.
func NewEnvelope(aggregateID, aggregateType, eventType string, version int64, data json.RawMessage) *Envelope {
	return &Envelope{
		EventID:          uuid.NewString(),
		AggregateID:      aggregateID,
		AggregateType:    aggregateType,
		EventType:        eventType,
		AggregateVersion: version,
		EventData:        data,
		OccurredAt:       time.Now(),
		SchemaVersion:    1,
	}
}

// Checksum computes the SHA-256 hex digest over the canonical concatenation
// of event_data and a JSON-marshalled metadata, matching the integrity
// contract readers use to detect corruption.
func (e *Envelope) computeChecksum() (string, error) {
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(e.EventData)
	h.Write(metaJSON)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyChecksum recomputes the checksum and compares it against the stored
// value. Returns false if the envelope has no stored checksum.
func (e *Envelope) VerifyChecksum() (bool, error) {
	if e.Checksum == "" {
		return false, nil
	}
	got, err := e.computeChecksum()
	if err != nil {
		return false, err
	}
	return got == e.Checksum, nil
}

// AggregateSnapshot is a point-in-time materialization of an aggregate,
// used to avoid replaying the full event history. At most one snapshot is
// kept live per aggregate_id by the store; older ones are pruned by
// keep-latest-N.
type AggregateSnapshot struct {
	ID               string            `json:"id"`
	AggregateID      string            `json:"aggregate_id"`
	AggregateType    string            `json:"aggregate_type"`
	AggregateVersion int64             `json:"aggregate_version"`
	SnapshotData     json.RawMessage   `json:"snapshot_data"`
	CreatedAt        time.Time         `json:"created_at"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// NewSnapshot builds a snapshot with a fresh id and created_at set to now.
func NewSnapshot(aggregateID, aggregateType string, version int64, data json.RawMessage) *AggregateSnapshot {
	return &AggregateSnapshot{
		ID:               uuid.NewString(),
		AggregateID:      aggregateID,
		AggregateType:    aggregateType,
		AggregateVersion: version,
		SnapshotData:     data,
		CreatedAt:        time.Now(),
	}
}
