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
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Compile-time interface assertion.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is a single-node, file-backed Store. SQLite serializes
// writes, so the pool is capped at one open connection — the same
// constraint the controller's sqlite backend applies.
type SQLiteStore struct {
	db              *sql.DB
	enableChecksums bool
}

// SQLiteConfig configures the SQLite event store.
type SQLiteConfig struct {
	// Path is the database file path ("" or ":memory:" opens in-memory).
	Path string

	// WAL enables Write-Ahead Logging for concurrent readers.
	WAL bool

	// EnableChecksums computes and stores a SHA-256 checksum on every
	// appended event.
	EnableChecksums bool
}

// NewSQLiteStore opens (creating if necessary) a SQLite-backed event store
// and runs its migrations.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStore{db: db, enableChecksums: cfg.EnableChecksums}

	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("failed to execute %s: %w", p, err)
		}
	}
	return nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS event_store (
			event_id TEXT PRIMARY KEY,
			aggregate_id TEXT NOT NULL,
			aggregate_type TEXT NOT NULL,
			event_type TEXT NOT NULL,
			aggregate_version INTEGER NOT NULL,
			event_data TEXT NOT NULL,
			metadata TEXT NOT NULL,
			occurred_at TEXT NOT NULL,
			recorded_at TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			checksum TEXT,
			UNIQUE(aggregate_id, aggregate_version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_store_aggregate ON event_store(aggregate_id, aggregate_version)`,
		`CREATE INDEX IF NOT EXISTS idx_event_store_type_time ON event_store(event_type, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_event_store_recorded ON event_store(recorded_at, event_id)`,
		`CREATE TABLE IF NOT EXISTS event_snapshots (
			aggregate_id TEXT PRIMARY KEY,
			id TEXT NOT NULL,
			aggregate_type TEXT NOT NULL,
			aggregate_version INTEGER NOT NULL,
			snapshot_data TEXT NOT NULL,
			created_at TEXT NOT NULL,
			metadata TEXT
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, event *Envelope) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.appendInTx(ctx, tx, event); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) appendInTx(ctx context.Context, tx *sql.Tx, event *Envelope) error {
	current, err := currentVersionTx(ctx, tx, event.AggregateID)
	if err != nil {
		return err
	}
	if event.AggregateVersion <= current {
		return &ConcurrencyConflictError{
			AggregateID:     event.AggregateID,
			ExpectedAtLeast: current,
			Got:             event.AggregateVersion,
		}
	}

	event.RecordedAt = time.Now()
	if s.enableChecksums {
		sum, err := event.computeChecksum()
		if err != nil {
			return err
		}
		event.Checksum = sum
	}

	metaJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO event_store (event_id, aggregate_id, aggregate_type, event_type,
			aggregate_version, event_data, metadata, occurred_at, recorded_at,
			schema_version, checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.EventID, event.AggregateID, event.AggregateType, event.EventType,
		event.AggregateVersion, string(event.EventData), string(metaJSON),
		event.OccurredAt.Format(time.RFC3339Nano), event.RecordedAt.Format(time.RFC3339Nano),
		event.SchemaVersion, nullString(event.Checksum),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

func currentVersionTx(ctx context.Context, tx *sql.Tx, aggregateID string) (int64, error) {
	var version sql.NullInt64
	err := tx.QueryRowContext(ctx,
		`SELECT MAX(aggregate_version) FROM event_store WHERE aggregate_id = ?`, aggregateID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	if !version.Valid {
		return 0, nil
	}
	return version.Int64, nil
}

func (s *SQLiteStore) AppendBatch(ctx context.Context, events []*Envelope) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, event := range events {
		if err := s.appendInTx(ctx, tx, event); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Load(ctx context.Context, aggregateID string, fromVersion int64) ([]*Envelope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, aggregate_id, aggregate_type, event_type, aggregate_version,
			event_data, metadata, occurred_at, recorded_at, schema_version, checksum
		FROM event_store
		WHERE aggregate_id = ? AND aggregate_version > ?
		ORDER BY aggregate_version ASC`, aggregateID, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

func (s *SQLiteStore) AggregateVersion(ctx context.Context, aggregateID string) (int64, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(aggregate_version) FROM event_store WHERE aggregate_id = ?`, aggregateID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get aggregate version: %w", err)
	}
	if !version.Valid {
		return 0, nil
	}
	return version.Int64, nil
}

func (s *SQLiteStore) AggregateExists(ctx context.Context, aggregateID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM event_store WHERE aggregate_id = ?`, aggregateID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check aggregate existence: %w", err)
	}
	return count > 0, nil
}

func (s *SQLiteStore) EventsByType(ctx context.Context, eventType string, from, to *time.Time, limit int) ([]*Envelope, error) {
	query := `
		SELECT event_id, aggregate_id, aggregate_type, event_type, aggregate_version,
			event_data, metadata, occurred_at, recorded_at, schema_version, checksum
		FROM event_store WHERE event_type = ?`
	args := []any{eventType}

	if from != nil {
		query += " AND occurred_at >= ?"
		args = append(args, from.Format(time.RFC3339Nano))
	}
	if to != nil {
		query += " AND occurred_at <= ?"
		args = append(args, to.Format(time.RFC3339Nano))
	}
	query += " ORDER BY occurred_at ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load events by type: %w", err)
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

func (s *SQLiteStore) EventsByCorrelationID(ctx context.Context, correlationID string) ([]*Envelope, error) {
	// correlation_id lives inside the metadata JSON blob; SQLite's json_extract
	// lets us filter without a dedicated column.
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, aggregate_id, aggregate_type, event_type, aggregate_version,
			event_data, metadata, occurred_at, recorded_at, schema_version, checksum
		FROM event_store
		WHERE json_extract(metadata, '$.correlation_id') = ?
		ORDER BY occurred_at ASC`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load events by correlation id: %w", err)
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snapshot *AggregateSnapshot) error {
	metaJSON, err := json.Marshal(snapshot.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO event_snapshots (aggregate_id, id, aggregate_type, aggregate_version,
			snapshot_data, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (aggregate_id) DO UPDATE SET
			id = excluded.id,
			aggregate_type = excluded.aggregate_type,
			aggregate_version = excluded.aggregate_version,
			snapshot_data = excluded.snapshot_data,
			created_at = excluded.created_at,
			metadata = excluded.metadata`,
		snapshot.AggregateID, snapshot.ID, snapshot.AggregateType, snapshot.AggregateVersion,
		string(snapshot.SnapshotData), snapshot.CreatedAt.Format(time.RFC3339Nano), string(metaJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, aggregateID string) (*AggregateSnapshot, error) {
	var snap AggregateSnapshot
	var dataStr, metaStr, createdAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, aggregate_id, aggregate_type, aggregate_version, snapshot_data, created_at, metadata
		FROM event_snapshots WHERE aggregate_id = ?`, aggregateID,
	).Scan(&snap.ID, &snap.AggregateID, &snap.AggregateType, &snap.AggregateVersion, &dataStr, &createdAt, &metaStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	snap.SnapshotData = json.RawMessage(dataStr)
	snap.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if metaStr != "" {
		if err := json.Unmarshal([]byte(metaStr), &snap.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot metadata: %w", err)
		}
	}
	return &snap, nil
}

func (s *SQLiteStore) CleanupOldSnapshots(ctx context.Context, keepLatest int) (int, error) {
	// event_snapshots holds at most one row per aggregate already (SaveSnapshot
	// upserts), so there's nothing to prune once keepLatest >= 1.
	if keepLatest >= 1 {
		return 0, nil
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM event_snapshots`)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup snapshots: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) EventsFromPosition(ctx context.Context, position Position, limit int) ([]*Envelope, error) {
	fromTime := time.UnixMilli(position.Millis)
	query := `
		SELECT event_id, aggregate_id, aggregate_type, event_type, aggregate_version,
			event_data, metadata, occurred_at, recorded_at, schema_version, checksum
		FROM event_store
		WHERE recorded_at > ? OR (recorded_at = ? AND event_id > ?)
		ORDER BY recorded_at ASC, event_id ASC`
	args := []any{fromTime.Format(time.RFC3339Nano), fromTime.Format(time.RFC3339Nano), position.EventID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load events from position: %w", err)
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

func (s *SQLiteStore) CurrentPosition(ctx context.Context) (Position, error) {
	var recordedAt sql.NullString
	var eventID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT recorded_at, event_id FROM event_store
		ORDER BY recorded_at DESC, event_id DESC LIMIT 1`,
	).Scan(&recordedAt, &eventID)
	if err == sql.ErrNoRows {
		return Position{}, nil
	}
	if err != nil {
		return Position{}, fmt.Errorf("failed to get current position: %w", err)
	}
	t, _ := time.Parse(time.RFC3339Nano, recordedAt.String)
	return Position{Millis: t.UnixMilli(), EventID: eventID.String}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanEnvelopes(rows *sql.Rows) ([]*Envelope, error) {
	var out []*Envelope
	for rows.Next() {
		var e Envelope
		var dataStr, metaStr, occurredAt, recordedAt, checksum sql.NullString

		if err := rows.Scan(&e.EventID, &e.AggregateID, &e.AggregateType, &e.EventType,
			&e.AggregateVersion, &dataStr, &metaStr, &occurredAt, &recordedAt,
			&e.SchemaVersion, &checksum); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		e.EventData = json.RawMessage(dataStr.String)
		if metaStr.Valid && metaStr.String != "" {
			if err := json.Unmarshal([]byte(metaStr.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		e.OccurredAt, _ = time.Parse(time.RFC3339Nano, occurredAt.String)
		e.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt.String)
		e.Checksum = checksum.String

		out = append(out, &e)
	}
	return out, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
