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

	_ "github.com/lib/pq"
)

// Compile-time interface assertion.
var _ Store = (*PGStore)(nil)

// PGStore is a multi-node, Postgres-backed Store. Concurrent appends to the
// same aggregate are serialized by locking a per-aggregate row in
// event_aggregate_locks with SELECT ... FOR UPDATE before the version check,
// so the optimistic-concurrency check below is race-free across connections.
type PGStore struct {
	db              *sql.DB
	enableChecksums bool
}

// PGConfig configures the Postgres event store.
type PGConfig struct {
	// ConnectionString is a libpq-style connection string or URL.
	ConnectionString string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// EnableChecksums computes and stores a SHA-256 checksum on every
	// appended event.
	EnableChecksums bool
}

// NewPGStore opens a connection pool against Postgres and runs migrations.
func NewPGStore(cfg PGConfig) (*PGStore, error) {
	db, err := sql.Open("postgres", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &PGStore{db: db, enableChecksums: cfg.EnableChecksums}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *PGStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS event_store (
			event_id TEXT PRIMARY KEY,
			aggregate_id TEXT NOT NULL,
			aggregate_type TEXT NOT NULL,
			event_type TEXT NOT NULL,
			aggregate_version BIGINT NOT NULL,
			event_data JSONB NOT NULL,
			metadata JSONB NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL,
			schema_version INTEGER NOT NULL,
			checksum TEXT,
			UNIQUE(aggregate_id, aggregate_version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_store_aggregate ON event_store(aggregate_id, aggregate_version)`,
		`CREATE INDEX IF NOT EXISTS idx_event_store_type_time ON event_store(event_type, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_event_store_recorded ON event_store(recorded_at, event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_event_store_correlation ON event_store((metadata->>'correlation_id'))`,
		`CREATE TABLE IF NOT EXISTS event_snapshots (
			aggregate_id TEXT PRIMARY KEY,
			id TEXT NOT NULL,
			aggregate_type TEXT NOT NULL,
			aggregate_version BIGINT NOT NULL,
			snapshot_data JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			metadata JSONB
		)`,
		// One row per aggregate, created lazily, exists purely to give
		// concurrent appenders something to SELECT ... FOR UPDATE on.
		`CREATE TABLE IF NOT EXISTS event_aggregate_locks (
			aggregate_id TEXT PRIMARY KEY
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (s *PGStore) Append(ctx context.Context, event *Envelope) error {
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

func (s *PGStore) appendInTx(ctx context.Context, tx *sql.Tx, event *Envelope) error {
	if err := lockAggregateTx(ctx, tx, event.AggregateID); err != nil {
		return err
	}

	current, err := currentVersionTxPG(ctx, tx, event.AggregateID)
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		event.EventID, event.AggregateID, event.AggregateType, event.EventType,
		event.AggregateVersion, string(event.EventData), string(metaJSON),
		event.OccurredAt, event.RecordedAt, event.SchemaVersion, nullString(event.Checksum),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// lockAggregateTx ensures a lock row exists for aggregateID and takes a
// row-level lock on it for the lifetime of tx, serializing concurrent
// appenders against the same aggregate.
func lockAggregateTx(ctx context.Context, tx *sql.Tx, aggregateID string) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO event_aggregate_locks (aggregate_id) VALUES ($1)
		 ON CONFLICT (aggregate_id) DO NOTHING`, aggregateID); err != nil {
		return fmt.Errorf("failed to ensure aggregate lock row: %w", err)
	}
	var discard string
	if err := tx.QueryRowContext(ctx,
		`SELECT aggregate_id FROM event_aggregate_locks WHERE aggregate_id = $1 FOR UPDATE`,
		aggregateID).Scan(&discard); err != nil {
		return fmt.Errorf("failed to lock aggregate: %w", err)
	}
	return nil
}

func currentVersionTxPG(ctx context.Context, tx *sql.Tx, aggregateID string) (int64, error) {
	var version sql.NullInt64
	err := tx.QueryRowContext(ctx,
		`SELECT MAX(aggregate_version) FROM event_store WHERE aggregate_id = $1`, aggregateID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	if !version.Valid {
		return 0, nil
	}
	return version.Int64, nil
}

func (s *PGStore) AppendBatch(ctx context.Context, events []*Envelope) error {
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

func (s *PGStore) Load(ctx context.Context, aggregateID string, fromVersion int64) ([]*Envelope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, aggregate_id, aggregate_type, event_type, aggregate_version,
			event_data, metadata, occurred_at, recorded_at, schema_version, checksum
		FROM event_store
		WHERE aggregate_id = $1 AND aggregate_version > $2
		ORDER BY aggregate_version ASC`, aggregateID, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	defer rows.Close()
	return scanEnvelopesPG(rows)
}

func (s *PGStore) AggregateVersion(ctx context.Context, aggregateID string) (int64, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(aggregate_version) FROM event_store WHERE aggregate_id = $1`, aggregateID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get aggregate version: %w", err)
	}
	if !version.Valid {
		return 0, nil
	}
	return version.Int64, nil
}

func (s *PGStore) AggregateExists(ctx context.Context, aggregateID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM event_store WHERE aggregate_id = $1`, aggregateID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check aggregate existence: %w", err)
	}
	return count > 0, nil
}

func (s *PGStore) EventsByType(ctx context.Context, eventType string, from, to *time.Time, limit int) ([]*Envelope, error) {
	query := `
		SELECT event_id, aggregate_id, aggregate_type, event_type, aggregate_version,
			event_data, metadata, occurred_at, recorded_at, schema_version, checksum
		FROM event_store WHERE event_type = $1`
	args := []any{eventType}

	if from != nil {
		args = append(args, *from)
		query += fmt.Sprintf(" AND occurred_at >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(" AND occurred_at <= $%d", len(args))
	}
	query += " ORDER BY occurred_at ASC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load events by type: %w", err)
	}
	defer rows.Close()
	return scanEnvelopesPG(rows)
}

func (s *PGStore) EventsByCorrelationID(ctx context.Context, correlationID string) ([]*Envelope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, aggregate_id, aggregate_type, event_type, aggregate_version,
			event_data, metadata, occurred_at, recorded_at, schema_version, checksum
		FROM event_store
		WHERE metadata->>'correlation_id' = $1
		ORDER BY occurred_at ASC`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load events by correlation id: %w", err)
	}
	defer rows.Close()
	return scanEnvelopesPG(rows)
}

func (s *PGStore) SaveSnapshot(ctx context.Context, snapshot *AggregateSnapshot) error {
	metaJSON, err := json.Marshal(snapshot.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO event_snapshots (aggregate_id, id, aggregate_type, aggregate_version,
			snapshot_data, created_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (aggregate_id) DO UPDATE SET
			id = excluded.id,
			aggregate_type = excluded.aggregate_type,
			aggregate_version = excluded.aggregate_version,
			snapshot_data = excluded.snapshot_data,
			created_at = excluded.created_at,
			metadata = excluded.metadata`,
		snapshot.AggregateID, snapshot.ID, snapshot.AggregateType, snapshot.AggregateVersion,
		string(snapshot.SnapshotData), snapshot.CreatedAt, string(metaJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (s *PGStore) GetSnapshot(ctx context.Context, aggregateID string) (*AggregateSnapshot, error) {
	var snap AggregateSnapshot
	var dataStr, metaStr sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, aggregate_id, aggregate_type, aggregate_version, snapshot_data, created_at, metadata
		FROM event_snapshots WHERE aggregate_id = $1`, aggregateID,
	).Scan(&snap.ID, &snap.AggregateID, &snap.AggregateType, &snap.AggregateVersion, &dataStr, &snap.CreatedAt, &metaStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	snap.SnapshotData = json.RawMessage(dataStr.String)
	if metaStr.Valid && metaStr.String != "" {
		if err := json.Unmarshal([]byte(metaStr.String), &snap.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot metadata: %w", err)
		}
	}
	return &snap, nil
}

func (s *PGStore) CleanupOldSnapshots(ctx context.Context, keepLatest int) (int, error) {
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

func (s *PGStore) EventsFromPosition(ctx context.Context, position Position, limit int) ([]*Envelope, error) {
	fromTime := time.UnixMilli(position.Millis)
	query := `
		SELECT event_id, aggregate_id, aggregate_type, event_type, aggregate_version,
			event_data, metadata, occurred_at, recorded_at, schema_version, checksum
		FROM event_store
		WHERE recorded_at > $1 OR (recorded_at = $1 AND event_id > $2)
		ORDER BY recorded_at ASC, event_id ASC`
	args := []any{fromTime, position.EventID}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load events from position: %w", err)
	}
	defer rows.Close()
	return scanEnvelopesPG(rows)
}

func (s *PGStore) CurrentPosition(ctx context.Context) (Position, error) {
	var recordedAt sql.NullTime
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
	return Position{Millis: recordedAt.Time.UnixMilli(), EventID: eventID.String}, nil
}

func (s *PGStore) Close() error {
	return s.db.Close()
}

func scanEnvelopesPG(rows *sql.Rows) ([]*Envelope, error) {
	var out []*Envelope
	for rows.Next() {
		var e Envelope
		var dataStr, metaStr, checksum sql.NullString

		if err := rows.Scan(&e.EventID, &e.AggregateID, &e.AggregateType, &e.EventType,
			&e.AggregateVersion, &dataStr, &metaStr, &e.OccurredAt, &e.RecordedAt,
			&e.SchemaVersion, &checksum); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		e.EventData = json.RawMessage(dataStr.String)
		if metaStr.Valid && metaStr.String != "" {
			if err := json.Unmarshal([]byte(metaStr.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		e.Checksum = checksum.String

		out = append(out, &e)
	}
	return out, rows.Err()
}
