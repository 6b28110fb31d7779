package worker

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditSchema creates the export_audit table.
const AuditSchema = `
CREATE TABLE IF NOT EXISTS export_audit (
	event_id    TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL DEFAULT '',
	job_id      TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL,
	filename    TEXT NOT NULL DEFAULT '',
	format      TEXT NOT NULL DEFAULT '',
	bytes       INTEGER NOT NULL DEFAULT 0,
	kind        TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL DEFAULT '',
	retryable   BOOLEAN NOT NULL DEFAULT FALSE,
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS export_audit_session_idx ON export_audit (session_id, occurred_at);
`

// PostgresAuditStore is a PostgreSQL implementation of AuditStore.
type PostgresAuditStore struct {
	pool *pgxpool.Pool
}

// NewPostgresAuditStore creates a new PostgreSQL audit store.
func NewPostgresAuditStore(pool *pgxpool.Pool) *PostgresAuditStore {
	return &PostgresAuditStore{pool: pool}
}

// EnsureSchema creates the audit table when missing.
func (s *PostgresAuditStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, AuditSchema); err != nil {
		return fmt.Errorf("create export_audit: %w", err)
	}
	return nil
}

// Record implements AuditStore. Redelivered events are ignored.
func (s *PostgresAuditStore) Record(ctx context.Context, rec AuditRecord) error {
	query := `
		INSERT INTO export_audit (
			event_id, session_id, job_id, outcome, filename, format,
			bytes, kind, message, retryable, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (event_id) DO NOTHING
	`

	_, err := s.pool.Exec(ctx, query,
		rec.EventID, rec.SessionID, rec.JobID, string(rec.Outcome), rec.Filename, rec.Format,
		rec.Bytes, rec.Kind, rec.Message, rec.Retryable, rec.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}
