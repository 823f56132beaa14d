// Package sqlite stores the instruction journal in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/sdkharness/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/sdkharness/internal/services/harness/storage"
	"github.com/louisbranch/sdkharness/internal/services/harness/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed instruction journal.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the journal at path, creating it when needed, and applies
// migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlitemigrate.Apply(ctx, sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// RecordInstruction appends one handled instruction.
func (s *Store) RecordInstruction(ctx context.Context, record storage.InstructionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	record.InstructionID = strings.TrimSpace(record.InstructionID)
	record.Kind = strings.TrimSpace(record.Kind)
	record.Outcome = strings.TrimSpace(record.Outcome)
	if record.InstructionID == "" {
		return fmt.Errorf("instruction id is required")
	}
	if record.Kind == "" {
		return fmt.Errorf("instruction kind is required")
	}
	if record.Outcome == "" {
		return fmt.Errorf("outcome is required")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO instruction_journal (
	instruction_id,
	kind,
	worker_id,
	outcome,
	error,
	duration_ms,
	created_at
) VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		record.InstructionID,
		record.Kind,
		strings.TrimSpace(record.WorkerID),
		record.Outcome,
		strings.TrimSpace(record.Error),
		record.Duration.Milliseconds(),
		record.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record instruction: %w", err)
	}
	return nil
}

// ListInstructions lists journal rows newest first.
func (s *Store) ListInstructions(ctx context.Context, limit int) ([]storage.InstructionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT
	id,
	instruction_id,
	kind,
	worker_id,
	outcome,
	error,
	duration_ms,
	created_at
FROM instruction_journal
ORDER BY created_at DESC, id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list instructions: %w", err)
	}
	defer rows.Close()

	records := make([]storage.InstructionRecord, 0, limit)
	for rows.Next() {
		var (
			record     storage.InstructionRecord
			durationMS int64
			createdAt  int64
		)
		if err := rows.Scan(
			&record.ID,
			&record.InstructionID,
			&record.Kind,
			&record.WorkerID,
			&record.Outcome,
			&record.Error,
			&durationMS,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan instruction: %w", err)
		}
		record.Duration = time.Duration(durationMS) * time.Millisecond
		record.CreatedAt = time.UnixMilli(createdAt).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instructions: %w", err)
	}
	return records, nil
}

var _ storage.Journal = (*Store)(nil)
