package primary

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"skald/internal/store"
)

// Ensure SQLiteStore implements TranscriptArchive
var _ store.TranscriptArchive = (*SQLiteStore)(nil)

// SQLiteStore archives transcripts in a local SQLite file, for single-node setups.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS transcripts (
	job_id          TEXT PRIMARY KEY,
	original_name   TEXT NOT NULL,
	language        TEXT NOT NULL DEFAULT '',
	provider        TEXT NOT NULL DEFAULT '',
	body            TEXT NOT NULL,
	duration        REAL NOT NULL DEFAULT 0,
	segments_total  INTEGER NOT NULL DEFAULT 0,
	segments_failed INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMP NOT NULL
)`

// NewSQLiteStore opens (or creates) the database at path. ":memory:" works for tests.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	// One writer; also keeps ":memory:" pointing at a single database.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to create transcripts table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveTranscript(ctx context.Context, t *store.ArchivedTranscript) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO transcripts (job_id, original_name, language, provider, body, duration, segments_total, segments_failed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id) DO UPDATE SET
			body = excluded.body,
			segments_total = excluded.segments_total,
			segments_failed = excluded.segments_failed`
	_, err := s.db.ExecContext(ctx, query,
		t.JobID, t.OriginalName, t.Language, t.Provider, t.Text,
		t.Duration, t.SegmentsTotal, t.SegmentsFailed, t.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to archive transcript for job %s: %w", t.JobID, err)
	}
	return nil
}

func (s *SQLiteStore) GetTranscript(ctx context.Context, jobID string) (*store.ArchivedTranscript, error) {
	query := `
		SELECT job_id, original_name, language, provider, body, duration, segments_total, segments_failed, created_at
		FROM transcripts WHERE job_id = ?`
	var t store.ArchivedTranscript
	err := s.db.QueryRowContext(ctx, query, jobID).Scan(
		&t.JobID, &t.OriginalName, &t.Language, &t.Provider, &t.Text,
		&t.Duration, &t.SegmentsTotal, &t.SegmentsFailed, &t.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transcript %s: %w", jobID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript %s: %w", jobID, err)
	}
	return &t, nil
}

func (s *SQLiteStore) ListTranscripts(ctx context.Context, limit, offset int) ([]*store.ArchivedTranscript, error) {
	query := `
		SELECT job_id, original_name, language, provider, body, duration, segments_total, segments_failed, created_at
		FROM transcripts ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	defer rows.Close()

	var out []*store.ArchivedTranscript
	for rows.Next() {
		var t store.ArchivedTranscript
		if err := rows.Scan(
			&t.JobID, &t.OriginalName, &t.Language, &t.Provider, &t.Text,
			&t.Duration, &t.SegmentsTotal, &t.SegmentsFailed, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transcript row: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteTranscript(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transcripts WHERE job_id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete transcript %s: %w", jobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transcript %s: %w", jobID, store.ErrNotFound)
	}
	return nil
}
