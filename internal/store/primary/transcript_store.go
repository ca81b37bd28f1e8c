package primary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"skald/internal/store"
)

// SaveTranscript inserts or replaces the archived transcript of a job.
func (s *StoreImpl) SaveTranscript(ctx context.Context, t *store.ArchivedTranscript) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO transcripts (job_id, original_name, language, provider, body, duration, segments_total, segments_failed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (job_id) DO UPDATE SET
			body = EXCLUDED.body,
			segments_total = EXCLUDED.segments_total,
			segments_failed = EXCLUDED.segments_failed`
	_, err := s.db.Exec(ctx, query,
		t.JobID, t.OriginalName, t.Language, t.Provider, t.Text,
		t.Duration, t.SegmentsTotal, t.SegmentsFailed, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to archive transcript for job %s: %w", t.JobID, err)
	}
	return nil
}

func (s *StoreImpl) GetTranscript(ctx context.Context, jobID string) (*store.ArchivedTranscript, error) {
	query := `
		SELECT job_id, original_name, language, provider, body, duration, segments_total, segments_failed, created_at
		FROM transcripts WHERE job_id = $1`
	var t store.ArchivedTranscript
	err := s.db.QueryRow(ctx, query, jobID).Scan(
		&t.JobID, &t.OriginalName, &t.Language, &t.Provider, &t.Text,
		&t.Duration, &t.SegmentsTotal, &t.SegmentsFailed, &t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transcript %s: %w", jobID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript %s: %w", jobID, err)
	}
	return &t, nil
}

// ListTranscripts returns archived transcripts, newest first.
func (s *StoreImpl) ListTranscripts(ctx context.Context, limit, offset int) ([]*store.ArchivedTranscript, error) {
	query := `
		SELECT job_id, original_name, language, provider, body, duration, segments_total, segments_failed, created_at
		FROM transcripts ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := s.db.Query(ctx, query, limit, offset)
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

func (s *StoreImpl) DeleteTranscript(ctx context.Context, jobID string) error {
	cmdTag, err := s.db.Exec(ctx, `DELETE FROM transcripts WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete transcript %s: %w", jobID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("transcript %s: %w", jobID, store.ErrNotFound)
	}
	return nil
}
