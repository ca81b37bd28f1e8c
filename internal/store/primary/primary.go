package primary

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"skald/internal/store"
)

// Ensure StoreImpl implements TranscriptArchive
var _ store.TranscriptArchive = (*StoreImpl)(nil)

// StoreImpl archives finished transcripts in PostgreSQL.
type StoreImpl struct {
	db *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS transcripts (
	job_id          TEXT PRIMARY KEY,
	original_name   TEXT NOT NULL,
	language        TEXT NOT NULL DEFAULT '',
	provider        TEXT NOT NULL DEFAULT '',
	body            TEXT NOT NULL,
	duration        DOUBLE PRECISION NOT NULL DEFAULT 0,
	segments_total  INTEGER NOT NULL DEFAULT 0,
	segments_failed INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// NewPrimaryStore creates a new PostgreSQL archive and makes sure its table exists.
func NewPrimaryStore(ctx context.Context, dsn string) (*StoreImpl, error) {
	if dsn == "" {
		return nil, errors.New("database DSN cannot be empty")
	}
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database DSN: %w", err)
	}

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := dbpool.Ping(ctx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	if _, err := dbpool.Exec(ctx, postgresSchema); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("unable to create transcripts table: %w", err)
	}
	log.Debug("Transcript archive ready (postgres)")

	return &StoreImpl{db: dbpool}, nil
}

// Ping checks the database connection.
func (s *StoreImpl) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection pool.
func (s *StoreImpl) Close() error {
	s.db.Close()
	return nil
}
