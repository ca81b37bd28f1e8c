package primary

import (
	"context"
	"fmt"
	"strings"

	"skald/internal/store"
)

// Open picks an archive implementation from the DSN scheme. An empty DSN
// returns a NoopArchive.
func Open(ctx context.Context, dsn string) (store.TranscriptArchive, error) {
	switch {
	case dsn == "":
		return NoopArchive{}, nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPrimaryStore(ctx, dsn)
	case strings.HasPrefix(dsn, "sqlite://"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	case strings.HasPrefix(dsn, "file:"):
		return NewSQLiteStore(ctx, dsn)
	}
	return nil, fmt.Errorf("unsupported archive DSN scheme in %q", dsn)
}

// NoopArchive discards transcripts. Used when no archive database is configured.
type NoopArchive struct{}

var _ store.TranscriptArchive = NoopArchive{}

func (NoopArchive) SaveTranscript(context.Context, *store.ArchivedTranscript) error { return nil }

func (NoopArchive) GetTranscript(_ context.Context, jobID string) (*store.ArchivedTranscript, error) {
	return nil, fmt.Errorf("transcript %s: %w", jobID, store.ErrNotFound)
}

func (NoopArchive) ListTranscripts(context.Context, int, int) ([]*store.ArchivedTranscript, error) {
	return nil, nil
}

func (NoopArchive) DeleteTranscript(context.Context, string) error { return nil }
func (NoopArchive) Ping(context.Context) error                     { return nil }
func (NoopArchive) Close() error                                   { return nil }
