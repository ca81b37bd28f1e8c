package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"skald/internal/models"
)

const testTTL = 7 * 24 * time.Hour

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func createTestJob(t *testing.T, s *RedisProgressStore, id string) {
	t.Helper()
	require.NoError(t, s.CreateJob(context.Background(), models.JobInfo{
		ID:           id,
		Kind:         models.JobKindTranscription,
		OriginalName: "meeting.mp3",
		Language:     "en-US",
	}))
}

func strPtr(s string) *string { return &s }
