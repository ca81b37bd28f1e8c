package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"skald/internal/models"
)

// Hash layout of task:{job_id}.
const (
	jobKeyPrefix  = "task:"
	fieldInfo     = "info"
	fieldProgress = "progress_data"
	fieldResult   = "result"

	maxTxAttempts = 50
)

func jobKey(jobID string) string {
	return jobKeyPrefix + jobID
}

// Ensure RedisProgressStore implements ProgressStore
var _ ProgressStore = (*RedisProgressStore)(nil)

// RedisProgressStore keeps one hash per job. Read-modify-write cycles use
// WATCH/MULTI so that concurrent segment workers never lose each other's updates.
type RedisProgressStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
	now func() time.Time
}

func NewRedisProgressStore(rdb redis.UniversalClient, ttl time.Duration) *RedisProgressStore {
	return &RedisProgressStore{rdb: rdb, ttl: ttl, now: time.Now}
}

func (s *RedisProgressStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// CreateJob stores the job description and resets progress to pending/0.
func (s *RedisProgressStore) CreateJob(ctx context.Context, info models.JobInfo) error {
	if info.ID == "" {
		return fmt.Errorf("create job: %w: empty job id", models.ErrValidation)
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = s.now()
	}
	infoJSON, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal job info: %w", err)
	}
	progressJSON, err := json.Marshal(models.Progress{Status: models.JobStatusPending, UpdatedAt: s.now()})
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	key := jobKey(info.ID)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fieldInfo, infoJSON, fieldProgress, progressJSON)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("create job %s: %w", info.ID, err)
	}
	return nil
}

func (s *RedisProgressStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	fields, err := s.rdb.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return decodeJob(jobID, fields)
}

func decodeJob(jobID string, fields map[string]string) (*models.Job, error) {
	rawInfo, ok := fields[fieldInfo]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	job := &models.Job{}
	if err := json.Unmarshal([]byte(rawInfo), &job.Info); err != nil {
		return nil, fmt.Errorf("decode info of job %s: %w", jobID, err)
	}
	if raw, ok := fields[fieldProgress]; ok {
		if err := json.Unmarshal([]byte(raw), &job.Progress); err != nil {
			return nil, fmt.Errorf("decode progress of job %s: %w", jobID, err)
		}
	}
	if raw, ok := fields[fieldResult]; ok {
		job.Result = &models.Result{}
		if err := json.Unmarshal([]byte(raw), job.Result); err != nil {
			return nil, fmt.Errorf("decode result of job %s: %w", jobID, err)
		}
	}
	return job, nil
}

// UpdateInfo applies fn to the stored job description.
func (s *RedisProgressStore) UpdateInfo(ctx context.Context, jobID string, fn func(info *models.JobInfo)) error {
	key := jobKey(jobID)
	return s.transact(ctx, key, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, fieldInfo).Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		var info models.JobInfo
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			return fmt.Errorf("decode info of job %s: %w", jobID, err)
		}
		fn(&info)
		info.ID = jobID
		b, err := json.Marshal(info)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldInfo, b)
			pipe.Expire(ctx, key, s.ttl)
			return nil
		})
		return err
	})
}

// PublishProgress applies upd under the monotonic guard. It reports whether
// the visible state changed.
func (s *RedisProgressStore) PublishProgress(ctx context.Context, jobID string, upd models.ProgressUpdate) (bool, error) {
	return s.mutateProgress(ctx, jobID, func(cur models.Progress, now time.Time) (models.Progress, *models.Result, bool) {
		next, changed := models.ApplyProgress(cur, upd, now)
		var result *models.Result
		if changed && upd.Status.Terminal() {
			result = upd.Result
			if result == nil {
				result = defaultResult(upd)
			}
		}
		return next, result, changed
	})
}

// AdvanceSegmentCounter updates the segment counters and the progress derived from them.
func (s *RedisProgressStore) AdvanceSegmentCounter(ctx context.Context, jobID string, c models.SegmentCount, text *string) (bool, error) {
	return s.mutateProgress(ctx, jobID, func(cur models.Progress, now time.Time) (models.Progress, *models.Result, bool) {
		next, changed := models.ApplySegmentCount(cur, c, text, now)
		return next, nil, changed
	})
}

func defaultResult(upd models.ProgressUpdate) *models.Result {
	if upd.Status == models.JobStatusFailed {
		return &models.Result{Status: models.ResultStatusError, Error: upd.Error}
	}
	r := &models.Result{Status: models.ResultStatusSuccess}
	if upd.Text != nil {
		r.Text = *upd.Text
	}
	return r
}

type progressMutation func(cur models.Progress, now time.Time) (next models.Progress, result *models.Result, changed bool)

func (s *RedisProgressStore) mutateProgress(ctx context.Context, jobID string, fn progressMutation) (bool, error) {
	key := jobKey(jobID)
	var applied bool
	err := s.transact(ctx, key, func(tx *redis.Tx) error {
		applied = false
		raw, err := tx.HGet(ctx, key, fieldProgress).Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		var cur models.Progress
		if err := json.Unmarshal([]byte(raw), &cur); err != nil {
			return fmt.Errorf("decode progress of job %s: %w", jobID, err)
		}
		if cur.Status.Terminal() {
			return nil
		}

		next, result, changed := fn(cur, s.now())
		progressJSON, err := json.Marshal(next)
		if err != nil {
			return err
		}
		var resultJSON []byte
		if result != nil {
			if resultJSON, err = json.Marshal(result); err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldProgress, progressJSON)
			if resultJSON != nil {
				pipe.HSet(ctx, key, fieldResult, resultJSON)
			}
			pipe.Expire(ctx, key, s.ttl)
			return nil
		})
		if err == nil {
			applied = changed
		}
		return err
	})
	return applied, err
}

// transact runs fn in an optimistic transaction on key, retrying when another
// writer touched the key between WATCH and EXEC.
func (s *RedisProgressStore) transact(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.rdb.Watch(ctx, fn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	log.WithField("key", key).Warn("Giving up on optimistic transaction")
	return fmt.Errorf("%s: %w", key, ErrContention)
}

// ListJobIDs returns the ids of every job hash currently stored.
func (s *RedisProgressStore) ListJobIDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.rdb.Scan(ctx, 0, jobKeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), jobKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan job keys: %w", err)
	}
	return ids, nil
}

func (s *RedisProgressStore) DeleteJob(ctx context.Context, jobID string) error {
	n, err := s.rdb.Del(ctx, jobKey(jobID)).Result()
	if err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return nil
}
