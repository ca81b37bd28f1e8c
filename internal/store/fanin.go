package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"skald/internal/models"
)

// Fan-in fields stored next to info/progress_data in task:{job_id}.
const (
	fieldSegmentsTotal  = "segments_total"
	fieldRemaining      = "remaining"
	fieldCombineClaimed = "combine_claimed"
	fieldAborted        = "aborted"
	segmentFieldPrefix  = "segment:"
)

// Return codes of recordScript.
const (
	recordLast      = 0
	recordDuplicate = -1
	recordNotLast   = -2 // aborted group, or combine already claimed
	recordNoGroup   = -3
)

var openScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], 'info') == 0 then return -1 end
if redis.call('HEXISTS', KEYS[1], 'segments_total') == 1 then return 0 end
redis.call('HSET', KEYS[1], 'segments_total', ARGV[1], 'remaining', ARGV[1])
redis.call('EXPIRE', KEYS[1], ARGV[2])
return 1
`)

// recordScript stores one segment result at most once, counts it down and lets
// exactly one caller claim the combine step.
var recordScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], 'segments_total') == 0 then return -3 end
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then return -1 end
local remaining = redis.call('HINCRBY', KEYS[1], 'remaining', -1)
if remaining > 0 then return remaining end
if redis.call('HEXISTS', KEYS[1], 'aborted') == 1 then return -2 end
if redis.call('HSETNX', KEYS[1], 'combine_claimed', '1') == 1 then return 0 end
return -2
`)

// Ensure RedisSegmentGroup implements SegmentGroup
var _ SegmentGroup = (*RedisSegmentGroup)(nil)

// RedisSegmentGroup is the fan-in counter for a job's segments.
type RedisSegmentGroup struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisSegmentGroup(rdb redis.UniversalClient, ttl time.Duration) *RedisSegmentGroup {
	return &RedisSegmentGroup{rdb: rdb, ttl: ttl}
}

// Open arms the counter with total. It must run before any segment is enqueued.
func (g *RedisSegmentGroup) Open(ctx context.Context, jobID string, total int) error {
	if total <= 0 {
		return fmt.Errorf("open segment group for job %s: %w: total must be positive", jobID, models.ErrValidation)
	}
	res, err := openScript.Run(ctx, g.rdb, []string{jobKey(jobID)}, total, int64(g.ttl/time.Second)).Int64()
	if err != nil {
		return fmt.Errorf("open segment group for job %s: %w", jobID, err)
	}
	switch res {
	case -1:
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	case 0:
		return fmt.Errorf("segment group for job %s already open: %w", jobID, ErrConflict)
	}
	return nil
}

func (g *RedisSegmentGroup) Record(ctx context.Context, jobID string, result models.SegmentResult) (bool, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("marshal segment result: %w", err)
	}
	field := segmentFieldPrefix + strconv.Itoa(result.Index)
	res, err := recordScript.Run(ctx, g.rdb, []string{jobKey(jobID)}, field, payload).Int64()
	if err != nil {
		return false, fmt.Errorf("record segment %d of job %s: %w", result.Index, jobID, err)
	}
	switch res {
	case recordLast:
		return true, nil
	case recordNoGroup:
		return false, fmt.Errorf("segment group of job %s: %w", jobID, ErrNotFound)
	case recordDuplicate:
		return false, fmt.Errorf("segment %d of job %s: %w", result.Index, jobID, ErrDuplicate)
	case recordNotLast:
		return false, nil
	}
	return false, nil
}

// Results returns every recorded segment result, in no particular order.
func (g *RedisSegmentGroup) Results(ctx context.Context, jobID string) ([]models.SegmentResult, error) {
	fields, err := g.rdb.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load segment results of job %s: %w", jobID, err)
	}
	if _, ok := fields[fieldSegmentsTotal]; !ok {
		return nil, fmt.Errorf("segment group of job %s: %w", jobID, ErrNotFound)
	}
	var results []models.SegmentResult
	for name, raw := range fields {
		if !strings.HasPrefix(name, segmentFieldPrefix) {
			continue
		}
		var r models.SegmentResult
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decode %s of job %s: %w", name, jobID, err)
		}
		results = append(results, r)
	}
	return results, nil
}

// Finished reports whether every segment has reported and the combine step
// was claimed. An aborted group is never finished.
func (g *RedisSegmentGroup) Finished(ctx context.Context, jobID string) (bool, error) {
	vals, err := g.rdb.HMGet(ctx, jobKey(jobID), fieldSegmentsTotal, fieldRemaining, fieldCombineClaimed, fieldAborted).Result()
	if err != nil {
		return false, fmt.Errorf("load segment group of job %s: %w", jobID, err)
	}
	if vals[0] == nil {
		return false, fmt.Errorf("segment group of job %s: %w", jobID, ErrNotFound)
	}
	if vals[3] != nil || vals[2] == nil {
		return false, nil
	}
	raw, _ := vals[1].(string)
	remaining, err := strconv.Atoi(raw)
	if err != nil {
		return false, fmt.Errorf("segment group of job %s: bad remaining count %q", jobID, raw)
	}
	return remaining <= 0, nil
}

// Abort marks the group so that finishing it never triggers the combine step.
func (g *RedisSegmentGroup) Abort(ctx context.Context, jobID string) error {
	key := jobKey(jobID)
	_, err := g.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldAborted, "1")
		pipe.Expire(ctx, key, g.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("abort segment group of job %s: %w", jobID, err)
	}
	return nil
}
