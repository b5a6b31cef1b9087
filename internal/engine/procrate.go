package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// CompletionsKey is the Redis sorted set recording recent job completions.
const CompletionsKey = "dispatch:completions"

// Lua script for the trailing-window completion count.
// 1. Drop members older than the window
// 2. Return the remaining count
var trailingCountScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
return redis.call('ZCARD', key)
`)

// CompletionTracker measures the queue's processing rate: jobs that reached a
// terminal state in the trailing 60 seconds, tracked in a Redis sorted set
// keyed by completion timestamp.
type CompletionTracker struct {
	redisClient *redis.Client
	logger      *slog.Logger
	window      time.Duration
}

func NewCompletionTracker(redisClient *redis.Client, logger *slog.Logger) *CompletionTracker {
	return &CompletionTracker{
		redisClient: redisClient,
		logger:      logger,
		window:      time.Minute,
	}
}

// Record notes one completed job. Failures only cost rate accuracy, so they
// are logged and swallowed.
func (t *CompletionTracker) Record(ctx context.Context, jobID string) {
	now := time.Now().UnixMilli()
	member := fmt.Sprintf("%s:%d", jobID, time.Now().UnixNano())

	pipe := t.redisClient.Pipeline()
	pipe.ZAdd(ctx, CompletionsKey, redis.Z{Score: float64(now), Member: member})
	pipe.Expire(ctx, CompletionsKey, t.window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		t.logger.Error("failed to record completion", "error", err, "job_id", jobID)
	}
}

// Rate returns the number of completions in the trailing window. Returns 0
// when Redis is unavailable.
func (t *CompletionTracker) Rate(ctx context.Context) int {
	now := time.Now().UnixMilli()

	count, err := trailingCountScript.Run(ctx, t.redisClient, []string{CompletionsKey},
		now, t.window.Milliseconds(),
	).Int64()
	if err != nil {
		t.logger.Error("failed to read processing rate", "error", err)
		return 0
	}
	return int(count)
}
