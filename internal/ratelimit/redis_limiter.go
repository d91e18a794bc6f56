package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "narration:ratelimit:"
	minRetryWait   = time.Millisecond
)

// ErrRedisNotConfigured is returned when a RedisLimiter has no client.
var ErrRedisNotConfigured = errors.New("redis client is not configured for rate limiting")

// RedisLimiter enforces the same sliding window as SlidingWindowLimiter but
// keeps the window in a Redis sorted set, so worker processes on different
// hosts draw from one quota.
//
// Each attempt adds a member and counts the set in one transaction. A member
// that pushes the count over the ceiling is removed again and the caller
// sleeps until the oldest member expires. Racing callers can both back off,
// but they can never both be admitted past the ceiling.
type RedisLimiter struct {
	client      *redis.Client
	key         string
	maxRequests int
	window      time.Duration
	opts        options
	log         *logger.Logger
}

// NewRedisLimiter creates a Redis-backed limiter named name.
func NewRedisLimiter(
	client *redis.Client,
	name string,
	maxRequests int,
	window time.Duration,
	log *logger.Logger,
	opts ...Option,
) (*RedisLimiter, error) {
	if client == nil {
		return nil, ErrRedisNotConfigured
	}

	err := validateLimit(maxRequests, window)
	if err != nil {
		return nil, err
	}

	return &RedisLimiter{
		client:      client,
		key:         redisKeyPrefix + name,
		maxRequests: maxRequests,
		window:      window,
		opts:        buildOptions(opts),
		log:         log,
	}, nil
}

// Admit blocks until the shared window has room, then records the call.
func (l *RedisLimiter) Admit(ctx context.Context) error {
	start := l.opts.clock.Now()

	for {
		now := l.opts.clock.Now()

		wait, err := l.tryAdmit(ctx, now)
		if err != nil {
			return err
		}

		if wait == 0 {
			if l.opts.hook != nil {
				l.opts.hook(now, now.Sub(start))
			}

			return nil
		}

		if l.log != nil {
			l.log.Info(logFmtLimitReached, l.key, l.maxRequests, l.window, wait)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for rate limit %s: %w", l.key, ctx.Err())
		case <-l.opts.clock.After(wait):
		}
	}
}

// Len reports how many admissions are currently inside the shared window.
// An admission exactly window old is outside, matching the purge in tryAdmit.
func (l *RedisLimiter) Len(ctx context.Context) (int, error) {
	now := l.opts.clock.Now()

	count, err := l.client.ZCount(ctx, l.key, "("+scoreString(now.Add(-l.window)), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count rate limit window %s: %w", l.key, err)
	}

	return int(count), nil
}

// tryAdmit returns zero when the call was admitted, otherwise how long to
// wait before trying again.
func (l *RedisLimiter) tryAdmit(ctx context.Context, now time.Time) (time.Duration, error) {
	member := uuid.NewString()
	cutoff := now.Add(-l.window)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, l.key, "-inf", scoreString(cutoff))
	pipe.ZAdd(ctx, l.key, redis.Z{Score: score(now), Member: member})
	countCmd := pipe.ZCard(ctx, l.key)
	pipe.Expire(ctx, l.key, l.window*2)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("rate limiter pipeline failed for %s: %w", l.key, err)
	}

	count, err := countCmd.Result()
	if err != nil {
		return 0, fmt.Errorf("rate limiter failed to read count for %s: %w", l.key, err)
	}

	if count <= int64(l.maxRequests) {
		return 0, nil
	}

	err = l.client.ZRem(ctx, l.key, member).Err()
	if err != nil {
		return 0, fmt.Errorf("failed to release rejected admission for %s: %w", l.key, err)
	}

	oldest, err := l.client.ZRangeWithScores(ctx, l.key, 0, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read oldest admission for %s: %w", l.key, err)
	}

	wait := l.opts.margin
	if len(oldest) > 0 {
		wait += l.window - now.Sub(fromScore(oldest[0].Score))
	}

	// zero means admitted
	if wait < minRetryWait {
		wait = minRetryWait
	}

	return wait, nil
}

// Scores are Unix milliseconds with a fractional part.
func score(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Millisecond)
}

func scoreString(t time.Time) string {
	return fmt.Sprintf("%f", score(t))
}

func fromScore(s float64) time.Time {
	return time.Unix(0, int64(s*float64(time.Millisecond)))
}
