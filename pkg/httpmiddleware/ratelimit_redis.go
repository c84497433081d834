package httpmiddleware

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-redis/redis/v8"
)

// RedisStore is a fixed window counter shared by all API instances. Each
// window is one key incremented with INCR and expired after the window.
type RedisStore struct {
	client redis.Cmdable
}

var _ RateLimitStore = (*RedisStore)(nil)

// NewRedisStore returns a RedisStore backed by client.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Allow increments the counter of key's current window.
func (s *RedisStore) Allow(ctx context.Context, key string, limit int, size time.Duration, now time.Time) (Decision, error) {
	start := now.Truncate(size)
	k := "ratelimit:" + key + ":" + strconv.FormatInt(start.Unix(), 10)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, size)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, errors.Wrap(err, "redis incr")
	}

	n := int(incr.Val())
	d := Decision{ResetAt: start.Add(size)}
	if n > limit {
		return d, nil
	}
	d.Allowed = true
	d.Remaining = limit - n
	return d, nil
}
