package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"classifieds-catalog/internal/domain"
	"classifieds-catalog/internal/platform/metrics"
)

// entry is the stored envelope. TTL and insertion time travel with the value so
// a read can reject entries Redis has not evicted yet.
type entry struct {
	Value json.RawMessage `json:"v"`
	At    time.Time       `json:"at"`
	TTL   time.Duration   `json:"ttl"`
}

// Redis is a Cache on a go-redis client.
type Redis struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.MetricsManager
	now     func() time.Time
}

var _ Cache = (*Redis)(nil)

// NewRedis returns a cache on client. Every call is bounded by timeout.
func NewRedis(client redis.UniversalClient, prefix string, timeout time.Duration, logger *zap.Logger, m *metrics.MetricsManager) *Redis {
	return &Redis{
		client:  client,
		prefix:  prefix,
		timeout: timeout,
		logger:  logger.Named("cache"),
		metrics: m,
		now:     time.Now,
	}
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

func (r *Redis) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *Redis) fail(op, key string, err error) {
	r.metrics.CacheRequestsTotal.WithLabelValues("error").Inc()
	r.logger.Warn("cache operation failed, treating as miss",
		zap.String("op", op), zap.String("key", key),
		zap.Error(domain.CacheError(err, "%s %s", op, key)))
}

func (r *Redis) Get(ctx context.Context, key string, dest any) bool {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		r.metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()
		return false
	}
	if err != nil {
		r.fail("get", key, err)
		return false
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		r.fail("decode", key, err)
		return false
	}
	if r.now().Sub(e.At) > e.TTL {
		r.metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()
		return false
	}
	if err := json.Unmarshal(e.Value, dest); err != nil {
		r.fail("decode", key, err)
		return false
	}
	r.metrics.CacheRequestsTotal.WithLabelValues("hit").Inc()
	return true
}

func (r *Redis) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	v, err := json.Marshal(value)
	if err != nil {
		r.fail("encode", key, err)
		return
	}
	raw, err := json.Marshal(entry{Value: v, At: r.now(), TTL: ttl})
	if err != nil {
		r.fail("encode", key, err)
		return
	}

	ctx, cancel := r.bounded(ctx)
	defer cancel()
	if err := r.client.Set(ctx, r.key(key), raw, ttl).Err(); err != nil {
		r.fail("set", key, err)
	}
}

func (r *Redis) Invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, r.key(k))
	}

	ctx, cancel := r.bounded(ctx)
	defer cancel()
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		r.fail("invalidate", keys[0], err)
	}
}
