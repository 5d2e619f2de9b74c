package rate

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

// RedisLimiter: fixed window sencillo (INCR + EXPIRE). Backend opcional del
// RateGate para despliegues con más de una instancia del dispatcher que
// necesitan compartir el contador de ventana.
type RedisLimiter struct {
	Client *rdb.Client
	Prefix string
	Max    int64
	Window time.Duration
}

func NewRedisLimiter(client *rdb.Client, prefix string, max int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &RedisLimiter{
		Client: client,
		Prefix: prefix,
		Max:    int64(max),
		Window: window,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN suma n de una vez al contador de la ventana actual (el respaldo
// de Record, spec.md §4.4).
func (l *RedisLimiter) AllowN(ctx context.Context, key string, n int64) (Result, error) {
	redisKey := l.windowKey(key, time.Now().UTC())

	pipe := l.Client.TxPipeline()
	incr := pipe.IncrBy(ctx, redisKey, n)
	ttl := pipe.TTL(ctx, redisKey)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return Result{}, err
	}

	if incr.Val() == n {
		_ = l.Client.Expire(ctx, redisKey, l.Window).Err()
		ttl = l.Client.TTL(ctx, redisKey)
	}

	return l.resultFor(incr.Val(), ttl.Val()), nil
}

// Peek lee el contador de la ventana actual sin incrementarlo (el respaldo
// de WouldExceed, spec.md §4.4).
func (l *RedisLimiter) Peek(ctx context.Context, key string) (Result, error) {
	redisKey := l.windowKey(key, time.Now().UTC())
	hits, err := l.Client.Get(ctx, redisKey).Int64()
	if err != nil {
		if err == rdb.Nil {
			return Result{Allowed: true, Remaining: l.Max, WindowTTL: l.Window}, nil
		}
		return Result{}, err
	}
	ttl, err := l.Client.TTL(ctx, redisKey).Result()
	if err != nil {
		return Result{}, err
	}
	return l.resultFor(hits, ttl), nil
}

func (l *RedisLimiter) windowKey(key string, now time.Time) string {
	winStart := now.Truncate(l.Window)
	return fmt.Sprintf("%s%s:%d", l.Prefix, strings.ReplaceAll(key, " ", "_"), winStart.Unix())
}

func (l *RedisLimiter) resultFor(hits int64, ttl time.Duration) Result {
	allowed := hits <= l.Max
	remaining := l.Max - hits
	if remaining < 0 {
		remaining = 0
	}

	res := Result{
		Allowed:     allowed,
		Remaining:   remaining,
		CurrentHits: hits,
		WindowTTL:   ttl,
	}
	if !allowed {
		res.RetryAfter = ttl
		if res.RetryAfter < 0 {
			res.RetryAfter = time.Duration(math.Ceil(l.Window.Seconds())) * time.Second
		}
	}
	return res
}

// MultiRedisLimiter cachea un *RedisLimiter por combinación (limit, window),
// manteniendo el algoritmo fixed-window de RedisLimiter.
type MultiRedisLimiter struct {
	client *rdb.Client
	prefix string

	mu       sync.RWMutex
	limiters map[string]*RedisLimiter
}

func NewMultiRedisLimiter(client *rdb.Client, prefix string) *MultiRedisLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &MultiRedisLimiter{
		client:   client,
		prefix:   prefix,
		limiters: make(map[string]*RedisLimiter),
	}
}

func (m *MultiRedisLimiter) AllowWithLimits(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	return m.AllowNWithLimits(ctx, key, limit, window, 1)
}

func (m *MultiRedisLimiter) AllowNWithLimits(ctx context.Context, key string, limit int, window time.Duration, n int64) (Result, error) {
	limiter, configKey := m.limiterFor(limit, window)
	res, err := limiter.AllowN(ctx, key, n)
	recordAdmission(configKey, res, err)
	return res, err
}

func (m *MultiRedisLimiter) PeekWithLimits(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	limiter, _ := m.limiterFor(limit, window)
	return limiter.Peek(ctx, key)
}

func (m *MultiRedisLimiter) limiterFor(limit int, window time.Duration) (*RedisLimiter, string) {
	configKey := configKeyFor(limit, window)

	m.mu.RLock()
	limiter, exists := m.limiters[configKey]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		if limiter, exists = m.limiters[configKey]; !exists {
			limiter = NewRedisLimiter(m.client, m.prefix, limit, window)
			m.limiters[configKey] = limiter
		}
		m.mu.Unlock()
	}
	return limiter, configKey
}

func configKeyFor(limit int, window time.Duration) string {
	return fmt.Sprintf("%d:%s", limit, window.String())
}
