package rate

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dropDatabas3/postdispatch/internal/metrics"
)

// MemoryLimiter implementa fixed-window en memoria del proceso:
// {count, windowResetsAt, max, windowLen} por clave. Es el backend por
// defecto del RateGate; no sobrevive un reinicio ni se comparte entre
// instancias, lo cual es aceptable para un único proceso dispatcher.
type MemoryLimiter struct {
	prefix string
	max    int64
	window time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	count    int64
	resetsAt time.Time
}

func NewMemoryLimiter(prefix string, max int, window time.Duration) *MemoryLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &MemoryLimiter{
		prefix:  prefix,
		max:     int64(max),
		window:  window,
		buckets: make(map[string]*bucket),
	}
}

func (l *MemoryLimiter) key(k string) string {
	return l.prefix + strings.ReplaceAll(k, " ", "_")
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (Result, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN aplica n hits de una sola vez, usado por Record (spec.md §4.4
// "Record(endpoint, n) → integer remaining; mutating").
func (l *MemoryLimiter) AllowN(ctx context.Context, key string, n int64) (Result, error) {
	now := time.Now().UTC()
	k := l.key(key)

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketFor(k, now)
	b.count += n

	return l.resultFor(b, now), nil
}

// Peek informa el estado de la ventana actual sin mutarla, usado por
// WouldExceed (spec.md §4.4 "WouldExceed(endpoint, n) → boolean,
// non-mutating").
func (l *MemoryLimiter) Peek(ctx context.Context, key string) (Result, error) {
	now := time.Now().UTC()
	k := l.key(key)

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[k]
	if !ok || now.After(b.resetsAt) || now.Equal(b.resetsAt) {
		return Result{Allowed: true, Remaining: l.max, WindowTTL: l.window}, nil
	}
	return l.resultFor(b, now), nil
}

func (l *MemoryLimiter) bucketFor(k string, now time.Time) *bucket {
	b, ok := l.buckets[k]
	if !ok || now.After(b.resetsAt) || now.Equal(b.resetsAt) {
		b = &bucket{count: 0, resetsAt: now.Add(l.window)}
		l.buckets[k] = b
	}
	return b
}

func (l *MemoryLimiter) resultFor(b *bucket, now time.Time) Result {
	allowed := b.count <= l.max
	remaining := l.max - b.count
	if remaining < 0 {
		remaining = 0
	}
	ttl := b.resetsAt.Sub(now)

	res := Result{
		Allowed:     allowed,
		Remaining:   remaining,
		CurrentHits: b.count,
		WindowTTL:   ttl,
	}
	if !allowed {
		res.RetryAfter = ttl
	}
	return res
}

// Sweep elimina buckets vencidos. No corre un timer propio: los buckets
// vencidos solo se eliminan cuando un caller lo invoca.
func (l *MemoryLimiter) Sweep() {
	now := time.Now().UTC()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, b := range l.buckets {
		if now.After(b.resetsAt) {
			delete(l.buckets, k)
		}
	}
}

// MultiMemoryLimiter cachea un MemoryLimiter por combinación (limit, window),
// igual que MultiRedisLimiter, para servir varios buckets desde un único
// RateGate sin coordinarse con Redis.
type MultiMemoryLimiter struct {
	prefix string

	mu       sync.RWMutex
	limiters map[string]*MemoryLimiter
}

func NewMultiMemoryLimiter(prefix string) *MultiMemoryLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &MultiMemoryLimiter{
		prefix:   prefix,
		limiters: make(map[string]*MemoryLimiter),
	}
}

func (m *MultiMemoryLimiter) AllowWithLimits(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	return m.AllowNWithLimits(ctx, key, limit, window, 1)
}

func (m *MultiMemoryLimiter) AllowNWithLimits(ctx context.Context, key string, limit int, window time.Duration, n int64) (Result, error) {
	limiter, configKey := m.limiterFor(limit, window)
	res, err := limiter.AllowN(ctx, key, n)
	recordAdmission(configKey, res, err)
	return res, err
}

func (m *MultiMemoryLimiter) PeekWithLimits(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	limiter, _ := m.limiterFor(limit, window)
	return limiter.Peek(ctx, key)
}

func (m *MultiMemoryLimiter) limiterFor(limit int, window time.Duration) (*MemoryLimiter, string) {
	configKey := configKeyFor(limit, window)

	m.mu.RLock()
	limiter, exists := m.limiters[configKey]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		if limiter, exists = m.limiters[configKey]; !exists {
			limiter = NewMemoryLimiter(m.prefix, limit, window)
			m.limiters[configKey] = limiter
		}
		m.mu.Unlock()
	}
	return limiter, configKey
}

func recordAdmission(configKey string, res Result, err error) {
	if err != nil {
		return
	}
	if res.Allowed {
		metrics.RateGateAdmitted.WithLabelValues(configKey).Inc()
	} else {
		metrics.RateGateDenied.WithLabelValues(configKey).Inc()
	}
}
