// Package rate implementa el RateGate: ventanas fijas por clave (IP, sesión,
// identidad remota) usadas tanto para los endpoints propios de autenticación
// como para acotar las llamadas salientes hacia la API de la red federada.
package rate

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/postdispatch/internal/coreerr"
)

// Result es el resultado de una consulta al RateGate.
type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration
	WindowTTL   time.Duration
	CurrentHits int64
}

// Limiter aplica un único límite (max, window) configurado de antemano.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// MultiLimiter permite evaluar distintos pares (limit, window) bajo la misma
// clave física, cacheando un Limiter por combinación. Lo usan los buckets
// "api" y "oauth" del RateGate sin necesitar una instancia por bucket.
type MultiLimiter interface {
	AllowWithLimits(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
	AllowNWithLimits(ctx context.Context, key string, limit int, window time.Duration, n int64) (Result, error)
	PeekWithLimits(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

// bucketConfig es el (max, windowLen) de una clase de endpoint registrada
// en el Gate (spec.md §4.4: "Two named limits are mandatory: an API-call
// bucket ... and an OAuth-endpoint bucket").
type bucketConfig struct {
	limit  int
	window time.Duration
}

// Gate implementa la interfaz RateGate literal de spec.md §4.4
// (WouldExceed/Record/WaitForAvailability) sobre un MultiLimiter genérico,
// manteniendo buckets nombrados por clase de endpoint.
type Gate struct {
	multi   MultiLimiter
	buckets map[string]bucketConfig
}

func NewGate(multi MultiLimiter) *Gate {
	return &Gate{multi: multi, buckets: make(map[string]bucketConfig)}
}

// Register asocia una clase de endpoint a un límite fijo (max, windowLen).
// Llamado una vez al armar Deps, para los buckets "api" y "oauth".
func (g *Gate) Register(endpoint string, limit int, window time.Duration) {
	g.buckets[endpoint] = bucketConfig{limit: limit, window: window}
}

// config resuelve el límite registrado para la clase del endpoint. endpoint
// puede ser solo la clase ("api") o clase:identidad ("api:userID"); solo la
// parte antes de ":" se usa para buscar el límite, el string completo se
// usa como clave física ante el MultiLimiter.
func (g *Gate) config(endpoint string) bucketConfig {
	class := endpoint
	if i := strings.IndexByte(endpoint, ':'); i >= 0 {
		class = endpoint[:i]
	}
	if c, ok := g.buckets[class]; ok {
		return c
	}
	return bucketConfig{limit: 300, window: 5 * time.Minute}
}

// WouldExceed consulta, sin mutar estado, si admitir n solicitudes más
// excedería el máximo de la ventana actual (spec.md §4.4).
func (g *Gate) WouldExceed(ctx context.Context, endpoint string, n int) (bool, error) {
	c := g.config(endpoint)
	res, err := g.multi.PeekWithLimits(ctx, endpoint, c.limit, c.window)
	if err != nil {
		return false, err
	}
	return res.CurrentHits+int64(n) > int64(c.limit), nil
}

// Record suma n hits a la ventana actual y devuelve el remaining
// resultante (spec.md §4.4 "Record(endpoint, n) → integer remaining;
// mutating").
func (g *Gate) Record(ctx context.Context, endpoint string, n int) (int64, error) {
	c := g.config(endpoint)
	res, err := g.multi.AllowNWithLimits(ctx, endpoint, c.limit, c.window, int64(n))
	if err != nil {
		return 0, err
	}
	return res.Remaining, nil
}

// WaitForAvailability bloquea hasta que admitir n solicitudes sea posible,
// sondeando en pasos de waitFor + jitter, sin exceder windowLen entre
// intentos (spec.md §4.4). Honra la cancelación del contexto devolviendo
// coreerr.Cancelled sin haber mutado estado.
func (g *Gate) WaitForAvailability(ctx context.Context, endpoint string, n int) error {
	c := g.config(endpoint)
	for {
		res, err := g.multi.PeekWithLimits(ctx, endpoint, c.limit, c.window)
		if err != nil {
			return err
		}
		if res.CurrentHits+int64(n) <= int64(c.limit) {
			return nil
		}
		wait := res.RetryAfter
		if wait <= 0 {
			wait = c.window
		}
		jitter := time.Duration(rand.Int63n(int64(time.Second)))
		timer := time.NewTimer(wait + jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return coreerr.Cancelled
		case <-timer.C:
		}
	}
}

// Config selecciona el backend del RateGate.
type Config struct {
	Backend string // "memory" | "redis"
	Redis   *rdb.Client
	Prefix  string
}

// NewMulti construye el MultiLimiter según el backend configurado. El backend
// en memoria es el predeterminado; Redis habilita coordinación entre varias
// instancias del dispatcher.
func NewMulti(cfg Config) (MultiLimiter, error) {
	switch cfg.Backend {
	case "redis":
		if cfg.Redis == nil {
			return nil, fmt.Errorf("rate: backend redis requiere un cliente")
		}
		return NewMultiRedisLimiter(cfg.Redis, cfg.Prefix), nil
	case "memory", "":
		return NewMultiMemoryLimiter(cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("rate: backend desconocido %q", cfg.Backend)
	}
}
