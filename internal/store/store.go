// Package store implementa la capa de persistencia sobre Postgres (pgx/v5 +
// pgxpool), siguiendo el wrapper de internal/store/pg/store.go del profesor:
// un *pgxpool.Pool envuelto en un tipo propio con New/Pool/Close/Ping, más
// un archivo por entidad del modelo de datos en vez de un único store.go
// monolítico multi-tenant.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/postdispatch/internal/observability/logger"
)

// ErrNotFound se devuelve cuando una consulta puntual no encuentra fila.
var ErrNotFound = errors.New("store: not found")

// PoolConfig ajusta el tuning del pool subyacente (opcional).
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store envuelve el pool de conexiones y expone los sub-stores por entidad.
type Store struct {
	pool *pgxpool.Pool
}

// New abre el pool contra dsn. No bloquea el arranque si el ping inicial
// falla: solo deja constancia en el log, igual que el store del profesor.
func New(ctx context.Context, dsn string, cfg PoolConfig) (*Store, error) {
	pgCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		pgCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		pgCfg.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pgCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("store: new pool: %w", err)
	}

	s := &Store{pool: pool}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.From(ctx).Warn("postgres ping failed at startup, continuing anyway",
			logger.Err(err))
	}

	return s, nil
}

func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) PoolStats() *pgxpool.Stat { return s.pool.Stat() }

// DBOps es el subconjunto de *pgxpool.Pool / pgx.Tx que usan los sub-stores,
// igual que la interfaz DBOps de internal/store/tokens.go del profesor:
// permite que cada método reciba indistintamente el pool o una tx abierta.
type DBOps interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
