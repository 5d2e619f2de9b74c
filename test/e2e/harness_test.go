// Package e2e ejercita el ciclo completo Execute()/networkclient/authcore
// contra un Postgres real, con el mismo espíritu que test/e2e del profesor,
// pero sin el subproceso de servidor ni los comandos `go run ./cmd/...` que
// ese arnés usa para migrar/seedear: ese patrón exige invocar el toolchain
// de Go, algo fuera de alcance aquí. spec.md §8 describe el gating
// explícitamente (Postgres real vía POST_DISPATCHER_TEST_DSN, skip si no
// está seteada), así que el arnés aplica las migraciones en proceso y
// levanta los endpoints de la red federada con httptest.Server.
package e2e

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/postdispatch/internal/dpop"
	"github.com/dropDatabas3/postdispatch/internal/store"
)

var dsn = os.Getenv("POST_DISPATCHER_TEST_DSN")

func skipIfNoDSN(t *testing.T) {
	t.Helper()
	if dsn == "" {
		t.Skip("POST_DISPATCHER_TEST_DSN not set; skipping end-to-end suite")
	}
}

// init fija una ENCRYPTION_KEY válida antes de que ningún test toque
// secretbox: decodeSecret intenta base64 primero y cae a los bytes crudos si
// falla, así que una cadena con guiones (inválida en base64 estándar) ejerce
// ese fallback y cumple el mínimo de 32 bytes post-decode.
func init() {
	if os.Getenv("ENCRYPTION_KEY") == "" {
		_ = os.Setenv("ENCRYPTION_KEY", "e2e-suite-raw-fallback-secret-not-base64-32bytes-minimum")
	}
}

// applyMigrations ejecuta cada *_up.sql de migrations/postgres/files en
// orden de nombre, confiando en que son idempotentes (CREATE ... IF NOT
// EXISTS), sin pasar por cmd/migrate.
func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	_, thisFile, _, _ := runtime.Caller(0)
	dir := filepath.Join(filepath.Dir(thisFile), "..", "..", "migrations", "postgres", "files")

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".sql" && len(e.Name()) > 7 && e.Name()[len(e.Name())-7:] == "_up.sql" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(b)); err != nil {
			return err
		}
	}
	return nil
}

type harness struct {
	store *store.Store
	pool  *pgxpool.Pool
}

// newHarness abre un pool y un *store.Store contra POST_DISPATCHER_TEST_DSN,
// aplica las migraciones y trunca las tablas del dominio para que cada test
// arranque desde un estado limpio, sin depender del orden de ejecución.
func newHarness(t *testing.T) *harness {
	t.Helper()
	skipIfNoDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, applyMigrations(ctx, pool))

	_, err = pool.Exec(ctx, `TRUNCATE scheduled_posts, failure_records, audit_log, auth_sessions, users CASCADE`)
	require.NoError(t, err)

	st, err := store.New(ctx, dsn, store.PoolConfig{})
	require.NoError(t, err)

	t.Cleanup(func() {
		st.Close()
		pool.Close()
	})
	return &harness{store: st, pool: pool}
}

// newUserAndSession crea un User y una AuthSession activa directamente en el
// store, saltándose el flujo real de /auth/login + /auth/callback: spec.md
// §4.2.4 exige PKCE + state de un solo uso a través de HTTP, algo que estos
// tests de Execute()/networkclient no necesitan ejercitar de nuevo.
func (h *harness) newUserAndSession(t *testing.T, accessExpiry time.Time) (*store.User, string) {
	t.Helper()
	ctx := context.Background()

	u := &store.User{DID: "did:plc:e2e" + randomSuffix(), Handle: "e2e.test"}
	require.NoError(t, h.store.CreateUser(ctx, u))

	kp, err := dpop.GenerateKeyPair()
	require.NoError(t, err)
	privJWK, err := dpop.MarshalPrivateJWK(kp)
	require.NoError(t, err)
	pubJWK, err := dpop.PublicJWK(kp.Public)
	require.NoError(t, err)

	sessionID, err := h.store.PutSession(ctx, u.ID, "initial-access-token", "initial-refresh-token",
		privJWK, pubJWK, kp.KeyID, accessExpiry, time.Now().UTC().Add(90*24*time.Hour),
		"e2e-suite", "127.0.0.1")
	require.NoError(t, err)

	return u, sessionID
}

var suffixCounter int

// randomSuffix evita colisiones de DID entre usuarios creados en el mismo
// microsegundo dentro de una misma corrida de tests.
func randomSuffix() string {
	suffixCounter++
	return time.Now().UTC().Format("150405.000000") + "-" + strconv.Itoa(suffixCounter)
}
