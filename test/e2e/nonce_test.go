package e2e

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/postdispatch/internal/store"
)

// TestExecute_NonceChallengeBootstrapsThenPersistsForSubsequentCalls cubre
// spec.md §8 "nonce bootstrap": la primera llamada a createRecord recibe un
// desafío DPoP-Nonce (401 + use_dpop_nonce), que networkclient reintenta una
// vez con el nonce devuelto; una segunda publicación, para el mismo usuario
// y host, ya arranca con el nonce aprendido y no vuelve a ser desafiada.
func TestExecute_NonceChallengeBootstrapsThenPersistsForSubsequentCalls(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n == 1 {
			w.Header().Set("DPoP-Nonce", "server-nonce-abc")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"use_dpop_nonce"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"uri":"at://did:plc:test/app.bsky.feed.post/nonce1","cid":"bafynonce1"}`))
	}))
	defer srv.Close()

	posts := h.newPostService(t, srv.URL)
	u, _ := h.newUserAndSession(t, time.Now().UTC().Add(time.Hour))

	p1 := &store.ScheduledPost{UserID: u.ID, Body: "first, challenged", ScheduledAt: time.Now().UTC().Add(time.Minute)}
	require.NoError(t, h.store.CreatePost(ctx, p1))

	require.NoError(t, posts.Execute(ctx, p1.ID))
	require.Equal(t, int64(2), attempts.Load(), "one nonce challenge plus one successful retry")

	got, err := h.store.GetPost(ctx, p1.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, got.Status)

	p2 := &store.ScheduledPost{UserID: u.ID, Body: "second, already has the nonce", ScheduledAt: time.Now().UTC().Add(time.Minute)}
	require.NoError(t, h.store.CreatePost(ctx, p2))

	require.NoError(t, posts.Execute(ctx, p2.ID))
	require.Equal(t, int64(3), attempts.Load(), "no repeated nonce challenge once the nonce is known")

	got2, err := h.store.GetPost(ctx, p2.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, got2.Status)
}

// TestExecute_SecondConsecutiveNonceChallengeIsHardFailure cubre el borde
// de spec.md §4.3: si el servidor vuelve a exigir un nonce distinto incluso
// después del reintento, networkclient.send trata eso como un fallo
// permanente (KindAuthNonce, no retryable) en vez de reintentar sin límite.
func TestExecute_SecondConsecutiveNonceChallengeIsHardFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("DPoP-Nonce", "server-nonce-keeps-changing")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"use_dpop_nonce"}`))
	}))
	defer srv.Close()

	posts := h.newPostService(t, srv.URL)
	u, _ := h.newUserAndSession(t, time.Now().UTC().Add(time.Hour))

	p := &store.ScheduledPost{UserID: u.ID, Body: "always challenged", ScheduledAt: time.Now().UTC().Add(time.Minute)}
	require.NoError(t, h.store.CreatePost(ctx, p))

	require.NoError(t, posts.Execute(ctx, p.ID))

	got, err := h.store.GetPost(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, got.Status)
}
