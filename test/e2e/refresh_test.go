package e2e

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/postdispatch/internal/coreerr"
	"github.com/dropDatabas3/postdispatch/internal/store"
)

// TestExecute_ProactiveRefreshBeforeExpiryThenPublishSucceeds cubre spec.md
// §8 "token expired → reactive refresh": la sesión sembrada ya tiene el
// access token vencido, así que networkclient.Do lo renueva proactivamente
// (paso 2 de spec.md §4.3) antes de intentar createRecord, y la publicación
// se completa con el token renovado.
func TestExecute_ProactiveRefreshBeforeExpiryThenPublishSucceeds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var tokenCalls, createCalls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","expires_in":3600,"token_type":"DPoP"}`))
	})
	mux.HandleFunc("/xrpc/com.atproto.repo.createRecord", func(w http.ResponseWriter, r *http.Request) {
		createCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"uri":"at://did:plc:test/app.bsky.feed.post/refreshed","cid":"bafyrefreshed"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	posts := h.newPostService(t, srv.URL)
	u, sessionID := h.newUserAndSession(t, time.Now().UTC().Add(-10*time.Second))

	p := &store.ScheduledPost{UserID: u.ID, Body: "needs refresh", ScheduledAt: time.Now().UTC().Add(time.Minute)}
	require.NoError(t, h.store.CreatePost(ctx, p))

	require.NoError(t, posts.Execute(ctx, p.ID))

	require.Equal(t, int64(1), tokenCalls.Load(), "exactly one proactive refresh before the first publish attempt")
	require.Equal(t, int64(1), createCalls.Load())

	got, err := h.store.GetPost(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, got.Status)

	sess, err := h.store.GetSession(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, "new-access", sess.AccessToken)
	require.Equal(t, "new-refresh", sess.RefreshToken)
}

// TestExecute_RefreshRejectedRevokesSessionAndFailsPost cubre spec.md §8
// "refresh rejected": el token endpoint responde invalid_grant, lo que
// revoca la sesión con reason=refresh_rejected y deja el post FAILED con un
// errorMsg que menciona "refresh" (no solo el código de estado genérico).
func TestExecute_RefreshRejectedRevokesSessionAndFailsPost(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	posts := h.newPostService(t, srv.URL)
	u, sessionID := h.newUserAndSession(t, time.Now().UTC().Add(-10*time.Second))

	p := &store.ScheduledPost{UserID: u.ID, Body: "doomed by revocation", ScheduledAt: time.Now().UTC().Add(time.Minute)}
	require.NoError(t, h.store.CreatePost(ctx, p))

	require.NoError(t, posts.Execute(ctx, p.ID))

	got, err := h.store.GetPost(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, got.Status)
	require.Contains(t, got.ErrorMsg, "refresh")

	_, err = h.store.GetSession(ctx, sessionID)
	require.True(t, errors.Is(err, coreerr.AuthExpired), "a revoked session must no longer resolve as active")
}
