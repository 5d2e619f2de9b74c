package e2e

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/postdispatch/internal/coreerr"
	"github.com/dropDatabas3/postdispatch/internal/store"
)

// TestExecute_SecondConsecutiveInvalidTokenRevokesSession cubre el borde de
// spec.md §4.3: un access token aún no vencido según su propio reloj puede
// ser rechazado igual por la red (invalid_token). La primera vez dispara un
// refresh reactivo y un reintento; si el token renovado vuelve a ser
// rechazado, networkclient revoca la sesión en vez de reintentar sin fin.
func TestExecute_SecondConsecutiveInvalidTokenRevokesSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tokenEndpointCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		tokenEndpointCalls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"access_token":"rotated-access","refresh_token":"rotated-refresh","expires_in":3600,"token_type":"DPoP"}`))
	})
	mux.HandleFunc("/xrpc/com.atproto.repo.createRecord", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_token"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	posts := h.newPostService(t, srv.URL)
	// El access token aún no está cerca de vencer, así que Do() no lo
	// renueva proactivamente: el 401 de la red es lo único que dispara el
	// refresh reactivo.
	u, sessionID := h.newUserAndSession(t, time.Now().UTC().Add(time.Hour))

	p := &store.ScheduledPost{UserID: u.ID, Body: "rejected twice", ScheduledAt: time.Now().UTC().Add(time.Minute)}
	require.NoError(t, h.store.CreatePost(ctx, p))

	require.NoError(t, posts.Execute(ctx, p.ID))

	require.Equal(t, 1, tokenEndpointCalls, "exactly one reactive refresh before giving up")

	got, err := h.store.GetPost(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, got.Status)

	_, err = h.store.GetSession(ctx, sessionID)
	require.True(t, errors.Is(err, coreerr.AuthExpired), "second consecutive invalid_token must revoke the session")
}
