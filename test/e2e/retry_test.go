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

// TestExecute_RetryBudgetExhaustedEndsInFailedAfterFourthAttempt cubre
// spec.md §8 "retry budget". postservice.handleFailure decide reintentar
// solo cuando post.RetryCount < maxRetry (comprobado ANTES de incrementar),
// así que un post necesita cuatro fallos transitorios consecutivos (no tres)
// para llegar a FAILED con retryCount tope en 3: los primeros tres vuelven a
// PENDING (retryCount 1→2→3), el cuarto pasa directo a FAILED sin reprogramar.
func TestExecute_RetryBudgetExhaustedEndsInFailedAfterFourthAttempt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	posts := h.newPostService(t, srv.URL)
	u, _ := h.newUserAndSession(t, time.Now().UTC().Add(time.Hour))

	p := &store.ScheduledPost{UserID: u.ID, Body: "retry me", ScheduledAt: time.Now().UTC().Add(time.Minute)}
	require.NoError(t, h.store.CreatePost(ctx, p))

	for i := 0; i < 3; i++ {
		require.NoError(t, posts.Execute(ctx, p.ID))
		got, err := h.store.GetPost(ctx, p.ID)
		require.NoError(t, err)
		require.Equal(t, store.StatusPending, got.Status, "attempt %d must reschedule as PENDING", i+1)
		require.Equal(t, i+1, got.RetryCount)
	}

	require.NoError(t, posts.Execute(ctx, p.ID)) // fourth attempt exhausts the budget

	got, err := h.store.GetPost(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, got.Status)
	require.Equal(t, 3, got.RetryCount, "retryCount stays capped at maxRetry")
	require.Contains(t, got.ErrorMsg, "503")
	require.Equal(t, int64(4), attempts.Load())

	// A fifth call must never reach the network: the row is terminal, so
	// ClaimForExecution's CAS rejects it before anything else runs.
	err = posts.Execute(ctx, p.ID)
	require.True(t, errors.Is(err, coreerr.AlreadyClaimed))
	require.Equal(t, int64(4), attempts.Load(), "a fifth publish is never attempted")
}
