package e2e

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/postdispatch/internal/coreerr"
	"github.com/dropDatabas3/postdispatch/internal/store"
)

// TestExecute_ConcurrentCallsYieldExactlyOneCompletion cubre, en el mismo
// test, los escenarios gemelos de spec.md §8 "at-most-once delivery" y
// "concurrent dispatchers": dos llamadas a Execute sobre el mismo post
// programado, disparadas al mismo tiempo, solo pueden dejar una transición
// terminal exitosa; la otra debe observar coreerr.AlreadyClaimed sin haber
// tocado la red.
func TestExecute_ConcurrentCallsYieldExactlyOneCompletion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var createCalls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		createCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"uri":"at://did:plc:test/app.bsky.feed.post/abc123","cid":"bafycid"}`))
	}))
	defer srv.Close()

	posts := h.newPostService(t, srv.URL)
	u, _ := h.newUserAndSession(t, time.Now().UTC().Add(time.Hour))

	p := &store.ScheduledPost{UserID: u.ID, Body: "hello network", ScheduledAt: time.Now().UTC().Add(time.Minute)}
	require.NoError(t, h.store.CreatePost(ctx, p))

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = posts.Execute(ctx, p.ID)
		}(i)
	}
	wg.Wait()

	winners, losers := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, coreerr.AlreadyClaimed):
			losers++
		default:
			t.Fatalf("unexpected Execute error: %v", err)
		}
	}
	require.Equal(t, 1, winners, "exactly one concurrent Execute call should claim and complete the post")
	require.Equal(t, 1, losers, "the losing call must observe AlreadyClaimed")

	got, err := h.store.GetPost(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, got.Status)
	require.Equal(t, int64(1), createCalls.Load(), "createRecord must reach the network exactly once")
}
