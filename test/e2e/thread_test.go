package e2e

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/postdispatch/internal/dispatcher"
	"github.com/dropDatabas3/postdispatch/internal/store"
)

// TestDispatcher_RunOnce_TerminalFailureCancelsThreadTail cubre spec.md
// §4.5/§5 "thread sequencing": cuando la raíz de un thread falla de forma
// terminal (aquí, un 400 no reintentable), el resto del thread due en el
// mismo tick debe quedar CANCELLED con reason PARENT_FAILED en vez de
// ejecutarse igual y terminar en FAILED por "parent-missing". El caso
// simétrico (un fallo transitorio de la raíz solo pausa el thread hasta el
// próximo tick, sin cancelar nada) no se ejercita en este test.
func TestDispatcher_RunOnce_TerminalFailureCancelsThreadTail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_request"}`))
	}))
	defer srv.Close()

	posts := h.newPostService(t, srv.URL)
	u, _ := h.newUserAndSession(t, time.Now().UTC().Add(time.Hour))

	root := &store.ScheduledPost{UserID: u.ID, Body: "root", ScheduledAt: time.Now().UTC().Add(-time.Minute)}
	require.NoError(t, h.store.CreatePost(ctx, root))

	child := &store.ScheduledPost{
		UserID: u.ID, Body: "child", ScheduledAt: time.Now().UTC().Add(-time.Minute),
		ParentPostID: &root.ID, ThreadRootID: &root.ID, ThreadIndex: 1,
	}
	require.NoError(t, h.store.CreatePost(ctx, child))

	disp := dispatcher.New(dispatcher.Config{BatchSize: 10, SubBatchSize: 10}, h.store, posts, nil)
	disp.RunOnce(ctx)

	gotRoot, err := h.store.GetPost(ctx, root.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, gotRoot.Status)

	gotChild, err := h.store.GetPost(ctx, child.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusCancelled, gotChild.Status)
	require.Equal(t, "PARENT_FAILED", gotChild.ErrorMsg)
}
