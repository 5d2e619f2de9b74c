// Package postservice traduce un ScheduledPost en un intento de publicación
// en la red y registra el resultado, implementando la máquina de estados y
// la política de reintentos de spec.md §4.5. La transacción CAS está
// grounded en internal/store/tokens.go del profesor (UPDATE ... WHERE
// status='PENDING' ... RETURNING); el backoff exponencial aplica "intentos
// acotados con espera creciente" a nivel de fila.
package postservice

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dropDatabas3/postdispatch/internal/coreerr"
	"github.com/dropDatabas3/postdispatch/internal/networkclient"
	"github.com/dropDatabas3/postdispatch/internal/observability/logger"
	"github.com/dropDatabas3/postdispatch/internal/store"
)

const (
	maxRetry    = 3
	backoffBase = 4.0 // exponencial base 4: ~30s, 2min, 8min (spec.md §4.5 paso 5)
)

// Service implementa PostService.
type Service struct {
	store   *store.Store
	network *networkclient.Client
}

func New(st *store.Store, nc *networkclient.Client) *Service {
	return &Service{store: st, network: nc}
}

// createRecordResponse es la forma mínima de la respuesta de createRecord.
type createRecordResponse struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// Execute implementa spec.md §4.5 Execute(post), pasos 1-6.
func (s *Service) Execute(ctx context.Context, postID string) error {
	if err := s.store.ClaimForExecution(ctx, postID); err != nil {
		if errors.Is(err, coreerr.AlreadyClaimed) {
			return coreerr.AlreadyClaimed
		}
		return err
	}

	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"text":      post.Body,
		"createdAt": time.Now().UTC().Format(time.RFC3339),
		"langs":     []string{"en"},
	}

	if post.ParentPostID != nil {
		parent, err := s.store.GetPost(ctx, *post.ParentPostID)
		if err != nil {
			return s.handleFailure(ctx, post, fmt.Errorf("parent-missing: %w", coreerr.Permanent))
		}
		if parent.RecordURI == "" {
			return s.handleFailure(ctx, post, fmt.Errorf("parent-missing: %w", coreerr.Permanent))
		}
		payload["reply"] = map[string]any{
			"root":   map[string]any{"uri": parent.RecordURI, "cid": parent.RecordKey},
			"parent": map[string]any{"uri": parent.RecordURI, "cid": parent.RecordKey},
		}
	}

	resp, err := s.network.Do(ctx, post.UserID, "POST", "/xrpc/com.atproto.repo.createRecord", map[string]any{
		"repo":       post.UserID,
		"collection": "app.bsky.feed.post",
		"record":     payload,
	})
	if err != nil {
		return s.handleFailure(ctx, post, err)
	}

	var rr createRecordResponse
	if err := resp.JSON(&rr); err != nil {
		return s.handleFailure(ctx, post, fmt.Errorf("postservice: decode createRecord response: %w", err))
	}

	return s.store.CompletePost(ctx, post.ID, rr.URI, trailingSegment(rr.URI))
}

// handleFailure clasifica el error según spec.md §4.5 pasos 5-6: transient o
// rate-limited con cupo de reintento reprograma en PENDING con backoff;
// permanente o cupo agotado pasa a FAILED y escribe un FailureRecord.
func (s *Service) handleFailure(ctx context.Context, post *store.ScheduledPost, cause error) error {
	errMsg := cause.Error()
	_ = s.store.AppendFailureRecord(ctx, post.ID, errMsg)

	retryable := errors.Is(cause, coreerr.Transient) || errors.Is(cause, coreerr.RateLimited)

	if retryable && post.RetryCount < maxRetry {
		nextAttempt := time.Now().UTC().Add(backoffFor(post.RetryCount))
		logger.From(ctx).Warn("post execution failed, scheduling retry",
			logger.PostID(post.ID), logger.RetryCount(post.RetryCount+1), logger.Err(cause))
		return s.store.RetryPost(ctx, post.ID, errMsg, nextAttempt)
	}

	logger.From(ctx).Error("post execution failed permanently", logger.PostID(post.ID), logger.Err(cause))
	if err := s.store.FailPost(ctx, post.ID, errMsg); err != nil {
		return err
	}
	if err := s.store.AppendAuditLog(ctx, post.UserID, "post_failed_permanently", post.ID, ""); err != nil {
		logger.From(ctx).Warn("audit log append failed", logger.PostID(post.ID), logger.Err(err))
	}
	// Cancelar el resto del thread (reason PARENT_FAILED) es responsabilidad
	// del dispatcher, no de este método: solo el caller conoce la raíz
	// efectiva cuando el post que falla ES la raíz (ThreadRootID == nil), y
	// solo el caller sabe si este fallo es terminal o, para threads de más
	// de un miembro due en el mismo tick, si debe esperar al próximo tick en
	// vez de cancelar nada. Ver dispatcher.executeOne.
	return nil
}

// backoffFor calcula el retraso exponencial base 4: intento 0 → ~30s,
// intento 1 → ~2min, intento 2 → ~8min.
func backoffFor(retryCount int) time.Duration {
	seconds := 30.0 * math.Pow(backoffBase, float64(retryCount))
	return time.Duration(seconds) * time.Second
}

func trailingSegment(uri string) string {
	i := strings.LastIndexByte(uri, '/')
	if i < 0 {
		return uri
	}
	return uri[i+1:]
}
