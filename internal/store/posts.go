package store

import (
	"context"
	"time"

	"github.com/dropDatabas3/postdispatch/internal/coreerr"
)

type PostStatus string

const (
	StatusPending   PostStatus = "PENDING"
	StatusExecuting PostStatus = "EXECUTING"
	StatusCompleted PostStatus = "COMPLETED"
	StatusFailed    PostStatus = "FAILED"
	StatusCancelled PostStatus = "CANCELLED"
	StatusRetrying  PostStatus = "RETRYING"
)

// ScheduledPost. spec.md §3.
type ScheduledPost struct {
	ID            string
	UserID        string
	Body          string
	ScheduledAt   time.Time
	Status        PostStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ExecutedAt    *time.Time
	ErrorMsg      string
	RetryCount    int
	RecordURI     string
	RecordKey     string
	ParentPostID  *string
	ThreadRootID  *string
	ThreadIndex   int
	CanExecute    bool
	IsDeleted     bool
}

const maxRetry = 3

func (s *Store) CreatePost(ctx context.Context, p *ScheduledPost) error {
	const q = `
		INSERT INTO scheduled_posts (
			user_id, body, scheduled_at, status, can_execute, is_deleted,
			parent_post_id, thread_root_id, thread_index, created_at, updated_at
		) VALUES ($1,$2,$3,'PENDING', true, false, $4, $5, $6, now(), now())
		RETURNING id, created_at, updated_at`
	return s.pool.QueryRow(ctx, q, p.UserID, p.Body, p.ScheduledAt, p.ParentPostID, p.ThreadRootID, p.ThreadIndex).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (s *Store) GetPost(ctx context.Context, id string) (*ScheduledPost, error) {
	const q = `
		SELECT id, user_id, body, scheduled_at, status, created_at, updated_at, executed_at,
		       error_msg, retry_count, record_uri, record_key, parent_post_id, thread_root_id,
		       thread_index, can_execute, is_deleted
		FROM scheduled_posts WHERE id = $1`
	return s.scanPost(s.pool.QueryRow(ctx, q, id))
}

func (s *Store) scanPost(row interface {
	Scan(dest ...any) error
}) (*ScheduledPost, error) {
	p := &ScheduledPost{}
	err := row.Scan(&p.ID, &p.UserID, &p.Body, &p.ScheduledAt, &p.Status, &p.CreatedAt, &p.UpdatedAt,
		&p.ExecutedAt, &p.ErrorMsg, &p.RetryCount, &p.RecordURI, &p.RecordKey, &p.ParentPostID,
		&p.ThreadRootID, &p.ThreadIndex, &p.CanExecute, &p.IsDeleted)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListDuePosts implementa la consulta del tick del Dispatcher (spec.md §4.6
// paso 2): hasta limit posts PENDING, vencidos, ejecutables, no borrados,
// ordenados por scheduledAt ASC.
func (s *Store) ListDuePosts(ctx context.Context, limit int) ([]*ScheduledPost, error) {
	const q = `
		SELECT id, user_id, body, scheduled_at, status, created_at, updated_at, executed_at,
		       error_msg, retry_count, record_uri, record_key, parent_post_id, thread_root_id,
		       thread_index, can_execute, is_deleted
		FROM scheduled_posts
		WHERE status = 'PENDING' AND scheduled_at <= now() AND can_execute AND NOT is_deleted
		ORDER BY scheduled_at ASC
		LIMIT $1`
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ScheduledPost
	for rows.Next() {
		p, err := s.scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListPostsByUser devuelve los posts no borrados de un usuario, más
// recientes primero, para la API externa GET /posts.
func (s *Store) ListPostsByUser(ctx context.Context, userID string, limit int) ([]*ScheduledPost, error) {
	const q = `
		SELECT id, user_id, body, scheduled_at, status, created_at, updated_at, executed_at,
		       error_msg, retry_count, record_uri, record_key, parent_post_id, thread_root_id,
		       thread_index, can_execute, is_deleted
		FROM scheduled_posts
		WHERE user_id = $1 AND NOT is_deleted
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := s.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ScheduledPost
	for rows.Next() {
		p, err := s.scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListPostsByUserFiltered es la variante paginada de ListPostsByUser usada
// por GET /posts (spec.md §6: "{posts, total, page, limit}"), con filtro
// opcional por status. status == "" significa "cualquier estado".
func (s *Store) ListPostsByUserFiltered(ctx context.Context, userID, status string, limit, offset int) ([]*ScheduledPost, int, error) {
	const q = `
		SELECT id, user_id, body, scheduled_at, status, created_at, updated_at, executed_at,
		       error_msg, retry_count, record_uri, record_key, parent_post_id, thread_root_id,
		       thread_index, can_execute, is_deleted
		FROM scheduled_posts
		WHERE user_id = $1 AND NOT is_deleted AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`
	rows, err := s.pool.Query(ctx, q, userID, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*ScheduledPost
	for rows.Next() {
		p, err := s.scanPost(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	const countQ = `SELECT count(*) FROM scheduled_posts WHERE user_id = $1 AND NOT is_deleted AND ($2 = '' OR status = $2)`
	var total int
	if err := s.pool.QueryRow(ctx, countQ, userID, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ListThread devuelve el thread completo —la fila raíz (id = threadRootID)
// más toda fila con thread_root_id = threadRootID— ordenado por
// (threadIndex, createdAt), según spec.md §4.5 "Thread sequencing": "Gather
// the thread ordered by threadIndex, createdAt."
func (s *Store) ListThread(ctx context.Context, threadRootID string) ([]*ScheduledPost, error) {
	const q = `
		SELECT id, user_id, body, scheduled_at, status, created_at, updated_at, executed_at,
		       error_msg, retry_count, record_uri, record_key, parent_post_id, thread_root_id,
		       thread_index, can_execute, is_deleted
		FROM scheduled_posts
		WHERE id = $1 OR thread_root_id = $1
		ORDER BY thread_index ASC, created_at ASC`
	rows, err := s.pool.Query(ctx, q, threadRootID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ScheduledPost
	for rows.Next() {
		p, err := s.scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ClaimForExecution implementa el CAS PENDING→EXECUTING de spec.md §4.5:
// "Transitions out of PENDING → EXECUTING MUST be a compare-and-set on
// status". Devuelve coreerr.AlreadyClaimed si la fila ya no está en PENDING.
func (s *Store) ClaimForExecution(ctx context.Context, postID string) error {
	const q = `UPDATE scheduled_posts SET status = 'EXECUTING', updated_at = now() WHERE id = $1 AND status = 'PENDING'`
	tag, err := s.pool.Exec(ctx, q, postID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return coreerr.AlreadyClaimed
	}
	return nil
}

// CompletePost persiste el éxito: status=COMPLETED, executedAt=now,
// recordURI/recordKey.
func (s *Store) CompletePost(ctx context.Context, postID, recordURI, recordKey string) error {
	const q = `
		UPDATE scheduled_posts SET status = 'COMPLETED', executed_at = now(),
			record_uri = $2, record_key = $3, updated_at = now()
		WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, postID, recordURI, recordKey)
	return err
}

// RetryPost reprograma la fila para un próximo intento: status=PENDING,
// retryCount++, errorMsg, y un nuevo scheduledAt según el backoff del
// caller (spec.md §4.5 paso 5: ≈30s/2min/8min).
func (s *Store) RetryPost(ctx context.Context, postID, errMsg string, nextAttempt time.Time) error {
	const q = `
		UPDATE scheduled_posts SET status = 'PENDING', retry_count = retry_count + 1,
			error_msg = $2, scheduled_at = $3, updated_at = now()
		WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, postID, errMsg, nextAttempt)
	return err
}

// FailPost persiste el estado terminal FAILED.
func (s *Store) FailPost(ctx context.Context, postID, errMsg string) error {
	const q = `UPDATE scheduled_posts SET status = 'FAILED', error_msg = $2, updated_at = now() WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, postID, errMsg)
	return err
}

// CancelPost implementa la cancelación por API externa: solo válida en
// PENDING (spec.md §4.5 "CANCELLED via external API only while PENDING").
func (s *Store) CancelPost(ctx context.Context, postID, userID string) error {
	const q = `
		UPDATE scheduled_posts SET status = 'CANCELLED', updated_at = now()
		WHERE id = $1 AND user_id = $2 AND status = 'PENDING'`
	tag, err := s.pool.Exec(ctx, q, postID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return coreerr.InvalidState
	}
	return nil
}

// UpdatePost implementa la edición externa: CAS sobre status='PENDING',
// según spec.md §4.5 "PENDING is the only editable state". body/scheduledAt
// nil significa "no tocar ese campo". Devuelve coreerr.InvalidState si la
// fila ya no está en PENDING (spec.md §8: "Update on a non-PENDING post →
// INVALID_OPERATION").
func (s *Store) UpdatePost(ctx context.Context, postID, userID string, body *string, scheduledAt *time.Time) error {
	const q = `
		UPDATE scheduled_posts SET
			body = COALESCE($3, body),
			scheduled_at = COALESCE($4, scheduled_at),
			updated_at = now()
		WHERE id = $1 AND user_id = $2 AND status = 'PENDING'`
	tag, err := s.pool.Exec(ctx, q, postID, userID, body, scheduledAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return coreerr.InvalidState
	}
	return nil
}

// CancelThreadTail cancela todos los posts del thread con threadIndex mayor
// al del post fallido, con reason PARENT_FAILED (spec.md §4.5).
func (s *Store) CancelThreadTail(ctx context.Context, threadRootID string, afterIndex int) error {
	const q = `
		UPDATE scheduled_posts SET status = 'CANCELLED', error_msg = 'PARENT_FAILED', updated_at = now()
		WHERE thread_root_id = $1 AND thread_index > $2 AND status IN ('PENDING', 'RETRYING')`
	_, err := s.pool.Exec(ctx, q, threadRootID, afterIndex)
	return err
}

// ReclaimStuckExecuting revierte a PENDING los posts EXECUTING que superaron
// el watchdog timeout, sin tocar retryCount (spec.md §5 "Cancellation
// semantics").
func (s *Store) ReclaimStuckExecuting(ctx context.Context, watchdog time.Duration) (int64, error) {
	const q = `
		UPDATE scheduled_posts SET status = 'PENDING', updated_at = now()
		WHERE status = 'EXECUTING' AND updated_at < now() - $1::interval`
	tag, err := s.pool.Exec(ctx, q, watchdog.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ArchiveCompletedOlderThan / ArchiveFailedOlderThan implementan las tareas
// de mantenimiento diarias de spec.md §4.6 ("archive completed posts older
// than 30 days; archive failed posts older than 7 days"). El archivado se
// modela como soft-delete (is_deleted=true) dejando la fila para auditoría.
func (s *Store) ArchiveCompletedOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	const q = `UPDATE scheduled_posts SET is_deleted = true WHERE status = 'COMPLETED' AND executed_at < now() - $1::interval AND NOT is_deleted`
	tag, err := s.pool.Exec(ctx, q, age.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) ArchiveFailedOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	const q = `UPDATE scheduled_posts SET is_deleted = true WHERE status = 'FAILED' AND updated_at < now() - $1::interval AND NOT is_deleted`
	tag, err := s.pool.Exec(ctx, q, age.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
