package store

import (
	"context"
	"time"
)

// FailureRecord es la entrada observacional append-only de spec.md §3,
// ligada a un ScheduledPost. Nunca se modifica; se purga por política.
type FailureRecord struct {
	ID        string
	PostID    string
	ErrorText string
	CreatedAt time.Time
}

func (s *Store) AppendFailureRecord(ctx context.Context, postID, errorText string) error {
	const q = `INSERT INTO failure_records (post_id, error_text, created_at) VALUES ($1, $2, now())`
	_, err := s.pool.Exec(ctx, q, postID, errorText)
	return err
}

func (s *Store) ListFailureRecords(ctx context.Context, postID string) ([]*FailureRecord, error) {
	const q = `SELECT id, post_id, error_text, created_at FROM failure_records WHERE post_id = $1 ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, q, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*FailureRecord
	for rows.Next() {
		f := &FailureRecord{}
		if err := rows.Scan(&f.ID, &f.PostID, &f.ErrorText, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// PurgeFailureRecordsOlderThan implementa la tarea de mantenimiento de
// spec.md §4.6 ("remove FailureRecords older than 90 days").
func (s *Store) PurgeFailureRecordsOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	const q = `DELETE FROM failure_records WHERE created_at < now() - $1::interval`
	tag, err := s.pool.Exec(ctx, q, age.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
