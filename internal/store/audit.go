package store

import (
	"context"
	"time"
)

// AuditLogEntry es la entidad restaurada por SPEC_FULL.md: un registro
// append-only de eventos sensibles (login, logout, revocación de sesión,
// cancelación de post) para trazabilidad operativa — ausente del modelo de
// datos de spec.md, añadida porque el repositorio original la llevaba y
// ningún Non-goal la excluye.
type AuditLogEntry struct {
	ID         string
	UserID     string
	Action     string
	Detail     string
	SourceAddr string
	CreatedAt  time.Time
}

// AppendAuditLog registra un evento sensible. userID vacío (ej. una acción
// de operador sin actor identificado) se persiste como NULL en vez de violar
// la FK hacia users.
func (s *Store) AppendAuditLog(ctx context.Context, userID, action, detail, sourceAddr string) error {
	const q = `INSERT INTO audit_log (user_id, action, detail, source_addr, created_at) VALUES ($1,$2,$3,$4, now())`
	var uid any
	if userID != "" {
		uid = userID
	}
	_, err := s.pool.Exec(ctx, q, uid, action, detail, sourceAddr)
	return err
}

func (s *Store) ListAuditLog(ctx context.Context, userID string, limit int) ([]*AuditLogEntry, error) {
	const q = `
		SELECT id, user_id, action, detail, source_addr, created_at
		FROM audit_log WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := s.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AuditLogEntry
	for rows.Next() {
		e := &AuditLogEntry{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Detail, &e.SourceAddr, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
