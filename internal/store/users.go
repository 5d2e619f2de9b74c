package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// User es la cuenta lado-cliente: el usuario local de postdispatch que
// autorizó el acceso a su cuenta en la red federada. spec.md §3.
type User struct {
	ID          string
	DID         string // identificador de cuenta en la red federada (actor DID/handle)
	Handle      string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateUser inserta o, si el DID ya existe, actualiza handle/displayName
// del usuario (re-login tras re-autorización OAuth).
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	const q = `
		INSERT INTO users (id, did, handle, display_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (did) DO UPDATE SET handle = $3, display_name = $4, updated_at = now()
		RETURNING id, created_at, updated_at`
	return s.pool.QueryRow(ctx, q, u.ID, u.DID, u.Handle, u.DisplayName).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	const q = `SELECT id, did, handle, display_name, created_at, updated_at FROM users WHERE id = $1`
	u := &User{}
	err := s.pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.DID, &u.Handle, &u.DisplayName, &u.CreatedAt, &u.UpdatedAt)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) GetUserByDID(ctx context.Context, did string) (*User, error) {
	const q = `SELECT id, did, handle, display_name, created_at, updated_at FROM users WHERE did = $1`
	u := &User{}
	err := s.pool.QueryRow(ctx, q, did).Scan(&u.ID, &u.DID, &u.Handle, &u.DisplayName, &u.CreatedAt, &u.UpdatedAt)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	const q = `DELETE FROM users WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id)
	return err
}
