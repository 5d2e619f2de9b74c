package store

import (
	"context"
	"time"

	"github.com/dropDatabas3/postdispatch/internal/coreerr"
	"github.com/dropDatabas3/postdispatch/internal/security/secretbox"
)

// AuthSession es la sesión OAuth+DPoP de un User. spec.md §3 / §4.1.
// Los campos *Enc guardan el ciphertext de secretbox.Encrypt; Get/Rotate
// son los únicos puntos que ven el plaintext.
type AuthSession struct {
	ID                string
	UserID            string
	AccessTokenEnc    string
	RefreshTokenEnc   string
	DPoPPrivateKeyEnc string
	DPoPPublicKeyJWK  string // no es secreto, se persiste en claro
	DPoPKeyID         string // JWK thumbprint
	AccessExpiry      time.Time
	RefreshExpiry     time.Time
	Active            bool
	LastUsedAt        time.Time
	UserAgent         string
	SourceAddr        string
	RevokedAt         *time.Time
	RevokedReason     string
	CreatedAt         time.Time
}

// SessionPlain es lo que Get/GetMostRecentActive devuelven al caller: los
// tokens ya desencriptados en memoria. Nunca se persiste así.
type SessionPlain struct {
	ID               string
	UserID           string
	AccessToken      string
	RefreshToken     string
	DPoPPrivateKey   string
	DPoPPublicKeyJWK string
	DPoPKeyID        string
	AccessExpiry     time.Time
	RefreshExpiry    time.Time
	LastUsedAt       time.Time
}

// Put implementa TokenStore.Put: encripta los tres secretos de forma
// independiente (IVs distintos) e inserta la fila activa.
func (s *Store) PutSession(ctx context.Context, userID, accessToken, refreshToken, dpopPrivateJWK, dpopPublicJWK, dpopKeyID string, accessExpiry, refreshExpiry time.Time, userAgent, sourceAddr string) (string, error) {
	accessEnc, err := secretbox.Encrypt(accessToken)
	if err != nil {
		return "", coreerr.Wrap(coreerr.KindCryptoFailure, "encrypt access token", err)
	}
	refreshEnc, err := secretbox.Encrypt(refreshToken)
	if err != nil {
		return "", coreerr.Wrap(coreerr.KindCryptoFailure, "encrypt refresh token", err)
	}
	dpopEnc, err := secretbox.Encrypt(dpopPrivateJWK)
	if err != nil {
		return "", coreerr.Wrap(coreerr.KindCryptoFailure, "encrypt dpop private key", err)
	}

	const q = `
		INSERT INTO auth_sessions (
			user_id, access_token_enc, refresh_token_enc, dpop_private_key_enc,
			dpop_public_key_jwk, dpop_key_id, access_expiry, refresh_expiry,
			active, last_used_at, user_agent, source_addr, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8, true, now(), $9, $10, now())
		RETURNING id`

	var id string
	err = s.pool.QueryRow(ctx, q, userID, accessEnc, refreshEnc, dpopEnc,
		dpopPublicJWK, dpopKeyID, accessExpiry, refreshExpiry, userAgent, sourceAddr).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// Rotate implementa TokenStore.Rotate como una única UPDATE transaccional,
// calcada de la forma UsePasswordReset de internal/store/tokens.go del
// profesor (tx.Begin / UPDATE ... RETURNING / tx.Commit).
func (s *Store) RotateSession(ctx context.Context, sessionID, newAccessToken, newRefreshToken string, newAccessExpiry, newRefreshExpiry time.Time, newDPoPPrivateJWK, newDPoPPublicJWK, newDPoPKeyID string) error {
	accessEnc, err := secretbox.Encrypt(newAccessToken)
	if err != nil {
		return coreerr.Wrap(coreerr.KindCryptoFailure, "encrypt access token", err)
	}
	refreshEnc, err := secretbox.Encrypt(newRefreshToken)
	if err != nil {
		return coreerr.Wrap(coreerr.KindCryptoFailure, "encrypt refresh token", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var tag interface {
		RowsAffected() int64
	}

	if newDPoPPrivateJWK != "" {
		dpopEnc, err := secretbox.Encrypt(newDPoPPrivateJWK)
		if err != nil {
			return coreerr.Wrap(coreerr.KindCryptoFailure, "encrypt dpop private key", err)
		}
		const q = `
			UPDATE auth_sessions SET
				access_token_enc = $1, refresh_token_enc = $2,
				access_expiry = $3, refresh_expiry = $4,
				dpop_private_key_enc = $5, dpop_public_key_jwk = $6, dpop_key_id = $7,
				last_used_at = now()
			WHERE id = $8 AND active = true`
		ct, err := tx.Exec(ctx, q, accessEnc, refreshEnc, newAccessExpiry, newRefreshExpiry,
			dpopEnc, newDPoPPublicJWK, newDPoPKeyID, sessionID)
		if err != nil {
			return err
		}
		tag = ct
	} else {
		const q = `
			UPDATE auth_sessions SET
				access_token_enc = $1, refresh_token_enc = $2,
				access_expiry = $3, refresh_expiry = $4,
				last_used_at = now()
			WHERE id = $5 AND active = true`
		ct, err := tx.Exec(ctx, q, accessEnc, refreshEnc, newAccessExpiry, newRefreshExpiry, sessionID)
		if err != nil {
			return err
		}
		tag = ct
	}

	if tag.RowsAffected() == 0 {
		return coreerr.AuthRejected
	}

	return tx.Commit(ctx)
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*SessionPlain, error) {
	const q = `
		SELECT id, user_id, access_token_enc, refresh_token_enc, dpop_private_key_enc,
		       dpop_public_key_jwk, dpop_key_id, access_expiry, refresh_expiry, last_used_at
		FROM auth_sessions
		WHERE id = $1 AND active = true AND refresh_expiry > now()`
	return s.scanSessionPlain(ctx, q, sessionID)
}

func (s *Store) GetMostRecentActiveSession(ctx context.Context, userID string) (*SessionPlain, error) {
	const q = `
		SELECT id, user_id, access_token_enc, refresh_token_enc, dpop_private_key_enc,
		       dpop_public_key_jwk, dpop_key_id, access_expiry, refresh_expiry, last_used_at
		FROM auth_sessions
		WHERE user_id = $1 AND active = true AND refresh_expiry > now()
		ORDER BY last_used_at DESC
		LIMIT 1`
	return s.scanSessionPlain(ctx, q, userID)
}

func (s *Store) scanSessionPlain(ctx context.Context, q string, arg string) (*SessionPlain, error) {
	var sess AuthSession
	err := s.pool.QueryRow(ctx, q, arg).Scan(
		&sess.ID, &sess.UserID, &sess.AccessTokenEnc, &sess.RefreshTokenEnc, &sess.DPoPPrivateKeyEnc,
		&sess.DPoPPublicKeyJWK, &sess.DPoPKeyID, &sess.AccessExpiry, &sess.RefreshExpiry, &sess.LastUsedAt)
	if isNoRows(err) {
		return nil, coreerr.AuthExpired
	}
	if err != nil {
		return nil, err
	}

	access, err := secretbox.Decrypt(sess.AccessTokenEnc)
	if err != nil {
		_ = s.markSessionCryptoFailure(ctx, sess.ID)
		return nil, coreerr.Wrap(coreerr.KindCryptoFailure, "decrypt access token", err)
	}
	refresh, err := secretbox.Decrypt(sess.RefreshTokenEnc)
	if err != nil {
		_ = s.markSessionCryptoFailure(ctx, sess.ID)
		return nil, coreerr.Wrap(coreerr.KindCryptoFailure, "decrypt refresh token", err)
	}
	dpopPriv, err := secretbox.Decrypt(sess.DPoPPrivateKeyEnc)
	if err != nil {
		_ = s.markSessionCryptoFailure(ctx, sess.ID)
		return nil, coreerr.Wrap(coreerr.KindCryptoFailure, "decrypt dpop private key", err)
	}

	return &SessionPlain{
		ID:               sess.ID,
		UserID:           sess.UserID,
		AccessToken:      access,
		RefreshToken:     refresh,
		DPoPPrivateKey:   dpopPriv,
		DPoPPublicKeyJWK: sess.DPoPPublicKeyJWK,
		DPoPKeyID:        sess.DPoPKeyID,
		AccessExpiry:     sess.AccessExpiry,
		RefreshExpiry:    sess.RefreshExpiry,
		LastUsedAt:       sess.LastUsedAt,
	}, nil
}

// SessionOwner resuelve el userId de una sesión activa sin desencriptar
// ningún secreto, para el middleware de autenticación HTTP que solo
// necesita saber quién hace la solicitud.
func (s *Store) SessionOwner(ctx context.Context, sessionID string) (string, error) {
	const q = `SELECT user_id FROM auth_sessions WHERE id = $1 AND active = true AND refresh_expiry > now()`
	var userID string
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(&userID)
	if isNoRows(err) {
		return "", coreerr.AuthExpired
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

// markSessionCryptoFailure marca la sesión inactiva con motivo CRYPTO_FAILURE,
// según la invariante de spec.md §4.1: fallos de descifrado jamás se
// reintentan silenciosamente.
func (s *Store) markSessionCryptoFailure(ctx context.Context, sessionID string) error {
	const q = `UPDATE auth_sessions SET active = false, revoked_at = now(), revoked_reason = 'CRYPTO_FAILURE' WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, sessionID)
	return err
}

// Revoke implementa TokenStore.Revoke: idempotente.
func (s *Store) RevokeSession(ctx context.Context, sessionID, reason string) error {
	const q = `
		UPDATE auth_sessions SET active = false, revoked_at = now(), revoked_reason = $2
		WHERE id = $1 AND active = true`
	_, err := s.pool.Exec(ctx, q, sessionID, reason)
	return err
}

// PurgeExpiredSessions implementa TokenStore.PurgeExpired.
func (s *Store) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	const q = `UPDATE auth_sessions SET active = false, revoked_at = now(), revoked_reason = 'EXPIRED' WHERE active = true AND refresh_expiry < now()`
	tag, err := s.pool.Exec(ctx, q)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
