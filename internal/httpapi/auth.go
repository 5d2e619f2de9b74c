package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dropDatabas3/postdispatch/internal/apperr"
	"github.com/dropDatabas3/postdispatch/internal/observability/logger"
	"github.com/dropDatabas3/postdispatch/internal/store"
)

// handleLogin implementa spec.md §6: GET /auth/login?redirect_uri=… →
// {redirectUrl}, y deja el state y el verifier PKCE en las cookies
// oauth_state/code_verifier (10 min TTL) para que el cliente los devuelva
// en POST /auth/callback.
func handleLogin(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authURL, state, verifier, err := deps.Auth.StartAuthorization(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		setOAuthCookies(w, deps, state, verifier)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]any{"redirectUrl": authURL})
	}
}

// callbackRequest es el body JSON de POST /auth/callback (spec.md §6).
type callbackRequest struct {
	Code         string `json:"code"`
	State        string `json:"state"`
	CodeVerifier string `json:"codeVerifier"`
	Error        string `json:"error,omitempty"`
}

// handleCallback implementa spec.md §4.2.4 pasos 2-5 y la forma de
// respuesta de §6: POST /auth/callback {code, state, codeVerifier} →
// {user:{id,did,handle,displayName}, sessionId}; limpia oauth_state y
// code_verifier y deja la cookie de sesión de 30 días.
func handleCallback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req callbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperr.WriteError(w, apperr.ErrValidation.WithDetail("invalid JSON body"))
			return
		}
		if req.Error != "" {
			apperr.WriteError(w, apperr.ErrOAuth.WithDetail(req.Error))
			return
		}
		code := req.Code
		state := req.State
		if code == "" || state == "" {
			apperr.WriteError(w, apperr.ErrValidation.WithDetail("missing code or state"))
			return
		}
		if cv, err := r.Cookie(codeVerifierCookie); err == nil && req.CodeVerifier != "" && cv.Value != req.CodeVerifier {
			apperr.WriteError(w, apperr.ErrValidation.WithDetail("code_verifier mismatch"))
			return
		}

		user, sessionID, err := deps.Auth.CompleteAuthorization(r.Context(), code, state, r.UserAgent(), clientIP(r))
		if err != nil {
			logger.From(r.Context()).Warn("oauth callback failed", logger.Err(err))
			clearOAuthCookies(w, deps)
			writeError(w, err)
			return
		}

		if err := deps.Store.AppendAuditLog(r.Context(), user.ID, "session_created", sessionID, clientIP(r)); err != nil {
			logger.From(r.Context()).Warn("audit log append failed", logger.Err(err))
		}

		clearOAuthCookies(w, deps)
		setSessionCookie(w, deps, sessionID)

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"user": map[string]any{
				"id":          user.ID,
				"did":         user.DID,
				"handle":      user.Handle,
				"displayName": user.DisplayName,
			},
			"sessionId": sessionID,
		})
	}
}

// handleLogout implementa spec.md §9: logout limpia la cookie Y revoca la
// fila de AuthSession, no solo uno de los dos.
func handleLogout(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie(deps.Cfg.Auth.Session.CookieName); err == nil && c.Value != "" {
			if err := deps.Store.RevokeSession(r.Context(), c.Value, "user_logout"); err != nil {
				logger.From(r.Context()).Warn("logout: revoke session failed", logger.Err(err))
			} else if userID, ok := userIDFromContext(r.Context()); ok {
				if err := deps.Store.AppendAuditLog(r.Context(), userID, "session_revoked", c.Value, clientIP(r)); err != nil {
					logger.From(r.Context()).Warn("audit log append failed", logger.Err(err))
				}
			}
		}
		clearSessionCookie(w, deps)
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleProfile devuelve la identidad del usuario autenticado.
func handleProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDFromContext(r.Context())
		if !ok {
			apperr.WriteError(w, apperr.ErrUnauthorized)
			return
		}
		u, err := deps.Store.GetUserByID(r.Context(), userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				apperr.WriteError(w, apperr.ErrNotFound)
				return
			}
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     u.ID,
			"did":    u.DID,
			"handle": u.Handle,
		})
	}
}
