// Package httpapi expone la API externa del servicio (spec.md §8): el
// flujo de login/callback/logout OAuth y el CRUD de ScheduledPost sobre
// http.ServeMux, siguiendo el patrón mux.Handle("METHOD /path", ...) +
// Chain(handler, mws...) de internal/http/router del profesor.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/dropDatabas3/postdispatch/internal/authcore"
	"github.com/dropDatabas3/postdispatch/internal/config"
	"github.com/dropDatabas3/postdispatch/internal/postservice"
	"github.com/dropDatabas3/postdispatch/internal/rate"
	"github.com/dropDatabas3/postdispatch/internal/store"
)

// Deps agrupa todo lo que los handlers necesitan, análogo a
// AdminRouterDeps del profesor.
type Deps struct {
	Cfg     *config.Config
	Store   *store.Store
	Auth    *authcore.AuthCore
	Posts   *postservice.Service
	Limiter rate.MultiLimiter
}

type ctxKey int

const userIDKey ctxKey = iota

func userIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	return v, ok && v != ""
}

// withAuth exige una sesión válida vía cookie, resuelve el userId (sin
// desencriptar tokens) e inyecta userId en el contexto del request.
func withAuth(deps Deps) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := r.Cookie(deps.Cfg.Auth.Session.CookieName)
			if err != nil || c.Value == "" {
				writeUnauthorized(w)
				return
			}
			userID, err := deps.Store.SessionOwner(r.Context(), c.Value)
			if err != nil {
				writeUnauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"UNAUTHORIZED","message":"se requiere autenticación","code":401}`))
}

// setSessionCookie implementa spec.md §4.2.4 paso 5 (establecer la cookie
// de sesión del lado del navegador una vez creado el AuthSession).
func setSessionCookie(w http.ResponseWriter, deps Deps, sessionID string) {
	ttl, err := time.ParseDuration(deps.Cfg.Auth.Session.TTL)
	if err != nil {
		ttl = 720 * time.Hour
	}
	http.SetCookie(w, &http.Cookie{
		Name:     deps.Cfg.Auth.Session.CookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   deps.Cfg.Auth.Session.Domain,
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		Secure:   deps.Cfg.Auth.Session.Secure,
		SameSite: sameSite(deps.Cfg.Auth.Session.SameSite),
	})
}

const (
	oauthStateCookie   = "oauth_state"
	codeVerifierCookie = "code_verifier"
	oauthCookieTTL     = 10 * time.Minute
)

// setOAuthCookies implementa spec.md §6: GET /auth/login deja el state y el
// verifier PKCE en dos cookies de 10 minutos, para que el cliente los
// reenvíe en el POST /auth/callback que cierra el flujo.
func setOAuthCookies(w http.ResponseWriter, deps Deps, state, verifier string) {
	for _, c := range []struct{ name, value string }{
		{oauthStateCookie, state},
		{codeVerifierCookie, verifier},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    c.value,
			Path:     "/",
			Domain:   deps.Cfg.Auth.Session.Domain,
			Expires:  time.Now().Add(oauthCookieTTL),
			HttpOnly: true,
			Secure:   deps.Cfg.Auth.Session.Secure,
			SameSite: sameSite(deps.Cfg.Auth.Session.SameSite),
		})
	}
}

func clearOAuthCookies(w http.ResponseWriter, deps Deps) {
	for _, name := range []string{oauthStateCookie, codeVerifierCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   deps.Cfg.Auth.Session.Domain,
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   deps.Cfg.Auth.Session.Secure,
		})
	}
}

func clearSessionCookie(w http.ResponseWriter, deps Deps) {
	http.SetCookie(w, &http.Cookie{
		Name:     deps.Cfg.Auth.Session.CookieName,
		Value:    "",
		Path:     "/",
		Domain:   deps.Cfg.Auth.Session.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   deps.Cfg.Auth.Session.Secure,
	})
}

func sameSite(v string) http.SameSite {
	switch v {
	case "Strict":
		return http.SameSiteStrictMode
	case "None":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
