package httpapi

import (
	"net/http"
	"time"
)

// NewRouter registra todas las rutas HTTP del servicio sobre un
// http.ServeMux nuevo, siguiendo el patrón mux.Handle("METODO /ruta", ...)
// de internal/http/router/admin_routes.go del profesor, adaptado de rutas
// admin tenant-scoped a rutas de usuario final para el flujo OAuth y el
// CRUD de ScheduledPost.
func NewRouter(deps Deps) *http.ServeMux {
	mux := http.NewServeMux()

	base := baseChain(deps)
	authed := authedChain(deps)

	mux.Handle("GET /health", base(http.HandlerFunc(handleHealth(deps))))
	mux.Handle("GET /.well-known/client-metadata.json", base(http.HandlerFunc(handleClientMetadata(deps))))

	oauth := oauthChain(deps)
	mux.Handle("GET /auth/login", oauth(http.HandlerFunc(handleLogin(deps))))
	mux.Handle("POST /auth/callback", oauth(http.HandlerFunc(handleCallback(deps))))
	mux.Handle("POST /auth/logout", authed(http.HandlerFunc(handleLogout(deps))))
	mux.Handle("GET /auth/profile", authed(http.HandlerFunc(handleProfile(deps))))

	mux.Handle("POST /posts", authed(http.HandlerFunc(handlePosts(deps))))
	mux.Handle("GET /posts", authed(http.HandlerFunc(handlePosts(deps))))
	mux.Handle("GET /posts/{id}", authed(http.HandlerFunc(handlePostByID(deps))))
	mux.Handle("PUT /posts/{id}", authed(http.HandlerFunc(handlePostByID(deps))))
	mux.Handle("DELETE /posts/{id}", authed(http.HandlerFunc(handlePostByID(deps))))

	return mux
}

// baseChain aplica a todas las rutas: CORS, headers defensivos, logging.
func baseChain(deps Deps) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return Chain(h,
			WithCORS(deps.Cfg.Server.CORSAllowedOrigins),
			WithSecurityHeaders(),
			WithRequestLog(),
		)
	}
}

// oauthChain aplica el RateGate del bucket "oauth" (spec.md §4.2.3) al
// flujo de login/callback, que no requiere sesión previa.
func oauthChain(deps Deps) func(http.Handler) http.Handler {
	window, err := time.ParseDuration(deps.Cfg.Rate.OAuth.Window)
	if err != nil {
		window = time.Minute
	}
	return func(h http.Handler) http.Handler {
		return Chain(h,
			WithCORS(deps.Cfg.Server.CORSAllowedOrigins),
			WithSecurityHeaders(),
			WithRequestLog(),
			WithRateGate(deps.Limiter, deps.Cfg.Rate.OAuth.Limit, window),
		)
	}
}

// authedChain agrega el RateGate del bucket "api" y la resolución de sesión
// sobre baseChain.
func authedChain(deps Deps) func(http.Handler) http.Handler {
	window, err := time.ParseDuration(deps.Cfg.Rate.API.Window)
	if err != nil {
		window = 5 * time.Minute
	}
	return func(h http.Handler) http.Handler {
		return Chain(h,
			WithCORS(deps.Cfg.Server.CORSAllowedOrigins),
			WithSecurityHeaders(),
			WithRequestLog(),
			WithRateGate(deps.Limiter, deps.Cfg.Rate.API.Limit, window),
			withAuth(deps),
		)
	}
}
