package httpapi

import (
	"net/http"
	"time"

	"github.com/dropDatabas3/postdispatch/internal/apperr"
	"github.com/dropDatabas3/postdispatch/internal/observability/logger"
	"github.com/dropDatabas3/postdispatch/internal/rate"
)

// Middleware y Chain replican internal/http/middlewares/chain.go del
// profesor: orden de aplicación tal que el primero listado queda más
// afuera.
type Middleware func(http.Handler) http.Handler

func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// WithCORS responde preflight y setea los headers CORS según la lista de
// orígenes permitidos de config.Server.CORSAllowedOrigins.
func WithCORS(allowed []string) Middleware {
	allowedSet := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		allowedSet[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowedSet[origin] || allowedSet["*"]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithRequestLog registra cada solicitud con los campos HTTP estándar del
// logger (Method/Path/Status/DurationMs), igual que internal/observability.
func WithRequestLog() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			logger.From(r.Context()).Info("http request",
				logger.Method(r.Method), logger.Path(r.URL.Path),
				logger.Status(sw.status), logger.DurationMs(time.Since(start).Milliseconds()))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// WithSecurityHeaders agrega cabeceras defensivas mínimas.
func WithSecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			next.ServeHTTP(w, r)
		})
	}
}

// WithRateGate admite la solicitud contra un bucket keyed por IP cliente,
// con el limit y window recibidos, antes de llegar al handler.
func WithRateGate(limiter rate.MultiLimiter, limit int, window time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := limiter.AllowWithLimits(r.Context(), "http:"+clientIP(r), limit, window)
			if err == nil && !res.Allowed {
				w.Header().Set("Retry-After", res.RetryAfter.String())
				apperr.WriteError(w, apperr.ErrRateLimitExceeded)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		return v
	}
	return r.RemoteAddr
}
