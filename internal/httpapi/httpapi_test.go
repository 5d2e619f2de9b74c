package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSameSite_KnownValues(t *testing.T) {
	cases := map[string]http.SameSite{
		"Strict":  http.SameSiteStrictMode,
		"None":    http.SameSiteNoneMode,
		"Lax":     http.SameSiteLaxMode,
		"":        http.SameSiteLaxMode,
		"bogus":   http.SameSiteLaxMode,
	}
	for in, want := range cases {
		if got := sameSite(in); got != want {
			t.Fatalf("sameSite(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestClientIP_PrefersForwardedForHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:54321"
	r.Header.Set("X-Forwarded-For", "203.0.113.5")

	if got := clientIP(r); got != "203.0.113.5" {
		t.Fatalf("got %q, want %q", got, "203.0.113.5")
	}
}

func TestClientIP_FallsBackToRemoteAddr(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:54321"

	if got := clientIP(r); got != "10.0.0.1:54321" {
		t.Fatalf("got %q, want %q", got, "10.0.0.1:54321")
	}
}
