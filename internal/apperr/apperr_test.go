package apperr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/dropDatabas3/postdispatch/internal/coreerr"
)

func TestFromError_PassesThroughExistingAppError(t *testing.T) {
	orig := ErrForbidden
	got := FromError(orig)
	if got != orig {
		t.Fatalf("expected FromError to return the same *AppError instance")
	}
}

func TestFromError_MapsCoreErrKindsToHTTPStatus(t *testing.T) {
	cases := []struct {
		cause error
		want  int
	}{
		{coreerr.AuthExpired, http.StatusUnauthorized},
		{coreerr.AuthRejected, http.StatusUnauthorized},
		{coreerr.AuthNonce, http.StatusUnauthorized},
		{coreerr.RateLimited, http.StatusTooManyRequests},
		{coreerr.Forbidden, http.StatusForbidden},
		{coreerr.AlreadyClaimed, http.StatusConflict},
		{coreerr.Cancelled, http.StatusConflict},
		{coreerr.Permanent, http.StatusBadRequest},
		{coreerr.Transient, http.StatusInternalServerError},
		{coreerr.CryptoFailure, http.StatusInternalServerError},
	}
	for _, c := range cases {
		got := FromError(c.cause)
		if got.HTTPStatus != c.want {
			t.Fatalf("FromError(%v).HTTPStatus = %d, want %d", c.cause, got.HTTPStatus, c.want)
		}
	}
}

func TestFromError_UnrecognizedErrorFallsBackToServerError(t *testing.T) {
	got := FromError(errors.New("boom"))
	if got.Kind != ErrServerError.Kind {
		t.Fatalf("expected SERVER_ERROR fallback, got %s", got.Kind)
	}
	if got.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", got.HTTPStatus)
	}
}

func TestWithDetail_DoesNotMutateOriginal(t *testing.T) {
	base := ErrValidation
	withDetail := base.WithDetail(map[string]string{"field": "body"})

	if base.Detail != nil {
		t.Fatalf("expected original sentinel to remain untouched")
	}
	if withDetail.Detail == nil {
		t.Fatalf("expected copy to carry the detail")
	}
}

func TestError_UnwrapsToCause(t *testing.T) {
	cause := errors.New("dial tcp timeout")
	wrapped := Wrap(cause, http.StatusBadGateway, "OAUTH_ERROR", "fallo en el flujo OAuth")

	if !errors.Is(wrapped, cause) {
		t.Fatalf("expected errors.Is to reach the wrapped cause")
	}
}
