package coreerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIs_MatchesOnKindOnly(t *testing.T) {
	wrapped := Wrap(KindTransient, "upstream timed out", fmt.Errorf("dial tcp: timeout"))
	if !errors.Is(wrapped, Transient) {
		t.Fatalf("expected wrapped error to match sentinel Transient by Kind")
	}
	if errors.Is(wrapped, Permanent) {
		t.Fatalf("did not expect a TRANSIENT error to match the PERMANENT sentinel")
	}
}

func TestIs_DoesNotMatchUnrelatedErrorTypes(t *testing.T) {
	plain := errors.New("boom")
	if errors.Is(AuthExpired, plain) {
		t.Fatalf("a coreerr.Error must never match a plain error")
	}
}

func TestUnwrap_ExposesCause(t *testing.T) {
	cause := fmt.Errorf("pgx: connection refused")
	wrapped := Wrap(KindCryptoFailure, "decrypt failed", cause)
	if !errors.Is(wrapped, cause) {
		t.Fatalf("expected errors.Is to reach the wrapped cause")
	}
}

func TestError_MessageIncludesCauseWhenPresent(t *testing.T) {
	err := Wrap(KindPermanent, "record rejected", errors.New("400 bad request"))
	msg := err.Error()
	if msg == "" {
		t.Fatalf("expected non-empty error message")
	}
	if !errors.Is(err, Permanent) {
		t.Fatalf("expected Wrap to preserve the given Kind")
	}
}
