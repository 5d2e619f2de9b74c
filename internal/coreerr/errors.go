// Package coreerr holds the sentinel errors components raise internally,
// per the kind table in spec.md §7. Only internal/httpapi translates these
// into the wire error envelope (internal/apperr); every other component
// compares against these sentinels with errors.Is/errors.As.
package coreerr

import "fmt"

// Kind clasifica un error interno según spec.md §7.
type Kind string

const (
	KindAuthExpired    Kind = "AUTH_EXPIRED"
	KindAuthRejected   Kind = "AUTH_REJECTED"
	KindAuthNonce      Kind = "AUTH_NONCE"
	KindRateLimited    Kind = "RATE_LIMITED"
	KindTransient      Kind = "TRANSIENT"
	KindPermanent      Kind = "PERMANENT"
	KindCryptoFailure  Kind = "CRYPTO_FAILURE"
	KindAlreadyClaimed Kind = "ALREADY_CLAIMED"
	KindForbidden      Kind = "FORBIDDEN"
	KindCancelled      Kind = "CANCELLED"
	KindInvalidState   Kind = "INVALID_STATE"
)

// Error es un error interno tipado, comparable por Kind vía errors.Is.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is permite errors.Is(err, coreerr.AuthExpired) comparando solo por Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Sentinels usados con errors.Is por los callers.
var (
	AuthExpired    = New(KindAuthExpired, "access token expired")
	AuthRejected   = New(KindAuthRejected, "refresh token rejected")
	AuthNonce      = New(KindAuthNonce, "dpop nonce challenge failed twice")
	RateLimited    = New(KindRateLimited, "rate limit exceeded")
	Transient      = New(KindTransient, "transient upstream failure")
	Permanent      = New(KindPermanent, "permanent upstream failure")
	CryptoFailure  = New(KindCryptoFailure, "decrypt/auth failure on stored material")
	AlreadyClaimed = New(KindAlreadyClaimed, "post already claimed by another worker")
	Forbidden      = New(KindForbidden, "acting user does not own this resource")
	Cancelled      = New(KindCancelled, "operation cancelled")
	InvalidState   = New(KindInvalidState, "operation not valid for the post's current state")
)
