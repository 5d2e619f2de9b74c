// Package apperr provides the single error envelope used at the HTTP
// boundary, modeled on the teacher's internal/http/v2/errors package.
// Internal components raise typed sentinel errors (see internal/coreerr);
// only the HTTP boundary translates them into this wire shape.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dropDatabas3/postdispatch/internal/coreerr"
)

// AppError es el error estándar expuesto por la API HTTP.
type AppError struct {
	Kind       string `json:"error"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"code"`
	Detail     any    `json:"details,omitempty"`
	Err        error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func New(status int, kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message, HTTPStatus: status}
}

func Wrap(err error, status int, kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message, HTTPStatus: status, Err: err}
}

// WithDetail devuelve una copia con Detail seteado.
func (e *AppError) WithDetail(detail any) *AppError {
	c := *e
	c.Detail = detail
	return &c
}

// WithCause devuelve una copia con Err seteado.
func (e *AppError) WithCause(err error) *AppError {
	c := *e
	c.Err = err
	return &c
}

// FromError convierte cualquier error en un *AppError, usando
// ErrServerError como fallback para errores no reconocidos (spec.md §7:
// "errores no reconocidos se propagan como SERVER_ERROR").
func FromError(err error) *AppError {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	var ce *coreerr.Error
	if errors.As(err, &ce) {
		return fromCoreErr(ce)
	}
	return ErrServerError.WithCause(err)
}

// fromCoreErr traduce un internal/coreerr.Error al sobre de la API, según la
// tabla de spec.md §7.
func fromCoreErr(ce *coreerr.Error) *AppError {
	switch ce.Kind {
	case coreerr.KindAuthExpired, coreerr.KindAuthRejected, coreerr.KindAuthNonce:
		return ErrUnauthorized.WithCause(ce)
	case coreerr.KindRateLimited:
		return ErrRateLimitExceeded.WithCause(ce)
	case coreerr.KindForbidden:
		return ErrForbidden.WithCause(ce)
	case coreerr.KindAlreadyClaimed, coreerr.KindCancelled, coreerr.KindInvalidState:
		return ErrInvalidOperation.WithCause(ce)
	case coreerr.KindPermanent:
		return ErrValidation.WithCause(ce)
	default:
		return ErrServerError.WithCause(ce)
	}
}

// Kinds del sobre de error, spec.md §6.
var (
	ErrValidation = &AppError{Kind: "VALIDATION_ERROR", Message: "la solicitud no es válida", HTTPStatus: http.StatusBadRequest}

	ErrUnauthorized = &AppError{Kind: "UNAUTHORIZED", Message: "se requiere autenticación", HTTPStatus: http.StatusUnauthorized}

	ErrForbidden = &AppError{Kind: "FORBIDDEN", Message: "no tiene permiso sobre este recurso", HTTPStatus: http.StatusForbidden}

	ErrNotFound = &AppError{Kind: "NOT_FOUND", Message: "recurso no encontrado", HTTPStatus: http.StatusNotFound}

	ErrInvalidOperation = &AppError{Kind: "INVALID_OPERATION", Message: "la operación no es válida en el estado actual", HTTPStatus: http.StatusConflict}

	ErrRateLimitExceeded = &AppError{Kind: "RATE_LIMIT_EXCEEDED", Message: "ha excedido el límite de solicitudes", HTTPStatus: http.StatusTooManyRequests}

	ErrOAuth = &AppError{Kind: "OAUTH_ERROR", Message: "fallo en el flujo OAuth", HTTPStatus: http.StatusBadGateway}

	ErrServerError = &AppError{Kind: "SERVER_ERROR", Message: "ocurrió un error interno", HTTPStatus: http.StatusInternalServerError}
)
