package httpapi

import (
	"errors"
	"net/http"

	"github.com/dropDatabas3/postdispatch/internal/apperr"
	"github.com/dropDatabas3/postdispatch/internal/store"
)

// writeError traduce store.ErrNotFound (que internal/apperr no conoce, para
// no acoplar el sobre de error HTTP al paquete de persistencia) antes de
// delegar en apperr.WriteError.
func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		apperr.WriteError(w, apperr.ErrNotFound.WithCause(err))
		return
	}
	apperr.WriteError(w, err)
}
