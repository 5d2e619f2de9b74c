package apperr

import (
	"encoding/json"
	"net/http"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
	Details any    `json:"details,omitempty"`
}

// WriteError escribe el sobre de error spec.md §6 en la respuesta HTTP.
func WriteError(w http.ResponseWriter, err error) {
	ae := FromError(err)

	resp := errorResponse{
		Error:   ae.Kind,
		Message: ae.Message,
		Code:    ae.HTTPStatus,
		Details: ae.Detail,
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(ae.HTTPStatus)
	_ = json.NewEncoder(w).Encode(resp)
}
