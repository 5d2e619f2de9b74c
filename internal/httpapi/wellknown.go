package httpapi

import (
	"encoding/json"
	"net/http"
)

// handleClientMetadata expone /.well-known/client-metadata.json, el
// documento que la red federada resuelve para validar client_id y
// redirect_uri durante el flujo OAuth (spec.md §4.2.1). Restaurado desde
// original_source/ ya que el distillado lo omite pero ninguna Non-goal lo
// excluye.
func handleClientMetadata(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		meta := map[string]any{
			"client_id":                       deps.Cfg.Auth.ClientID,
			"client_name":                     "postdispatch",
			"redirect_uris":                   []string{deps.Cfg.Auth.RedirectURL},
			"grant_types":                     []string{"authorization_code", "refresh_token"},
			"response_types":                  []string{"code"},
			"scope":                           joinScopes(deps.Cfg.Auth.Scopes),
			"token_endpoint_auth_method":      "none",
			"application_type":                "web",
			"dpop_bound_access_tokens":        deps.Cfg.Auth.DPoPEnabled,
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(meta)
	}
}

func joinScopes(scopes []string) string {
	out := ""
	for i, s := range scopes {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}
