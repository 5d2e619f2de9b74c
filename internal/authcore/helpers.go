package authcore

import (
	"net/url"

	"github.com/dropDatabas3/postdispatch/internal/security/token"
)

func randomState() string {
	st, err := tokens.GenerateOpaqueToken(24)
	if err != nil {
		// token.GenerateOpaqueToken solo falla si crypto/rand no puede leer,
		// lo que deja al proceso en un estado no confiable para emitir
		// cualquier secreto; un state vacío hace que TakeAndDelete rechace
		// el callback en vez de aceptar una sesión sin CSRF protection real.
		return ""
	}
	return st
}

func urlEscape(s string) string { return url.QueryEscape(s) }

func encodeForm(form map[string]string) string {
	v := url.Values{}
	for k, val := range form {
		v.Set(k, val)
	}
	return v.Encode()
}
