package dpop

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Proof es una prueba DPoP minteada para una sola solicitud. spec.md §4.2.2:
// jti/htm/htu/iat obligatorios, nonce opcional.
type Proof struct {
	JTI   string
	Value string // JWS compacto
}

// Mint firma una nueva prueba DPoP para (method, url). Nunca se cachea ni se
// reutiliza: cada llamada emite un jti fresco, siguiendo la firma por
// MapClaims + header kid/typ de internal/jwt/issuer.go del profesor.
func Mint(kp *KeyPair, method, rawURL, nonce string) (*Proof, error) {
	htu, err := normalizeURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("dpop: normalize url: %w", err)
	}

	jti := uuid.NewString()
	now := time.Now().UTC()

	claims := jwt.MapClaims{
		"jti": jti,
		"htm": strings.ToUpper(method),
		"htu": htu,
		"iat": now.Unix(),
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}

	pubJWKJSON, err := PublicJWK(kp.Public)
	if err != nil {
		return nil, err
	}
	var pubJWKMap map[string]any
	if err := json.Unmarshal([]byte(pubJWKJSON), &pubJWKMap); err != nil {
		return nil, err
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["typ"] = "dpop+jwt"
	tok.Header["jwk"] = pubJWKMap

	signed, err := tok.SignedString(kp.Private)
	if err != nil {
		return nil, fmt.Errorf("dpop: sign proof: %w", err)
	}

	return &Proof{JTI: jti, Value: signed}, nil
}

// normalizeURL reduce a scheme+host+path, descartando query y fragment,
// exactamente como exige spec.md §4.2.2 para htu.
func normalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.Scheme + "://" + u.Host + u.Path, nil
}
