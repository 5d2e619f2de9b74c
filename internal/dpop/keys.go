// Package dpop implementa el ciclo de vida de claves y la emisión de pruebas
// DPoP (RFC 9449) usadas por AuthCore, grounded en el patrón de firma de
// internal/jwt/issuer.go del profesor (golang-jwt/jwt/v5, claims via
// jwt.MapClaims, kid/typ en el header) pero con ECDSA P-256/ES256 en vez de
// EdDSA, y una clave por AuthSession en vez de una por proceso.
package dpop

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
)

// KeyPair es un par de claves DPoP en memoria. spec.md §4.2.1: el algoritmo
// MUST ser P-256/ES256; cualquier otro algoritmo se rechaza en ParsePrivateJWK.
type KeyPair struct {
	Private *ecdsa.PrivateKey
	Public  *ecdsa.PublicKey
	KeyID   string // thumbprint JWK, RFC 7638
}

// jwk es la forma pública serializable de la clave, con el orden de campos
// fijo que exige el cálculo del thumbprint.
type jwk struct {
	Crv string `json:"crv"`
	Kty string `json:"kty"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// GenerateKeyPair crea un par de claves P-256 nuevo: spec.md "one key pair
// per new AuthSession".
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("dpop: generate key: %w", err)
	}
	kp := &KeyPair{Private: priv, Public: &priv.PublicKey}
	kp.KeyID = Thumbprint(&priv.PublicKey)
	return kp, nil
}

// Thumbprint calcula el JWK thumbprint RFC 7638: SHA-256 sobre el JSON
// field-ordered {crv,kty,x,y}, base64url sin padding.
func Thumbprint(pub *ecdsa.PublicKey) string {
	j := jwk{
		Crv: "P-256",
		Kty: "EC",
		X:   b64url(pub.X.Bytes(), 32),
		Y:   b64url(pub.Y.Bytes(), 32),
	}
	// El orden de estos campos en el struct (crv,kty,x,y) ya es el orden
	// alfabético canónico exigido por RFC 7638; encoding/json respeta el
	// orden de declaración de los campos.
	b, _ := json.Marshal(j)
	sum := sha256.Sum256(b)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// PublicJWK serializa la clave pública en forma JWK (no es secreto, se
// persiste en claro junto con la sesión).
func PublicJWK(pub *ecdsa.PublicKey) (string, error) {
	j := jwk{
		Crv: "P-256",
		Kty: "EC",
		X:   b64url(pub.X.Bytes(), 32),
		Y:   b64url(pub.Y.Bytes(), 32),
	}
	b, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// MarshalPrivateJWK serializa la clave privada (incluye el componente d)
// para su persistencia encriptada vía TokenStore.
func MarshalPrivateJWK(kp *KeyPair) (string, error) {
	type privJWK struct {
		Crv string `json:"crv"`
		Kty string `json:"kty"`
		X   string `json:"x"`
		Y   string `json:"y"`
		D   string `json:"d"`
	}
	j := privJWK{
		Crv: "P-256",
		Kty: "EC",
		X:   b64url(kp.Public.X.Bytes(), 32),
		Y:   b64url(kp.Public.Y.Bytes(), 32),
		D:   b64url(kp.Private.D.Bytes(), 32),
	}
	b, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParsePrivateJWK reconstruye un *KeyPair desde la forma JWK persistida.
func ParsePrivateJWK(raw string) (*KeyPair, error) {
	var j struct {
		Crv string `json:"crv"`
		Kty string `json:"kty"`
		X   string `json:"x"`
		Y   string `json:"y"`
		D   string `json:"d"`
	}
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, fmt.Errorf("dpop: parse private jwk: %w", err)
	}
	if j.Kty != "EC" || j.Crv != "P-256" {
		return nil, fmt.Errorf("dpop: unsupported key type %s/%s", j.Kty, j.Crv)
	}

	curve := elliptic.P256()
	xb, err := b64urlDecode(j.X)
	if err != nil {
		return nil, err
	}
	yb, err := b64urlDecode(j.Y)
	if err != nil {
		return nil, err
	}
	db, err := b64urlDecode(j.D)
	if err != nil {
		return nil, err
	}

	priv := new(ecdsa.PrivateKey)
	priv.PublicKey.Curve = curve
	priv.PublicKey.X = new(big.Int).SetBytes(xb)
	priv.PublicKey.Y = new(big.Int).SetBytes(yb)
	priv.D = new(big.Int).SetBytes(db)

	kp := &KeyPair{Private: priv, Public: &priv.PublicKey}
	kp.KeyID = Thumbprint(&priv.PublicKey)
	return kp, nil
}

func b64url(b []byte, size int) string {
	if len(b) < size {
		padded := make([]byte, size)
		copy(padded[size-len(b):], b)
		b = padded
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func b64urlDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}
