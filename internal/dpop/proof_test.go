package dpop

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestMint_SignsWithES256AndDpopTyp(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	proof, err := Mint(kp, "post", "https://example.com/xrpc/create?foo=bar#frag", "")
	require.NoError(t, err)
	require.NotEmpty(t, proof.JTI)

	parsed, _, err := jwt.NewParser().ParseUnverified(proof.Value, jwt.MapClaims{})
	require.NoError(t, err)
	require.Equal(t, "dpop+jwt", parsed.Header["typ"])
	require.Equal(t, "ES256", parsed.Header["alg"])

	claims := parsed.Claims.(jwt.MapClaims)
	require.Equal(t, "POST", claims["htm"])
	require.Equal(t, "https://example.com/xrpc/create", claims["htu"])
	require.Equal(t, proof.JTI, claims["jti"])
}

func TestMint_IncludesNonceWhenProvided(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	proof, err := Mint(kp, "GET", "https://example.com/a", "server-nonce-1")
	require.NoError(t, err)

	parsed, _, err := jwt.NewParser().ParseUnverified(proof.Value, jwt.MapClaims{})
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	require.Equal(t, "server-nonce-1", claims["nonce"])
}

func TestMint_OmitsNonceClaimWhenEmpty(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	proof, err := Mint(kp, "GET", "https://example.com/a", "")
	require.NoError(t, err)

	parsed, _, err := jwt.NewParser().ParseUnverified(proof.Value, jwt.MapClaims{})
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	_, present := claims["nonce"]
	require.False(t, present)
}

func TestMint_EachCallProducesFreshJTI(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	p1, err := Mint(kp, "GET", "https://example.com/a", "")
	require.NoError(t, err)
	p2, err := Mint(kp, "GET", "https://example.com/a", "")
	require.NoError(t, err)
	require.NotEqual(t, p1.JTI, p2.JTI)
}
