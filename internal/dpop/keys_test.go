package dpop

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPair_ProducesP256KeyWithMatchingThumbprint(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	require.NotNil(t, kp.Private)
	require.NotNil(t, kp.Public)
	require.Equal(t, Thumbprint(kp.Public), kp.KeyID)
}

func TestGenerateKeyPair_EachCallProducesDistinctKeys(t *testing.T) {
	a, err := GenerateKeyPair()
	require.NoError(t, err)
	b, err := GenerateKeyPair()
	require.NoError(t, err)
	require.NotEqual(t, a.KeyID, b.KeyID)
}

func TestMarshalParsePrivateJWK_RoundTrips(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	raw, err := MarshalPrivateJWK(kp)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	parsed, err := ParsePrivateJWK(raw)
	require.NoError(t, err)
	require.Equal(t, kp.KeyID, parsed.KeyID)
	require.Equal(t, kp.Private.D.Bytes(), parsed.Private.D.Bytes())
}

func TestParsePrivateJWK_RejectsUnsupportedKeyType(t *testing.T) {
	_, err := ParsePrivateJWK(`{"kty":"RSA","crv":"P-256","x":"","y":"","d":""}`)
	require.Error(t, err)
}

func TestPublicJWK_OmitsPrivateComponent(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	raw, err := PublicJWK(kp.Public)
	require.NoError(t, err)
	require.NotContains(t, raw, `"d"`)
	require.Contains(t, raw, `"crv":"P-256"`)
}
