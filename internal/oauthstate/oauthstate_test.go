package oauthstate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTakeAndDelete_ReturnsEntryOnce(t *testing.T) {
	s := New()
	s.Put("state-1", Entry{Verifier: "v", RedirectURI: "https://app.example.com/cb"})

	e, ok := s.TakeAndDelete("state-1")
	require.True(t, ok)
	require.Equal(t, "v", e.Verifier)
	require.Equal(t, "https://app.example.com/cb", e.RedirectURI)

	_, ok = s.TakeAndDelete("state-1")
	require.False(t, ok, "a state must not be redeemable a second time")
}

func TestTakeAndDelete_UnknownStateFails(t *testing.T) {
	s := New()
	_, ok := s.TakeAndDelete("never-put")
	require.False(t, ok)
}
