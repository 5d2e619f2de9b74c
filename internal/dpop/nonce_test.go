package dpop

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNonceStore_StoreAndGetRoundTrip(t *testing.T) {
	n := NewNonceStore()

	_, ok := n.Get("user-1", "bsky.social")
	require.False(t, ok)

	n.Store("user-1", "bsky.social", "nonce-abc")
	v, ok := n.Get("user-1", "bsky.social")
	require.True(t, ok)
	require.Equal(t, "nonce-abc", v)
}

func TestNonceStore_StoreEmptyNonceIsNoop(t *testing.T) {
	n := NewNonceStore()
	n.Store("user-1", "bsky.social", "nonce-abc")
	n.Store("user-1", "bsky.social", "")

	v, ok := n.Get("user-1", "bsky.social")
	require.True(t, ok)
	require.Equal(t, "nonce-abc", v)
}

func TestNonceStore_ClearRemovesKnownNonce(t *testing.T) {
	n := NewNonceStore()
	n.Store("user-1", "bsky.social", "nonce-abc")
	n.Clear("user-1", "bsky.social")

	_, ok := n.Get("user-1", "bsky.social")
	require.False(t, ok)
}

func TestNonceStore_KeysAreScopedPerUserAndHost(t *testing.T) {
	n := NewNonceStore()
	n.Store("user-1", "bsky.social", "nonce-a")
	n.Store("user-2", "bsky.social", "nonce-b")
	n.Store("user-1", "other.host", "nonce-c")

	v, _ := n.Get("user-1", "bsky.social")
	require.Equal(t, "nonce-a", v)
	v, _ = n.Get("user-2", "bsky.social")
	require.Equal(t, "nonce-b", v)
	v, _ = n.Get("user-1", "other.host")
	require.Equal(t, "nonce-c", v)
}
