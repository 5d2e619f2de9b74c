package httpapi

import "testing"

func TestJoinScopes_SpaceSeparated(t *testing.T) {
	got := joinScopes([]string{"atproto", "transition:generic"})
	if got != "atproto transition:generic" {
		t.Fatalf("got %q", got)
	}
}

func TestJoinScopes_EmptySlice(t *testing.T) {
	if got := joinScopes(nil); got != "" {
		t.Fatalf("got %q, want empty string", got)
	}
}

func TestJoinScopes_SingleScope(t *testing.T) {
	if got := joinScopes([]string{"atproto"}); got != "atproto" {
		t.Fatalf("got %q", got)
	}
}
