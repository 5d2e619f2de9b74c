package networkclient

import "testing"

func TestContainsNonceChallenge_DetectsDpopNonceError(t *testing.T) {
	if !containsNonceChallenge([]byte(`{"error":"use_dpop_nonce"}`)) {
		t.Fatalf("expected nonce challenge to be detected")
	}
	if containsNonceChallenge([]byte(`{"error":"invalid_request"}`)) {
		t.Fatalf("did not expect nonce challenge match")
	}
}

func TestContainsExpiredToken_DetectsKnownErrorCodes(t *testing.T) {
	if !containsExpiredToken([]byte(`{"error":"invalid_token"}`)) {
		t.Fatalf("expected invalid_token to match")
	}
	if !containsExpiredToken([]byte(`{"error":"expired_access_token"}`)) {
		t.Fatalf("expected expired_access_token to match")
	}
	if containsExpiredToken([]byte(`{"error":"server_error"}`)) {
		t.Fatalf("did not expect unrelated error body to match")
	}
}

func TestHostOf_StripsSchemeAndPath(t *testing.T) {
	cases := map[string]string{
		"https://bsky.social/xrpc/foo": "bsky.social",
		"http://localhost:8080/a/b":    "localhost:8080",
		"bsky.social":                  "bsky.social",
	}
	for in, want := range cases {
		if got := hostOf(in); got != want {
			t.Fatalf("hostOf(%q) = %q, want %q", in, got, want)
		}
	}
}
