package tokens

import "testing"

func TestGenerateOpaqueToken_LengthMatchesEncodedByteCount(t *testing.T) {
	tok, err := GenerateOpaqueToken(24)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// base64.RawURLEncoding on 24 bytes yields ceil(24*8/6) = 32 chars, no padding.
	if len(tok) != 32 {
		t.Fatalf("got length %d, want 32", len(tok))
	}
}

func TestGenerateOpaqueToken_DistinctAcrossCalls(t *testing.T) {
	a, err := GenerateOpaqueToken(16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := GenerateOpaqueToken(16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct tokens across calls")
	}
}

func TestSHA256Base64URL_DeterministicForSameInput(t *testing.T) {
	a := SHA256Base64URL("hello")
	b := SHA256Base64URL("hello")
	if a != b {
		t.Fatalf("expected deterministic hash, got %q and %q", a, b)
	}
	if SHA256Base64URL("hello") == SHA256Base64URL("world") {
		t.Fatalf("expected different inputs to hash differently")
	}
}

func TestSHA256Hex_MatchesKnownVector(t *testing.T) {
	got := SHA256Hex("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Fatalf("SHA256Hex(\"abc\") = %q, want %q", got, want)
	}
}
