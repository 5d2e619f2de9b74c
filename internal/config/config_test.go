package config

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseKVList_ParsesWellFormedPairs(t *testing.T) {
	got := parseKVList("node1=10.0.0.1:7000,node2=10.0.0.2:7000", ",")
	want := map[string]string{"node1": "10.0.0.1:7000", "node2": "10.0.0.2:7000"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParseKVList_EmptyStringReturnsEmptyMap(t *testing.T) {
	got := parseKVList("", ",")
	if len(got) != 0 {
		t.Fatalf("expected empty map, got %v", got)
	}
}

func TestParseKVList_SkipsMalformedEntries(t *testing.T) {
	got := parseKVList("good=1, =2, bad3=, ,also=ok", ",")
	want := map[string]string{"good": "1", "also": "ok"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestValidate_RequiresDSN(t *testing.T) {
	c := &Config{}
	c.Security.EncryptionKey = "x"
	c.Auth.ClientID = "x"

	if err := c.Validate(); err == nil {
		t.Fatalf("expected error when storage.dsn is empty")
	}
}

func TestValidate_RequiresEncryptionKey(t *testing.T) {
	c := &Config{}
	c.Storage.DSN = "postgres://x"
	c.Auth.ClientID = "x"

	if err := c.Validate(); err == nil {
		t.Fatalf("expected error when security.encryption_key is empty")
	}
}

func TestValidate_RejectsMalformedDuration(t *testing.T) {
	c := &Config{}
	c.Storage.DSN = "postgres://x"
	c.Security.EncryptionKey = strings.Repeat("-", 32)
	c.Auth.ClientID = "x"
	c.Dispatcher.TickInterval = "not-a-duration"

	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for malformed duration")
	}
}

func TestValidate_AcceptsMinimalValidConfig(t *testing.T) {
	c := &Config{}
	c.Storage.DSN = "postgres://x"
	c.Security.EncryptionKey = strings.Repeat("-", 32)
	c.Auth.ClientID = "x"
	c.Dispatcher.TickInterval = "60s"

	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
