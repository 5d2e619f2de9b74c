package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegister_AllCollectorsRegisterWithoutCollision(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("expected at least one metric family after Register")
	}
}

func TestRegister_IsSafeOnFreshRegistryPerCall(t *testing.T) {
	// MustRegister panics on duplicate registration; registering on two
	// independent registries must not panic.
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("unexpected panic: %v", r)
		}
	}()
	Register(prometheus.NewRegistry())
	Register(prometheus.NewRegistry())
}
