package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dropDatabas3/postdispatch/internal/coreerr"
)

func TestGate_WouldExceedIsNonMutating(t *testing.T) {
	g := NewGate(NewMultiMemoryLimiter("test:"))
	g.Register("api", 2, time.Minute)
	ctx := context.Background()

	exceed, err := g.WouldExceed(ctx, "api:user-1", 1)
	if err != nil {
		t.Fatalf("WouldExceed err: %v", err)
	}
	if exceed {
		t.Fatalf("expected fresh bucket to not exceed")
	}

	// Peek must not have consumed the budget: Record twice should still fit.
	if _, err := g.Record(ctx, "api:user-1", 1); err != nil {
		t.Fatalf("Record err: %v", err)
	}
	if _, err := g.Record(ctx, "api:user-1", 1); err != nil {
		t.Fatalf("Record err: %v", err)
	}

	exceed, err = g.WouldExceed(ctx, "api:user-1", 1)
	if err != nil {
		t.Fatalf("WouldExceed err: %v", err)
	}
	if !exceed {
		t.Fatalf("expected exhausted bucket to report WouldExceed=true")
	}
}

func TestGate_RecordReturnsRemaining(t *testing.T) {
	g := NewGate(NewMultiMemoryLimiter("test:"))
	g.Register("api", 3, time.Minute)
	ctx := context.Background()

	remaining, err := g.Record(ctx, "api:user-2", 1)
	if err != nil {
		t.Fatalf("Record err: %v", err)
	}
	if remaining != 2 {
		t.Fatalf("expected remaining=2, got %d", remaining)
	}
}

func TestGate_WaitForAvailabilityUnblocksAfterWindowReset(t *testing.T) {
	g := NewGate(NewMultiMemoryLimiter("test:"))
	g.Register("api", 1, 20*time.Millisecond)
	ctx := context.Background()

	if _, err := g.Record(ctx, "api:user-3", 1); err != nil {
		t.Fatalf("Record err: %v", err)
	}

	start := time.Now()
	if err := g.WaitForAvailability(ctx, "api:user-3", 1); err != nil {
		t.Fatalf("WaitForAvailability err: %v", err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatalf("expected WaitForAvailability to block until window reset")
	}
}

func TestGate_WaitForAvailabilityHonorsCancellation(t *testing.T) {
	g := NewGate(NewMultiMemoryLimiter("test:"))
	g.Register("api", 1, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := g.Record(context.Background(), "api:user-4", 1); err != nil {
		t.Fatalf("Record err: %v", err)
	}

	err := g.WaitForAvailability(ctx, "api:user-4", 1)
	if !errors.Is(err, coreerr.Cancelled) {
		t.Fatalf("expected coreerr.Cancelled, got %v", err)
	}
}
