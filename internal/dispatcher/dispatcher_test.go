package dispatcher

import (
	"testing"

	"github.com/dropDatabas3/postdispatch/internal/store"
)

func strPtr(s string) *string { return &s }

func TestGroupByThread_GroupsRootAndChildrenTogether(t *testing.T) {
	root := &store.ScheduledPost{ID: "root"}
	child := &store.ScheduledPost{ID: "child", ThreadRootID: strPtr("root")}
	standalone := &store.ScheduledPost{ID: "solo"}

	groups := groupByThread([]*store.ScheduledPost{root, child, standalone})

	if len(groups["root"]) != 2 {
		t.Fatalf("expected root+child grouped under %q, got %d members", "root", len(groups["root"]))
	}
	if len(groups["solo"]) != 1 {
		t.Fatalf("expected standalone post in its own group, got %d members", len(groups["solo"]))
	}
}

func TestDueInThreadOrder_PreservesCanonicalOrderAndFiltersToDue(t *testing.T) {
	root := &store.ScheduledPost{ID: "root", ThreadIndex: 0}
	mid := &store.ScheduledPost{ID: "mid", ThreadRootID: strPtr("root"), ThreadIndex: 1}
	tail := &store.ScheduledPost{ID: "tail", ThreadRootID: strPtr("root"), ThreadIndex: 2}
	thread := []*store.ScheduledPost{root, mid, tail}

	due := []*store.ScheduledPost{tail, root} // due in arbitrary order

	got := dueInThreadOrder(thread, due)
	if len(got) != 2 || got[0].ID != "root" || got[1].ID != "tail" {
		t.Fatalf("expected [root, tail] in thread order, got %+v", got)
	}
}

func TestParseHHMM_ValidInput(t *testing.T) {
	got := parseHHMM("03:45")
	if got.hour != 3 || got.minute != 45 {
		t.Fatalf("expected 03:45, got %02d:%02d", got.hour, got.minute)
	}
}

func TestParseHHMM_MalformedInputFallsBackToDefault(t *testing.T) {
	cases := []string{"", "3:4", "abcde", "03-45"}
	for _, c := range cases {
		got := parseHHMM(c)
		if got.hour != 3 || got.minute != 0 {
			t.Fatalf("parseHHMM(%q): expected fallback 03:00, got %02d:%02d", c, got.hour, got.minute)
		}
	}
}

func TestParseHHMM_MidnightAndLateHours(t *testing.T) {
	got := parseHHMM("00:00")
	if got.hour != 0 || got.minute != 0 {
		t.Fatalf("expected 00:00, got %02d:%02d", got.hour, got.minute)
	}

	got = parseHHMM("23:59")
	if got.hour != 23 || got.minute != 59 {
		t.Fatalf("expected 23:59, got %02d:%02d", got.hour, got.minute)
	}
}
