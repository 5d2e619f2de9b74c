package httpapi

import (
	"testing"
	"time"

	"github.com/dropDatabas3/postdispatch/internal/store"
)

func TestToPostResponse_MapsAllFields(t *testing.T) {
	parent := "parent-1"
	root := "root-1"
	scheduledAt := time.Date(2026, 8, 6, 15, 0, 0, 0, time.UTC)

	p := &store.ScheduledPost{
		ID:           "post-1",
		Body:         "hello world",
		ScheduledAt:  scheduledAt,
		Status:       store.PostStatus("PENDING"),
		RetryCount:   2,
		RecordURI:    "at://did:plc:abc/app.bsky.feed.post/xyz",
		ErrorMsg:     "timed out",
		ParentPostID: &parent,
		ThreadRootID: &root,
		ThreadIndex:  3,
	}

	got := toPostResponse(p)

	if got.ID != p.ID || got.Body != p.Body {
		t.Fatalf("id/body mismatch: %+v", got)
	}
	if got.ScheduledAt != scheduledAt.Format(time.RFC3339) {
		t.Fatalf("scheduledAt = %q, want RFC3339 of %v", got.ScheduledAt, scheduledAt)
	}
	if got.Status != "PENDING" {
		t.Fatalf("status = %q", got.Status)
	}
	if got.RetryCount != 2 || got.ThreadIndex != 3 {
		t.Fatalf("counters mismatch: %+v", got)
	}
	if got.ParentPostID == nil || *got.ParentPostID != parent {
		t.Fatalf("parentPostId mismatch: %+v", got)
	}
	if got.ThreadRootID == nil || *got.ThreadRootID != root {
		t.Fatalf("threadRootId mismatch: %+v", got)
	}
}
