package sqlite

import (
	"context"
	"testing"
)

func TestRecordAndRecentEvents(t *testing.T) {
	db, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	// Schema creation is idempotent.
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	events := []struct{ event, detail string }{
		{"start", "pid=100"},
		{"stop", "graceful"},
		{"restart", "pid=101"},
	}
	for _, e := range events {
		if err := db.RecordEvent(ctx, "survival", e.event, e.detail); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.RecordEvent(ctx, "creative", "start", ""); err != nil {
		t.Fatal(err)
	}

	got, err := db.RecentEvents(ctx, "survival", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("limit ignored: got %d events", len(got))
	}
	// Newest first.
	if got[0].Event != "restart" || got[1].Event != "stop" {
		t.Fatalf("unexpected order: %v, %v", got[0].Event, got[1].Event)
	}
	if got[0].Profile != "survival" {
		t.Fatalf("profile filter leaked: %+v", got[0])
	}
	if got[0].OccurredAt.IsZero() {
		t.Fatal("occurred_at not recorded")
	}
}
