package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openHistory(t *testing.T) *History {
	t.Helper()
	h, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("OpenHistory: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHistory_AppendAndQuery(t *testing.T) {
	ctx := context.Background()
	h := openHistory(t)
	base := time.Now().UTC().Truncate(time.Millisecond)

	batches := []Batch{
		{ID: "b1", Device: "dev-a", Events: []string{"Cube"}, ReceivedAt: base.Add(-2 * time.Minute)},
		{ID: "b2", Device: "dev-b", Events: []string{"Sphere", "Cube"}, ReceivedAt: base.Add(-time.Minute)},
		{ID: "b2", Device: "dev-b", Events: []string{"Sphere", "Cube"}, ReceivedAt: base, Duplicate: true},
	}
	for _, b := range batches {
		if err := h.Append(ctx, b); err != nil {
			t.Fatalf("Append %s: %v", b.ID, err)
		}
	}

	all, err := h.Query(ctx, "", time.Time{}, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Query all: got %d rows, want 3", len(all))
	}
	if !all[0].Duplicate || all[0].ID != "b2" {
		t.Errorf("newest row: got %+v", all[0])
	}
	if !all[1].ReceivedAt.Equal(base.Add(-time.Minute)) {
		t.Errorf("received_at: got %v, want %v", all[1].ReceivedAt, base.Add(-time.Minute))
	}
	if len(all[1].Events) != 2 || all[1].Events[0] != "Sphere" {
		t.Errorf("events: got %v", all[1].Events)
	}

	devA, err := h.Query(ctx, "dev-a", time.Time{}, 10)
	if err != nil {
		t.Fatalf("Query dev-a: %v", err)
	}
	if len(devA) != 1 || devA[0].ID != "b1" {
		t.Errorf("Query dev-a: got %+v", devA)
	}

	recent, _ := h.Query(ctx, "", base.Add(-90*time.Second), 10)
	if len(recent) != 2 {
		t.Errorf("Query since: got %d rows, want 2", len(recent))
	}

	limited, _ := h.Query(ctx, "", time.Time{}, 1)
	if len(limited) != 1 {
		t.Errorf("Query limit: got %d rows, want 1", len(limited))
	}
}

func TestHistory_Prune(t *testing.T) {
	ctx := context.Background()
	h := openHistory(t)
	now := time.Now()

	h.Append(ctx, Batch{ID: "old", Device: "d", Events: []string{"x"}, ReceivedAt: now.Add(-48 * time.Hour)}) //nolint:errcheck
	h.Append(ctx, Batch{ID: "new", Device: "d", Events: []string{"x"}, ReceivedAt: now})                     //nolint:errcheck

	n, err := h.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("Prune: removed %d, want 1", n)
	}
	rows, _ := h.Query(ctx, "", time.Time{}, 10)
	if len(rows) != 1 || rows[0].ID != "new" {
		t.Errorf("after prune: got %+v", rows)
	}
}
