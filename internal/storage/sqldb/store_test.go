package sqldb

import (
	"context"
	"sync"
	"testing"

	"github.com/showpath/showgate/internal/core/domain"
	"github.com/showpath/showgate/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew_UnsupportedDriver(t *testing.T) {
	_, err := New(Config{Driver: "postgres", DSN: ""})
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestIncrementOccurrence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for want := 0; want < 4; want++ {
		prior, err := s.IncrementOccurrence(ctx, "k")
		if err != nil {
			t.Fatalf("IncrementOccurrence: %v", err)
		}
		if prior != want {
			t.Errorf("prior = %d, want %d", prior, want)
		}
	}

	count, err := s.OccurrenceCount(ctx, "k")
	if err != nil {
		t.Fatalf("OccurrenceCount: %v", err)
	}
	if count != 4 {
		t.Errorf("count = %d, want 4", count)
	}

	// A different key has its own counter.
	if count, _ := s.OccurrenceCount(ctx, "other"); count != 0 {
		t.Errorf("unrelated key count = %d, want 0", count)
	}
}

func TestIncrementOccurrence_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 32
	priors := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := s.IncrementOccurrence(ctx, "k")
			if err != nil {
				t.Errorf("IncrementOccurrence: %v", err)
				return
			}
			priors[i] = p
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool, n)
	for _, p := range priors {
		if seen[p] {
			t.Fatalf("duplicate prior count %d", p)
		}
		seen[p] = true
	}
}

func TestAssignments_PartitionMove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := domain.Assignment{
		ExperimentID: "exp1",
		Variant:      domain.Variant{ID: "v1", Type: domain.VariantTreatment, PaywallID: "pw1"},
	}

	if err := s.SaveAssignment(ctx, storage.PartitionUnconfirmed, a); err != nil {
		t.Fatalf("SaveAssignment: %v", err)
	}
	unconfirmed, err := s.Assignments(ctx, storage.PartitionUnconfirmed)
	if err != nil {
		t.Fatalf("Assignments: %v", err)
	}
	if len(unconfirmed) != 1 {
		t.Fatalf("expected 1 unconfirmed assignment, got %d", len(unconfirmed))
	}

	// Re-saving into confirmed moves the row, it does not duplicate it.
	if err := s.SaveAssignment(ctx, storage.PartitionConfirmed, a); err != nil {
		t.Fatalf("SaveAssignment: %v", err)
	}
	unconfirmed, _ = s.Assignments(ctx, storage.PartitionUnconfirmed)
	if len(unconfirmed) != 0 {
		t.Errorf("expected 0 unconfirmed assignments after confirm, got %d", len(unconfirmed))
	}
	confirmed, _ := s.Assignments(ctx, storage.PartitionConfirmed)
	if len(confirmed) != 1 {
		t.Fatalf("expected 1 confirmed assignment, got %d", len(confirmed))
	}
	got := confirmed[0]
	if got.Variant.ID != "v1" || got.Variant.Type != domain.VariantTreatment || got.Variant.PaywallID != "pw1" {
		t.Errorf("unexpected assignment round-trip: %+v", got)
	}
}

func TestPendingEvents_Roundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	events := []domain.Event{
		domain.NewEvent("first", map[string]domain.Value{"plan": domain.StringValue("free")}),
		domain.NewEvent("second", nil),
	}
	if err := s.SavePendingEvents(ctx, events); err != nil {
		t.Fatalf("SavePendingEvents: %v", err)
	}

	got, err := s.PendingEvents(ctx)
	if err != nil {
		t.Fatalf("PendingEvents: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 pending events, got %d", len(got))
	}
	if got[0].Name != "first" || got[1].Name != "second" {
		t.Errorf("pending events out of order: %q, %q", got[0].Name, got[1].Name)
	}
	if !got[0].Parameter("plan").Equal(domain.StringValue("free")) {
		t.Errorf("event parameters lost in round-trip: %+v", got[0].Parameters)
	}

	// Replacing with an empty slice clears the queue.
	if err := s.SavePendingEvents(ctx, nil); err != nil {
		t.Fatalf("SavePendingEvents: %v", err)
	}
	got, _ = s.PendingEvents(ctx)
	if len(got) != 0 {
		t.Errorf("expected empty queue, got %d events", len(got))
	}
}

func TestKV(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if v, err := s.Get(ctx, "missing"); err != nil || v != "" {
		t.Errorf("Get(missing) = %q, %v", v, err)
	}
	if err := s.Set(ctx, "anon_id", "u1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "anon_id", "u2"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	if v, _ := s.Get(ctx, "anon_id"); v != "u2" {
		t.Errorf("Get = %q, want u2", v)
	}
}
