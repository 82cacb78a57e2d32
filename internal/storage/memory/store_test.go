package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/showpath/showgate/internal/core/domain"
	"github.com/showpath/showgate/internal/storage"
)

func TestIncrementOccurrence(t *testing.T) {
	s := New()
	ctx := context.Background()

	for want := 0; want < 5; want++ {
		prior, err := s.IncrementOccurrence(ctx, "k")
		if err != nil {
			t.Fatalf("IncrementOccurrence: %v", err)
		}
		if prior != want {
			t.Errorf("prior = %d, want %d", prior, want)
		}
	}

	count, _ := s.OccurrenceCount(ctx, "k")
	if count != 5 {
		t.Errorf("count = %d, want 5", count)
	}
}

func TestIncrementOccurrence_Concurrent(t *testing.T) {
	s := New()
	ctx := context.Background()

	const n = 100
	priors := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			priors[i], _ = s.IncrementOccurrence(ctx, "k")
		}(i)
	}
	wg.Wait()

	// Every prior value must be distinct: no interleaving lost an update.
	seen := make(map[int]bool, n)
	for _, p := range priors {
		if seen[p] {
			t.Fatalf("duplicate prior count %d", p)
		}
		seen[p] = true
	}
	count, _ := s.OccurrenceCount(ctx, "k")
	if count != n {
		t.Errorf("count = %d, want %d", count, n)
	}
}

func TestSaveAssignment_SinglePartition(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := domain.Assignment{
		ExperimentID: "exp1",
		Variant:      domain.Variant{ID: "v1", Type: domain.VariantTreatment, PaywallID: "pw"},
	}

	if err := s.SaveAssignment(ctx, storage.PartitionUnconfirmed, a); err != nil {
		t.Fatalf("SaveAssignment: %v", err)
	}
	// Confirming moves it; it must not remain unconfirmed.
	if err := s.SaveAssignment(ctx, storage.PartitionConfirmed, a); err != nil {
		t.Fatalf("SaveAssignment: %v", err)
	}

	unconfirmed, _ := s.Assignments(ctx, storage.PartitionUnconfirmed)
	if len(unconfirmed) != 0 {
		t.Errorf("expected empty unconfirmed partition, got %d entries", len(unconfirmed))
	}
	confirmed, _ := s.Assignments(ctx, storage.PartitionConfirmed)
	if len(confirmed) != 1 || confirmed[0].ExperimentID != "exp1" {
		t.Errorf("unexpected confirmed partition: %+v", confirmed)
	}
}

func TestPendingEvents_Roundtrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	events := []domain.Event{domain.NewEvent("a", nil), domain.NewEvent("b", nil)}
	if err := s.SavePendingEvents(ctx, events); err != nil {
		t.Fatalf("SavePendingEvents: %v", err)
	}
	got, err := s.PendingEvents(ctx)
	if err != nil {
		t.Fatalf("PendingEvents: %v", err)
	}
	if len(got) != 2 || got[0].Name != "a" || got[1].Name != "b" {
		t.Errorf("unexpected pending events: %+v", got)
	}

	if err := s.SavePendingEvents(ctx, nil); err != nil {
		t.Fatalf("SavePendingEvents: %v", err)
	}
	got, _ = s.PendingEvents(ctx)
	if len(got) != 0 {
		t.Errorf("expected cleared pending events, got %d", len(got))
	}
}

func TestKV(t *testing.T) {
	s := New()
	ctx := context.Background()

	if v, _ := s.Get(ctx, "missing"); v != "" {
		t.Errorf("missing key should read empty, got %q", v)
	}
	if err := s.Set(ctx, "anon_id", "abc"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, _ := s.Get(ctx, "anon_id"); v != "abc" {
		t.Errorf("Get = %q, want abc", v)
	}
}
