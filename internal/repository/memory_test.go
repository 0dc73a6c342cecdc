package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/tapboard/tapboard/internal/model"
)

func newTestStore(t *testing.T) (*MemoryStore, *model.Event, *model.Participant) {
	t.Helper()
	s := NewMemoryStore()
	ctx := context.Background()

	event, err := s.CreateEvent(ctx, model.CreateEventRequest{Name: "Summer Fest"})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	p, err := s.CreateParticipant(ctx, model.CreateParticipantRequest{Name: "Anna", Gender: model.GenderFemale})
	if err != nil {
		t.Fatalf("create participant: %v", err)
	}
	return s, event, p
}

func TestBarrelCreateDeactivatesOthers(t *testing.T) {
	s, event, _ := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateBarrel(ctx, event.ID, 10)
	if err != nil {
		t.Fatalf("create barrel: %v", err)
	}
	second, err := s.CreateBarrel(ctx, event.ID, 15)
	if err != nil {
		t.Fatalf("create barrel: %v", err)
	}

	barrels, _ := s.ListBarrels(ctx, event.ID)
	if len(barrels) != 2 {
		t.Fatalf("got %d barrels, want 2", len(barrels))
	}
	for _, b := range barrels {
		switch b.ID {
		case first.ID:
			if b.IsActive {
				t.Errorf("first barrel still active after second was tapped")
			}
		case second.ID:
			if !b.IsActive {
				t.Errorf("second barrel not active")
			}
		}
	}
	if second.OrderNumber != first.OrderNumber+1 {
		t.Errorf("order numbers %d, %d: want consecutive", first.OrderNumber, second.OrderNumber)
	}
}

func TestBarrelExhaustion(t *testing.T) {
	s, event, p := newTestStore(t)
	ctx := context.Background()

	barrel, err := s.CreateBarrel(ctx, event.ID, 15) // 30 units
	if err != nil {
		t.Fatalf("create barrel: %v", err)
	}
	if barrel.RemainingUnits != 30 {
		t.Fatalf("remaining = %d, want 30", barrel.RemainingUnits)
	}

	for i := 0; i < 30; i++ {
		entry, err := s.Add(ctx, &event.ID, p.ID, AddOptions{})
		if err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
		if entry.BarrelID == nil || *entry.BarrelID != barrel.ID {
			t.Fatalf("add %d: entry not charged to the barrel", i)
		}
	}

	barrels, _ := s.ListBarrels(ctx, event.ID)
	if barrels[0].RemainingUnits != 0 {
		t.Errorf("remaining = %d, want 0", barrels[0].RemainingUnits)
	}
	if barrels[0].IsActive {
		t.Errorf("exhausted barrel still active")
	}

	// One more unit: recorded, but without a barrel.
	entry, err := s.Add(ctx, &event.ID, p.ID, AddOptions{})
	if err != nil {
		t.Fatalf("add past capacity: %v", err)
	}
	if entry.BarrelID != nil {
		t.Errorf("entry past capacity got barrel %s, want none", *entry.BarrelID)
	}
}

func TestReleaseNeverReactivates(t *testing.T) {
	s, event, p := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateBarrel(ctx, event.ID, 10); err != nil { // 20 units
		t.Fatalf("create barrel: %v", err)
	}
	for i := 0; i < 20; i++ {
		if _, err := s.Add(ctx, &event.ID, p.ID, AddOptions{}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	if _, err := s.RemoveLast(ctx, &event.ID, p.ID); err != nil {
		t.Fatalf("remove last: %v", err)
	}

	barrels, _ := s.ListBarrels(ctx, event.ID)
	if barrels[0].RemainingUnits != 1 {
		t.Errorf("remaining = %d, want 1 after release", barrels[0].RemainingUnits)
	}
	if barrels[0].IsActive {
		t.Errorf("released barrel reactivated; reactivation must stay explicit")
	}

	// With the barrel inactive its returned unit is not reservable.
	entry, err := s.Add(ctx, &event.ID, p.ID, AddOptions{})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if entry.BarrelID != nil {
		t.Errorf("inactive barrel was reserved from")
	}
}

func TestAddRemoveCount(t *testing.T) {
	s, event, p := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateBarrel(ctx, event.ID, 50); err != nil {
		t.Fatalf("create barrel: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := s.Add(ctx, &event.ID, p.ID, AddOptions{}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := s.RemoveLast(ctx, &event.ID, p.ID); err != nil {
			t.Fatalf("remove: %v", err)
		}
	}

	n, err := s.CountFor(ctx, event.ID, p.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}

	got, _ := s.GetParticipant(ctx, p.ID)
	if got.TotalUnits != 3 {
		t.Errorf("total units = %d, want 3", got.TotalUnits)
	}
}

func TestRemoveLastEmpty(t *testing.T) {
	s, event, p := newTestStore(t)
	ctx := context.Background()

	if _, err := s.RemoveLast(ctx, &event.ID, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("remove with no entries: got %v, want ErrNotFound", err)
	}

	n, _ := s.CountFor(ctx, event.ID, p.ID)
	if n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
}

func TestGlobalAddSkipsBarrel(t *testing.T) {
	s, event, p := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateBarrel(ctx, event.ID, 10); err != nil {
		t.Fatalf("create barrel: %v", err)
	}

	entry, err := s.Add(ctx, nil, p.ID, AddOptions{})
	if err != nil {
		t.Fatalf("global add: %v", err)
	}
	if entry.EventID != nil || entry.BarrelID != nil {
		t.Errorf("global entry tagged with event or barrel")
	}

	barrels, _ := s.ListBarrels(ctx, event.ID)
	if barrels[0].RemainingUnits != 20 {
		t.Errorf("global add consumed barrel capacity")
	}

	// Global entries never show up in the event score.
	n, _ := s.CountFor(ctx, event.ID, p.ID)
	if n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
}

func TestSpilledConsumesCapacity(t *testing.T) {
	s, event, p := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateBarrel(ctx, event.ID, 10); err != nil {
		t.Fatalf("create barrel: %v", err)
	}
	entry, err := s.Add(ctx, &event.ID, p.ID, AddOptions{Spilled: true})
	if err != nil {
		t.Fatalf("add spilled: %v", err)
	}
	if entry.BarrelID == nil {
		t.Fatalf("spilled entry did not reserve capacity")
	}
	barrels, _ := s.ListBarrels(ctx, event.ID)
	if barrels[0].RemainingUnits != 19 {
		t.Errorf("remaining = %d, want 19", barrels[0].RemainingUnits)
	}
}

func TestConcurrentAddsNeverOvershoot(t *testing.T) {
	s, event, p := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateBarrel(ctx, event.ID, 15); err != nil { // 30 units
		t.Fatalf("create barrel: %v", err)
	}

	const calls = 50
	entries := make([]*model.Entry, calls)
	var wg sync.WaitGroup
	wg.Add(calls)
	for i := 0; i < calls; i++ {
		go func(i int) {
			defer wg.Done()
			entry, err := s.Add(ctx, &event.ID, p.ID, AddOptions{})
			if err != nil {
				t.Errorf("add %d: %v", i, err)
				return
			}
			entries[i] = entry
		}(i)
	}
	wg.Wait()

	withBarrel, withoutBarrel := 0, 0
	for _, e := range entries {
		if e == nil {
			continue
		}
		if e.BarrelID != nil {
			withBarrel++
		} else {
			withoutBarrel++
		}
	}
	if withBarrel != 30 {
		t.Errorf("entries with barrel = %d, want exactly 30", withBarrel)
	}
	if withoutBarrel != 20 {
		t.Errorf("entries without barrel = %d, want 20", withoutBarrel)
	}

	barrels, _ := s.ListBarrels(ctx, event.ID)
	if barrels[0].RemainingUnits != 0 {
		t.Errorf("remaining = %d, want exactly 0", barrels[0].RemainingUnits)
	}
	if barrels[0].IsActive {
		t.Errorf("exhausted barrel still active")
	}
}

func TestActivateEventExclusive(t *testing.T) {
	s, first, _ := newTestStore(t)
	ctx := context.Background()

	second, err := s.CreateEvent(ctx, model.CreateEventRequest{Name: "Autumn Fest"})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	if err := s.ActivateEvent(ctx, first.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := s.ActivateEvent(ctx, second.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}

	events, _ := s.ListEvents(ctx)
	active := 0
	for _, e := range events {
		if e.IsActive {
			active++
			if e.ID != second.ID {
				t.Errorf("wrong event active: %s", e.Name)
			}
		}
	}
	if active != 1 {
		t.Errorf("%d active events, want exactly 1", active)
	}
}

func TestRebuildTotalsConverges(t *testing.T) {
	s, event, p := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateBarrel(ctx, event.ID, 10); err != nil {
		t.Fatalf("create barrel: %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, err := s.Add(ctx, &event.ID, p.ID, AddOptions{}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if _, err := s.RemoveLast(ctx, &event.ID, p.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}

	// Corrupt the cached projection, then rebuild from the ledger.
	s.mu.Lock()
	s.participants[p.ID].TotalUnits = 99
	s.mu.Unlock()

	n, err := s.RebuildParticipantTotals(ctx, p.ID)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if n != 3 {
		t.Errorf("rebuilt total = %d, want 3", n)
	}
}

func TestJoinEventIdempotent(t *testing.T) {
	s, event, p := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.JoinEvent(ctx, event.ID, p.ID); err != nil {
			t.Fatalf("join: %v", err)
		}
	}
	n, _ := s.ParticipantCount(ctx, &event.ID)
	if n != 1 {
		t.Errorf("member count = %d, want 1", n)
	}
}
