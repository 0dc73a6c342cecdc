package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/tapboard/tapboard/internal/model"
)

// fakeViews serves canned views and counts recomputes.
type fakeViews struct {
	mu         sync.Mutex
	recomputes int
	units      int
}

func (f *fakeViews) Leaderboard(_ context.Context, eventID string) (*model.LeaderboardView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recomputes++
	return &model.LeaderboardView{
		EventID: eventID,
		Males:   []model.LeaderboardRow{{Name: "Adam", Units: f.units}},
		Females: []model.LeaderboardRow{},
	}, nil
}

func (f *fakeViews) Dashboard(_ context.Context, eventID *string) (*model.DashboardView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &model.DashboardView{EventID: eventID, TotalUnits: f.units}, nil
}

func (f *fakeViews) setUnits(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.units = n
}

func recv(t *testing.T, c *Conn) model.Update {
	t.Helper()
	select {
	case payload, ok := <-c.Send():
		if !ok {
			t.Fatalf("send channel closed")
		}
		var u model.Update
		if err := json.Unmarshal(payload, &u); err != nil {
			t.Fatalf("unmarshal update: %v", err)
		}
		return u
	case <-time.After(2 * time.Second):
		t.Fatalf("no update within 2s")
	}
	return model.Update{}
}

func TestNotifyPushesToSubscribers(t *testing.T) {
	views := &fakeViews{units: 7}
	b := New(views)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	c := NewConn()
	b.Subscribe(c, "e1")
	defer b.Unsubscribe(c, "e1")

	b.Notify("e1")

	u := recv(t, c)
	if u.Dashboard.TotalUnits != 7 {
		t.Errorf("dashboard units = %d, want 7", u.Dashboard.TotalUnits)
	}
	if u.Leaderboard.EventID != "e1" {
		t.Errorf("leaderboard event = %q, want e1", u.Leaderboard.EventID)
	}
}

func TestNotifyOnlyReachesOwnEvent(t *testing.T) {
	views := &fakeViews{}
	b := New(views)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	c1 := NewConn()
	c2 := NewConn()
	b.Subscribe(c1, "e1")
	b.Subscribe(c2, "e2")
	defer b.Unsubscribe(c1, "e1")
	defer b.Unsubscribe(c2, "e2")

	b.Notify("e1")
	recv(t, c1)

	select {
	case <-c2.Send():
		t.Errorf("subscriber of e2 received an e1 update")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribeIdempotent(t *testing.T) {
	views := &fakeViews{}
	b := New(views)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	c := NewConn()
	b.Subscribe(c, "e1")
	b.Subscribe(c, "e1")

	b.Notify("e1")
	recv(t, c)

	// A second subscribe must not have produced a duplicate delivery.
	select {
	case <-c.Send():
		t.Errorf("duplicate delivery after double subscribe")
	case <-time.After(100 * time.Millisecond):
	}

	b.Unsubscribe(c, "e1")
	b.Unsubscribe(c, "e1") // idempotent
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	views := &fakeViews{}
	b := New(views)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	slow := NewConn()
	fast := NewConn()
	b.Subscribe(slow, "e1")
	b.Subscribe(fast, "e1")
	defer b.Unsubscribe(slow, "e1")
	defer b.Unsubscribe(fast, "e1")

	// Fill the slow connection's buffer; nobody drains it.
	for i := 0; i < sendBuffer+4; i++ {
		b.Notify("e1")
		recv(t, fast)
	}
}

func TestCoalescedNotifiesCarryLatestState(t *testing.T) {
	views := &fakeViews{}
	b := New(views)

	// Queue several notifications before the worker runs: they coalesce into
	// one recompute that sees the final state.
	views.setUnits(1)
	b.Notify("e1")
	views.setUnits(2)
	b.Notify("e1")
	views.setUnits(3)
	b.Notify("e1")

	c := NewConn()
	b.Subscribe(c, "e1")
	defer b.Unsubscribe(c, "e1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	u := recv(t, c)
	if u.Dashboard.TotalUnits != 3 {
		t.Errorf("coalesced update units = %d, want latest state 3", u.Dashboard.TotalUnits)
	}

	views.mu.Lock()
	n := views.recomputes
	views.mu.Unlock()
	if n != 1 {
		t.Errorf("recomputes = %d, want 1 for three coalesced notifies", n)
	}
}

func TestUnsubscribeClosesSend(t *testing.T) {
	b := New(&fakeViews{})
	c := NewConn()
	b.Subscribe(c, "e1")
	b.Unsubscribe(c, "e1")

	select {
	case _, ok := <-c.Send():
		if ok {
			t.Errorf("expected closed channel, got payload")
		}
	case <-time.After(time.Second):
		t.Errorf("send channel not closed after unsubscribe")
	}
}
