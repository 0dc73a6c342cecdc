// Package broadcast maintains per-event subscriber groups and pushes
// refreshed aggregate views to them after every committed ledger mutation.
package broadcast

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tapboard/tapboard/internal/metrics"
	"github.com/tapboard/tapboard/internal/model"
)

// recomputeTimeout bounds the aggregate queries on the notify path. A view
// that cannot be computed in time is skipped; clients reconcile on their
// next pull.
const recomputeTimeout = 5 * time.Second

// sendBuffer is the per-connection queue depth. A connection that falls this
// far behind has its updates dropped rather than blocking the fan-out;
// every update carries full state, so the next delivery repairs it.
const sendBuffer = 8

// Views is the slice of the aggregator the broadcaster recomputes on notify.
type Views interface {
	Leaderboard(ctx context.Context, eventID string) (*model.LeaderboardView, error)
	Dashboard(ctx context.Context, eventID *string) (*model.DashboardView, error)
}

var nextConnID atomic.Int64

// Conn is one subscribed client connection. Payloads are queued on a
// buffered channel; the transport's write pump drains it.
type Conn struct {
	id   int64
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// NewConn allocates a connection with a fresh id.
func NewConn() *Conn {
	return &Conn{id: nextConnID.Add(1), send: make(chan []byte, sendBuffer)}
}

// Send returns the channel the write pump drains. It is closed when the
// connection is torn down.
func (c *Conn) Send() <-chan []byte { return c.send }

// trySend queues a payload without blocking. False means the connection is
// gone or too far behind.
func (c *Conn) trySend(p []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- p:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Broadcaster fans refreshed views out to per-event subscriber sets.
//
// Notify does not recompute inline: it marks the event dirty and wakes a
// worker goroutine, so the writer's response path never waits on aggregate
// queries or slow subscribers. Back-to-back notifications for one event
// coalesce into a single recompute, which is sound because every push
// carries the full recomputed state.
type Broadcaster struct {
	views Views

	mu      sync.Mutex
	subs    map[string]map[int64]*Conn // eventID -> connID -> conn
	pending map[string]bool
	wake    chan struct{}
}

// New constructs a Broadcaster. Run must be started for notifications to be
// delivered.
func New(views Views) *Broadcaster {
	return &Broadcaster{
		views:   views,
		subs:    make(map[string]map[int64]*Conn),
		pending: make(map[string]bool),
		wake:    make(chan struct{}, 1),
	}
}

// Subscribe adds the connection to the event's subscriber set. Subscribing
// the same connection twice is a no-op.
func (b *Broadcaster) Subscribe(c *Conn, eventID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[eventID]
	if !ok {
		set = make(map[int64]*Conn)
		b.subs[eventID] = set
	}
	if _, ok := set[c.id]; ok {
		return
	}
	set[c.id] = c
	metrics.Subscribers.Inc()
}

// Unsubscribe removes the connection from the event's subscriber set and
// closes its send channel. Idempotent.
func (b *Broadcaster) Unsubscribe(c *Conn, eventID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[eventID]
	if !ok {
		return
	}
	if _, ok := set[c.id]; !ok {
		return
	}
	delete(set, c.id)
	if len(set) == 0 {
		delete(b.subs, eventID)
	}
	c.close()
	metrics.Subscribers.Dec()
}

// Notify marks the event's views dirty and wakes the worker. It must only be
// called after a committed mutation, and it never blocks.
func (b *Broadcaster) Notify(eventID string) {
	b.mu.Lock()
	b.pending[eventID] = true
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Run drains pending notifications until ctx is done. Usually started as
// `go b.Run(ctx)` from main.
func (b *Broadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.wake:
		}
		for {
			eventID, ok := b.takePending()
			if !ok {
				break
			}
			b.push(ctx, eventID)
		}
	}
}

func (b *Broadcaster) takePending() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id := range b.pending {
		delete(b.pending, id)
		return id, true
	}
	return "", false
}

// push recomputes both views for the event and fans the payload out. A slow
// or failed connection is skipped on its own; it never affects the others.
func (b *Broadcaster) push(ctx context.Context, eventID string) {
	b.mu.Lock()
	conns := make([]*Conn, 0, len(b.subs[eventID]))
	for _, c := range b.subs[eventID] {
		conns = append(conns, c)
	}
	b.mu.Unlock()
	if len(conns) == 0 {
		return
	}

	qctx, cancel := context.WithTimeout(ctx, recomputeTimeout)
	defer cancel()

	leaderboard, err := b.views.Leaderboard(qctx, eventID)
	if err != nil {
		log.Printf("broadcast: leaderboard recompute for event %s failed: %v", eventID, err)
		return
	}
	dashboard, err := b.views.Dashboard(qctx, &eventID)
	if err != nil {
		log.Printf("broadcast: dashboard recompute for event %s failed: %v", eventID, err)
		return
	}

	payload, err := json.Marshal(model.Update{Leaderboard: *leaderboard, Dashboard: *dashboard})
	if err != nil {
		log.Printf("broadcast: marshal update for event %s failed: %v", eventID, err)
		return
	}

	for _, c := range conns {
		if c.trySend(payload) {
			metrics.BroadcastsSent.Inc()
		} else {
			metrics.BroadcastsDropped.Inc()
		}
	}
}
