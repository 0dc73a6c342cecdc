// Package aggregate derives the ranked views — leaderboard, dashboard KPIs,
// public stats — from current store state. The views are pure recomputations
// on every call, never incrementally maintained state, so a missed broadcast
// is always repairable by a client re-pulling.
package aggregate

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tapboard/tapboard/internal/model"
	"github.com/tapboard/tapboard/internal/repository"
)

// TopN caps the top-participant excerpts on dashboards and public stats.
const TopN = 5

// globalCacheTTL bounds the only caching the aggregator does: the
// system-wide dashboard, which scans the whole ledger. Event-scoped views
// are never cached.
const globalCacheTTL = 30 * time.Second

// Aggregator recomputes derived views from the Stats source.
type Aggregator struct {
	stats repository.Stats

	mu           sync.Mutex
	globalCache  *model.DashboardView
	globalCached time.Time
}

// New constructs an Aggregator.
func New(stats repository.Stats) *Aggregator {
	return &Aggregator{stats: stats}
}

// standing accumulates one participant's counts while grouping rows.
type standing struct {
	row   model.LeaderboardRow
	g     model.Gender
	first time.Time
}

// Leaderboard computes the gender-partitioned ranking for one event.
//
// Rows sort by non-spilled units descending. Ties rank the participant whose
// first consumption came earlier ahead; participant id is the final
// deterministic key, so two calls without intervening mutations always yield
// identical results.
func (a *Aggregator) Leaderboard(ctx context.Context, eventID string) (*model.LeaderboardView, error) {
	rows, err := a.stats.ConsumptionRows(ctx, &eventID)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*standing)
	var order []*standing
	for _, r := range rows {
		s, ok := byID[r.ParticipantID]
		if !ok {
			s = &standing{
				row:   model.LeaderboardRow{ParticipantID: r.ParticipantID, Name: r.Name},
				g:     r.Gender,
				first: r.ConsumedAt,
			}
			byID[r.ParticipantID] = s
			order = append(order, s)
		}
		if r.Spilled {
			s.row.SpilledUnits++
		} else {
			s.row.Units++
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		x, y := order[i], order[j]
		if x.row.Units != y.row.Units {
			return x.row.Units > y.row.Units
		}
		if !x.first.Equal(y.first) {
			return x.first.Before(y.first)
		}
		return x.row.ParticipantID < y.row.ParticipantID
	})

	view := &model.LeaderboardView{
		EventID: eventID,
		Males:   []model.LeaderboardRow{},
		Females: []model.LeaderboardRow{},
	}
	for _, s := range order {
		if s.g == model.GenderFemale {
			view.Females = append(view.Females, s.row)
		} else {
			view.Males = append(view.Males, s.row)
		}
	}
	return view, nil
}

// Dashboard computes the KPI block, scoped to one event or system-wide when
// eventID is nil. The system-wide variant is served from a short TTL cache.
//
// TotalUnits counts non-spilled entries: spillage matters for how much is
// left in the barrels, not for how much was consumed.
func (a *Aggregator) Dashboard(ctx context.Context, eventID *string) (*model.DashboardView, error) {
	if eventID == nil {
		a.mu.Lock()
		if a.globalCache != nil && time.Since(a.globalCached) < globalCacheTTL {
			cached := *a.globalCache
			a.mu.Unlock()
			return &cached, nil
		}
		a.mu.Unlock()
	}

	view, err := a.computeDashboard(ctx, eventID)
	if err != nil {
		return nil, err
	}

	if eventID == nil {
		a.mu.Lock()
		cached := *view
		a.globalCache = &cached
		a.globalCached = time.Now()
		a.mu.Unlock()
	}
	return view, nil
}

func (a *Aggregator) computeDashboard(ctx context.Context, eventID *string) (*model.DashboardView, error) {
	rows, err := a.stats.ConsumptionRows(ctx, eventID)
	if err != nil {
		return nil, err
	}
	barrels, err := a.stats.BarrelsInScope(ctx, eventID)
	if err != nil {
		return nil, err
	}
	participants, err := a.stats.ParticipantCount(ctx, eventID)
	if err != nil {
		return nil, err
	}

	view := &model.DashboardView{
		EventID:             eventID,
		TotalParticipants:   participants,
		TotalBarrels:        len(barrels),
		TopParticipants:     []model.TopParticipant{},
		BarrelSizeHistogram: make(map[int]int),
	}

	type counted struct {
		name  string
		units int
		first time.Time
		id    string
	}
	byID := make(map[string]*counted)
	var order []*counted
	for _, r := range rows {
		if r.Spilled {
			continue
		}
		c, ok := byID[r.ParticipantID]
		if !ok {
			c = &counted{name: r.Name, first: r.ConsumedAt, id: r.ParticipantID}
			byID[r.ParticipantID] = c
			order = append(order, c)
		}
		c.units++
		view.TotalUnits++
	}

	sort.SliceStable(order, func(i, j int) bool {
		x, y := order[i], order[j]
		if x.units != y.units {
			return x.units > y.units
		}
		if !x.first.Equal(y.first) {
			return x.first.Before(y.first)
		}
		return x.id < y.id
	})
	for i, c := range order {
		if i == TopN {
			break
		}
		view.TopParticipants = append(view.TopParticipants, model.TopParticipant{Name: c.name, Units: c.units})
	}

	for _, b := range barrels {
		view.BarrelSizeHistogram[b.Size]++
	}
	if participants > 0 {
		view.AverageUnits = float64(view.TotalUnits) / float64(participants)
	}
	return view, nil
}

// PublicStats is the unauthenticated-safe projection of the dashboard:
// display names only, top list capped.
func (a *Aggregator) PublicStats(ctx context.Context, eventID *string) (*model.PublicStats, error) {
	dash, err := a.Dashboard(ctx, eventID)
	if err != nil {
		return nil, err
	}
	top := dash.TopParticipants
	if len(top) > TopN {
		top = top[:TopN]
	}
	return &model.PublicStats{
		TotalUnits:        dash.TotalUnits,
		TotalParticipants: dash.TotalParticipants,
		TopParticipants:   top,
	}, nil
}
