package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tapboard/tapboard/internal/model"
)

// MemoryStore is a mutex-guarded in-memory implementation of the repository
// interfaces. It keeps the same invariants as the pgx repositories — FIFO
// barrel draining, clamp at zero, terminal deactivation, atomic add/remove —
// with one store-wide mutex standing in for the row locks. It backs the test
// suite.
type MemoryStore struct {
	mu sync.Mutex

	events       map[string]*model.Event
	participants map[string]*model.Participant
	barrels      map[string]*memBarrel
	entries      []*model.Entry
	members      map[string]map[string]bool // eventID -> participantID set
}

type memBarrel struct {
	model.Barrel
	eventID string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:       make(map[string]*model.Event),
		participants: make(map[string]*model.Participant),
		barrels:      make(map[string]*memBarrel),
		members:      make(map[string]map[string]bool),
	}
}

// Store assembles the memory store into the interface bundle the service and
// aggregator are wired with.
func (s *MemoryStore) Store() Store {
	return Store{
		Ledger:       s,
		Barrels:      memBarrels{s},
		Events:       memEvents{s},
		Participants: memParticipants{s},
		Stats:        s,
	}
}

// memBarrels, memEvents and memParticipants rename the store's methods onto
// the per-entity interfaces, whose Create signatures differ.
type memBarrels struct{ s *MemoryStore }

func (m memBarrels) Create(ctx context.Context, eventID string, size int) (*model.Barrel, error) {
	return m.s.CreateBarrel(ctx, eventID, size)
}
func (m memBarrels) ListByEvent(ctx context.Context, eventID string) ([]model.Barrel, error) {
	return m.s.ListBarrels(ctx, eventID)
}
func (m memBarrels) Delete(ctx context.Context, id string) error {
	return m.s.DeleteBarrel(ctx, id)
}

type memEvents struct{ s *MemoryStore }

func (m memEvents) Create(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	return m.s.CreateEvent(ctx, req)
}
func (m memEvents) List(ctx context.Context) ([]model.Event, error) {
	return m.s.ListEvents(ctx)
}
func (m memEvents) GetByID(ctx context.Context, id string) (*model.Event, error) {
	return m.s.GetEvent(ctx, id)
}
func (m memEvents) Activate(ctx context.Context, id string) error {
	return m.s.ActivateEvent(ctx, id)
}
func (m memEvents) AddParticipant(ctx context.Context, eventID, participantID string) error {
	return m.s.JoinEvent(ctx, eventID, participantID)
}

type memParticipants struct{ s *MemoryStore }

func (m memParticipants) Create(ctx context.Context, req model.CreateParticipantRequest) (*model.Participant, error) {
	return m.s.CreateParticipant(ctx, req)
}
func (m memParticipants) List(ctx context.Context) ([]model.Participant, error) {
	return m.s.ListParticipants(ctx)
}
func (m memParticipants) GetByID(ctx context.Context, id string) (*model.Participant, error) {
	return m.s.GetParticipant(ctx, id)
}
func (m memParticipants) RebuildTotals(ctx context.Context, id string) (int, error) {
	return m.s.RebuildParticipantTotals(ctx, id)
}

// ─── Ledger ───────────────────────────────────────────────────────────────────

// Add implements Ledger.
func (s *MemoryStore) Add(_ context.Context, eventID *string, participantID string, opts AddOptions) (*model.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[participantID]
	if !ok || p.DeletedAt != nil {
		return nil, ErrNotFound
	}

	var barrelID *string
	if eventID != nil {
		e, ok := s.events[*eventID]
		if !ok || e.DeletedAt != nil {
			return nil, ErrNotFound
		}
		barrelID = s.reserveLocked(*eventID)
	}

	now := time.Now().UTC()
	entry := &model.Entry{
		ID:            uuid.New().String(),
		EventID:       eventID,
		ParticipantID: participantID,
		BarrelID:      barrelID,
		ConsumedAt:    now,
		Spilled:       opts.Spilled,
	}
	s.entries = append(s.entries, entry)
	p.TotalUnits++
	p.LastConsumedAt = &now
	out := *entry
	return &out, nil
}

// reserveLocked drains one unit from the oldest eligible barrel. Caller holds
// the store mutex.
func (s *MemoryStore) reserveLocked(eventID string) *string {
	var pick *memBarrel
	for _, b := range s.barrels {
		if b.eventID != eventID || b.DeletedAt != nil || !b.IsActive || b.RemainingUnits <= 0 {
			continue
		}
		if pick == nil || b.OrderNumber < pick.OrderNumber {
			pick = b
		}
	}
	if pick == nil {
		return nil
	}
	pick.RemainingUnits--
	if pick.RemainingUnits <= 0 {
		pick.RemainingUnits = 0
		pick.IsActive = false
	}
	id := pick.ID
	return &id
}

// RemoveLast implements Ledger.
func (s *MemoryStore) RemoveLast(_ context.Context, eventID *string, participantID string) (*model.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[participantID]
	if !ok || p.DeletedAt != nil {
		return nil, ErrNotFound
	}

	var last *model.Entry
	for _, e := range s.entries {
		if e.DeletedAt != nil || e.ParticipantID != participantID {
			continue
		}
		if eventID != nil && (e.EventID == nil || *e.EventID != *eventID) {
			continue
		}
		if last == nil || e.ConsumedAt.After(last.ConsumedAt) {
			last = e
		}
	}
	if last == nil {
		return nil, ErrNotFound
	}

	now := time.Now().UTC()
	last.DeletedAt = &now
	if last.BarrelID != nil {
		if b, ok := s.barrels[*last.BarrelID]; ok {
			b.RemainingUnits++
		}
	}
	if p.TotalUnits > 0 {
		p.TotalUnits--
	}
	out := *last
	return &out, nil
}

// CountFor implements Ledger.
func (s *MemoryStore) CountFor(_ context.Context, eventID, participantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.entries {
		if e.DeletedAt == nil && e.ParticipantID == participantID &&
			e.EventID != nil && *e.EventID == eventID {
			n++
		}
	}
	return n, nil
}

// ─── Barrels ──────────────────────────────────────────────────────────────────

// CreateBarrel taps a new barrel, deactivating every other active barrel of
// the event.
func (s *MemoryStore) CreateBarrel(_ context.Context, eventID string, size int) (*model.Barrel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[eventID]
	if !ok || e.DeletedAt != nil {
		return nil, ErrNotFound
	}

	next := 1
	for _, b := range s.barrels {
		if b.eventID != eventID {
			continue
		}
		if b.IsActive && b.DeletedAt == nil {
			b.IsActive = false
		}
		if b.OrderNumber >= next {
			next = b.OrderNumber + 1
		}
	}

	barrel := &memBarrel{
		Barrel: model.Barrel{
			ID:             uuid.New().String(),
			Size:           size,
			OrderNumber:    next,
			RemainingUnits: size * model.UnitsPerLiter,
			IsActive:       true,
			CreatedAt:      time.Now().UTC(),
		},
		eventID: eventID,
	}
	s.barrels[barrel.ID] = barrel
	out := barrel.Barrel
	return &out, nil
}

// ListBarrels returns the event's non-deleted barrels in tap order.
func (s *MemoryStore) ListBarrels(_ context.Context, eventID string) ([]model.Barrel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.barrelsLocked(&eventID), nil
}

// DeleteBarrel soft-deletes a barrel.
func (s *MemoryStore) DeleteBarrel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.barrels[id]
	if !ok || b.DeletedAt != nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	b.DeletedAt = &now
	b.IsActive = false
	return nil
}

// ─── Events ───────────────────────────────────────────────────────────────────

// CreateEvent inserts a new, inactive event.
func (s *MemoryStore) CreateEvent(_ context.Context, req model.CreateEventRequest) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &model.Event{
		ID:        uuid.New().String(),
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
	}
	s.events[e.ID] = e
	out := *e
	return &out, nil
}

// ListEvents returns all non-deleted events, newest first.
func (s *MemoryStore) ListEvents(_ context.Context) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Event
	for _, e := range s.events {
		if e.DeletedAt == nil {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// GetEvent returns a single event or ErrNotFound.
func (s *MemoryStore) GetEvent(_ context.Context, id string) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[id]
	if !ok || e.DeletedAt != nil {
		return nil, ErrNotFound
	}
	out := *e
	return &out, nil
}

// ActivateEvent makes the event the single active one.
func (s *MemoryStore) ActivateEvent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.events[id]
	if !ok || target.DeletedAt != nil {
		return ErrNotFound
	}
	for _, e := range s.events {
		e.IsActive = false
	}
	target.IsActive = true
	return nil
}

// JoinEvent adds a participant to an event's membership. Idempotent.
func (s *MemoryStore) JoinEvent(_ context.Context, eventID, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[eventID]
	if !ok || e.DeletedAt != nil {
		return ErrNotFound
	}
	p, ok := s.participants[participantID]
	if !ok || p.DeletedAt != nil {
		return ErrNotFound
	}
	if s.members[eventID] == nil {
		s.members[eventID] = make(map[string]bool)
	}
	s.members[eventID][participantID] = true
	return nil
}

// ─── Participants ─────────────────────────────────────────────────────────────

// CreateParticipant inserts a new participant.
func (s *MemoryStore) CreateParticipant(_ context.Context, req model.CreateParticipantRequest) (*model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := &model.Participant{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Gender:    req.Gender,
		CreatedAt: time.Now().UTC(),
	}
	s.participants[p.ID] = p
	out := *p
	return &out, nil
}

// ListParticipants returns all non-deleted participants ordered by name.
func (s *MemoryStore) ListParticipants(_ context.Context) ([]model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Participant
	for _, p := range s.participants {
		if p.DeletedAt == nil {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetParticipant returns a single participant or ErrNotFound.
func (s *MemoryStore) GetParticipant(_ context.Context, id string) (*model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[id]
	if !ok || p.DeletedAt != nil {
		return nil, ErrNotFound
	}
	out := *p
	return &out, nil
}

// RebuildParticipantTotals recomputes the cached total_units projection from
// the ledger rows.
func (s *MemoryStore) RebuildParticipantTotals(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[id]
	if !ok || p.DeletedAt != nil {
		return 0, ErrNotFound
	}
	n := 0
	for _, e := range s.entries {
		if e.DeletedAt == nil && e.ParticipantID == id {
			n++
		}
	}
	p.TotalUnits = n
	return n, nil
}

// ─── Stats ────────────────────────────────────────────────────────────────────

// ConsumptionRows implements Stats.
func (s *MemoryStore) ConsumptionRows(_ context.Context, eventID *string) ([]ConsumptionRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ConsumptionRow
	for _, e := range s.entries {
		if e.DeletedAt != nil {
			continue
		}
		if eventID != nil && (e.EventID == nil || *e.EventID != *eventID) {
			continue
		}
		p, ok := s.participants[e.ParticipantID]
		if !ok || p.DeletedAt != nil {
			continue
		}
		out = append(out, ConsumptionRow{
			ParticipantID: e.ParticipantID,
			Name:          p.Name,
			Gender:        p.Gender,
			Spilled:       e.Spilled,
			ConsumedAt:    e.ConsumedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ConsumedAt.Before(out[j].ConsumedAt) })
	return out, nil
}

// BarrelsInScope implements Stats.
func (s *MemoryStore) BarrelsInScope(_ context.Context, eventID *string) ([]model.Barrel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.barrelsLocked(eventID), nil
}

func (s *MemoryStore) barrelsLocked(eventID *string) []model.Barrel {
	var out []model.Barrel
	for _, b := range s.barrels {
		if b.DeletedAt != nil {
			continue
		}
		if eventID != nil && b.eventID != *eventID {
			continue
		}
		out = append(out, b.Barrel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNumber < out[j].OrderNumber })
	return out
}

// ParticipantCount implements Stats.
func (s *MemoryStore) ParticipantCount(_ context.Context, eventID *string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if eventID == nil {
		n := 0
		for _, p := range s.participants {
			if p.DeletedAt == nil {
				n++
			}
		}
		return n, nil
	}
	n := 0
	for pid := range s.members[*eventID] {
		if p, ok := s.participants[pid]; ok && p.DeletedAt == nil {
			n++
		}
	}
	return n, nil
}
