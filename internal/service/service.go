// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the repository layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tapboard/tapboard/internal/metrics"
	"github.com/tapboard/tapboard/internal/model"
	"github.com/tapboard/tapboard/internal/repository"
)

// Notifier wakes the broadcaster for an event after a committed mutation.
type Notifier interface {
	Notify(eventID string)
}

// Service orchestrates tracker operations.
type Service struct {
	store    repository.Store
	notifier Notifier
}

// New constructs a Service with its dependencies.
func New(store repository.Store, notifier Notifier) *Service {
	return &Service{store: store, notifier: notifier}
}

// ─── Consumption ──────────────────────────────────────────────────────────────

// AddConsumption records one consumption unit. The repository commits the
// barrel reservation, the ledger row, and the counter atomically; only a
// committed mutation notifies subscribers.
func (s *Service) AddConsumption(ctx context.Context, eventID *string, participantID string, opts repository.AddOptions) (*model.Entry, error) {
	if participantID == "" {
		return nil, fmt.Errorf("participant id is required")
	}
	entry, err := s.store.Ledger.Add(ctx, eventID, participantID, opts)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("add consumption: %w", err)
	}

	metrics.ConsumptionsRecorded.WithLabelValues(
		strconv.FormatBool(entry.Spilled),
		strconv.FormatBool(entry.BarrelID != nil),
	).Inc()
	if entry.EventID != nil {
		s.notifier.Notify(*entry.EventID)
	}
	return entry, nil
}

// RemoveLastConsumption undoes the participant's most recent entry, scoped
// to the event when one is given. Removing with zero entries is reported as
// ErrNotFound, not a crash.
func (s *Service) RemoveLastConsumption(ctx context.Context, eventID *string, participantID string) error {
	if participantID == "" {
		return fmt.Errorf("participant id is required")
	}
	entry, err := s.store.Ledger.RemoveLast(ctx, eventID, participantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return err
		}
		return fmt.Errorf("remove last consumption: %w", err)
	}

	metrics.ConsumptionsUndone.Inc()
	if entry.EventID != nil {
		s.notifier.Notify(*entry.EventID)
	}
	return nil
}

// CountFor returns the participant's event score, derived by counting rows.
func (s *Service) CountFor(ctx context.Context, eventID, participantID string) (int, error) {
	return s.store.Ledger.CountFor(ctx, eventID, participantID)
}

// ─── Barrels ──────────────────────────────────────────────────────────────────

// TapBarrel validates the size and taps a new barrel for the event.
func (s *Service) TapBarrel(ctx context.Context, eventID string, req model.CreateBarrelRequest) (*model.Barrel, error) {
	if !model.ValidBarrelSize(req.Size) {
		return nil, fmt.Errorf("barrel size must be one of %v liters", model.BarrelSizes)
	}
	barrel, err := s.store.Barrels.Create(ctx, eventID, req.Size)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("tap barrel: %w", err)
	}
	s.notifier.Notify(eventID)
	return barrel, nil
}

// ListBarrels returns the event's barrels in tap order.
func (s *Service) ListBarrels(ctx context.Context, eventID string) ([]model.Barrel, error) {
	return s.store.Barrels.ListByEvent(ctx, eventID)
}

// DeleteBarrel takes a barrel off the tap.
func (s *Service) DeleteBarrel(ctx context.Context, id string) error {
	return s.store.Barrels.Delete(ctx, id)
}

// ─── Events ───────────────────────────────────────────────────────────────────

// CreateEvent validates the request and delegates to the repository.
func (s *Service) CreateEvent(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("event name is required")
	}
	return s.store.Events.Create(ctx, req)
}

// ListEvents returns all events.
func (s *Service) ListEvents(ctx context.Context) ([]model.Event, error) {
	return s.store.Events.List(ctx)
}

// GetEvent returns a single event by ID.
func (s *Service) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	if id == "" {
		return nil, fmt.Errorf("event id is required")
	}
	return s.store.Events.GetByID(ctx, id)
}

// ActivateEvent makes the event the single active one system-wide.
func (s *Service) ActivateEvent(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("event id is required")
	}
	return s.store.Events.Activate(ctx, id)
}

// JoinEvent adds a participant to an event's membership.
func (s *Service) JoinEvent(ctx context.Context, eventID, participantID string) error {
	if eventID == "" || participantID == "" {
		return fmt.Errorf("event id and participant id are required")
	}
	return s.store.Events.AddParticipant(ctx, eventID, participantID)
}

// ─── Participants ─────────────────────────────────────────────────────────────

// CreateParticipant validates the request and delegates to the repository.
func (s *Service) CreateParticipant(ctx context.Context, req model.CreateParticipantRequest) (*model.Participant, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("participant name is required")
	}
	if req.Gender != model.GenderMale && req.Gender != model.GenderFemale {
		return nil, fmt.Errorf("gender must be %q or %q", model.GenderMale, model.GenderFemale)
	}
	return s.store.Participants.Create(ctx, req)
}

// ListParticipants returns all participants.
func (s *Service) ListParticipants(ctx context.Context) ([]model.Participant, error) {
	return s.store.Participants.List(ctx)
}

// GetParticipant returns a single participant by ID.
func (s *Service) GetParticipant(ctx context.Context, id string) (*model.Participant, error) {
	if id == "" {
		return nil, fmt.Errorf("participant id is required")
	}
	return s.store.Participants.GetByID(ctx, id)
}

// RebuildTotals recomputes a participant's cached lifetime counter from the
// ledger.
func (s *Service) RebuildTotals(ctx context.Context, id string) (int, error) {
	if id == "" {
		return 0, fmt.Errorf("participant id is required")
	}
	return s.store.Participants.RebuildTotals(ctx, id)
}
