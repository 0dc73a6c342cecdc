// Package repository implements persistence for the consumption tracker.
// The primary implementation uses pgx directly (no ORM); an in-memory
// implementation of the same interfaces backs the test suite.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tapboard/tapboard/internal/model"
)

// ErrNotFound is returned when a requested resource does not exist, including
// "remove last" with no matching entry.
var ErrNotFound = errors.New("not found")

// ErrInvariant signals state that must never occur (a barrel counter driven
// negative, for example). It aborts the surrounding transaction and is
// surfaced as an internal error: it indicates a bug, not a user mistake.
var ErrInvariant = errors.New("invariant violation")

// AddOptions tunes a single consumption record.
type AddOptions struct {
	// Spilled marks a unit that consumes barrel capacity but does not count
	// toward rankings.
	Spilled bool
}

// ConsumptionRow is one live ledger entry joined with its participant,
// as consumed by the aggregator.
type ConsumptionRow struct {
	ParticipantID string
	Name          string
	Gender        model.Gender
	Spilled       bool
	ConsumedAt    time.Time
}

// Ledger records and undoes consumption entries. All mutations are atomic:
// the barrel reservation, the ledger row, and the participant counter commit
// or roll back together.
type Ledger interface {
	Add(ctx context.Context, eventID *string, participantID string, opts AddOptions) (*model.Entry, error)
	RemoveLast(ctx context.Context, eventID *string, participantID string) (*model.Entry, error)
	CountFor(ctx context.Context, eventID, participantID string) (int, error)
}

// Barrels manages barrel lifecycle. Reservation and release are internal to
// the Ledger's transactions and are not part of the public surface.
type Barrels interface {
	Create(ctx context.Context, eventID string, size int) (*model.Barrel, error)
	ListByEvent(ctx context.Context, eventID string) ([]model.Barrel, error)
	Delete(ctx context.Context, id string) error
}

// Events manages event lifecycle and membership.
type Events interface {
	Create(ctx context.Context, req model.CreateEventRequest) (*model.Event, error)
	List(ctx context.Context) ([]model.Event, error)
	GetByID(ctx context.Context, id string) (*model.Event, error)
	Activate(ctx context.Context, id string) error
	AddParticipant(ctx context.Context, eventID, participantID string) error
}

// Participants manages participant records. TotalUnits on a participant is a
// cached projection; RebuildTotals recomputes it from the ledger.
type Participants interface {
	Create(ctx context.Context, req model.CreateParticipantRequest) (*model.Participant, error)
	List(ctx context.Context) ([]model.Participant, error)
	GetByID(ctx context.Context, id string) (*model.Participant, error)
	RebuildTotals(ctx context.Context, id string) (int, error)
}

// Stats is the read-only source the aggregator recomputes its views from.
// A nil eventID selects the global stream.
type Stats interface {
	ConsumptionRows(ctx context.Context, eventID *string) ([]ConsumptionRow, error)
	BarrelsInScope(ctx context.Context, eventID *string) ([]model.Barrel, error)
	ParticipantCount(ctx context.Context, eventID *string) (int, error)
}

// Store bundles the repository interfaces for wiring. The pgx and in-memory
// implementations both assemble into one of these.
type Store struct {
	Ledger       Ledger
	Barrels      Barrels
	Events       Events
	Participants Participants
	Stats        Stats
}
