package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tapboard/tapboard/internal/model"
)

// EventRepository handles persistence for events and their membership.
type EventRepository struct {
	db *pgxpool.Pool
}

// NewEventRepository constructs an EventRepository.
func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

// Create inserts a new, inactive event.
func (r *EventRepository) Create(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	event := &model.Event{
		ID:        uuid.New().String(),
		Name:      req.Name,
		IsActive:  false,
		CreatedAt: time.Now().UTC(),
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO events (id, name, is_active, created_at) VALUES ($1, $2, $3, $4)`,
		event.ID, event.Name, event.IsActive, event.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return event, nil
}

// List returns all non-deleted events, newest first.
func (r *EventRepository) List(ctx context.Context) ([]model.Event, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, name, is_active, created_at
		 FROM events
		 WHERE deleted_at IS NULL
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.Name, &e.IsActive, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetByID returns a single event or ErrNotFound.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*model.Event, error) {
	var e model.Event
	err := r.db.QueryRow(ctx,
		`SELECT id, name, is_active, created_at
		 FROM events WHERE id = $1 AND deleted_at IS NULL`,
		id,
	).Scan(&e.ID, &e.Name, &e.IsActive, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &e, nil
}

// Activate makes the event the single active one system-wide: all other
// events are deactivated in the same transaction.
func (r *EventRepository) Activate(ctx context.Context, id string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx, `UPDATE events SET is_active = FALSE WHERE is_active`)
	if err != nil {
		return fmt.Errorf("deactivate events: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE events SET is_active = TRUE WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("activate event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		err = ErrNotFound
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// AddParticipant joins a participant to an event. Re-joining is idempotent.
func (r *EventRepository) AddParticipant(ctx context.Context, eventID, participantID string) error {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM events WHERE id = $1 AND deleted_at IS NULL)
		     AND EXISTS (SELECT 1 FROM participants WHERE id = $2 AND deleted_at IS NULL)`,
		eventID, participantID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check membership targets: %w", err)
	}
	if !exists {
		return ErrNotFound
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO event_participants (event_id, participant_id, joined_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (event_id, participant_id) DO NOTHING`,
		eventID, participantID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("join event: %w", err)
	}
	return nil
}
