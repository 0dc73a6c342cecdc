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

// BarrelRepository owns barrel capacity bookkeeping and the FIFO selection
// policy for which barrel absorbs a new consumption.
type BarrelRepository struct {
	db *pgxpool.Pool
}

// NewBarrelRepository constructs a BarrelRepository.
func NewBarrelRepository(db *pgxpool.Pool) *BarrelRepository {
	return &BarrelRepository{db: db}
}

// Create taps a new barrel for the event: every other active barrel in the
// event's scope is deactivated, then the new barrel is inserted active with
// its full capacity in units.
func (r *BarrelRepository) Create(ctx context.Context, eventID string, size int) (*model.Barrel, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM events WHERE id = $1 AND deleted_at IS NULL)`,
		eventID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check event: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	_, err = tx.Exec(ctx,
		`UPDATE barrels SET is_active = FALSE
		 WHERE event_id = $1 AND is_active AND deleted_at IS NULL`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("deactivate barrels: %w", err)
	}

	barrel := &model.Barrel{
		ID:             uuid.New().String(),
		Size:           size,
		RemainingUnits: size * model.UnitsPerLiter,
		IsActive:       true,
		CreatedAt:      time.Now().UTC(),
	}
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(order_number), 0) + 1 FROM barrels WHERE event_id = $1`,
		eventID,
	).Scan(&barrel.OrderNumber)
	if err != nil {
		return nil, fmt.Errorf("next order number: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO barrels (id, event_id, size, order_number, remaining_units, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		barrel.ID, eventID, barrel.Size, barrel.OrderNumber, barrel.RemainingUnits, barrel.IsActive, barrel.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert barrel: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return barrel, nil
}

// ListByEvent returns all non-deleted barrels of an event in tap order.
func (r *BarrelRepository) ListByEvent(ctx context.Context, eventID string) ([]model.Barrel, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, size, order_number, remaining_units, is_active, created_at
		 FROM barrels
		 WHERE event_id = $1 AND deleted_at IS NULL
		 ORDER BY order_number ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list barrels: %w", err)
	}
	defer rows.Close()

	var barrels []model.Barrel
	for rows.Next() {
		var b model.Barrel
		if err := rows.Scan(&b.ID, &b.Size, &b.OrderNumber, &b.RemainingUnits, &b.IsActive, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan barrel: %w", err)
		}
		barrels = append(barrels, b)
	}
	return barrels, rows.Err()
}

// Delete soft-deletes a barrel and takes it off the tap.
func (r *BarrelRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE barrels SET deleted_at = $1, is_active = FALSE
		 WHERE id = $2 AND deleted_at IS NULL`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("delete barrel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// reserve takes one unit from the oldest active barrel of the event, inside
// the caller's transaction.
//
// The SELECT ... FOR UPDATE acquires a row-level exclusive lock on the barrel
// row, so concurrent reservations against the same barrel serialize on the
// read-modify-write of remaining_units. Without it two transactions can both
// read remaining_units=1, both decrement, and drive the counter negative.
//
// Returns nil when no barrel has capacity; the caller records the consumption
// without a barrel. Capacity exhaustion deactivates the barrel permanently —
// released units never reactivate it.
func reserve(ctx context.Context, tx pgx.Tx, eventID string) (*string, error) {
	// Under READ COMMITTED a locked row is rechecked against the predicate
	// after a lock wait, but LIMIT does not advance to the next candidate.
	// Retry the select in that rare case instead of giving up capacity.
	for attempt := 0; attempt < 3; attempt++ {
		var id string
		var remaining int
		err := tx.QueryRow(ctx,
			`SELECT id, remaining_units
			 FROM barrels
			 WHERE event_id = $1 AND is_active AND deleted_at IS NULL AND remaining_units > 0
			 ORDER BY order_number ASC
			 LIMIT 1
			 FOR UPDATE`,
			eventID,
		).Scan(&id, &remaining)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("lock barrel row: %w", err)
		}
		if remaining < 0 {
			// The locked read-modify-write cannot produce this; abort.
			return nil, fmt.Errorf("%w: barrel %s has %d remaining units", ErrInvariant, id, remaining)
		}
		if remaining == 0 {
			continue
		}

		remaining--
		_, err = tx.Exec(ctx,
			`UPDATE barrels
			 SET remaining_units = $1,
			     is_active = CASE WHEN $1 = 0 THEN FALSE ELSE is_active END
			 WHERE id = $2`,
			remaining, id,
		)
		if err != nil {
			return nil, fmt.Errorf("decrement barrel: %w", err)
		}
		return &id, nil
	}
	return nil, nil
}

// release returns one unit to a barrel inside the caller's transaction. It
// never resurrects is_active: reactivation is an explicit separate action.
// A nil barrelID is a no-op.
func release(ctx context.Context, tx pgx.Tx, barrelID *string) error {
	if barrelID == nil {
		return nil
	}
	var remaining int
	err := tx.QueryRow(ctx,
		`SELECT remaining_units FROM barrels WHERE id = $1 FOR UPDATE`,
		*barrelID,
	).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock barrel row: %w", err)
	}
	_, err = tx.Exec(ctx,
		`UPDATE barrels SET remaining_units = remaining_units + 1 WHERE id = $1`,
		*barrelID,
	)
	if err != nil {
		return fmt.Errorf("increment barrel: %w", err)
	}
	return nil
}
