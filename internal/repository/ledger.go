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

// LedgerRepository records and undoes consumption entries.
//
// The ledger is one table with a nullable event_id: the global stream is all
// rows, the event-scoped stream is the rows tagged with an event. A single
// row therefore serves both the lifetime statistics and the event ranking,
// and the two views cannot diverge.
type LedgerRepository struct {
	db *pgxpool.Pool
}

// NewLedgerRepository constructs a LedgerRepository.
func NewLedgerRepository(db *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Add records one consumption unit for a participant inside a single
// transaction: lock the participant row, reserve a barrel unit when the
// consumption is event-scoped, insert the ledger row, bump the participant's
// cached counter. Any failure rolls the whole thing back, reservation
// included.
//
// The participant row lock serializes add/remove for one participant, so
// "remove last" always targets a fully committed add.
func (r *LedgerRepository) Add(ctx context.Context, eventID *string, participantID string, opts AddOptions) (*model.Entry, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var locked string
	err = tx.QueryRow(ctx,
		`SELECT id FROM participants WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`,
		participantID,
	).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock participant row: %w", err)
	}

	var barrelID *string
	if eventID != nil {
		var exists bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM events WHERE id = $1 AND deleted_at IS NULL)`,
			*eventID,
		).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("check event: %w", err)
		}
		if !exists {
			return nil, ErrNotFound
		}

		// No capacity is not an error: the entry is recorded without a barrel.
		barrelID, err = reserve(ctx, tx, *eventID)
		if err != nil {
			return nil, err
		}
	}

	entry := &model.Entry{
		ID:            uuid.New().String(),
		EventID:       eventID,
		ParticipantID: participantID,
		BarrelID:      barrelID,
		ConsumedAt:    time.Now().UTC(),
		Spilled:       opts.Spilled,
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, event_id, participant_id, barrel_id, consumed_at, spilled)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.EventID, entry.ParticipantID, entry.BarrelID, entry.ConsumedAt, entry.Spilled,
	)
	if err != nil {
		return nil, fmt.Errorf("insert entry: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE participants SET total_units = total_units + 1, last_consumed_at = $1 WHERE id = $2`,
		entry.ConsumedAt, participantID,
	)
	if err != nil {
		return nil, fmt.Errorf("increment participant counter: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return entry, nil
}

// RemoveLast soft-deletes the participant's most recent live entry — by
// consumed_at, not insertion order, to tolerate out-of-order writes — returns
// its barrel unit if one was reserved, and decrements the cached counter.
// Scoped to the event when one is given, else to the global stream.
// Returns ErrNotFound when no matching entry exists.
func (r *LedgerRepository) RemoveLast(ctx context.Context, eventID *string, participantID string) (*model.Entry, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var locked string
	err = tx.QueryRow(ctx,
		`SELECT id FROM participants WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`,
		participantID,
	).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock participant row: %w", err)
	}

	entry := &model.Entry{ParticipantID: participantID}
	query := `SELECT id, event_id, barrel_id, consumed_at, spilled
		 FROM ledger_entries
		 WHERE participant_id = $1 AND deleted_at IS NULL`
	args := []any{participantID}
	if eventID != nil {
		query += ` AND event_id = $2`
		args = append(args, *eventID)
	}
	query += ` ORDER BY consumed_at DESC LIMIT 1 FOR UPDATE`

	err = tx.QueryRow(ctx, query, args...).
		Scan(&entry.ID, &entry.EventID, &entry.BarrelID, &entry.ConsumedAt, &entry.Spilled)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find last entry: %w", err)
	}

	now := time.Now().UTC()
	entry.DeletedAt = &now
	_, err = tx.Exec(ctx,
		`UPDATE ledger_entries SET deleted_at = $1 WHERE id = $2`,
		now, entry.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("soft-delete entry: %w", err)
	}

	if err = release(ctx, tx, entry.BarrelID); err != nil {
		return nil, err
	}

	// GREATEST guards the cached projection; the ledger itself stays exact.
	_, err = tx.Exec(ctx,
		`UPDATE participants SET total_units = GREATEST(total_units - 1, 0) WHERE id = $1`,
		participantID,
	)
	if err != nil {
		return nil, fmt.Errorf("decrement participant counter: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return entry, nil
}

// CountFor returns the participant's live event-scoped entry count. This is
// the number shown as the event score and is always derived by counting rows,
// never read from a cached counter.
func (r *LedgerRepository) CountFor(ctx context.Context, eventID, participantID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM ledger_entries
		 WHERE event_id = $1 AND participant_id = $2 AND deleted_at IS NULL`,
		eventID, participantID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}
