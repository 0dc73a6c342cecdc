package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tapboard/tapboard/internal/model"
)

// StatsRepository serves the aggregator's read-only queries. A nil eventID
// selects the global stream.
type StatsRepository struct {
	db *pgxpool.Pool
}

// NewStatsRepository constructs a StatsRepository.
func NewStatsRepository(db *pgxpool.Pool) *StatsRepository {
	return &StatsRepository{db: db}
}

// ConsumptionRows returns every live ledger entry joined with its
// participant, ordered by consumption time ascending so grouping downstream
// is stable by arrival.
func (r *StatsRepository) ConsumptionRows(ctx context.Context, eventID *string) ([]ConsumptionRow, error) {
	query := `SELECT l.participant_id, p.name, p.gender, l.spilled, l.consumed_at
		 FROM ledger_entries l
		 JOIN participants p ON p.id = l.participant_id
		 WHERE l.deleted_at IS NULL AND p.deleted_at IS NULL`
	args := []any{}
	if eventID != nil {
		query += ` AND l.event_id = $1`
		args = append(args, *eventID)
	}
	query += ` ORDER BY l.consumed_at ASC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("consumption rows: %w", err)
	}
	defer rows.Close()

	var out []ConsumptionRow
	for rows.Next() {
		var c ConsumptionRow
		if err := rows.Scan(&c.ParticipantID, &c.Name, &c.Gender, &c.Spilled, &c.ConsumedAt); err != nil {
			return nil, fmt.Errorf("scan consumption row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// BarrelsInScope returns the non-deleted barrels of an event, or of the
// whole system when eventID is nil.
func (r *StatsRepository) BarrelsInScope(ctx context.Context, eventID *string) ([]model.Barrel, error) {
	query := `SELECT id, size, order_number, remaining_units, is_active, created_at
		 FROM barrels
		 WHERE deleted_at IS NULL`
	args := []any{}
	if eventID != nil {
		query += ` AND event_id = $1`
		args = append(args, *eventID)
	}
	query += ` ORDER BY order_number ASC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("barrels in scope: %w", err)
	}
	defer rows.Close()

	var out []model.Barrel
	for rows.Next() {
		var b model.Barrel
		if err := rows.Scan(&b.ID, &b.Size, &b.OrderNumber, &b.RemainingUnits, &b.IsActive, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan barrel: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ParticipantCount returns the number of non-deleted participants, scoped to
// an event's membership when eventID is given.
func (r *StatsRepository) ParticipantCount(ctx context.Context, eventID *string) (int, error) {
	var n int
	var err error
	if eventID != nil {
		err = r.db.QueryRow(ctx,
			`SELECT COUNT(*)
			 FROM event_participants ep
			 JOIN participants p ON p.id = ep.participant_id
			 WHERE ep.event_id = $1 AND p.deleted_at IS NULL`,
			*eventID,
		).Scan(&n)
	} else {
		err = r.db.QueryRow(ctx,
			`SELECT COUNT(*) FROM participants WHERE deleted_at IS NULL`,
		).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("participant count: %w", err)
	}
	return n, nil
}
