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

// ParticipantRepository handles persistence for participants.
type ParticipantRepository struct {
	db *pgxpool.Pool
}

// NewParticipantRepository constructs a ParticipantRepository.
func NewParticipantRepository(db *pgxpool.Pool) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

// Create inserts a new participant.
func (r *ParticipantRepository) Create(ctx context.Context, req model.CreateParticipantRequest) (*model.Participant, error) {
	p := &model.Participant{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Gender:    req.Gender,
		CreatedAt: time.Now().UTC(),
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO participants (id, name, gender, total_units, created_at)
		 VALUES ($1, $2, $3, 0, $4)`,
		p.ID, p.Name, p.Gender, p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert participant: %w", err)
	}
	return p, nil
}

// List returns all non-deleted participants ordered by name.
func (r *ParticipantRepository) List(ctx context.Context) ([]model.Participant, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, name, gender, total_units, last_consumed_at, created_at
		 FROM participants
		 WHERE deleted_at IS NULL
		 ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []model.Participant
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.Gender, &p.TotalUnits, &p.LastConsumedAt, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetByID returns a single participant or ErrNotFound.
func (r *ParticipantRepository) GetByID(ctx context.Context, id string) (*model.Participant, error) {
	var p model.Participant
	err := r.db.QueryRow(ctx,
		`SELECT id, name, gender, total_units, last_consumed_at, created_at
		 FROM participants WHERE id = $1 AND deleted_at IS NULL`,
		id,
	).Scan(&p.ID, &p.Name, &p.Gender, &p.TotalUnits, &p.LastConsumedAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get participant: %w", err)
	}
	return &p, nil
}

// RebuildTotals recomputes the participant's cached total_units from the
// ledger and returns the new value. The counter is a projection: the ledger
// rows stay authoritative and this converges the two after any drift.
func (r *ParticipantRepository) RebuildTotals(ctx context.Context, id string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`UPDATE participants
		 SET total_units = (
			SELECT COUNT(*) FROM ledger_entries
			WHERE participant_id = $1 AND deleted_at IS NULL
		 )
		 WHERE id = $1 AND deleted_at IS NULL
		 RETURNING total_units`,
		id,
	).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("rebuild totals: %w", err)
	}
	return n, nil
}
