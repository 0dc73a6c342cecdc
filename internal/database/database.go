// Package database provides PostgreSQL connection management using pgx.
package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tapboard/tapboard/internal/config"
)

// NewPool creates and validates a pgxpool connection pool.
// It retries up to 5 times to accommodate containers starting up.
func NewPool(ctx context.Context, cfg config.DB) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}

	// Sensible pool defaults for a small service.
	poolCfg.MaxConns = 20
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= 5; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			pingErr := pool.Ping(ctx)
			if pingErr == nil {
				return pool, nil
			}
			pool.Close()
			err = fmt.Errorf("ping: %w", pingErr)
		}
		log.Printf("db connect attempt %d/5 failed: %v – retrying in 2s", attempt, err)
		time.Sleep(2 * time.Second)
	}
	return nil, fmt.Errorf("connect to postgres: %w", err)
}

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id         UUID PRIMARY KEY,
			name       TEXT NOT NULL,
			is_active  BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			deleted_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS participants (
			id               UUID PRIMARY KEY,
			name             TEXT NOT NULL,
			gender           TEXT NOT NULL,
			total_units      INTEGER NOT NULL DEFAULT 0,
			last_consumed_at TIMESTAMPTZ,
			created_at       TIMESTAMPTZ NOT NULL,
			deleted_at       TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS barrels (
			id              UUID PRIMARY KEY,
			event_id        UUID NOT NULL REFERENCES events(id),
			size            INTEGER NOT NULL,
			order_number    INTEGER NOT NULL,
			remaining_units INTEGER NOT NULL,
			is_active       BOOLEAN NOT NULL DEFAULT TRUE,
			created_at      TIMESTAMPTZ NOT NULL,
			deleted_at      TIMESTAMPTZ,
			UNIQUE (event_id, order_number)
		)`,
		`CREATE TABLE IF NOT EXISTS event_participants (
			event_id       UUID NOT NULL REFERENCES events(id),
			participant_id UUID NOT NULL REFERENCES participants(id),
			joined_at      TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (event_id, participant_id)
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id             UUID PRIMARY KEY,
			event_id       UUID REFERENCES events(id),
			participant_id UUID NOT NULL REFERENCES participants(id),
			barrel_id      UUID REFERENCES barrels(id),
			consumed_at    TIMESTAMPTZ NOT NULL,
			spilled        BOOLEAN NOT NULL DEFAULT FALSE,
			deleted_at     TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_event_participant
			ON ledger_entries (event_id, participant_id) WHERE deleted_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_consumed_at
			ON ledger_entries (participant_id, consumed_at DESC) WHERE deleted_at IS NULL`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
