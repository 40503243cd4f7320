package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema — таблицы сервиса. Все выражения идемпотентны.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS state_machines (
		name       TEXT PRIMARY KEY,
		definition JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS objects (
		bucket     TEXT NOT NULL,
		key        TEXT NOT NULL,
		body       BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (bucket, key)
	)`,
	`CREATE TABLE IF NOT EXISTS schedules (
		name              TEXT PRIMARY KEY,
		state_machine     TEXT NOT NULL,
		cron_expr         TEXT,
		interval_sec      INTEGER,
		timezone          TEXT NOT NULL DEFAULT 'UTC',
		enabled           BOOLEAN NOT NULL DEFAULT TRUE,
		next_due_at       TIMESTAMPTZ,
		last_run_at       TIMESTAMPTZ,
		last_execution_id UUID,
		input             JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS schedules_due_idx ON schedules (next_due_at) WHERE enabled`,
}

// EnsureSchema создаёт таблицы, если их ещё нет.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
