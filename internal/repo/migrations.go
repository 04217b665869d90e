package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations — схема БД. Каждый шаг идемпотентен.
var migrations = []struct {
	name string
	sql  string
}{
	{
		name: "create_jobs_table",
		sql: `
			CREATE TABLE IF NOT EXISTS jobs (
				id           BIGSERIAL PRIMARY KEY,
				backing_type TEXT        NOT NULL,
				payload      BYTEA,
				queue        TEXT        NOT NULL DEFAULT 'default',
				run_at       TIMESTAMPTZ NOT NULL,
				created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
	},
	{
		name: "create_jobs_run_at_index",
		sql: `
			CREATE INDEX IF NOT EXISTS idx_jobs_queue_run_at
				ON jobs (queue, run_at)`,
	},
	{
		name: "create_leases_table",
		sql: `
			CREATE TABLE IF NOT EXISTS leases (
				namespace         TEXT        NOT NULL,
				name              TEXT        NOT NULL,
				holder_identity   TEXT        NOT NULL DEFAULT '',
				acquire_time      TIMESTAMPTZ NOT NULL,
				renew_time        TIMESTAMPTZ NOT NULL,
				lease_duration_ms BIGINT      NOT NULL,
				transitions       BIGINT      NOT NULL DEFAULT 0,
				resource_version  BIGINT      NOT NULL DEFAULT 1,
				PRIMARY KEY (namespace, name)
			)`,
	},
}

// Migrate создаёт таблицы jobs и leases, если их нет.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
	}
	return nil
}
