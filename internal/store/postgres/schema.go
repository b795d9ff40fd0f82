package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE SCHEMA IF NOT EXISTS wpc;

CREATE TABLE IF NOT EXISTS wpc.workspaces (
	id                   TEXT PRIMARY KEY,
	owner                TEXT NOT NULL DEFAULT '',
	team                 TEXT NOT NULL DEFAULT '',
	region               TEXT NOT NULL DEFAULT '',
	tier                 TEXT NOT NULL,
	os                   TEXT NOT NULL,
	blueprint_id         TEXT NOT NULL DEFAULT '',
	service_type         TEXT NOT NULL DEFAULT 'desktop',
	state                TEXT NOT NULL,
	provider_id          TEXT NOT NULL DEFAULT '',
	connection_info      TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	available_at         TIMESTAMPTZ,
	last_connected_at    TIMESTAMPTZ,
	last_stopped_at      TIMESTAMPTZ,
	terminated_at        TIMESTAMPTZ,
	idle_timeout_seconds BIGINT NOT NULL DEFAULT 0,
	max_lifetime_seconds BIGINT NOT NULL DEFAULT 0,
	keep_alive           BOOLEAN NOT NULL DEFAULT false,
	stale_notified_at    TIMESTAMPTZ,
	pool_origin          BOOLEAN NOT NULL DEFAULT false,
	customize_step       INT NOT NULL DEFAULT 0,
	failure_reason       TEXT NOT NULL DEFAULT '',
	needs_cleanup        BOOLEAN NOT NULL DEFAULT false,
	generation           BIGINT NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS workspaces_pool_idle
	ON wpc.workspaces (blueprint_id, os, created_at)
	WHERE owner = '' AND state = 'AVAILABLE' AND pool_origin;

CREATE INDEX IF NOT EXISTS workspaces_state ON wpc.workspaces (state);

CREATE TABLE IF NOT EXISTS wpc.tracked_requests (
	requester       TEXT NOT NULL,
	idempotency_key TEXT NOT NULL,
	request_hash    TEXT NOT NULL,
	workspace_id    TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (requester, idempotency_key)
);

CREATE TABLE IF NOT EXISTS wpc.audit_events (
	event_id     BIGSERIAL PRIMARY KEY,
	ts           TIMESTAMPTZ NOT NULL DEFAULT now(),
	workspace_id TEXT,
	actor        TEXT NOT NULL,
	action       TEXT NOT NULL,
	result       TEXT NOT NULL,
	request_id   TEXT,
	metadata     JSONB NOT NULL DEFAULT '{}'::jsonb
);
`

// Migrate creates the schema. Idempotent; safe to run at startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
