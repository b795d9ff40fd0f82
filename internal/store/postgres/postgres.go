// Package postgres implements the store contract on pgx. Conditional
// writes are plain SQL predicates on the generation column; pool
// claims use FOR UPDATE SKIP LOCKED so concurrent claimers never block
// on or select the same row.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsforge/wpc/internal/core"
	"github.com/opsforge/wpc/internal/store"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const workspaceColumns = `id, owner, team, region, tier, os, blueprint_id, service_type,
	state, provider_id, connection_info, created_at, available_at,
	last_connected_at, last_stopped_at, terminated_at,
	idle_timeout_seconds, max_lifetime_seconds, keep_alive,
	stale_notified_at, pool_origin, customize_step, failure_reason,
	needs_cleanup, generation`

func (s *Store) CreateWorkspace(ctx context.Context, ws *core.Workspace) error {
	ws.Generation = 1
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wpc.workspaces (
			id, owner, team, region, tier, os, blueprint_id, service_type,
			state, provider_id, connection_info, created_at,
			idle_timeout_seconds, max_lifetime_seconds, keep_alive,
			pool_origin, customize_step, failure_reason, needs_cleanup, generation
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		ws.ID, ws.Owner, ws.Team, ws.Region, string(ws.Tier), string(ws.OS),
		ws.BlueprintID, string(ws.ServiceType), string(ws.State),
		ws.ProviderID, ws.ConnectionInfo, ws.CreatedAt,
		int64(ws.IdleTimeout/time.Second), int64(ws.MaxLifetime/time.Second),
		ws.KeepAlive, ws.PoolOrigin, ws.CustomizeStep, ws.FailureReason,
		ws.NeedsCleanup, ws.Generation,
	)
	if isUniqueViolation(err) {
		return store.ErrDuplicateKey
	}
	return err
}

func (s *Store) GetWorkspace(ctx context.Context, id string) (*core.Workspace, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+workspaceColumns+` FROM wpc.workspaces WHERE id = $1`, id)
	return scanWorkspace(row)
}

func (s *Store) ListWorkspaces(ctx context.Context, f store.ListFilter) ([]*core.Workspace, error) {
	q := `SELECT ` + workspaceColumns + ` FROM wpc.workspaces WHERE true`
	args := []any{}
	n := 0
	if f.Owner != "" {
		n++
		q += fmt.Sprintf(" AND owner = $%d", n)
		args = append(args, f.Owner)
	}
	if len(f.States) > 0 {
		states := make([]string, len(f.States))
		for i, st := range f.States {
			states[i] = string(st)
		}
		n++
		q += fmt.Sprintf(" AND state = ANY($%d)", n)
		args = append(args, states)
	}
	if !f.Cursor.IsZero() {
		n++
		q += fmt.Sprintf(" AND created_at < $%d", n)
		args = append(args, f.Cursor)
	}
	q += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		n++
		q += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, f.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

func (s *Store) UpdateWorkspace(ctx context.Context, ws *core.Workspace) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE wpc.workspaces SET
			owner = $3, team = $4, region = $5, state = $6,
			provider_id = $7, connection_info = $8,
			available_at = $9, last_connected_at = $10,
			last_stopped_at = $11, terminated_at = $12,
			idle_timeout_seconds = $13, max_lifetime_seconds = $14,
			keep_alive = $15, stale_notified_at = $16, pool_origin = $17,
			customize_step = $18, failure_reason = $19, needs_cleanup = $20,
			tier = $21, os = $22, blueprint_id = $23, service_type = $24,
			generation = generation + 1
		WHERE id = $1 AND generation = $2`,
		ws.ID, ws.Generation, ws.Owner, ws.Team, ws.Region, string(ws.State),
		ws.ProviderID, ws.ConnectionInfo,
		ws.AvailableAt, ws.LastConnectedAt, ws.LastStoppedAt, ws.TerminatedAt,
		int64(ws.IdleTimeout/time.Second), int64(ws.MaxLifetime/time.Second),
		ws.KeepAlive, ws.StaleNotifiedAt, ws.PoolOrigin,
		ws.CustomizeStep, ws.FailureReason, ws.NeedsCleanup,
		string(ws.Tier), string(ws.OS), ws.BlueprintID, string(ws.ServiceType),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a lost race from a missing row.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM wpc.workspaces WHERE id = $1)`, ws.ID,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return store.ErrNotFound
		}
		return store.ErrConflict
	}
	ws.Generation++
	return nil
}

func (s *Store) ClaimPooled(ctx context.Context, key core.PoolKey, owner, team string) (*core.Workspace, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE wpc.workspaces
		SET owner = $3, team = $4, generation = generation + 1
		WHERE id = (
			SELECT id FROM wpc.workspaces
			WHERE blueprint_id = $1 AND os = $2
			  AND owner = '' AND state = 'AVAILABLE' AND pool_origin
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+workspaceColumns,
		key.BlueprintID, string(key.OS), owner, team,
	)
	ws, err := scanWorkspace(row)
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.ErrPoolEmpty
	}
	return ws, err
}

func (s *Store) CountPoolIdle(ctx context.Context, key core.PoolKey) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM wpc.workspaces
		WHERE blueprint_id = $1 AND os = $2
		  AND owner = '' AND state = 'AVAILABLE' AND pool_origin`,
		key.BlueprintID, string(key.OS),
	).Scan(&n)
	return n, err
}

func (s *Store) GetTrackedRequest(ctx context.Context, requester, key string) (*store.TrackedRequest, error) {
	tr := &store.TrackedRequest{}
	err := s.pool.QueryRow(ctx, `
		SELECT requester, idempotency_key, request_hash, workspace_id, created_at
		FROM wpc.tracked_requests
		WHERE requester = $1 AND idempotency_key = $2`,
		requester, key,
	).Scan(&tr.Requester, &tr.IdempotencyKey, &tr.RequestHash, &tr.WorkspaceID, &tr.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tr, nil
}

func (s *Store) PutTrackedRequest(ctx context.Context, tr *store.TrackedRequest) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wpc.tracked_requests (requester, idempotency_key, request_hash, workspace_id)
		VALUES ($1, $2, $3, $4)`,
		tr.Requester, tr.IdempotencyKey, tr.RequestHash, tr.WorkspaceID,
	)
	if isUniqueViolation(err) {
		return store.ErrDuplicateKey
	}
	return err
}

func (s *Store) InsertAudit(ctx context.Context, ev *core.AuditEvent) error {
	metadata := ev.Metadata
	if len(metadata) == 0 {
		metadata = []byte("{}")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wpc.audit_events (workspace_id, actor, action, result, request_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.WorkspaceID, ev.Actor, ev.Action, ev.Result, ev.RequestID, []byte(metadata),
	)
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkspace(row rowScanner) (*core.Workspace, error) {
	ws := &core.Workspace{}
	var tier, os, serviceType, state string
	var idleSeconds, maxLifetimeSeconds int64
	err := row.Scan(
		&ws.ID, &ws.Owner, &ws.Team, &ws.Region, &tier, &os,
		&ws.BlueprintID, &serviceType, &state, &ws.ProviderID,
		&ws.ConnectionInfo, &ws.CreatedAt, &ws.AvailableAt,
		&ws.LastConnectedAt, &ws.LastStoppedAt, &ws.TerminatedAt,
		&idleSeconds, &maxLifetimeSeconds, &ws.KeepAlive,
		&ws.StaleNotifiedAt, &ws.PoolOrigin, &ws.CustomizeStep,
		&ws.FailureReason, &ws.NeedsCleanup, &ws.Generation,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ws.Tier = core.BundleTier(tier)
	ws.OS = core.OperatingSystem(os)
	ws.ServiceType = core.ServiceType(serviceType)
	ws.State = core.WorkspaceState(state)
	ws.IdleTimeout = time.Duration(idleSeconds) * time.Second
	ws.MaxLifetime = time.Duration(maxLifetimeSeconds) * time.Second
	return ws, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
