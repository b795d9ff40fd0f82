// Package store defines the persistence contract shared by the API,
// the pool manager, and the lifecycle sweepers. All workspace mutation
// goes through conditional writes keyed on the record's generation
// counter, so concurrent mutators serialize per workspace without a
// global lock.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/opsforge/wpc/internal/core"
)

var (
	// ErrNotFound is returned when no record matches the given id.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned by a conditional write whose read
	// generation no longer matches the stored record. The caller either
	// re-reads and retries or abandons the mutation as stale.
	ErrConflict = errors.New("store: generation conflict")

	// ErrPoolEmpty is returned by ClaimPooled when no idle member
	// exists for the requested pool key.
	ErrPoolEmpty = errors.New("store: pool empty")

	// ErrDuplicateKey is returned when inserting a record whose unique
	// key already exists.
	ErrDuplicateKey = errors.New("store: duplicate key")
)

// ListFilter narrows and pages a workspace listing. Cursor pagination
// follows created_at descending, matching the REST surface.
type ListFilter struct {
	Owner  string
	States []core.WorkspaceState
	Limit  int
	Cursor time.Time
}

// TrackedRequest correlates an idempotency key with the workspace its
// first accepted request produced, so client retries are replayed
// instead of double-provisioned.
type TrackedRequest struct {
	Requester      string
	IdempotencyKey string
	RequestHash    string
	WorkspaceID    string
	CreatedAt      time.Time
}

// Store is the workspace persistence contract.
//
// UpdateWorkspace is a compare-and-swap: the write succeeds only if
// the stored generation equals ws.Generation, and on success the
// stored (and in-memory) generation is incremented. ClaimPooled is a
// single conditional operation that assigns an owner to an idle
// AVAILABLE pool member; membership in a pool is derived from "owner
// is null", never from a separately-maintained list.
type Store interface {
	CreateWorkspace(ctx context.Context, ws *core.Workspace) error
	GetWorkspace(ctx context.Context, id string) (*core.Workspace, error)
	ListWorkspaces(ctx context.Context, f ListFilter) ([]*core.Workspace, error)
	UpdateWorkspace(ctx context.Context, ws *core.Workspace) error

	ClaimPooled(ctx context.Context, key core.PoolKey, owner, team string) (*core.Workspace, error)
	CountPoolIdle(ctx context.Context, key core.PoolKey) (int, error)

	GetTrackedRequest(ctx context.Context, requester, key string) (*TrackedRequest, error)
	PutTrackedRequest(ctx context.Context, tr *TrackedRequest) error

	InsertAudit(ctx context.Context, ev *core.AuditEvent) error

	Ping(ctx context.Context) error
}
