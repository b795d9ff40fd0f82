// Package tracker deduplicates create requests. A client that retries
// a create with the same Idempotency-Key gets the workspace the first
// accepted attempt produced; reusing a key for a different payload is
// rejected so a silent mismatch cannot hide a client bug.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/opsforge/wpc/internal/core"
	"github.com/opsforge/wpc/internal/store"
)

type Tracker struct {
	store store.Store
	log   *zap.Logger
	now   func() time.Time
}

func New(st store.Store, log *zap.Logger) *Tracker {
	return &Tracker{store: st, log: log, now: time.Now}
}

// Hash fingerprints the request payload for mismatch detection.
func Hash(body json.RawMessage, method, path string) string {
	return core.ComputeRequestHash(body, method, path)
}

// Lookup resolves an idempotency key for the requester. An empty key
// disables deduplication. On a hash match it returns the workspace id
// recorded by the first attempt; on a mismatch it returns
// WPC_CONFLICT_IDEMPOTENT_MISMATCH.
func (t *Tracker) Lookup(ctx context.Context, requester, key, hash string) (workspaceID string, found bool, err error) {
	if key == "" {
		return "", false, nil
	}
	tr, err := t.store.GetTrackedRequest(ctx, requester, key)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if tr.RequestHash != hash {
		return "", false, core.NewAppError(core.ErrConflictIdempotent,
			"idempotency key "+key+" was already used with a different request body")
	}
	return tr.WorkspaceID, true, nil
}

// Record binds the key to the workspace the request produced. If a
// concurrent retry won the insert race, the stored record is
// re-checked: same hash means the caller should replay that workspace
// instead of its own.
func (t *Tracker) Record(ctx context.Context, requester, key, hash, workspaceID string) (string, error) {
	if key == "" {
		return workspaceID, nil
	}
	err := t.store.PutTrackedRequest(ctx, &store.TrackedRequest{
		Requester:      requester,
		IdempotencyKey: key,
		RequestHash:    hash,
		WorkspaceID:    workspaceID,
		CreatedAt:      t.now(),
	})
	if err == nil {
		return workspaceID, nil
	}
	if !errors.Is(err, store.ErrDuplicateKey) {
		return "", err
	}

	tr, getErr := t.store.GetTrackedRequest(ctx, requester, key)
	if getErr != nil {
		return "", getErr
	}
	if tr.RequestHash != hash {
		return "", core.NewAppError(core.ErrConflictIdempotent,
			"idempotency key "+key+" was already used with a different request body")
	}
	t.log.Info("duplicate create collapsed onto first attempt",
		zap.String("requester", requester),
		zap.String("idempotency_key", key),
		zap.String("workspace_id", tr.WorkspaceID),
	)
	return tr.WorkspaceID, nil
}
