package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/opsforge/wpc/internal/core"
	"github.com/opsforge/wpc/internal/store/memory"
)

func TestLookup_MissThenReplay(t *testing.T) {
	tr := New(memory.New(), zap.NewNop())
	hash := Hash(json.RawMessage(`{"tier":"standard"}`), "POST", "/v1/workspaces")

	if _, found, err := tr.Lookup(context.Background(), "alice", "key-1", hash); err != nil || found {
		t.Fatalf("fresh key must miss, found=%v err=%v", found, err)
	}

	if _, err := tr.Record(context.Background(), "alice", "key-1", hash, "ws-1"); err != nil {
		t.Fatalf("record: %s", err)
	}

	id, found, err := tr.Lookup(context.Background(), "alice", "key-1", hash)
	if err != nil || !found {
		t.Fatalf("recorded key must replay, found=%v err=%v", found, err)
	}
	if id != "ws-1" {
		t.Errorf("replay must return the original workspace, got %s", id)
	}
}

func TestLookup_HashMismatchRejected(t *testing.T) {
	tr := New(memory.New(), zap.NewNop())
	hash := Hash(json.RawMessage(`{"tier":"standard"}`), "POST", "/v1/workspaces")
	if _, err := tr.Record(context.Background(), "alice", "key-1", hash, "ws-1"); err != nil {
		t.Fatalf("record: %s", err)
	}

	other := Hash(json.RawMessage(`{"tier":"performance"}`), "POST", "/v1/workspaces")
	_, _, err := tr.Lookup(context.Background(), "alice", "key-1", other)
	var appErr *core.AppError
	if !errors.As(err, &appErr) || appErr.Code != core.ErrConflictIdempotent {
		t.Fatalf("expected WPC_CONFLICT_IDEMPOTENT_MISMATCH, got %v", err)
	}
}

func TestRecord_InsertRaceCollapsesToFirstWinner(t *testing.T) {
	tr := New(memory.New(), zap.NewNop())
	hash := Hash(json.RawMessage(`{"tier":"standard"}`), "POST", "/v1/workspaces")

	if _, err := tr.Record(context.Background(), "alice", "key-1", hash, "ws-first"); err != nil {
		t.Fatalf("record: %s", err)
	}
	// A concurrent retry finished its own provisioning before noticing
	// the key was taken. It must adopt the first winner's workspace.
	id, err := tr.Record(context.Background(), "alice", "key-1", hash, "ws-second")
	if err != nil {
		t.Fatalf("losing record must not error: %v", err)
	}
	if id != "ws-first" {
		t.Errorf("race loser must adopt the first workspace, got %s", id)
	}
}

func TestRecord_InsertRaceWithDifferentPayload(t *testing.T) {
	tr := New(memory.New(), zap.NewNop())
	hash := Hash(json.RawMessage(`{"tier":"standard"}`), "POST", "/v1/workspaces")
	if _, err := tr.Record(context.Background(), "alice", "key-1", hash, "ws-1"); err != nil {
		t.Fatalf("record: %s", err)
	}

	other := Hash(json.RawMessage(`{"tier":"graphics"}`), "POST", "/v1/workspaces")
	_, err := tr.Record(context.Background(), "alice", "key-1", other, "ws-2")
	var appErr *core.AppError
	if !errors.As(err, &appErr) || appErr.Code != core.ErrConflictIdempotent {
		t.Fatalf("expected WPC_CONFLICT_IDEMPOTENT_MISMATCH, got %v", err)
	}
}

func TestTracker_KeysScopedPerRequester(t *testing.T) {
	tr := New(memory.New(), zap.NewNop())
	hash := Hash(json.RawMessage(`{"tier":"standard"}`), "POST", "/v1/workspaces")

	if _, err := tr.Record(context.Background(), "alice", "key-1", hash, "ws-alice"); err != nil {
		t.Fatalf("record: %s", err)
	}
	if _, found, err := tr.Lookup(context.Background(), "bob", "key-1", hash); err != nil || found {
		t.Errorf("another requester's key must not collide, found=%v err=%v", found, err)
	}
}

func TestTracker_EmptyKeyDisablesDeduplication(t *testing.T) {
	tr := New(memory.New(), zap.NewNop())
	if _, found, err := tr.Lookup(context.Background(), "alice", "", "h"); err != nil || found {
		t.Fatalf("empty key must be a no-op miss, found=%v err=%v", found, err)
	}
	id, err := tr.Record(context.Background(), "alice", "", "h", "ws-1")
	if err != nil || id != "ws-1" {
		t.Fatalf("empty key record must pass through, id=%s err=%v", id, err)
	}
}
