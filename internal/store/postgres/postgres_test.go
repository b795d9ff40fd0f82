package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/opsforge/wpc/internal/core"
	"github.com/opsforge/wpc/internal/store"
)

func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := pgcontainer.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		pgcontainer.WithDatabase("wpc"),
		pgcontainer.WithUsername("wpc"),
		pgcontainer.WithPassword("wpc_pass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections"),
		),
	)
	if err != nil {
		t.Fatalf("failed to start container: %s", err)
	}
	defer container.Terminate(ctx)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %s", err)
	}

	pool, err := NewPool(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to connect: %s", err)
	}
	defer pool.Close()

	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("failed to run migrations: %s", err)
	}

	s := New(pool)
	key := core.PoolKey{BlueprintID: "dev", OS: core.OSLinux}

	t.Run("CreateAndGet", func(t *testing.T) {
		ws := &core.Workspace{
			ID:          "ws-1",
			Owner:       "alice",
			Region:      "us-east-1",
			Tier:        core.TierStandard,
			OS:          core.OSLinux,
			ServiceType: core.ServiceDesktop,
			State:       core.WorkspacePending,
			CreatedAt:   time.Now().UTC(),
			IdleTimeout: time.Hour,
			MaxLifetime: 90 * 24 * time.Hour,
		}
		if err := s.CreateWorkspace(ctx, ws); err != nil {
			t.Fatalf("create: %s", err)
		}
		got, err := s.GetWorkspace(ctx, "ws-1")
		if err != nil {
			t.Fatalf("get: %s", err)
		}
		if got.Owner != "alice" || got.State != core.WorkspacePending {
			t.Errorf("unexpected record: %+v", got)
		}
		if got.IdleTimeout != time.Hour {
			t.Errorf("idle timeout round trip: got %s", got.IdleTimeout)
		}
		if got.Generation != 1 {
			t.Errorf("expected generation 1, got %d", got.Generation)
		}
	})

	t.Run("GenerationConflict", func(t *testing.T) {
		a, _ := s.GetWorkspace(ctx, "ws-1")
		b, _ := s.GetWorkspace(ctx, "ws-1")

		a.State = core.WorkspaceCustomizing
		if err := s.UpdateWorkspace(ctx, a); err != nil {
			t.Fatalf("first update: %s", err)
		}
		b.State = core.WorkspaceTerminating
		if err := s.UpdateWorkspace(ctx, b); !errors.Is(err, store.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("UpdatePersistsAssignmentFields", func(t *testing.T) {
		ws, err := s.GetWorkspace(ctx, "ws-1")
		if err != nil {
			t.Fatalf("get: %s", err)
		}
		ws.Tier = core.TierPerformance
		ws.ServiceType = core.ServiceApplication
		if err := s.UpdateWorkspace(ctx, ws); err != nil {
			t.Fatalf("update: %s", err)
		}

		got, err := s.GetWorkspace(ctx, "ws-1")
		if err != nil {
			t.Fatalf("get: %s", err)
		}
		if got.Tier != core.TierPerformance {
			t.Errorf("tier not persisted, got %s", got.Tier)
		}
		if got.ServiceType != core.ServiceApplication {
			t.Errorf("service type not persisted, got %s", got.ServiceType)
		}
	})

	t.Run("ClaimPooled", func(t *testing.T) {
		for _, id := range []string{"pool-1", "pool-2"} {
			ws := &core.Workspace{
				ID:          id,
				BlueprintID: "dev",
				OS:          core.OSLinux,
				Tier:        core.TierStandard,
				ServiceType: core.ServiceDesktop,
				State:       core.WorkspaceAvailable,
				PoolOrigin:  true,
				CreatedAt:   time.Now().UTC(),
			}
			if err := s.CreateWorkspace(ctx, ws); err != nil {
				t.Fatalf("create pool member: %s", err)
			}
		}

		first, err := s.ClaimPooled(ctx, key, "bob", "platform")
		if err != nil {
			t.Fatalf("first claim: %s", err)
		}
		second, err := s.ClaimPooled(ctx, key, "carol", "platform")
		if err != nil {
			t.Fatalf("second claim: %s", err)
		}
		if first.ID == second.ID {
			t.Errorf("both claims returned the same member %s", first.ID)
		}
		if _, err := s.ClaimPooled(ctx, key, "dave", "platform"); !errors.Is(err, store.ErrPoolEmpty) {
			t.Fatalf("expected ErrPoolEmpty, got %v", err)
		}

		n, _ := s.CountPoolIdle(ctx, key)
		if n != 0 {
			t.Errorf("expected drained pool, got %d idle", n)
		}
	})

	t.Run("TrackedRequest", func(t *testing.T) {
		tr := &store.TrackedRequest{
			Requester:      "alice",
			IdempotencyKey: "k-1",
			RequestHash:    "h-1",
			WorkspaceID:    "ws-1",
		}
		if err := s.PutTrackedRequest(ctx, tr); err != nil {
			t.Fatalf("put: %s", err)
		}
		if err := s.PutTrackedRequest(ctx, tr); !errors.Is(err, store.ErrDuplicateKey) {
			t.Fatalf("expected ErrDuplicateKey, got %v", err)
		}
		got, err := s.GetTrackedRequest(ctx, "alice", "k-1")
		if err != nil {
			t.Fatalf("get: %s", err)
		}
		if got.WorkspaceID != "ws-1" {
			t.Errorf("expected ws-1, got %s", got.WorkspaceID)
		}
	})

	t.Run("Audit", func(t *testing.T) {
		id := "ws-1"
		if err := s.InsertAudit(ctx, &core.AuditEvent{
			WorkspaceID: &id,
			Actor:       "alice",
			Action:      "workspace.create",
			Result:      "ok",
		}); err != nil {
			t.Fatalf("audit insert: %s", err)
		}
	})
}
