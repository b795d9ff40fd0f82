package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/opsforge/wpc/internal/core"
	"github.com/opsforge/wpc/internal/provider"
	"github.com/opsforge/wpc/internal/provider/sim"
	"github.com/opsforge/wpc/internal/region"
	"github.com/opsforge/wpc/internal/store/memory"
)

type fixture struct {
	store *memory.Store
	cloud *sim.Cloud
	ctrl  *Controller
	sweep *Sweeper
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.New(),
		cloud: sim.New(),
		clock: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	gw := provider.NewGateway(f.cloud, region.NewSelector(region.DefaultTable()),
		provider.DefaultRetryConfig(), provider.DefaultBreakerConfig(), zap.NewNop())
	f.ctrl = NewController(f.store, gw, zap.NewNop())
	f.ctrl.now = func() time.Time { return f.clock }
	f.sweep = NewSweeper(f.ctrl, f.store, SweeperConfig{
		Interval:   time.Minute,
		StaleAfter: 30 * 24 * time.Hour,
		StaleGrace: 14 * 24 * time.Hour,
	}, zap.NewNop())
	f.sweep.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

// addWorkspace seeds a workspace with a live simulated resource.
func (f *fixture) addWorkspace(t *testing.T, id string, state core.WorkspaceState, mod func(*core.Workspace)) *core.Workspace {
	t.Helper()
	res, err := f.cloud.Create(context.Background(), provider.ResourceSpec{WorkspaceID: id, Region: "us-east-1"})
	if err != nil {
		t.Fatalf("sim create: %s", err)
	}
	ws := &core.Workspace{
		ID:          id,
		Owner:       "alice",
		Region:      "us-east-1",
		Tier:        core.TierStandard,
		OS:          core.OSLinux,
		ServiceType: core.ServiceDesktop,
		State:       state,
		ProviderID:  res.ProviderID,
		CreatedAt:   f.clock,
		IdleTimeout: time.Hour,
		MaxLifetime: 90 * 24 * time.Hour,
	}
	if mod != nil {
		mod(ws)
	}
	if err := f.store.CreateWorkspace(context.Background(), ws); err != nil {
		t.Fatalf("create workspace: %s", err)
	}
	return ws
}

func (f *fixture) state(t *testing.T, id string) core.WorkspaceState {
	t.Helper()
	ws, err := f.store.GetWorkspace(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %s", id, err)
	}
	return ws.State
}

func TestTransition_IllegalRejectedAndStateUnchanged(t *testing.T) {
	f := newFixture(t)
	f.addWorkspace(t, "ws-1", core.WorkspaceAvailable, nil)

	ws, _ := f.store.GetWorkspace(context.Background(), "ws-1")
	err := f.ctrl.Transition(context.Background(), ws, core.WorkspaceStale)
	var appErr *core.AppError
	if !errors.As(err, &appErr) || appErr.Code != core.ErrInvalidTransition {
		t.Fatalf("expected WPC_INVALID_TRANSITION, got %v", err)
	}
	if got := f.state(t, "ws-1"); got != core.WorkspaceAvailable {
		t.Errorf("illegal transition must leave state unchanged, got %s", got)
	}
}

func TestStopStartRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.addWorkspace(t, "ws-1", core.WorkspaceAvailable, nil)

	if _, err := f.ctrl.Stop(context.Background(), "ws-1"); err != nil {
		t.Fatalf("stop: %s", err)
	}
	if got := f.state(t, "ws-1"); got != core.WorkspaceStopped {
		t.Fatalf("expected STOPPED, got %s", got)
	}

	if _, err := f.ctrl.Start(context.Background(), "ws-1"); err != nil {
		t.Fatalf("start: %s", err)
	}
	if got := f.state(t, "ws-1"); got != core.WorkspaceAvailable {
		t.Fatalf("expected AVAILABLE, got %s", got)
	}
}

func TestTerminate_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.addWorkspace(t, "ws-1", core.WorkspaceAvailable, nil)

	first, err := f.ctrl.Terminate(context.Background(), "ws-1")
	if err != nil {
		t.Fatalf("terminate: %s", err)
	}
	if first.State != core.WorkspaceTerminated {
		t.Fatalf("expected TERMINATED, got %s", first.State)
	}

	second, err := f.ctrl.Terminate(context.Background(), "ws-1")
	if err != nil {
		t.Fatalf("second terminate must succeed: %v", err)
	}
	if second.State != core.WorkspaceTerminated {
		t.Errorf("expected TERMINATED on repeat, got %s", second.State)
	}
	if f.cloud.CallCount("terminate") != 1 {
		t.Errorf("repeat terminate must not call the provider again, got %d calls",
			f.cloud.CallCount("terminate"))
	}
}

func TestTerminate_FailedIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.addWorkspace(t, "ws-1", core.WorkspaceFailed, nil)

	if _, err := f.ctrl.Terminate(context.Background(), "ws-1"); err == nil {
		t.Fatal("expected error terminating FAILED workspace")
	}
}

func TestStart_ProviderExhaustionMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.addWorkspace(t, "ws-1", core.WorkspaceStopped, nil)
	f.cloud.FailNext("start", provider.NewError(provider.ClassInvalid, "start", "bad resource"), 1)

	if _, err := f.ctrl.Start(context.Background(), "ws-1"); err == nil {
		t.Fatal("expected start failure")
	}
	if got := f.state(t, "ws-1"); got != core.WorkspaceFailed {
		t.Errorf("expected FAILED, got %s", got)
	}
	ws, _ := f.store.GetWorkspace(context.Background(), "ws-1")
	if ws.FailureReason == "" {
		t.Error("failed workspace must carry a reason")
	}
}

func TestSweepIdle_ExactBoundary(t *testing.T) {
	f := newFixture(t)
	f.addWorkspace(t, "ws-1", core.WorkspaceAvailable, func(ws *core.Workspace) {
		at := f.clock
		ws.AvailableAt = &at
		ws.LastConnectedAt = &at
	})

	// One second short of the idle timeout: untouched.
	f.advance(time.Hour - time.Second)
	f.sweep.Sweep(context.Background())
	if got := f.state(t, "ws-1"); got != core.WorkspaceAvailable {
		t.Fatalf("one second short of idle_timeout must stay AVAILABLE, got %s", got)
	}

	// Exactly at the timeout: stopped.
	f.advance(time.Second)
	f.sweep.Sweep(context.Background())
	if got := f.state(t, "ws-1"); got != core.WorkspaceStopped {
		t.Fatalf("at idle_timeout expected STOPPED, got %s", got)
	}
}

func TestSweepIdle_ActivityResetsClock(t *testing.T) {
	f := newFixture(t)
	f.addWorkspace(t, "ws-1", core.WorkspaceAvailable, func(ws *core.Workspace) {
		at := f.clock
		ws.AvailableAt = &at
	})

	f.advance(50 * time.Minute)
	if err := f.ctrl.TouchActivity(context.Background(), "ws-1"); err != nil {
		t.Fatalf("touch: %s", err)
	}
	f.advance(50 * time.Minute)
	f.sweep.Sweep(context.Background())
	if got := f.state(t, "ws-1"); got != core.WorkspaceAvailable {
		t.Errorf("recent activity must suppress the idle stop, got %s", got)
	}
}

func TestSweepIdle_UnassignedPoolMemberExempt(t *testing.T) {
	f := newFixture(t)
	f.addWorkspace(t, "ws-pool", core.WorkspaceAvailable, func(ws *core.Workspace) {
		ws.Owner = ""
		ws.PoolOrigin = true
		ws.Team = ""
		at := f.clock
		ws.AvailableAt = &at
		ws.LastConnectedAt = &at
	})
	f.addWorkspace(t, "ws-owned", core.WorkspaceAvailable, func(ws *core.Workspace) {
		at := f.clock
		ws.AvailableAt = &at
	})

	f.advance(2 * time.Hour)
	f.sweep.Sweep(context.Background())

	if got := f.state(t, "ws-pool"); got != core.WorkspaceAvailable {
		t.Errorf("standby pool member must stay AVAILABLE, got %s", got)
	}
	if got := f.state(t, "ws-owned"); got != core.WorkspaceStopped {
		t.Errorf("assigned workspace past its idle timeout must stop, got %s", got)
	}
}

func TestSweepStale_FullTimeline(t *testing.T) {
	f := newFixture(t)
	f.addWorkspace(t, "ws-1", core.WorkspaceStopped, func(ws *core.Workspace) {
		at := f.clock
		ws.LastStoppedAt = &at
	})

	// 30 days stopped -> STALE.
	f.advance(30 * 24 * time.Hour)
	f.sweep.Sweep(context.Background())
	if got := f.state(t, "ws-1"); got != core.WorkspaceStale {
		t.Fatalf("expected STALE after 30 days stopped, got %s", got)
	}

	// Grace period expires -> terminated.
	f.advance(14 * 24 * time.Hour)
	f.sweep.Sweep(context.Background())
	if got := f.state(t, "ws-1"); got != core.WorkspaceTerminated {
		t.Fatalf("expected TERMINATED after grace period, got %s", got)
	}
}

func TestSweepStale_StartCancelsPendingTermination(t *testing.T) {
	f := newFixture(t)
	f.addWorkspace(t, "ws-1", core.WorkspaceStopped, func(ws *core.Workspace) {
		at := f.clock
		ws.LastStoppedAt = &at
	})

	f.advance(30 * 24 * time.Hour)
	f.sweep.Sweep(context.Background())
	if got := f.state(t, "ws-1"); got != core.WorkspaceStale {
		t.Fatalf("expected STALE, got %s", got)
	}

	// User resumes one day into the grace period.
	f.advance(24 * time.Hour)
	if _, err := f.ctrl.Start(context.Background(), "ws-1"); err != nil {
		t.Fatalf("start from STALE: %s", err)
	}
	if got := f.state(t, "ws-1"); got != core.WorkspaceAvailable {
		t.Fatalf("expected AVAILABLE after resume, got %s", got)
	}

	// Even long after the original grace deadline, no termination fires.
	f.advance(60 * 24 * time.Hour)
	f.sweep.sweepStale(context.Background())
	if got := f.state(t, "ws-1"); got == core.WorkspaceTerminated || got == core.WorkspaceTerminating {
		t.Fatalf("resumed workspace must not be terminated by stale sweep, got %s", got)
	}
}

func TestSweep_KeepAliveImmunity(t *testing.T) {
	f := newFixture(t)
	f.addWorkspace(t, "ws-stopped", core.WorkspaceStopped, func(ws *core.Workspace) {
		at := f.clock
		ws.LastStoppedAt = &at
		ws.KeepAlive = true
	})
	f.addWorkspace(t, "ws-stale", core.WorkspaceStale, func(ws *core.Workspace) {
		at := f.clock
		ws.StaleNotifiedAt = &at
		ws.KeepAlive = true
	})

	// Far beyond every policy window, including max lifetime.
	f.advance(365 * 24 * time.Hour)
	f.sweep.Sweep(context.Background())

	if got := f.state(t, "ws-stopped"); got != core.WorkspaceStopped {
		t.Errorf("keep-alive stopped workspace moved to %s", got)
	}
	if got := f.state(t, "ws-stale"); got != core.WorkspaceStale {
		t.Errorf("keep-alive stale workspace moved to %s", got)
	}
}

func TestSweep_KeepAliveSetDuringGraceCancelsTermination(t *testing.T) {
	f := newFixture(t)
	f.addWorkspace(t, "ws-1", core.WorkspaceStale, func(ws *core.Workspace) {
		at := f.clock
		ws.StaleNotifiedAt = &at
	})

	// keep_alive set mid-grace; the fire-time re-check must honor it.
	f.advance(7 * 24 * time.Hour)
	if _, err := f.ctrl.SetKeepAlive(context.Background(), "ws-1", true); err != nil {
		t.Fatalf("set keep-alive: %s", err)
	}
	f.advance(30 * 24 * time.Hour)
	f.sweep.sweepStale(context.Background())
	if got := f.state(t, "ws-1"); got != core.WorkspaceStale {
		t.Errorf("keep-alive set during grace must cancel termination, got %s", got)
	}
}

func TestSweepMaxLifetime_TerminatesRegardlessOfState(t *testing.T) {
	f := newFixture(t)
	f.addWorkspace(t, "ws-avail", core.WorkspaceAvailable, func(ws *core.Workspace) {
		ws.MaxLifetime = 24 * time.Hour
		at := f.clock
		ws.LastConnectedAt = &at
	})
	f.addWorkspace(t, "ws-stopped", core.WorkspaceStopped, func(ws *core.Workspace) {
		ws.MaxLifetime = 24 * time.Hour
		at := f.clock
		ws.LastStoppedAt = &at
	})

	f.advance(25 * time.Hour)
	f.sweep.sweepMaxLifetime(context.Background())

	if got := f.state(t, "ws-avail"); got != core.WorkspaceTerminated {
		t.Errorf("expected AVAILABLE workspace terminated at max lifetime, got %s", got)
	}
	if got := f.state(t, "ws-stopped"); got != core.WorkspaceTerminated {
		t.Errorf("expected STOPPED workspace terminated at max lifetime, got %s", got)
	}
}
