package customize

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

type flakyDirectory struct {
	failures int
	calls    int
}

func (d *flakyDirectory) Join(ctx context.Context, providerID string) error {
	d.calls++
	if d.calls <= d.failures {
		return errors.New("domain controller unreachable")
	}
	return nil
}

type countingVolume struct {
	attachCalls, syncCalls int
	attachErr              error
}

func (v *countingVolume) Attach(ctx context.Context, providerID, owner string) error {
	v.attachCalls++
	return v.attachErr
}
func (v *countingVolume) Detach(ctx context.Context, providerID, owner string) error { return nil }
func (v *countingVolume) SyncDotfiles(ctx context.Context, providerID, owner string) error {
	v.syncCalls++
	return nil
}

func testGateway() *provider.Gateway {
	return provider.NewGateway(sim.New(), region.NewSelector(region.DefaultTable()),
		provider.DefaultRetryConfig(), provider.DefaultBreakerConfig(), zap.NewNop())
}

func customizingWorkspace(t *testing.T, st *memory.Store) *core.Workspace {
	t.Helper()
	ws := &core.Workspace{
		ID:         "ws-1",
		Owner:      "alice",
		ProviderID: "sim-1",
		State:      core.WorkspaceCustomizing,
		CreatedAt:  time.Now(),
	}
	if err := st.CreateWorkspace(context.Background(), ws); err != nil {
		t.Fatalf("create: %s", err)
	}
	return ws
}

func newTestPipeline(st *memory.Store, dir DirectoryService, vol VolumeService) *Pipeline {
	p := NewPipeline(st, testGateway(), dir, vol, LocalSecrets{}, zap.NewNop())
	p.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return p
}

func TestRun_AllStepsSucceed(t *testing.T) {
	st := memory.New()
	vol := &countingVolume{}
	p := newTestPipeline(st, &flakyDirectory{}, vol)
	ws := customizingWorkspace(t, st)

	if err := p.Run(context.Background(), ws); err != nil {
		t.Fatalf("run: %s", err)
	}
	if ws.CustomizeStep != len(p.StepNames()) {
		t.Errorf("expected resume point %d, got %d", len(p.StepNames()), ws.CustomizeStep)
	}
	if vol.attachCalls != 1 || vol.syncCalls != 1 {
		t.Errorf("volume steps ran %d/%d times", vol.attachCalls, vol.syncCalls)
	}
}

func TestRun_DirectoryJoinRetriesThreeTimes(t *testing.T) {
	st := memory.New()
	dir := &flakyDirectory{failures: 2}
	p := newTestPipeline(st, dir, &countingVolume{})
	ws := customizingWorkspace(t, st)

	if err := p.Run(context.Background(), ws); err != nil {
		t.Fatalf("expected success on third join attempt: %v", err)
	}
	if dir.calls != 3 {
		t.Errorf("expected 3 join attempts, got %d", dir.calls)
	}
}

func TestRun_DirectoryJoinExhaustionIsTerminal(t *testing.T) {
	st := memory.New()
	dir := &flakyDirectory{failures: 10}
	p := newTestPipeline(st, dir, &countingVolume{})
	ws := customizingWorkspace(t, st)

	err := p.Run(context.Background(), ws)
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected StepError, got %v", err)
	}
	if stepErr.Step != "directory_join" {
		t.Errorf("expected failing step directory_join, got %s", stepErr.Step)
	}
	if dir.calls != 3 {
		t.Errorf("expected exactly 3 join attempts, got %d", dir.calls)
	}
	if ws.CustomizeStep != 0 {
		t.Errorf("resume point should not advance past a failed step, got %d", ws.CustomizeStep)
	}
}

func TestRun_ResumesFromPersistedStep(t *testing.T) {
	st := memory.New()
	vol := &countingVolume{attachErr: errors.New("ebs attach timeout")}
	p := newTestPipeline(st, &flakyDirectory{}, vol)
	ws := customizingWorkspace(t, st)

	err := p.Run(context.Background(), ws)
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != "volume_attach" {
		t.Fatalf("expected volume_attach failure, got %v", err)
	}
	if ws.CustomizeStep != 1 {
		t.Fatalf("expected resume point after directory_join, got %d", ws.CustomizeStep)
	}

	// Second run resumes at volume_attach; the join must not re-run.
	vol.attachErr = nil
	if err := p.Run(context.Background(), ws); err != nil {
		t.Fatalf("resumed run: %s", err)
	}
	if got := vol.attachCalls; got != 2 {
		t.Errorf("expected attach retried once on resume, got %d calls", got)
	}
}

func TestRun_RejectsWrongState(t *testing.T) {
	st := memory.New()
	p := newTestPipeline(st, &flakyDirectory{}, &countingVolume{})
	ws := &core.Workspace{ID: "ws-x", State: core.WorkspaceAvailable}

	if err := p.Run(context.Background(), ws); err == nil {
		t.Fatal("expected rejection for non-CUSTOMIZING workspace")
	}
}

func TestRun_StopsOnConcurrentMutation(t *testing.T) {
	st := memory.New()
	p := newTestPipeline(st, &flakyDirectory{}, &countingVolume{})
	ws := customizingWorkspace(t, st)

	// A sweeper concurrently mutates the record, bumping its generation.
	other, _ := st.GetWorkspace(context.Background(), ws.ID)
	other.State = core.WorkspaceTerminating
	if err := st.UpdateWorkspace(context.Background(), other); err != nil {
		t.Fatalf("concurrent update: %s", err)
	}

	err := p.Run(context.Background(), ws)
	var appErr *core.AppError
	if !errors.As(err, &appErr) || appErr.Code != core.ErrStateConflict {
		t.Fatalf("expected WPC_STATE_CONFLICT, got %v", err)
	}
}
