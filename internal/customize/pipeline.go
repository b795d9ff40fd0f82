// Package customize applies the post-assignment steps that turn a
// reachable resource into a usable workspace: directory join,
// persistent-volume attach, secret injection, dotfile sync. Steps are
// idempotent and individually retryable; the index of the next step is
// persisted on the workspace so an interrupted run resumes instead of
// starting over.
package customize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/opsforge/wpc/internal/core"
	"github.com/opsforge/wpc/internal/observability"
	"github.com/opsforge/wpc/internal/provider"
	"github.com/opsforge/wpc/internal/store"
)

// DirectoryService is the external domain-join collaborator.
type DirectoryService interface {
	Join(ctx context.Context, providerID string) error
}

// VolumeService manages the user's persistent volume.
type VolumeService interface {
	Attach(ctx context.Context, providerID, owner string) error
	Detach(ctx context.Context, providerID, owner string) error
	SyncDotfiles(ctx context.Context, providerID, owner string) error
}

// SecretSource resolves the secret set the owner is authorized for.
type SecretSource interface {
	InjectSecrets(ctx context.Context, providerID, owner string) error
}

// Breaker keys for the pipeline's external dependencies.
const (
	DepDirectory = "directory-service"
	DepVolume    = "volume-service"
	DepSecrets   = "secret-source"
)

// StepError identifies which pipeline step failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("customize step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

type step struct {
	name string
	dep  string
	run  func(ctx context.Context, ws *core.Workspace) error
	// Attempts within the step; the directory join gets its own retry
	// budget, the rest rely on being re-runnable.
	attempts int
	backoff  time.Duration
}

type Pipeline struct {
	store      store.Store
	breakerFor func(dep string) *provider.Breaker
	log        *zap.Logger
	steps      []step

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewPipeline(st store.Store, gw *provider.Gateway, dir DirectoryService, vol VolumeService, sec SecretSource, log *zap.Logger) *Pipeline {
	p := &Pipeline{
		store:      st,
		breakerFor: gw.BreakerFor,
		log:        log,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
	p.steps = []step{
		{
			name:     "directory_join",
			dep:      DepDirectory,
			attempts: 3,
			backoff:  2 * time.Second,
			run: func(ctx context.Context, ws *core.Workspace) error {
				return dir.Join(ctx, ws.ProviderID)
			},
		},
		{
			name:     "volume_attach",
			dep:      DepVolume,
			attempts: 1,
			run: func(ctx context.Context, ws *core.Workspace) error {
				return vol.Attach(ctx, ws.ProviderID, ws.Owner)
			},
		},
		{
			name:     "secret_inject",
			dep:      DepSecrets,
			attempts: 1,
			run: func(ctx context.Context, ws *core.Workspace) error {
				return sec.InjectSecrets(ctx, ws.ProviderID, ws.Owner)
			},
		},
		{
			name:     "dotfile_sync",
			dep:      DepVolume,
			attempts: 1,
			run: func(ctx context.Context, ws *core.Workspace) error {
				return vol.SyncDotfiles(ctx, ws.ProviderID, ws.Owner)
			},
		},
	}
	return p
}

// StepNames lists the pipeline steps in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.name
	}
	return names
}

// Run executes the remaining steps for the workspace, persisting the
// resume point after each one. The workspace must be in CUSTOMIZING.
// A terminal step failure returns a *StepError; the caller owns the
// transition to FAILED.
func (p *Pipeline) Run(ctx context.Context, ws *core.Workspace) error {
	if ws.State != core.WorkspaceCustomizing {
		return core.InvalidTransitionError(ws.ID, ws.State, core.WorkspaceCustomizing)
	}
	return p.runFrom(ctx, ws)
}

// Personalize re-runs the owner-scoped steps on a freshly claimed pool
// member. The machine-scoped directory join already ran when the
// member was built, so the run restarts at the volume attach. The
// member keeps its state; every step is idempotent and safe to repeat
// for the new owner.
func (p *Pipeline) Personalize(ctx context.Context, ws *core.Workspace) error {
	if !ws.Assigned() {
		return core.NewAppError(core.ErrStateConflict,
			"cannot personalize unassigned workspace "+ws.ID)
	}
	ws.CustomizeStep = 1
	return p.runFrom(ctx, ws)
}

func (p *Pipeline) runFrom(ctx context.Context, ws *core.Workspace) error {
	for i := ws.CustomizeStep; i < len(p.steps); i++ {
		s := p.steps[i]
		if err := p.runStep(ctx, s, ws); err != nil {
			observability.CustomizeFailures.WithLabelValues(s.name).Inc()
			return &StepError{Step: s.name, Err: err}
		}

		ws.CustomizeStep = i + 1
		if err := p.store.UpdateWorkspace(ctx, ws); err != nil {
			if errors.Is(err, store.ErrConflict) {
				// Someone else mutated the record mid-pipeline, most
				// likely a termination. Stop; do not clobber.
				return core.NewAppError(core.ErrStateConflict,
					"workspace "+ws.ID+" changed during customization")
			}
			return err
		}
	}
	return nil
}

func (p *Pipeline) runStep(ctx context.Context, s step, ws *core.Workspace) error {
	b := p.breakerFor(s.dep)
	start := time.Now()
	defer func() {
		observability.CustomizeStepDuration.WithLabelValues(s.name).Observe(time.Since(start).Seconds())
	}()

	backoff := s.backoff
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if err := b.Allow(); err != nil {
			return err
		}
		err := s.run(ctx, ws)
		b.Record(err == nil)
		if err == nil {
			return nil
		}
		lastErr = err
		p.log.Warn("customize step failed",
			zap.String("workspace_id", ws.ID),
			zap.String("step", s.name),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < s.attempts {
			if err := p.sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
		}
	}
	return lastErr
}
