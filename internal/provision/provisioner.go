// Package provision orchestrates a create request end to end:
// admission, deduplication, pool acquire or on-demand creation,
// customization, and the hand-off to the lifecycle controller. Every
// front-end goes through this one path so outcomes and error bytes are
// identical regardless of caller.
package provision

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/opsforge/wpc/internal/admission"
	"github.com/opsforge/wpc/internal/core"
	"github.com/opsforge/wpc/internal/customize"
	"github.com/opsforge/wpc/internal/lifecycle"
	"github.com/opsforge/wpc/internal/observability"
	"github.com/opsforge/wpc/internal/pool"
	"github.com/opsforge/wpc/internal/provider"
	"github.com/opsforge/wpc/internal/store"
	"github.com/opsforge/wpc/internal/tracker"
)

// Config bounds the end-to-end attempt and supplies the policy
// defaults stamped onto new workspaces.
type Config struct {
	Deadline           time.Duration `envconfig:"WPC_PROVISION_DEADLINE" default:"5m"`
	DefaultIdleTimeout time.Duration `envconfig:"WPC_DEFAULT_IDLE_TIMEOUT" default:"1h"`
	DefaultMaxLifetime time.Duration `envconfig:"WPC_DEFAULT_MAX_LIFETIME" default:"2160h"`
}

func DefaultConfig() Config {
	return Config{
		Deadline:           5 * time.Minute,
		DefaultIdleTimeout: time.Hour,
		DefaultMaxLifetime: 90 * 24 * time.Hour,
	}
}

// Result is the outcome of a create request.
type Result struct {
	Workspace *core.Workspace
	// Warning relays an AllowWithWarning admission verbatim.
	Warning string
	// Replayed is true when the idempotency key matched an earlier
	// request and no new resource was built.
	Replayed bool
}

type Provisioner struct {
	store store.Store
	gate  *admission.Gate
	dedup *tracker.Tracker
	pools *pool.Manager
	gw    *provider.Gateway
	pipe  *customize.Pipeline
	ctrl  *lifecycle.Controller
	cfg   Config
	log   *zap.Logger
	now   func() time.Time
}

func New(st store.Store, gate *admission.Gate, dedup *tracker.Tracker, pools *pool.Manager,
	gw *provider.Gateway, pipe *customize.Pipeline, ctrl *lifecycle.Controller,
	cfg Config, log *zap.Logger) *Provisioner {
	return &Provisioner{
		store: st,
		gate:  gate,
		dedup: dedup,
		pools: pools,
		gw:    gw,
		pipe:  pipe,
		ctrl:  ctrl,
		cfg:   cfg,
		log:   log,
		now:   time.Now,
	}
}

// Create provisions a workspace for the request. requestHash is the
// fingerprint of the raw request body, used for idempotent replay
// detection. A denial returns before any pool or provider work.
func (p *Provisioner) Create(ctx context.Context, req *core.WorkspaceRequest, requestHash string) (*Result, error) {
	if appErr := req.Validate(); appErr != nil {
		return nil, appErr
	}

	if id, found, err := p.dedup.Lookup(ctx, req.Requester, req.IdempotencyKey, requestHash); err != nil {
		return nil, err
	} else if found {
		ws, err := p.store.GetWorkspace(ctx, id)
		if err != nil {
			return nil, err
		}
		return &Result{Workspace: ws, Replayed: true}, nil
	}

	dec, err := p.gate.Admit(ctx, req)
	if err != nil {
		return nil, err
	}

	start := p.now()
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Deadline)
	defer cancel()

	ws, err := p.build(ctx, req)
	if err != nil {
		return nil, err
	}
	origin := "on_demand"
	if ws.PoolOrigin {
		origin = "pool"
	}
	observability.ProvisionDuration.WithLabelValues(origin).Observe(p.now().Sub(start).Seconds())

	finalID, err := p.dedup.Record(ctx, req.Requester, req.IdempotencyKey, requestHash, ws.ID)
	if err != nil {
		return nil, err
	}
	if finalID != ws.ID {
		// A concurrent retry with the same key won the insert race.
		// Retire the duplicate and hand back the winner.
		if _, terr := p.ctrl.Terminate(ctx, ws.ID); terr != nil {
			p.log.Error("could not retire duplicate workspace",
				zap.String("workspace_id", ws.ID), zap.Error(terr))
		}
		winner, err := p.store.GetWorkspace(ctx, finalID)
		if err != nil {
			return nil, err
		}
		return &Result{Workspace: winner, Warning: dec.Warning, Replayed: true}, nil
	}

	return &Result{Workspace: ws, Warning: dec.Warning}, nil
}

// build resolves a workspace through the pool or on demand.
func (p *Provisioner) build(ctx context.Context, req *core.WorkspaceRequest) (*core.Workspace, error) {
	key := core.PoolKey{BlueprintID: req.BlueprintID, OS: req.OS}
	ws, err := p.pools.Acquire(ctx, key, req.Requester, req.Team)
	if err == nil {
		return p.adopt(ctx, ws, req)
	}
	if !errors.Is(err, store.ErrPoolEmpty) {
		return nil, err
	}
	return p.onDemand(ctx, req)
}

// adopt personalizes a claimed pool member for its new owner.
func (p *Provisioner) adopt(ctx context.Context, ws *core.Workspace, req *core.WorkspaceRequest) (*core.Workspace, error) {
	ws.Tier = req.Tier
	ws.ServiceType = req.ServiceType
	ws.IdleTimeout = p.cfg.DefaultIdleTimeout
	ws.MaxLifetime = p.cfg.DefaultMaxLifetime

	if err := p.pipe.Personalize(ctx, ws); err != nil {
		return nil, p.retire(ctx, ws, err)
	}
	now := p.now()
	ws.LastConnectedAt = &now
	if err := p.store.UpdateWorkspace(ctx, ws); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, core.NewAppError(core.ErrStateConflict,
				"workspace "+ws.ID+" changed during assignment")
		}
		return nil, err
	}
	p.log.Info("workspace assigned from pool",
		zap.String("workspace_id", ws.ID),
		zap.String("owner", ws.Owner),
		zap.String("region", ws.Region),
	)
	return ws, nil
}

// onDemand creates and customizes a fresh resource for the owner.
func (p *Provisioner) onDemand(ctx context.Context, req *core.WorkspaceRequest) (*core.Workspace, error) {
	ws := &core.Workspace{
		ID:          core.NewID(),
		Owner:       req.Requester,
		Team:        req.Team,
		Tier:        req.Tier,
		OS:          req.OS,
		ServiceType: req.ServiceType,
		BlueprintID: req.BlueprintID,
		State:       core.WorkspacePending,
		CreatedAt:   p.now(),
		IdleTimeout: p.cfg.DefaultIdleTimeout,
		MaxLifetime: p.cfg.DefaultMaxLifetime,
	}
	if err := p.store.CreateWorkspace(ctx, ws); err != nil {
		return nil, err
	}

	res, err := p.gw.Create(ctx, provider.ResourceSpec{
		WorkspaceID: ws.ID,
		Tier:        string(ws.Tier),
		OS:          string(ws.OS),
		BlueprintID: ws.BlueprintID,
	}, req.GeoHint)
	if err != nil {
		return nil, p.fail(ctx, ws, err)
	}
	ws.ProviderID = res.ProviderID
	ws.Region = res.Region
	ws.ConnectionInfo = res.ConnectionInfo

	if err := p.ctrl.Transition(ctx, ws, core.WorkspaceCustomizing); err != nil {
		return nil, err
	}
	if err := p.pipe.Run(ctx, ws); err != nil {
		return nil, p.fail(ctx, ws, err)
	}
	if err := p.ctrl.Transition(ctx, ws, core.WorkspaceAvailable); err != nil {
		return nil, err
	}
	p.log.Info("workspace provisioned on demand",
		zap.String("workspace_id", ws.ID),
		zap.String("owner", ws.Owner),
		zap.String("region", ws.Region),
	)
	return ws, nil
}

// retire handles a personalization failure on a claimed pool member.
// The member is already AVAILABLE, so the record cannot move to FAILED;
// it is terminated instead and the caller gets a customization error.
func (p *Provisioner) retire(ctx context.Context, ws *core.Workspace, cause error) error {
	timedOut := errors.Is(cause, context.DeadlineExceeded) || ctx.Err() != nil
	if timedOut {
		observability.ProvisionDeadlineExceeded.Inc()
	}
	if _, err := p.ctrl.Terminate(context.WithoutCancel(ctx), ws.ID); err != nil {
		p.log.Error("could not retire pool member after failed personalization",
			zap.String("workspace_id", ws.ID), zap.Error(err))
	}
	if timedOut {
		return core.NewAppError(core.ErrTimeout,
			"provisioning exceeded the end-to-end deadline")
	}
	var stepErr *customize.StepError
	if errors.As(cause, &stepErr) {
		return core.NewAppError(core.ErrCustomizationFailed,
			"customization failed at step "+stepErr.Step)
	}
	var appErr *core.AppError
	if errors.As(cause, &appErr) {
		return appErr
	}
	return core.NewAppError(core.ErrCustomizationFailed, cause.Error())
}

// fail converts a provisioning error into the FAILED state and the
// error the caller sees. A blown end-to-end deadline additionally
// flags the record for reconciliation since the provider side may
// still be mid-flight.
func (p *Provisioner) fail(ctx context.Context, ws *core.Workspace, cause error) error {
	timedOut := errors.Is(cause, context.DeadlineExceeded) || ctx.Err() != nil

	ws.FailureReason = cause.Error()
	if timedOut {
		ws.NeedsCleanup = true
		observability.ProvisionDeadlineExceeded.Inc()
	}
	// The deadline context may already be dead; the record write must
	// still land.
	if err := p.ctrl.Transition(context.WithoutCancel(ctx), ws, core.WorkspaceFailed); err != nil {
		p.log.Error("could not mark workspace failed",
			zap.String("workspace_id", ws.ID), zap.Error(err))
	}

	if timedOut {
		return core.NewAppError(core.ErrTimeout,
			"provisioning exceeded the end-to-end deadline; workspace "+ws.ID+" flagged for cleanup")
	}
	var appErr *core.AppError
	if errors.As(cause, &appErr) {
		return appErr
	}
	var stepErr *customize.StepError
	if errors.As(cause, &stepErr) {
		return core.NewAppError(core.ErrCustomizationFailed,
			"customization failed at step "+stepErr.Step)
	}
	return core.NewAppError(core.ErrUpstreamUnavailable, cause.Error())
}
