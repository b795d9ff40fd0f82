// Package pool keeps a standby set of pre-provisioned, customized
// workspaces per (blueprint, operating system) key so assignment does
// not pay provider latency. Membership is derived from the workspace
// records themselves: an idle member is AVAILABLE, unowned, and
// pool-tagged. There is no side list to drift.
package pool

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opsforge/wpc/internal/core"
	"github.com/opsforge/wpc/internal/customize"
	"github.com/opsforge/wpc/internal/lifecycle"
	"github.com/opsforge/wpc/internal/observability"
	"github.com/opsforge/wpc/internal/provider"
	"github.com/opsforge/wpc/internal/store"
)

// Config holds the replenishment tunables.
type Config struct {
	Min            int           `envconfig:"WPC_POOL_MIN" default:"2"`
	Max            int           `envconfig:"WPC_POOL_MAX" default:"10"`
	Interval       time.Duration `envconfig:"WPC_POOL_INTERVAL" default:"30s"`
	SmoothingAlpha float64       `envconfig:"WPC_POOL_SMOOTHING_ALPHA" default:"0.3"`
	Concurrency    int           `envconfig:"WPC_POOL_CONCURRENCY" default:"4"`

	// Defaults applied to pool-built members until assignment.
	MemberTier        string        `envconfig:"WPC_POOL_MEMBER_TIER" default:"standard"`
	MemberIdleTimeout time.Duration `envconfig:"WPC_POOL_MEMBER_IDLE_TIMEOUT" default:"1h"`
	MemberMaxLifetime time.Duration `envconfig:"WPC_POOL_MEMBER_MAX_LIFETIME" default:"2160h"`
}

func DefaultConfig() Config {
	return Config{
		Min:               2,
		Max:               10,
		Interval:          30 * time.Second,
		SmoothingAlpha:    0.3,
		Concurrency:       4,
		MemberTier:        string(core.TierStandard),
		MemberIdleTimeout: time.Hour,
		MemberMaxLifetime: 90 * 24 * time.Hour,
	}
}

// demand tracks the assignment rate for one pool key. The EWMA of
// per-interval acquires raises the replenishment target above the
// configured minimum under sustained load.
type demand struct {
	pending int
	ewma    float64
}

type Manager struct {
	store store.Store
	gw    *provider.Gateway
	pipe  *customize.Pipeline
	ctrl  *lifecycle.Controller
	cfg   Config
	log   *zap.Logger

	mu    sync.Mutex
	pools map[core.PoolKey]*demand
	now   func() time.Time
}

func NewManager(st store.Store, gw *provider.Gateway, pipe *customize.Pipeline, ctrl *lifecycle.Controller, cfg Config, log *zap.Logger) *Manager {
	return &Manager{
		store: st,
		gw:    gw,
		pipe:  pipe,
		ctrl:  ctrl,
		cfg:   cfg,
		log:   log,
		pools: make(map[core.PoolKey]*demand),
		now:   time.Now,
	}
}

// Track registers a pool key so the replenishment loop warms it even
// before the first acquire. Pools are otherwise created implicitly on
// first reference.
func (m *Manager) Track(key core.PoolKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pools[key]; !ok {
		m.pools[key] = &demand{}
	}
}

// Acquire claims the oldest idle member of the pool for the owner. The
// claim is a single conditional store write, so concurrent callers can
// never receive the same member. store.ErrPoolEmpty means the caller
// must fall back to on-demand creation.
func (m *Manager) Acquire(ctx context.Context, key core.PoolKey, owner, team string) (*core.Workspace, error) {
	m.mu.Lock()
	d, ok := m.pools[key]
	if !ok {
		d = &demand{}
		m.pools[key] = d
	}
	d.pending++
	m.mu.Unlock()

	ws, err := m.store.ClaimPooled(ctx, key, owner, team)
	if err != nil {
		if errors.Is(err, store.ErrPoolEmpty) {
			observability.PoolAcquires.WithLabelValues(key.BlueprintID, string(key.OS), "miss").Inc()
		}
		return nil, err
	}
	observability.PoolAcquires.WithLabelValues(key.BlueprintID, string(key.OS), "hit").Inc()
	return ws, nil
}

// Target is the idle-member goal for the key: the configured minimum
// raised by smoothed demand, clamped to the configured maximum.
func (m *Manager) Target(key core.PoolKey) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.pools[key]
	if !ok {
		return m.cfg.Min
	}
	target := m.cfg.Min + int(math.Round(d.ewma))
	if target > m.cfg.Max {
		target = m.cfg.Max
	}
	return target
}

// PoolStatus is a point-in-time view of one tracked pool.
type PoolStatus struct {
	Key    core.PoolKey
	Idle   int
	Target int
}

// Status reports every tracked pool with its idle count and current
// replenishment target, sorted by key for stable output.
func (m *Manager) Status(ctx context.Context) ([]PoolStatus, error) {
	m.mu.Lock()
	keys := make([]core.PoolKey, 0, len(m.pools))
	for key := range m.pools {
		keys = append(keys, key)
	}
	m.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	out := make([]PoolStatus, 0, len(keys))
	for _, key := range keys {
		idle, err := m.store.CountPoolIdle(ctx, key)
		if err != nil {
			return nil, err
		}
		out = append(out, PoolStatus{Key: key, Idle: idle, Target: m.Target(key)})
	}
	return out, nil
}

// Run drives periodic replenishment until the context is canceled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Replenish(ctx)
		}
	}
}

// Replenish folds the interval's acquire counts into the demand EWMA,
// then tops every tracked pool up to its target.
func (m *Manager) Replenish(ctx context.Context) {
	m.mu.Lock()
	keys := make([]core.PoolKey, 0, len(m.pools))
	for key, d := range m.pools {
		d.ewma = m.cfg.SmoothingAlpha*float64(d.pending) + (1-m.cfg.SmoothingAlpha)*d.ewma
		d.pending = 0
		keys = append(keys, key)
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for _, key := range keys {
		idle, err := m.store.CountPoolIdle(ctx, key)
		if err != nil {
			m.log.Error("pool idle count failed", zap.String("pool", key.String()), zap.Error(err))
			continue
		}
		observability.PoolIdle.WithLabelValues(key.BlueprintID, string(key.OS)).Set(float64(idle))

		for i := idle; i < m.Target(key); i++ {
			key := key
			g.Go(func() error {
				m.provisionMember(gctx, key)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		m.log.Error("pool replenishment interrupted", zap.Error(err))
	}
}

// provisionMember builds one pool member end to end. The member stays
// invisible to Acquire until the final conditional write that lands it
// AVAILABLE, unowned, and pool-tagged in one step; a half-customized
// resource can never be handed out.
func (m *Manager) provisionMember(ctx context.Context, key core.PoolKey) {
	ws := &core.Workspace{
		ID:          core.NewID(),
		BlueprintID: key.BlueprintID,
		OS:          key.OS,
		Tier:        core.BundleTier(m.cfg.MemberTier),
		ServiceType: core.ServiceDesktop,
		State:       core.WorkspacePending,
		PoolOrigin:  true,
		CreatedAt:   m.now(),
		IdleTimeout: m.cfg.MemberIdleTimeout,
		MaxLifetime: m.cfg.MemberMaxLifetime,
	}
	if err := m.store.CreateWorkspace(ctx, ws); err != nil {
		m.log.Error("pool member create failed", zap.String("pool", key.String()), zap.Error(err))
		m.countReplenish(key, "store_error")
		return
	}

	res, err := m.gw.Create(ctx, provider.ResourceSpec{
		WorkspaceID: ws.ID,
		Tier:        string(ws.Tier),
		OS:          string(ws.OS),
		BlueprintID: ws.BlueprintID,
	}, "")
	if err != nil {
		m.failMember(ctx, ws, "provider create failed: "+err.Error())
		m.countReplenish(key, "provider_error")
		return
	}
	ws.ProviderID = res.ProviderID
	ws.Region = res.Region
	ws.ConnectionInfo = res.ConnectionInfo

	if err := m.ctrl.Transition(ctx, ws, core.WorkspaceCustomizing); err != nil {
		m.log.Error("pool member transition failed", zap.String("workspace_id", ws.ID), zap.Error(err))
		m.countReplenish(key, "conflict")
		return
	}
	if err := m.pipe.Run(ctx, ws); err != nil {
		m.failMember(ctx, ws, "customization failed: "+err.Error())
		m.countReplenish(key, "customize_error")
		return
	}
	if err := m.ctrl.Transition(ctx, ws, core.WorkspaceAvailable); err != nil {
		m.log.Error("pool member publish failed", zap.String("workspace_id", ws.ID), zap.Error(err))
		m.countReplenish(key, "conflict")
		return
	}
	m.countReplenish(key, "ok")
	m.log.Info("pool member ready",
		zap.String("pool", key.String()),
		zap.String("workspace_id", ws.ID),
		zap.String("region", ws.Region),
	)
}

func (m *Manager) failMember(ctx context.Context, ws *core.Workspace, reason string) {
	ws.FailureReason = reason
	if err := m.ctrl.Transition(ctx, ws, core.WorkspaceFailed); err != nil {
		m.log.Error("could not mark pool member failed",
			zap.String("workspace_id", ws.ID), zap.Error(err))
	}
}

func (m *Manager) countReplenish(key core.PoolKey, outcome string) {
	observability.PoolReplenishTotal.WithLabelValues(key.BlueprintID, string(key.OS), outcome).Inc()
}
