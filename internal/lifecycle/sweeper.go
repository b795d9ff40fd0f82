package lifecycle

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/opsforge/wpc/internal/core"
	"github.com/opsforge/wpc/internal/observability"
	"github.com/opsforge/wpc/internal/store"
)

type SweeperConfig struct {
	Interval   time.Duration `envconfig:"WPC_SWEEP_INTERVAL" default:"1m"`
	StaleAfter time.Duration `envconfig:"WPC_STALE_AFTER" default:"720h"`
	StaleGrace time.Duration `envconfig:"WPC_STALE_GRACE" default:"336h"`
}

// Sweeper runs the periodic idle-timeout, max-lifetime, and staleness
// policies. Each candidate is re-read immediately before acting and
// every write goes through the controller's generation discipline, so
// a sweep can never terminate a workspace a user just resumed: the
// user's write wins and the sweeper's conditional write is dropped as
// a benign conflict.
type Sweeper struct {
	ctrl  *Controller
	store store.Store
	cfg   SweeperConfig
	log   *zap.Logger
	now   func() time.Time
}

func NewSweeper(ctrl *Controller, st store.Store, cfg SweeperConfig, log *zap.Logger) *Sweeper {
	return &Sweeper{ctrl: ctrl, store: st, cfg: cfg, log: log, now: time.Now}
}

func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.log.Info("sweeper started", zap.Duration("interval", s.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopping")
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass of all three policies.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.sweepIdle(ctx)
	s.sweepMaxLifetime(ctx)
	s.sweepStale(ctx)
}

func (s *Sweeper) sweepIdle(ctx context.Context) {
	candidates, err := s.store.ListWorkspaces(ctx, store.ListFilter{
		States: []core.WorkspaceState{core.WorkspaceAvailable},
	})
	if err != nil {
		s.log.Error("idle sweep list failed", zap.Error(err))
		return
	}
	now := s.now()
	for _, ws := range candidates {
		// The idle clock starts when a user gets the workspace; warm
		// pool members waiting for assignment are not idle.
		if !ws.Assigned() {
			continue
		}
		if ws.IdleTimeout <= 0 {
			continue
		}
		if now.Sub(lastActivity(ws)) < ws.IdleTimeout {
			continue
		}
		s.apply(ctx, "idle", ws.ID, func(cur *core.Workspace) (bool, error) {
			// Re-check against the current record: the user may have
			// connected since the listing.
			if cur.State != core.WorkspaceAvailable || !cur.Assigned() || cur.IdleTimeout <= 0 {
				return false, nil
			}
			if s.now().Sub(lastActivity(cur)) < cur.IdleTimeout {
				return false, nil
			}
			_, err := s.ctrl.Stop(ctx, cur.ID)
			return true, err
		})
	}
}

func (s *Sweeper) sweepMaxLifetime(ctx context.Context) {
	candidates, err := s.store.ListWorkspaces(ctx, store.ListFilter{
		States: []core.WorkspaceState{
			core.WorkspaceAvailable, core.WorkspaceStopped, core.WorkspaceStale,
		},
	})
	if err != nil {
		s.log.Error("max-lifetime sweep list failed", zap.Error(err))
		return
	}
	now := s.now()
	for _, ws := range candidates {
		if ws.MaxLifetime <= 0 || ws.KeepAlive {
			continue
		}
		if now.Sub(ws.CreatedAt) < ws.MaxLifetime {
			continue
		}
		s.apply(ctx, "max_lifetime", ws.ID, func(cur *core.Workspace) (bool, error) {
			if cur.KeepAlive || cur.MaxLifetime <= 0 || cur.IsTerminal() {
				return false, nil
			}
			if s.now().Sub(cur.CreatedAt) < cur.MaxLifetime {
				return false, nil
			}
			_, err := s.ctrl.Terminate(ctx, cur.ID)
			return true, err
		})
	}
}

func (s *Sweeper) sweepStale(ctx context.Context) {
	now := s.now()

	// STOPPED -> STALE after the configured window.
	stopped, err := s.store.ListWorkspaces(ctx, store.ListFilter{
		States: []core.WorkspaceState{core.WorkspaceStopped},
	})
	if err != nil {
		s.log.Error("stale sweep list failed", zap.Error(err))
		return
	}
	for _, ws := range stopped {
		if ws.KeepAlive || ws.LastStoppedAt == nil {
			continue
		}
		if now.Sub(*ws.LastStoppedAt) < s.cfg.StaleAfter {
			continue
		}
		s.apply(ctx, "stale_flag", ws.ID, func(cur *core.Workspace) (bool, error) {
			if cur.KeepAlive || cur.State != core.WorkspaceStopped || cur.LastStoppedAt == nil {
				return false, nil
			}
			if s.now().Sub(*cur.LastStoppedAt) < s.cfg.StaleAfter {
				return false, nil
			}
			return true, s.ctrl.Transition(ctx, cur, core.WorkspaceStale)
		})
	}

	// STALE -> TERMINATING once the grace period after notification
	// expires. keep_alive is re-checked at fire time: setting it after
	// the staleness flag still cancels the termination.
	stale, err := s.store.ListWorkspaces(ctx, store.ListFilter{
		States: []core.WorkspaceState{core.WorkspaceStale},
	})
	if err != nil {
		s.log.Error("stale sweep list failed", zap.Error(err))
		return
	}
	for _, ws := range stale {
		if ws.KeepAlive || ws.StaleNotifiedAt == nil {
			continue
		}
		if now.Sub(*ws.StaleNotifiedAt) < s.cfg.StaleGrace {
			continue
		}
		s.apply(ctx, "stale_terminate", ws.ID, func(cur *core.Workspace) (bool, error) {
			if cur.KeepAlive || cur.State != core.WorkspaceStale || cur.StaleNotifiedAt == nil {
				return false, nil
			}
			if s.now().Sub(*cur.StaleNotifiedAt) < s.cfg.StaleGrace {
				return false, nil
			}
			_, err := s.ctrl.Terminate(ctx, cur.ID)
			return true, err
		})
	}
}

// apply re-reads the record and runs the policy action against current
// state. Conflicts mean a user action won the race; they are dropped,
// never retried into a destructive outcome.
func (s *Sweeper) apply(ctx context.Context, sweep, id string, fn func(cur *core.Workspace) (bool, error)) {
	cur, err := s.store.GetWorkspace(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Error("sweep read failed", zap.String("workspace_id", id), zap.Error(err))
		}
		return
	}
	acted, err := fn(cur)
	switch {
	case err == nil && acted:
		observability.SweeperActions.WithLabelValues(sweep, "applied").Inc()
	case err == nil:
		observability.SweeperActions.WithLabelValues(sweep, "skipped").Inc()
	case errors.Is(err, store.ErrConflict) || isStateConflict(err):
		observability.SweeperActions.WithLabelValues(sweep, "conflict").Inc()
		s.log.Debug("sweep lost race, dropping",
			zap.String("sweep", sweep), zap.String("workspace_id", id))
	default:
		observability.SweeperActions.WithLabelValues(sweep, "error").Inc()
		s.log.Error("sweep action failed",
			zap.String("sweep", sweep), zap.String("workspace_id", id), zap.Error(err))
	}
}

func isStateConflict(err error) bool {
	var appErr *core.AppError
	return errors.As(err, &appErr) &&
		(appErr.Code == core.ErrStateConflict || appErr.Code == core.ErrInvalidTransition)
}

// lastActivity is the idle-clock anchor: the most recent session
// activity, falling back to when the workspace became available.
func lastActivity(ws *core.Workspace) time.Time {
	if ws.LastConnectedAt != nil {
		return *ws.LastConnectedAt
	}
	if ws.AvailableAt != nil {
		return *ws.AvailableAt
	}
	return ws.CreatedAt
}
