// Package lifecycle owns every workspace state change after creation.
// Nothing else in the control plane writes Workspace.state: user
// actions, the pool manager's hand-off, and the policy sweepers all
// funnel through the Controller, which validates each change against
// the transition table and applies it with a generation-checked write.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/opsforge/wpc/internal/core"
	"github.com/opsforge/wpc/internal/observability"
	"github.com/opsforge/wpc/internal/provider"
	"github.com/opsforge/wpc/internal/store"
)

// casRetries bounds how often a mutation re-reads after losing a
// generation race before giving up.
const casRetries = 3

type Controller struct {
	store store.Store
	gw    *provider.Gateway
	log   *zap.Logger
	now   func() time.Time
}

func NewController(st store.Store, gw *provider.Gateway, log *zap.Logger) *Controller {
	return &Controller{store: st, gw: gw, log: log, now: time.Now}
}

// Transition applies a validated state change to an already-read
// record and writes it conditionally. The caller keeps ws and its
// generation current on success.
func (c *Controller) Transition(ctx context.Context, ws *core.Workspace, to core.WorkspaceState) error {
	from := ws.State
	if !core.CanTransition(from, to) {
		return core.InvalidTransitionError(ws.ID, from, to)
	}
	ws.State = to
	c.stampTransition(ws, to)
	if err := c.store.UpdateWorkspace(ctx, ws); err != nil {
		ws.State = from
		return err
	}
	observability.StateTransitions.WithLabelValues(string(from), string(to)).Inc()
	c.log.Info("workspace transition",
		zap.String("workspace_id", ws.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return nil
}

func (c *Controller) stampTransition(ws *core.Workspace, to core.WorkspaceState) {
	now := c.now()
	switch to {
	case core.WorkspaceAvailable:
		if ws.AvailableAt == nil {
			t := now
			ws.AvailableAt = &t
		}
		t := now
		ws.LastConnectedAt = &t
		ws.StaleNotifiedAt = nil
	case core.WorkspaceStopped:
		t := now
		ws.LastStoppedAt = &t
	case core.WorkspaceStale:
		t := now
		ws.StaleNotifiedAt = &t
	case core.WorkspaceTerminated:
		t := now
		ws.TerminatedAt = &t
	case core.WorkspaceStarting:
		// Leaving STOPPED or STALE; a pending staleness termination is
		// void once the user resumes.
		ws.StaleNotifiedAt = nil
	}
}

// mutate runs fn against a fresh read of the workspace, retrying a
// bounded number of times when the conditional write loses a race.
func (c *Controller) mutate(ctx context.Context, id string, fn func(ws *core.Workspace) error) (*core.Workspace, error) {
	for i := 0; i < casRetries; i++ {
		ws, err := c.store.GetWorkspace(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, core.NewAppError(core.ErrNotFound, "workspace not found")
			}
			return nil, err
		}
		err = fn(ws)
		if err == nil {
			return ws, nil
		}
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		return nil, err
	}
	return nil, core.NewAppError(core.ErrStateConflict, "workspace "+id+" is being mutated concurrently")
}

// Start resumes a stopped or stale workspace. Issued against a stale
// workspace it also cancels the pending staleness termination, because
// the transition clears the staleness clock.
func (c *Controller) Start(ctx context.Context, id string) (*core.Workspace, error) {
	ws, err := c.mutate(ctx, id, func(ws *core.Workspace) error {
		return c.Transition(ctx, ws, core.WorkspaceStarting)
	})
	if err != nil {
		return nil, err
	}

	if err := c.gw.Start(ctx, ws.ID, ws.ProviderID); err != nil {
		return c.failWorkspace(ctx, ws, "provider start failed: "+err.Error())
	}
	if err := c.Transition(ctx, ws, core.WorkspaceAvailable); err != nil {
		return nil, err
	}
	return ws, nil
}

// Stop suspends an available workspace, either on user request or from
// the idle sweeper.
func (c *Controller) Stop(ctx context.Context, id string) (*core.Workspace, error) {
	ws, err := c.mutate(ctx, id, func(ws *core.Workspace) error {
		return c.Transition(ctx, ws, core.WorkspaceStopping)
	})
	if err != nil {
		return nil, err
	}

	if err := c.gw.Stop(ctx, ws.ID, ws.ProviderID); err != nil {
		return c.failWorkspace(ctx, ws, "provider stop failed: "+err.Error())
	}
	if err := c.Transition(ctx, ws, core.WorkspaceStopped); err != nil {
		return nil, err
	}
	return ws, nil
}

// Terminate retires a workspace. Calling it on a workspace already in
// TERMINATING or TERMINATED is a successful no-op so client retries
// converge.
func (c *Controller) Terminate(ctx context.Context, id string) (*core.Workspace, error) {
	var alreadyDone bool
	ws, err := c.mutate(ctx, id, func(ws *core.Workspace) error {
		switch ws.State {
		case core.WorkspaceTerminating, core.WorkspaceTerminated:
			alreadyDone = true
			return nil
		}
		return c.Transition(ctx, ws, core.WorkspaceTerminating)
	})
	if err != nil {
		return nil, err
	}
	if alreadyDone {
		return ws, nil
	}

	if err := c.gw.Terminate(ctx, ws.ID, ws.ProviderID); err != nil {
		return c.failWorkspace(ctx, ws, "provider terminate failed: "+err.Error())
	}
	if err := c.Transition(ctx, ws, core.WorkspaceTerminated); err != nil {
		return nil, err
	}
	return ws, nil
}

// TouchActivity records session activity, resetting the idle clock.
func (c *Controller) TouchActivity(ctx context.Context, id string) error {
	_, err := c.mutate(ctx, id, func(ws *core.Workspace) error {
		if ws.State != core.WorkspaceAvailable {
			return core.NewAppError(core.ErrStateConflict,
				"activity on non-available workspace "+id)
		}
		t := c.now()
		ws.LastConnectedAt = &t
		return c.store.UpdateWorkspace(ctx, ws)
	})
	return err
}

// SetKeepAlive toggles the staleness exemption.
func (c *Controller) SetKeepAlive(ctx context.Context, id string, keepAlive bool) (*core.Workspace, error) {
	return c.mutate(ctx, id, func(ws *core.Workspace) error {
		if ws.IsTerminal() {
			return core.NewAppError(core.ErrStateConflict,
				"cannot change keep-alive on a terminal workspace")
		}
		ws.KeepAlive = keepAlive
		return c.store.UpdateWorkspace(ctx, ws)
	})
}

// failWorkspace converts an exhausted provider error into the FAILED
// state. FAILED is terminal and surfaced to the owner; it never
// auto-retries.
func (c *Controller) failWorkspace(ctx context.Context, ws *core.Workspace, reason string) (*core.Workspace, error) {
	ws.FailureReason = reason
	if err := c.Transition(ctx, ws, core.WorkspaceFailed); err != nil {
		c.log.Error("could not mark workspace failed",
			zap.String("workspace_id", ws.ID), zap.Error(err))
	}
	return nil, core.NewAppError(core.ErrUpstreamUnavailable, reason)
}
