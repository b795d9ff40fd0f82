// Package admission is the synchronous pre-check every provisioning
// request passes before any pool or provider work happens. It is the
// single shared implementation behind every front-end, so a denial
// reads identically from the portal, the CLI, and the chat agent.
package admission

import (
	"context"

	"go.uber.org/zap"

	"github.com/opsforge/wpc/internal/core"
	"github.com/opsforge/wpc/internal/observability"
)

// Authorizer is the external RBAC decision point.
type Authorizer interface {
	Authorize(ctx context.Context, user string, role core.Role, action string, tier core.BundleTier) (bool, error)
}

// BudgetOutcome is the ledger's verdict on the estimated spend.
type BudgetOutcome int

const (
	BudgetAllow BudgetOutcome = iota
	BudgetAllowWithWarning
	BudgetDeny
)

// BudgetDecision carries the outcome plus the ledger's message for
// warnings and denials.
type BudgetDecision struct {
	Outcome BudgetOutcome
	Message string
}

// Ledger is the external cost/budget collaborator.
type Ledger interface {
	CheckBudget(ctx context.Context, team string, estimatedCost float64) (BudgetDecision, error)
}

// Decision is an approved admission. Warning is non-empty when the
// ledger allowed the request with a warning to relay to the caller.
type Decision struct {
	Warning string
}

type Gate struct {
	auth   Authorizer
	ledger Ledger
	log    *zap.Logger
}

func NewGate(auth Authorizer, ledger Ledger, log *zap.Logger) *Gate {
	return &Gate{auth: auth, ledger: ledger, log: log}
}

// Admit runs authorization then the budget check, in that order. Any
// denial short-circuits: the caller must not touch the pool manager or
// the provider gateway afterwards.
func (g *Gate) Admit(ctx context.Context, req *core.WorkspaceRequest) (*Decision, error) {
	// Tier policy is evaluated locally first so a contractor asking
	// for a restricted tier never generates an RBAC round trip.
	if !core.TierAllowed(req.Role, req.Tier) {
		observability.AdmissionDecisions.WithLabelValues("denied").Inc()
		return nil, core.NewAppError(core.ErrDeniedByPolicy,
			"role "+string(req.Role)+" may not request tier "+string(req.Tier))
	}

	ok, err := g.auth.Authorize(ctx, req.Requester, req.Role, "workspace.create", req.Tier)
	if err != nil {
		// Authorization must answer; there is no safe default.
		return nil, core.NewAppError(core.ErrUpstreamUnavailable, "authorization unavailable")
	}
	if !ok {
		observability.AdmissionDecisions.WithLabelValues("denied").Inc()
		return nil, core.NewAppError(core.ErrDeniedByPolicy,
			req.Requester+" is not authorized for tier "+string(req.Tier))
	}

	dec, err := g.ledger.CheckBudget(ctx, req.Team, core.EstimatedMonthlyCost(req.Tier))
	if err != nil {
		// The ledger is non-critical: cost tracking may lag, so a dead
		// ledger degrades to approval with a warning instead of
		// blocking provisioning.
		g.log.Warn("budget ledger unavailable, admitting without check",
			zap.String("team", req.Team), zap.Error(err))
		observability.AdmissionDecisions.WithLabelValues("allowed_degraded").Inc()
		return &Decision{Warning: "budget check unavailable; spend not verified"}, nil
	}

	switch dec.Outcome {
	case BudgetDeny:
		observability.AdmissionDecisions.WithLabelValues("denied").Inc()
		return nil, core.NewAppError(core.ErrDeniedByPolicy, dec.Message)
	case BudgetAllowWithWarning:
		observability.AdmissionDecisions.WithLabelValues("allowed_warning").Inc()
		return &Decision{Warning: dec.Message}, nil
	default:
		observability.AdmissionDecisions.WithLabelValues("allowed").Inc()
		return &Decision{}, nil
	}
}
