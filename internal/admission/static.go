package admission

import (
	"context"
	"fmt"
	"sync"

	"github.com/opsforge/wpc/internal/core"
)

// StaticAuthorizer approves any request whose role passes the tier
// policy table. It stands in for the SSO/RBAC collaborator in dev
// deployments and tests.
type StaticAuthorizer struct{}

func (StaticAuthorizer) Authorize(ctx context.Context, user string, role core.Role, action string, tier core.BundleTier) (bool, error) {
	return core.TierAllowed(role, tier), nil
}

// FixedLedger tracks spend against a fixed per-team budget. Spend
// crossing the warn fraction yields AllowWithWarning; crossing the
// budget yields Deny.
type FixedLedger struct {
	Budget       float64
	WarnFraction float64

	mu    sync.Mutex
	spend map[string]float64
}

func NewFixedLedger(budget float64) *FixedLedger {
	return &FixedLedger{Budget: budget, WarnFraction: 0.8, spend: make(map[string]float64)}
}

func (l *FixedLedger) CheckBudget(ctx context.Context, team string, estimatedCost float64) (BudgetDecision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	projected := l.spend[team] + estimatedCost
	if projected > l.Budget {
		return BudgetDecision{
			Outcome: BudgetDeny,
			Message: fmt.Sprintf("estimated spend %.2f exceeds team budget %.2f", projected, l.Budget),
		}, nil
	}
	l.spend[team] = projected
	if projected > l.Budget*l.WarnFraction {
		return BudgetDecision{
			Outcome: BudgetAllowWithWarning,
			Message: fmt.Sprintf("team spend %.2f is over %.0f%% of budget %.2f", projected, l.WarnFraction*100, l.Budget),
		}, nil
	}
	return BudgetDecision{Outcome: BudgetAllow}, nil
}
