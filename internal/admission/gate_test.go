package admission

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/opsforge/wpc/internal/core"
)

type allowAll struct{}

func (allowAll) Authorize(ctx context.Context, user string, role core.Role, action string, tier core.BundleTier) (bool, error) {
	return true, nil
}

type scriptedLedger struct {
	dec BudgetDecision
	err error
}

func (l scriptedLedger) CheckBudget(ctx context.Context, team string, cost float64) (BudgetDecision, error) {
	return l.dec, l.err
}

func req(role core.Role, tier core.BundleTier) *core.WorkspaceRequest {
	return &core.WorkspaceRequest{
		Requester:   "alice",
		Role:        role,
		Team:        "platform",
		Tier:        tier,
		OS:          core.OSLinux,
		ServiceType: core.ServiceDesktop,
	}
}

func TestAdmit_ContractorDeniedRestrictedTier(t *testing.T) {
	g := NewGate(allowAll{}, scriptedLedger{dec: BudgetDecision{Outcome: BudgetAllow}}, zap.NewNop())

	_, err := g.Admit(context.Background(), req(core.RoleContractor, core.TierPower))
	var appErr *core.AppError
	if !errors.As(err, &appErr) || appErr.Code != core.ErrDeniedByPolicy {
		t.Fatalf("expected WPC_DENIED_BY_POLICY, got %v", err)
	}
}

func TestAdmit_BudgetDenyShortCircuits(t *testing.T) {
	g := NewGate(allowAll{}, scriptedLedger{
		dec: BudgetDecision{Outcome: BudgetDeny, Message: "spend at 105% of budget"},
	}, zap.NewNop())

	_, err := g.Admit(context.Background(), req(core.RoleEmployee, core.TierStandard))
	var appErr *core.AppError
	if !errors.As(err, &appErr) || appErr.Code != core.ErrDeniedByPolicy {
		t.Fatalf("expected WPC_DENIED_BY_POLICY, got %v", err)
	}
	if appErr.Message != "spend at 105% of budget" {
		t.Errorf("ledger message must surface verbatim, got %q", appErr.Message)
	}
}

func TestAdmit_WarningPropagates(t *testing.T) {
	g := NewGate(allowAll{}, scriptedLedger{
		dec: BudgetDecision{Outcome: BudgetAllowWithWarning, Message: "spend at 85% of budget"},
	}, zap.NewNop())

	dec, err := g.Admit(context.Background(), req(core.RoleEmployee, core.TierStandard))
	if err != nil {
		t.Fatalf("expected approval: %v", err)
	}
	if dec.Warning != "spend at 85% of budget" {
		t.Errorf("expected warning to propagate, got %q", dec.Warning)
	}
}

func TestAdmit_LedgerOutageDegradesWithWarning(t *testing.T) {
	g := NewGate(allowAll{}, scriptedLedger{err: errors.New("ledger down")}, zap.NewNop())

	dec, err := g.Admit(context.Background(), req(core.RoleEmployee, core.TierStandard))
	if err != nil {
		t.Fatalf("ledger outage should degrade, not deny: %v", err)
	}
	if dec.Warning == "" {
		t.Error("degraded admission should carry a warning")
	}
}

func TestFixedLedger_Thresholds(t *testing.T) {
	l := NewFixedLedger(100)

	dec, _ := l.CheckBudget(context.Background(), "t", 50)
	if dec.Outcome != BudgetAllow {
		t.Errorf("expected Allow at 50%%, got %v", dec.Outcome)
	}
	dec, _ = l.CheckBudget(context.Background(), "t", 35)
	if dec.Outcome != BudgetAllowWithWarning {
		t.Errorf("expected AllowWithWarning at 85%%, got %v", dec.Outcome)
	}
	dec, _ = l.CheckBudget(context.Background(), "t", 20)
	if dec.Outcome != BudgetDeny {
		t.Errorf("expected Deny at 105%%, got %v", dec.Outcome)
	}
}
