package core

import "testing"

func TestCanTransition_LegalPaths(t *testing.T) {
	legal := []struct {
		from, to WorkspaceState
	}{
		{WorkspacePending, WorkspaceCustomizing},
		{WorkspaceCustomizing, WorkspaceAvailable},
		{WorkspaceCustomizing, WorkspaceFailed},
		{WorkspaceAvailable, WorkspaceStopping},
		{WorkspaceStopping, WorkspaceStopped},
		{WorkspaceStopped, WorkspaceStarting},
		{WorkspaceStarting, WorkspaceAvailable},
		{WorkspaceStopped, WorkspaceStale},
		{WorkspaceStale, WorkspaceStarting},
		{WorkspaceStale, WorkspaceTerminating},
		{WorkspaceAvailable, WorkspaceTerminating},
		{WorkspaceStopped, WorkspaceTerminating},
		{WorkspaceTerminating, WorkspaceTerminated},
		{WorkspacePending, WorkspaceFailed},
		{WorkspaceTerminating, WorkspaceFailed},
	}
	for _, tc := range legal {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be legal", tc.from, tc.to)
		}
	}
}

func TestCanTransition_IllegalPaths(t *testing.T) {
	illegal := []struct {
		from, to WorkspaceState
	}{
		{WorkspacePending, WorkspaceAvailable},
		{WorkspaceAvailable, WorkspaceStopped},
		{WorkspaceAvailable, WorkspaceStale},
		{WorkspaceStopped, WorkspaceAvailable},
		{WorkspaceAvailable, WorkspaceFailed},
		{WorkspaceStale, WorkspaceStopped},
		{WorkspaceTerminated, WorkspaceStarting},
		{WorkspaceTerminated, WorkspaceTerminating},
		{WorkspaceFailed, WorkspacePending},
		{WorkspaceFailed, WorkspaceTerminating},
	}
	for _, tc := range illegal {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []WorkspaceState{WorkspaceTerminated, WorkspaceFailed} {
		ws := &Workspace{State: s}
		if !ws.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
		if len(transitions[s]) != 0 {
			t.Errorf("terminal state %s has outgoing transitions", s)
		}
	}
	ws := &Workspace{State: WorkspaceAvailable}
	if ws.IsTerminal() {
		t.Error("AVAILABLE reported as terminal")
	}
}

func TestTierPolicy_ContractorRestrictions(t *testing.T) {
	if !TierAllowed(RoleContractor, TierStandard) {
		t.Error("contractor should be allowed standard tier")
	}
	if TierAllowed(RoleContractor, TierPerformance) {
		t.Error("contractor should not be allowed performance tier")
	}
	if TierAllowed(RoleContractor, TierGraphics) {
		t.Error("contractor should not be allowed graphics tier")
	}
	if !TierAllowed(RoleAdmin, TierGraphics) {
		t.Error("admin should be allowed graphics tier")
	}
}

func TestEstimatedMonthlyCost_Ordering(t *testing.T) {
	if EstimatedMonthlyCost(TierValue) >= EstimatedMonthlyCost(TierPower) {
		t.Error("value tier should cost less than power tier")
	}
}
