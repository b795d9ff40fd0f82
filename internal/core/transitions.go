package core

// transitions is the complete set of legal state changes. Anything not
// listed here is a bug in the caller, not a no-op.
var transitions = map[WorkspaceState][]WorkspaceState{
	WorkspacePending:     {WorkspaceCustomizing, WorkspaceTerminating, WorkspaceFailed},
	WorkspaceCustomizing: {WorkspaceAvailable, WorkspaceTerminating, WorkspaceFailed},
	WorkspaceAvailable:   {WorkspaceStopping, WorkspaceTerminating},
	WorkspaceStopping:    {WorkspaceStopped, WorkspaceTerminating, WorkspaceFailed},
	WorkspaceStopped:     {WorkspaceStarting, WorkspaceStale, WorkspaceTerminating},
	WorkspaceStarting:    {WorkspaceAvailable, WorkspaceTerminating, WorkspaceFailed},
	WorkspaceStale:       {WorkspaceStarting, WorkspaceTerminating},
	WorkspaceTerminating: {WorkspaceTerminated, WorkspaceFailed},
	WorkspaceTerminated:  {},
	WorkspaceFailed:      {},
}

// CanTransition reports whether from -> to appears in the transition
// table.
func CanTransition(from, to WorkspaceState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidStates lists every workspace state, for validation of stored
// records.
func ValidStates() []WorkspaceState {
	states := make([]WorkspaceState, 0, len(transitions))
	for s := range transitions {
		states = append(states, s)
	}
	return states
}
