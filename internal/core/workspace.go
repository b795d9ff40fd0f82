package core

import "time"

type WorkspaceState string

const (
	WorkspacePending      WorkspaceState = "PENDING"
	WorkspaceCustomizing  WorkspaceState = "CUSTOMIZING"
	WorkspaceAvailable    WorkspaceState = "AVAILABLE"
	WorkspaceStopping     WorkspaceState = "STOPPING"
	WorkspaceStopped      WorkspaceState = "STOPPED"
	WorkspaceStarting     WorkspaceState = "STARTING"
	WorkspaceStale        WorkspaceState = "STALE"
	WorkspaceTerminating  WorkspaceState = "TERMINATING"
	WorkspaceTerminated   WorkspaceState = "TERMINATED"
	WorkspaceFailed       WorkspaceState = "FAILED"
)

type OperatingSystem string

const (
	OSLinux   OperatingSystem = "linux"
	OSWindows OperatingSystem = "windows"
)

type ServiceType string

const (
	ServiceDesktop     ServiceType = "desktop"
	ServiceApplication ServiceType = "application"
)

type Workspace struct {
	ID          string          `json:"id"`
	Owner       string          `json:"owner,omitempty"`
	Team        string          `json:"team,omitempty"`
	Region      string          `json:"region"`
	Tier        BundleTier      `json:"tier"`
	OS          OperatingSystem `json:"os"`
	BlueprintID string          `json:"blueprint_id,omitempty"`
	ServiceType ServiceType     `json:"service_type"`
	State       WorkspaceState  `json:"state"`

	// Provider-side handle and connection endpoint, set once the
	// underlying resource is reachable.
	ProviderID     string `json:"provider_id,omitempty"`
	ConnectionInfo string `json:"connection_info,omitempty"`

	CreatedAt       time.Time  `json:"created_at"`
	AvailableAt     *time.Time `json:"available_at,omitempty"`
	LastConnectedAt *time.Time `json:"last_connected_at,omitempty"`
	LastStoppedAt   *time.Time `json:"last_stopped_at,omitempty"`
	TerminatedAt    *time.Time `json:"terminated_at,omitempty"`

	IdleTimeout    time.Duration `json:"idle_timeout"`
	MaxLifetime    time.Duration `json:"max_lifetime"`
	KeepAlive      bool          `json:"keep_alive"`
	StaleNotifiedAt *time.Time   `json:"stale_notified_at,omitempty"`

	PoolOrigin bool `json:"pool_origin"`

	// Index of the next customization step to run. Lets an interrupted
	// pipeline resume instead of re-running completed steps.
	CustomizeStep int `json:"customize_step"`

	// Reason the workspace entered FAILED, including the failing
	// customization step when applicable.
	FailureReason string `json:"failure_reason,omitempty"`

	// Set when the end-to-end provisioning deadline expired with a
	// provider call still in flight; a reconciler must terminate
	// whatever the provider eventually reports.
	NeedsCleanup bool `json:"needs_cleanup,omitempty"`

	// Optimistic-concurrency generation. Every conditional write
	// increments it; a mutator whose read generation no longer matches
	// loses the race.
	Generation int64 `json:"generation"`
}

// Assigned reports whether the workspace has been handed to a user.
// Pooled standby members have no owner until acquisition.
func (w *Workspace) Assigned() bool {
	return w.Owner != ""
}

// IsTerminal reports whether the workspace is in a final state.
func (w *Workspace) IsTerminal() bool {
	switch w.State {
	case WorkspaceTerminated, WorkspaceFailed:
		return true
	}
	return false
}

// PoolKey identifies the standby pool a workspace belongs to.
func (w *Workspace) PoolKey() PoolKey {
	return PoolKey{BlueprintID: w.BlueprintID, OS: w.OS}
}

// PoolKey is the (blueprint, operating system) pair that keys a
// standby pool.
type PoolKey struct {
	BlueprintID string          `json:"blueprint_id"`
	OS          OperatingSystem `json:"os"`
}

func (k PoolKey) String() string {
	return k.BlueprintID + "/" + string(k.OS)
}
