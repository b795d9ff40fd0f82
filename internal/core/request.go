package core

// WorkspaceRequest is the ephemeral inbound request to provision a
// workspace. It is never persisted beyond request tracking.
type WorkspaceRequest struct {
	Requester      string            `json:"requester"`
	Role           Role              `json:"role"`
	Team           string            `json:"team"`
	ServiceType    ServiceType       `json:"service_type"`
	Tier           BundleTier        `json:"tier"`
	OS             OperatingSystem   `json:"os"`
	BlueprintID    string            `json:"blueprint_id,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
	GeoHint        string            `json:"geo_hint,omitempty"`
	IdempotencyKey string            `json:"-"`
}

// Validate checks the request fields that do not need policy lookups.
func (r *WorkspaceRequest) Validate() *AppError {
	if r.Requester == "" {
		return NewAppError(ErrBadRequest, "requester is required")
	}
	if !ValidTier(r.Tier) {
		return NewAppError(ErrBadRequest, "unknown bundle tier: "+string(r.Tier))
	}
	switch r.OS {
	case OSLinux, OSWindows:
	default:
		return NewAppError(ErrBadRequest, "unknown operating system: "+string(r.OS))
	}
	switch r.ServiceType {
	case ServiceDesktop, ServiceApplication:
	default:
		return NewAppError(ErrBadRequest, "unknown service type: "+string(r.ServiceType))
	}
	return nil
}
