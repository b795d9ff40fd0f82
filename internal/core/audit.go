package core

import (
	"encoding/json"
	"time"
)

// AuditEvent is an append-only record of a control-plane action.
// Appends are fire-and-forget; a failed append never blocks or fails
// the action it records.
type AuditEvent struct {
	EventID     int64           `json:"event_id"`
	Ts          time.Time       `json:"ts"`
	WorkspaceID *string         `json:"workspace_id,omitempty"`
	Actor       string          `json:"actor"`
	Action      string          `json:"action"`
	Result      string          `json:"result"`
	RequestID   *string         `json:"request_id,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}
