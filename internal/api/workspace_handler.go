package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/opsforge/wpc/internal/api/middleware"
	"github.com/opsforge/wpc/internal/core"
	"github.com/opsforge/wpc/internal/store"
)

type CreateWorkspaceRequest struct {
	Requester   string            `json:"requester"`
	Role        string            `json:"role"`
	Team        string            `json:"team"`
	ServiceType string            `json:"service_type"`
	Tier        string            `json:"tier"`
	OS          string            `json:"os"`
	BlueprintID string            `json:"blueprint_id,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	GeoHint     string            `json:"geo_hint,omitempty"`
}

type WorkspaceResponse struct {
	ID             string `json:"id"`
	Owner          string `json:"owner,omitempty"`
	Team           string `json:"team,omitempty"`
	Region         string `json:"region"`
	Tier           string `json:"tier"`
	OS             string `json:"os"`
	ServiceType    string `json:"service_type"`
	BlueprintID    string `json:"blueprint_id,omitempty"`
	State          string `json:"state"`
	ConnectionInfo string `json:"connection_info,omitempty"`
	PoolOrigin     bool   `json:"pool_origin"`
	KeepAlive      bool   `json:"keep_alive"`
	FailureReason  string `json:"failure_reason,omitempty"`
	CreatedAt      string `json:"created_at"`
	AvailableAt    string `json:"available_at,omitempty"`
	Warning        string `json:"warning,omitempty"`
}

// CreateWorkspace provisions a workspace for the requester. The
// Idempotency-Key header is mandatory; a retry with the same key and
// body returns the original workspace.
func (a *API) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "Idempotency-Key header required"))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "unreadable request body"))
		return
	}
	var req CreateWorkspaceRequest
	if err := json.Unmarshal(body, &req); err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid request body"))
		return
	}

	wsReq := &core.WorkspaceRequest{
		Requester:      req.Requester,
		Role:           core.Role(req.Role),
		Team:           req.Team,
		ServiceType:    core.ServiceType(req.ServiceType),
		Tier:           core.BundleTier(req.Tier),
		OS:             core.OperatingSystem(req.OS),
		BlueprintID:    req.BlueprintID,
		Tags:           req.Tags,
		GeoHint:        req.GeoHint,
		IdempotencyKey: idempotencyKey,
	}
	hash := core.ComputeRequestHash(body, "POST", "/v1/workspaces")

	res, err := a.prov.Create(ctx, wsReq, hash)
	if err != nil {
		a.writeAudit(ctx, "", "workspace.create", "error", middleware.GetRequestID(r), req)
		WriteAnyError(w, err)
		return
	}
	a.writeAudit(ctx, res.Workspace.ID, "workspace.create", "ok", middleware.GetRequestID(r), req)

	resp := workspaceToResponse(res.Workspace)
	resp.Warning = res.Warning
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	WriteJSON(w, status, resp)
}

// GetWorkspace returns a single workspace by id.
func (a *API) GetWorkspace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ws, err := a.store.GetWorkspace(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, core.NewAppError(core.ErrNotFound, "workspace not found"))
			return
		}
		a.log.Error("get workspace failed", zap.String("workspace_id", id), zap.Error(err))
		WriteError(w, core.NewAppError(core.ErrInternal, "failed to load workspace"))
		return
	}
	WriteJSON(w, http.StatusOK, workspaceToResponse(ws))
}

// ListWorkspaces lists workspaces with cursor pagination, optionally
// filtered by owner and state.
func (a *API) ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ListFilter{
		Owner: q.Get("owner"),
		Limit: parseLimit(q.Get("limit"), 20, 100),
	}
	if s := q.Get("state"); s != "" {
		f.States = []core.WorkspaceState{core.WorkspaceState(s)}
	}
	if c := q.Get("cursor"); c != "" {
		t, err := decodeCursor(c)
		if err != nil {
			WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid cursor"))
			return
		}
		f.Cursor = t
	}

	workspaces, err := a.store.ListWorkspaces(r.Context(), f)
	if err != nil {
		a.log.Error("list workspaces failed", zap.Error(err))
		WriteError(w, core.NewAppError(core.ErrInternal, "failed to list workspaces"))
		return
	}

	resp := make([]WorkspaceResponse, len(workspaces))
	for i, ws := range workspaces {
		resp[i] = workspaceToResponse(ws)
	}
	var nextCursor string
	if f.Limit > 0 && len(workspaces) == f.Limit {
		nextCursor = encodeCursor(workspaces[len(workspaces)-1].CreatedAt)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"workspaces":  resp,
		"next_cursor": nextCursor,
	})
}

// StartWorkspace resumes a stopped or stale workspace.
func (a *API) StartWorkspace(w http.ResponseWriter, r *http.Request) {
	a.lifecycleAction(w, r, "workspace.start", a.ctrl.Start)
}

// StopWorkspace stops an available workspace.
func (a *API) StopWorkspace(w http.ResponseWriter, r *http.Request) {
	a.lifecycleAction(w, r, "workspace.stop", a.ctrl.Stop)
}

// TerminateWorkspace retires a workspace. Repeating the call on an
// already-terminated workspace succeeds with the same result.
func (a *API) TerminateWorkspace(w http.ResponseWriter, r *http.Request) {
	a.lifecycleAction(w, r, "workspace.terminate", a.ctrl.Terminate)
}

type keepAliveRequest struct {
	KeepAlive bool `json:"keep_alive"`
}

// SetKeepAlive toggles the staleness exemption on a workspace.
func (a *API) SetKeepAlive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req keepAliveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid request body"))
		return
	}

	ws, err := a.ctrl.SetKeepAlive(ctx, id, req.KeepAlive)
	if err != nil {
		WriteAnyError(w, err)
		return
	}
	a.writeAudit(ctx, id, "workspace.keep_alive", "ok", middleware.GetRequestID(r), req)
	WriteJSON(w, http.StatusOK, workspaceToResponse(ws))
}

// TouchActivity records a session heartbeat, resetting the idle clock.
func (a *API) TouchActivity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.ctrl.TouchActivity(r.Context(), id); err != nil {
		WriteAnyError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) lifecycleAction(w http.ResponseWriter, r *http.Request, action string,
	fn func(ctx context.Context, id string) (*core.Workspace, error)) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	ws, err := fn(ctx, id)
	if err != nil {
		a.writeAudit(ctx, id, action, "error", middleware.GetRequestID(r), nil)
		WriteAnyError(w, err)
		return
	}
	a.writeAudit(ctx, id, action, "ok", middleware.GetRequestID(r), nil)
	WriteJSON(w, http.StatusOK, workspaceToResponse(ws))
}

func workspaceToResponse(ws *core.Workspace) WorkspaceResponse {
	resp := WorkspaceResponse{
		ID:             ws.ID,
		Owner:          ws.Owner,
		Team:           ws.Team,
		Region:         ws.Region,
		Tier:           string(ws.Tier),
		OS:             string(ws.OS),
		ServiceType:    string(ws.ServiceType),
		BlueprintID:    ws.BlueprintID,
		State:          string(ws.State),
		ConnectionInfo: ws.ConnectionInfo,
		PoolOrigin:     ws.PoolOrigin,
		KeepAlive:      ws.KeepAlive,
		FailureReason:  ws.FailureReason,
		CreatedAt:      ws.CreatedAt.UTC().Format(time.RFC3339),
	}
	if ws.AvailableAt != nil {
		resp.AvailableAt = ws.AvailableAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func parseLimit(s string, defaultVal, maxVal int) int {
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return defaultVal
	}
	if n > maxVal {
		return maxVal
	}
	return n
}
