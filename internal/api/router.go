package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/opsforge/wpc/internal/api/middleware"
	"github.com/opsforge/wpc/internal/core"
	"github.com/opsforge/wpc/internal/lifecycle"
	"github.com/opsforge/wpc/internal/pool"
	"github.com/opsforge/wpc/internal/provision"
	"github.com/opsforge/wpc/internal/store"
)

type API struct {
	store store.Store
	prov  *provision.Provisioner
	ctrl  *lifecycle.Controller
	pools *pool.Manager
	log   *zap.Logger
}

func NewAPI(st store.Store, prov *provision.Provisioner, ctrl *lifecycle.Controller, pools *pool.Manager, log *zap.Logger) *API {
	return &API{
		store: st,
		prov:  prov,
		ctrl:  ctrl,
		pools: pools,
		log:   log,
	}
}

func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics)
	r.Use(middleware.Recoverer(a.log))
	r.Use(middleware.Logger)
	r.Use(chiMiddleware.AllowContentType("application/json"))

	r.Get("/healthz", a.HealthHandler)
	r.Get("/readyz", a.ReadyHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/workspaces", a.ListWorkspaces)
		r.Post("/workspaces", a.CreateWorkspace)
		r.Get("/workspaces/{id}", a.GetWorkspace)
		r.Delete("/workspaces/{id}", a.TerminateWorkspace)
		r.Post("/workspaces/{id}/start", a.StartWorkspace)
		r.Post("/workspaces/{id}/stop", a.StopWorkspace)
		r.Post("/workspaces/{id}/keep-alive", a.SetKeepAlive)
		r.Post("/workspaces/{id}/activity", a.TouchActivity)

		r.Get("/pools", a.ListPools)
	})

	return r
}

// writeAudit appends an audit event. Auditing never blocks or fails a
// request.
func (a *API) writeAudit(ctx context.Context, workspaceID, action, result string, requestID string, metadata interface{}) {
	md, _ := json.Marshal(metadata)
	var wsID *string
	if workspaceID != "" {
		wsID = &workspaceID
	}
	var reqID *string
	if requestID != "" {
		reqID = &requestID
	}
	ev := &core.AuditEvent{
		Ts:          time.Now().UTC(),
		WorkspaceID: wsID,
		Actor:       "api",
		Action:      action,
		Result:      result,
		RequestID:   reqID,
		Metadata:    md,
	}
	if err := a.store.InsertAudit(ctx, ev); err != nil {
		a.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

// encodeCursor encodes a created_at timestamp as an opaque cursor.
func encodeCursor(t time.Time) string {
	return base64.StdEncoding.EncodeToString([]byte(t.Format(time.RFC3339Nano)))
}

// decodeCursor decodes a cursor back to a timestamp.
func decodeCursor(s string) (time.Time, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, string(b))
}
