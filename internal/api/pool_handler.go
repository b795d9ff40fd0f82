package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/opsforge/wpc/internal/core"
)

type PoolResponse struct {
	BlueprintID string `json:"blueprint_id"`
	OS          string `json:"os"`
	Idle        int    `json:"idle"`
	Target      int    `json:"target"`
}

// ListPools reports every tracked standby pool with its idle count and
// replenishment target.
func (a *API) ListPools(w http.ResponseWriter, r *http.Request) {
	status, err := a.pools.Status(r.Context())
	if err != nil {
		a.log.Error("pool status failed", zap.Error(err))
		WriteError(w, core.NewAppError(core.ErrInternal, "failed to read pool status"))
		return
	}

	resp := make([]PoolResponse, len(status))
	for i, ps := range status {
		resp[i] = PoolResponse{
			BlueprintID: ps.Key.BlueprintID,
			OS:          string(ps.Key.OS),
			Idle:        ps.Idle,
			Target:      ps.Target,
		}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"pools": resp})
}
