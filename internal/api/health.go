package api

import (
	"context"
	"net/http"
	"time"

	"github.com/campaignforge/dispatch/internal/engine"
	"github.com/campaignforge/dispatch/internal/transport"
)

// HealthResponse reports service liveness plus transport reachability.
type HealthResponse struct {
	Status    string `json:"status"`
	Transport string `json:"transport"`
	Degraded  bool   `json:"degraded"`
}

// HealthHandler returns the health check handler. The transport probe is
// advisory: a down relay degrades the report but keeps the service healthy.
func HealthHandler(mgr *transport.Manager, ctrl *engine.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "healthy", Transport: "ok", Degraded: ctrl.Degraded()}

		probeCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := mgr.Verify(probeCtx); err != nil {
			resp.Transport = "unreachable"
		}

		status := http.StatusOK
		if resp.Degraded {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
		respondJSON(w, status, resp)
	}
}
