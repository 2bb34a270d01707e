package api

import (
	"context"
	"net/http"
	"time"
)

const healthCheckTimeout = 2 * time.Second

type healthResponse struct {
	Status          string   `json:"status"`
	Ledger          string   `json:"ledger"`
	Backends        []string `json:"backends"`
	ActiveWorkflows int      `json:"activeWorkflows"`
}

// handleHealthz reports 503 when the ledger cannot be queried, since no job
// can be created or updated in that state.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{
		Status:          "ok",
		Ledger:          "ok",
		Backends:        []string{},
		ActiveWorkflows: s.engine.ActiveCount(),
	}
	for _, c := range s.engine.Registry().List() {
		resp.Backends = append(resp.Backends, string(c.Name))
	}

	status := http.StatusOK
	if _, err := s.store.GetJobStats(ctx); err != nil {
		s.logger.Warn("health: ledger unavailable", "error", err)
		resp.Status = "degraded"
		resp.Ledger = err.Error()
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, resp)
}
