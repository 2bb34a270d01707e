package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /api/stats.
type statsResponse struct {
	Total           int            `json:"total"`
	ByStatus        map[string]int `json:"byStatus"`
	ByModel         map[string]int `json:"byModel"`
	TotalCost       float64        `json:"totalCost"`
	ActiveWorkflows int            `json:"activeWorkflows"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetJobStats(r.Context())
	if err != nil {
		s.logger.Error("get job stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	resp := statsResponse{
		Total:           stats.Total,
		ByStatus:        make(map[string]int, len(stats.CountByStatus)),
		ByModel:         make(map[string]int, len(stats.CountByModel)),
		TotalCost:       stats.TotalCost,
		ActiveWorkflows: s.engine.ActiveCount(),
	}
	for k, v := range stats.CountByStatus {
		resp.ByStatus[string(k)] = v
	}
	for k, v := range stats.CountByModel {
		resp.ByModel[string(k)] = v
	}

	s.writeJSON(w, http.StatusOK, resp)
}
