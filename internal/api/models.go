package api

import (
	"net/http"
	"strconv"

	"github.com/mageframe/video-kit/internal/backend"
	"github.com/mageframe/video-kit/internal/model"
)

// modelInfo is a backend's capabilities plus its estimated cost for each
// supported duration, keyed by seconds.
type modelInfo struct {
	backend.Capabilities
	Default bool               `json:"default"`
	Costs   map[string]float64 `json:"costs"`
}

func (s *Server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	reg := s.engine.Registry()
	caps := reg.List()

	out := make([]modelInfo, 0, len(caps))
	for _, c := range caps {
		info := modelInfo{
			Capabilities: c,
			Default:      c.Name == model.DefaultBackend,
			Costs:        make(map[string]float64, len(c.Durations)),
		}
		if b, err := reg.Resolve(c.Name); err == nil {
			for _, d := range c.Durations {
				info.Costs[strconv.Itoa(d)] = b.EstimateCost(d)
			}
		}
		out = append(out, info)
	}
	s.writeJSON(w, http.StatusOK, out)
}
