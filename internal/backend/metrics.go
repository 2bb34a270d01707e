package backend

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mageframe/video-kit/internal/model"
	"github.com/mageframe/video-kit/internal/provider"
)

// Provider call names used as the "op" label.
const (
	OpSubmit = "submit"
	OpPoll   = "poll"
)

var providerRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "videokit_provider_requests_total",
		Help: "Total number of provider task calls by backend, operation and outcome.",
	},
	[]string{"backend", "op", "outcome"},
)

func init() {
	prometheus.MustRegister(providerRequestsTotal)

	for _, b := range []model.Backend{model.BackendRunway, model.BackendSora2} {
		for _, op := range []string{OpSubmit, OpPoll} {
			providerRequestsTotal.WithLabelValues(string(b), op, "ok")
		}
	}
}

// ObserveRequest records the outcome of one provider call.
func ObserveRequest(b model.Backend, op string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case provider.StatusCode(err) != 0:
		outcome = "rejected"
	default:
		outcome = "error"
	}
	providerRequestsTotal.WithLabelValues(string(b), op, outcome).Inc()
}
