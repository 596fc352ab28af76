package hooks

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	hookFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wiring_hooks_failures_total",
			Help: "Number of resolver hook callback failures by phase.",
		},
		[]string{"phase"},
	)
	hookCandidatesRemovedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wiring_hooks_candidates_removed_total",
			Help: "Number of resolution candidates removed by resolver hooks, by reason.",
		},
		[]string{"reason"},
	)
	hookSessionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wiring_hooks_sessions_total",
			Help: "Number of resolver hook sessions begun.",
		},
	)
)

func init() {
	metrics.Registry.MustRegister(
		hookFailuresTotal,
		hookCandidatesRemovedTotal,
		hookSessionsTotal,
	)
}
