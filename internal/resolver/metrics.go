package resolver

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

const (
	resultResolved  = "resolved"
	resultFailed    = "failed"
	resultHookError = "hook_error"
)

var (
	resolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wiring_resolver_resolutions_total",
			Help: "Number of resolution attempts by result.",
		},
		[]string{"result"},
	)
	resolutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wiring_resolver_resolution_duration_seconds",
			Help:    "Time taken by one resolution attempt.",
			Buckets: prometheus.DefBuckets,
		},
	)
	resolverWiresCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wiring_resolver_wires_created_total",
			Help: "Total number of wires created by successful resolutions.",
		},
	)
)

func init() {
	metrics.Registry.MustRegister(
		resolutionsTotal,
		resolutionDuration,
		resolverWiresCreatedTotal,
	)
}
