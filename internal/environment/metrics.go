package environment

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	environmentInstalledResources = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wiring_environment_installed_resources",
			Help: "Number of resources currently installed across environments.",
		},
	)
	environmentFindProvidersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wiring_environment_find_providers_total",
			Help: "Number of findProviders lookups.",
		},
	)
	environmentWiringUpdatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wiring_environment_wiring_updates_total",
			Help: "Number of wirings created or extended by updateWiring.",
		},
	)
)

func init() {
	metrics.Registry.MustRegister(
		environmentInstalledResources,
		environmentFindProvidersTotal,
		environmentWiringUpdatesTotal,
	)
}
