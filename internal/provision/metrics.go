package provision

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/template"
)

var (
	// ProvisionTotal counts create operations per kind and outcome
	ProvisionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keycloak_fixtures_provision_total",
			Help: "Total number of fixture create operations per kind",
		},
		[]string{"kind", "outcome"},
	)

	// ProvisionDuration tracks how long create operations take
	ProvisionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keycloak_fixtures_provision_duration_seconds",
			Help:    "Duration of fixture create operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		ProvisionTotal,
		ProvisionDuration,
	)
}

// recordCreate records the result of one Create call
func recordCreate(kind template.Kind, start time.Time, outcome Outcome, err error) {
	label := "error"
	if err == nil {
		label = outcome.String()
	}
	ProvisionTotal.WithLabelValues(string(kind), label).Inc()
	ProvisionDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
}
