package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var registry = prometheus.NewRegistry()

var registerer = prometheus.WrapRegistererWith(nil, registry)

// These counters are a write-through cache of the event log for scrape-time
// convenience. The event log remains the single source of truth; nothing in
// the pipeline reads these back.
var (
	ThreatsDetectedTotal = promauto.With(registerer).NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_threats_detected_total",
			Help: "Total number of threat patterns ingested",
		},
	)

	PoliciesGeneratedTotal = promauto.With(registerer).NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_policies_generated_total",
			Help: "Total number of security policies generated",
		},
	)

	ProbesRunTotal = promauto.With(registerer).NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_probes_run_total",
			Help: "Total number of probe cycles completed",
		},
	)

	AnalysesTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_guardian_analyses_total",
			Help: "Guardian analyses by resulting risk level",
		},
		[]string{"risk_level"},
	)

	MitigationsTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_mitigations_total",
			Help: "Mitigation actions fired by type",
		},
		[]string{"type"},
	)
)

// Registry exposes the private registry for the metrics endpoint.
func Registry() *prometheus.Registry {
	return registry
}
