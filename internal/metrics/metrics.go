// Package metrics exposes the Prometheus instruments a pps-probe server
// updates as flows are requested, run, and torn down.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ppsprobe"

// Metrics holds every instrument a Dispatcher and its workers touch. A nil
// *Metrics is not valid; use NewNop for tests and callers that don't want
// to register against the default registry.
type Metrics struct {
	FlowsActive           prometheus.Gauge
	FlowsTotal             *prometheus.CounterVec
	PPSMeasured            prometheus.Histogram
	UnderrunsTotal         prometheus.Counter
	MissingRanges          prometheus.Histogram
	ControlConnectionsTotal *prometheus.CounterVec
}

// New registers a fresh set of instruments against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FlowsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flows_active",
			Help:      "Number of flow workers currently running on this server.",
		}),
		FlowsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flows_total",
			Help:      "Total flows completed, labeled by outcome.",
		}, []string{"outcome"}),
		PPSMeasured: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pps_measured",
			Help:      "Distribution of measured packets-per-second across completed flows.",
			Buckets:   prometheus.ExponentialBuckets(100, 2, 14), // 100 pps to ~800k pps
		}),
		UnderrunsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "underruns_total",
			Help:      "Total pacing deadlines missed across all flows sent from this process.",
		}),
		MissingRanges: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "missing_ranges",
			Help:      "Number of missing sequence-number ranges reported per completed flow.",
			Buckets:   prometheus.LinearBuckets(0, 1, 10),
		}),
		ControlConnectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_connections_total",
			Help:      "Total control connections accepted, labeled by outcome.",
		}, []string{"outcome"}),
	}
}

// NewNop returns a Metrics registered against a private registry, for
// callers (tests, or a client process with no admin API) that need the
// type but not a global /metrics endpoint.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
