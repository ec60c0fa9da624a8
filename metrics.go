package vegas

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus collectors updated by an Integrator. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	evaluations       prometheus.Counter
	iterations        *prometheus.CounterVec
	failures          *prometheus.CounterVec
	iterationDuration prometheus.Histogram
	chi2PerDOF        prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. Each
// registry accepts one set; share the *Metrics between integrators.
//
// Usage example:
//
//	reg := prometheus.NewRegistry()
//	config := DefaultConfig()
//	config.Metrics = NewMetrics(reg)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		evaluations: factory.NewCounter(prometheus.CounterOpts{
			Name: "vegas_integrand_evaluations_total",
			Help: "Total integrand evaluations",
		}),
		iterations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vegas_iterations_total",
			Help: "Total completed iterations by mode",
		}, []string{"mode"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vegas_failures_total",
			Help: "Total errors and warnings by code",
		}, []string{"code"}),
		iterationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vegas_iteration_duration_seconds",
			Help:    "Duration of one iteration",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		chi2PerDOF: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vegas_chi2_per_dof",
			Help: "Chi2/dof of the most recent run",
		}),
	}
}

func (m *Metrics) observeIteration(neval int, adapting bool, d time.Duration) {
	if m == nil {
		return
	}

	mode := "production"
	if adapting {
		mode = "adapt"
	}

	m.evaluations.Add(float64(neval))
	m.iterations.WithLabelValues(mode).Inc()
	m.iterationDuration.Observe(d.Seconds())
}

func (m *Metrics) observeFailure(err error) {
	if m == nil || err == nil {
		return
	}

	m.failures.WithLabelValues(Code(err)).Inc()
}

func (m *Metrics) observeChi2(v float64) {
	if m == nil {
		return
	}

	m.chi2PerDOF.Set(v)
}
