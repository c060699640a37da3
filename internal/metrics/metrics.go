package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oshokin/flag-arbiter/internal/domain/flag"
)

const namespace = "flag_arbiter"

// Outcome label values.
const (
	OutcomeWinner = "winner"
	OutcomeIdle   = "idle"
)

// Recorder records controller events. It implements arbiter.Observer.
type Recorder struct {
	registry *prometheus.Registry

	decisions      *prometheus.CounterVec
	winnerChanges  prometheus.Counter
	emissionFailed prometheus.Counter
	activeUpper    prometheus.Gauge
}

// NewRecorder creates a recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Count of recomputed decisions by outcome.",
			},
			[]string{"outcome"},
		),
		winnerChanges: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "winner_changes_total",
				Help:      "Count of decisions whose winner differs from the previous one.",
			},
		),
		emissionFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "emissions_failed_total",
				Help:      "Count of decisions the control client failed to apply.",
			},
		),
		activeUpper: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_upper_flags",
				Help:      "Number of active upper flags in the latest decision.",
			},
		),
	}

	r.registry.MustRegister(
		r.decisions,
		r.winnerChanges,
		r.emissionFailed,
		r.activeUpper,
	)

	return r
}

// Decided records a recomputed decision.
func (r *Recorder) Decided(decision *flag.Decision, winnerChanged bool) {
	outcome := OutcomeWinner
	if decision.IsIdle() {
		outcome = OutcomeIdle
	}

	r.decisions.WithLabelValues(outcome).Inc()
	r.activeUpper.Set(float64(decision.ActiveUpper))

	if winnerChanged {
		r.winnerChanges.Inc()
	}
}

// DeliveryFailed records a decision the client did not apply.
func (r *Recorder) DeliveryFailed(*flag.Decision, error) {
	r.emissionFailed.Inc()
}

// Registry returns the registry holding the recorder's metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
