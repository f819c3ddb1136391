package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeInvalid = "invalid"
)

// Ingestion holds the collectors for the ingestion pipeline. A nil
// *Ingestion is valid and records nothing.
type Ingestion struct {
	requests *prometheus.CounterVec
	degraded prometheus.Counter
	steps    *prometheus.HistogramVec
}

// NewIngestion creates the collectors and registers them with reg.
func NewIngestion(reg prometheus.Registerer) *Ingestion {
	m := &Ingestion{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imageflow",
			Name:      "ingestions_total",
			Help:      "Image ingestion requests by outcome.",
		}, []string{"outcome"}),
		degraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "imageflow",
			Name:      "metadata_degraded_total",
			Help:      "Images ingested with default metadata because extraction failed.",
		}),
		steps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "imageflow",
			Name:      "step_duration_seconds",
			Help:      "Duration of store calls per pipeline step.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step"}),
	}
	reg.MustRegister(m.requests, m.degraded, m.steps)
	return m
}

func (m *Ingestion) ObserveOutcome(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *Ingestion) MetadataDegraded() {
	if m == nil {
		return
	}
	m.degraded.Inc()
}

func (m *Ingestion) ObserveStep(step string, d time.Duration) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(step).Observe(d.Seconds())
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
