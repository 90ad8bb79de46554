package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eudiw"

const (
	outcomeComplete = "complete"
	outcomeRejected = "rejected"
	outcomeNotFound = "not_found"
	outcomeExpired  = "expired"
)

// Metrics holds the verifier's prometheus collectors on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	sessionsInitiated  prometheus.Counter
	callbacks          *prometheus.CounterVec
	validationFailures *prometheus.CounterVec
	trustListEntries   *prometheus.GaugeVec
	validationDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsInitiated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_initiated_total",
			Help:      "Verification sessions created.",
		}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_total",
			Help:      "Wallet callbacks by outcome.",
		}, []string{"outcome"}),
		validationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_failures_total",
			Help:      "Rejected presentations by failed validation layer.",
		}, []string{"layer"}),
		trustListEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trustlist_entries",
			Help:      "Thumbprints in the current trust list snapshot.",
		}, []string{"list"}),
		validationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "validation_duration_seconds",
			Help:      "Time spent validating a presentation.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.sessionsInitiated,
		m.callbacks,
		m.validationFailures,
		m.trustListEntries,
		m.validationDuration,
	)
	return m
}

// ObserveValidation matches validator.WithObserver.
func (m *Metrics) ObserveValidation(failedLayer int, elapsed time.Duration) {
	m.validationDuration.Observe(elapsed.Seconds())
	m.validationFailed(failedLayer)
}

// validationFailed counts a rejection without a pipeline run behind it.
func (m *Metrics) validationFailed(layer int) {
	if layer > 0 {
		m.validationFailures.WithLabelValues(strconv.Itoa(layer)).Inc()
	}
}

// SetTrustListEntries matches trustlist.WithObserver.
func (m *Metrics) SetTrustListEntries(list string, entries int) {
	m.trustListEntries.WithLabelValues(list).Set(float64(entries))
}

func (m *Metrics) sessionInitiated() {
	m.sessionsInitiated.Inc()
}

func (m *Metrics) callback(outcome string) {
	m.callbacks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
