package services

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/temcen/simrec/pkg/models"
)

// Metrics holds the service-level Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	requests       *prometheus.CounterVec
	latency        prometheus.Histogram
	cacheLookups   *prometheus.CounterVec
	candidates     prometheus.Histogram
	vectorized     *prometheus.CounterVec
	metadataEvents *prometheus.CounterVec
	registerer     prometheus.Registerer
	logger         *logrus.Logger
}

func NewMetrics(reg prometheus.Registerer, logger *logrus.Logger) *Metrics {
	m := &Metrics{
		registerer: reg,
		logger:     logger,
	}

	m.requests = register(m, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "simrec_recommendation_requests_total",
		Help: "Recommendation requests by outcome",
	}, []string{"outcome"}))

	m.latency = register(m, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "simrec_recommendation_latency_seconds",
		Help:    "Recommendation request latency in seconds",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}))

	m.cacheLookups = register(m, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "simrec_result_cache_lookups_total",
		Help: "Result cache lookups by result",
	}, []string{"result"}))

	m.candidates = register(m, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "simrec_candidates_evaluated",
		Help:    "Number of candidate vectors scored per request",
		Buckets: prometheus.ExponentialBuckets(10, 2.5, 8),
	}))

	m.vectorized = register(m, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "simrec_vectors_written_total",
		Help: "Catalog vectors written by the vectorizer",
	}, []string{"status"}))

	m.metadataEvents = register(m, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "simrec_metadata_events_total",
		Help: "Metadata change events handled by outcome",
	}, []string{"outcome"}))

	return m
}

// register tolerates collectors that are already registered, returning the
// existing one so repeated construction shares counters.
func register[C prometheus.Collector](m *Metrics, c C) C {
	if err := m.registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		m.logger.WithError(err).Warn("Failed to register metric")
	}
	return c
}

// WatchCache exposes result cache counters as gauges.
func (m *Metrics) WatchCache(stats func() models.CacheStats) {
	if m == nil {
		return
	}
	gauges := map[string]func(models.CacheStats) int64{
		"simrec_result_cache_entries":   func(s models.CacheStats) int64 { return s.Size },
		"simrec_result_cache_evictions": func(s models.CacheStats) int64 { return s.Evictions },
	}
	for name, pick := range gauges {
		pick := pick
		register(m, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: name,
			Help: "Result cache " + name,
		}, func() float64 { return float64(pick(stats())) }))
	}
}

func (m *Metrics) observeRequest(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
	m.latency.Observe(elapsed.Seconds())
}

func (m *Metrics) observeCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.cacheLookups.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) observeCandidates(n int) {
	if m == nil {
		return
	}
	m.candidates.Observe(float64(n))
}

func (m *Metrics) observeVectors(written, failed int) {
	if m == nil {
		return
	}
	m.vectorized.WithLabelValues("written").Add(float64(written))
	m.vectorized.WithLabelValues("failed").Add(float64(failed))
}

func (m *Metrics) observeMetadataEvent(outcome string) {
	if m == nil {
		return
	}
	m.metadataEvents.WithLabelValues(outcome).Inc()
}
