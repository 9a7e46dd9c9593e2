// Package metrics exposes prometheus instruments for ingestion, retrieval,
// caching and generation.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	DocumentsIngested *prometheus.CounterVec
	DocumentsDropped  prometheus.Counter
	Answers           *prometheus.CounterVec
	CacheLookups      *prometheus.CounterVec
	RetrievalSeconds  prometheus.Histogram
	GenerationSeconds prometheus.Histogram
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		DocumentsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "policyrag",
			Name:      "documents_ingested_total",
			Help:      "Documents stored, by policy type.",
		}, []string{"policy_type"}),
		DocumentsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "policyrag",
			Name:      "documents_dropped_total",
			Help:      "Documents not stored because no collection matched their type.",
		}),
		Answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "policyrag",
			Name:      "answers_total",
			Help:      "Answered questions, by status.",
		}, []string{"status"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "policyrag",
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups, by result.",
		}, []string{"result"}),
		RetrievalSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "policyrag",
			Name:      "retrieval_duration_seconds",
			Help:      "Time spent searching the collections.",
			Buckets:   prometheus.DefBuckets,
		}),
		GenerationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "policyrag",
			Name:      "generation_duration_seconds",
			Help:      "Time spent waiting for the model.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}
	reg.MustRegister(
		m.DocumentsIngested,
		m.DocumentsDropped,
		m.Answers,
		m.CacheLookups,
		m.RetrievalSeconds,
		m.GenerationSeconds,
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until the server fails.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
