// Package metrics exposes Prometheus counters for turns, searches and jobs.
package metrics

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/tripd/internal/conversation"
	"github.com/kalambet/tripd/internal/plan"
)

const namespace = "tripd"

// Metrics owns a private registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	searches       *prometheus.CounterVec
	searchDuration *prometheus.HistogramVec
	decisions      *prometheus.CounterVec
	turns          *prometheus.CounterVec
	turnDuration   prometheus.Histogram
	jobs           *prometheus.CounterVec
}

// New registers all collectors plus the Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Provider calls by category and outcome (ok, empty, error).",
		}, []string{"category", "outcome"}),
		searchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Provider call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"category"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_decisions_total",
			Help:      "Per-turn reuse, execute and skip decisions by category.",
		}, []string{"category", "decision"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Finished turns by resulting stage.",
		}, []string{"stage"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a turn, searches included.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Turn jobs by terminal state.",
		}, []string{"state"}),
	}
	m.registry.MustRegister(
		m.searches, m.searchDuration, m.decisions, m.turns, m.turnDuration, m.jobs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveSearch(c plan.Category, outcome string, d time.Duration) {
	m.searches.WithLabelValues(string(c), outcome).Inc()
	m.searchDuration.WithLabelValues(string(c)).Observe(d.Seconds())
}

func (m *Metrics) ObserveDecision(c plan.Category, d plan.Decision) {
	m.decisions.WithLabelValues(string(c), string(d)).Inc()
}

func (m *Metrics) ObserveTurn(stage conversation.Stage, d time.Duration) {
	m.turns.WithLabelValues(string(stage)).Inc()
	m.turnDuration.Observe(d.Seconds())
}

// ObserveJob counts a job reaching state.
func (m *Metrics) ObserveJob(state string) {
	m.jobs.WithLabelValues(state).Inc()
}

// TrackSuspended exports the number of conversations waiting for customer
// details, read through count on every scrape. A failed count reads as NaN.
func (m *Metrics) TrackSuspended(count func(context.Context) (int, error)) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "conversations_suspended",
		Help:      "Conversations paused for customer details.",
	}, func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := count(ctx)
		if err != nil {
			return math.NaN()
		}
		return float64(n)
	}))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
