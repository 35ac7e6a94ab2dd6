// Package metrics exposes Prometheus collectors for collection runs.
package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/collector"
)

// Metrics implements collector.Recorder.
type Metrics struct {
	Registry *prometheus.Registry

	pairs         *prometheus.CounterVec
	pairDuration  *prometheus.HistogramVec
	fetchAttempts *prometheus.CounterVec
	runDuration   prometheus.Histogram
	lastSuccess   prometheus.Gauge
	lastFailRate  prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		pairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_pairs_total",
			Help: "Pipeline pairs by data kind and terminal state.",
		}, []string{"kind", "state"}),
		pairDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "etl_pair_duration_seconds",
			Help:    "Time spent on one fetch, normalize and export pair.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
		}, []string{"kind"}),
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_fetch_attempts_total",
			Help: "Provider HTTP attempts by data kind and status code.",
		}, []string{"kind", "status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "etl_run_duration_seconds",
			Help:    "Wall-clock time of a full collection run.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "etl_last_success_timestamp_seconds",
			Help: "Unix time the last run that exported at least one record finished.",
		}),
		lastFailRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "etl_last_run_failure_ratio",
			Help: "Share of pairs that did not complete in the last run.",
		}),
	}
	reg.MustRegister(m.pairs, m.pairDuration, m.fetchAttempts, m.runDuration, m.lastSuccess, m.lastFailRate)
	return m
}

func (m *Metrics) PairFinished(o collector.PairOutcome) {
	m.pairs.WithLabelValues(string(o.Kind), string(o.State)).Inc()
	m.pairDuration.WithLabelValues(string(o.Kind)).Observe(o.Duration.Seconds())
}

func (m *Metrics) RunFinished(r collector.RunResult) {
	m.runDuration.Observe(r.Elapsed.Seconds())
	if r.Done > 0 {
		m.lastSuccess.Set(float64(r.FinishedAt.Unix()))
	}
	m.lastFailRate.Set(r.FailureRate())
}

// FetchAttempt matches providers.AttemptObserver.
func (m *Metrics) FetchAttempt(kind collector.DataKind, status int, _ error) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.fetchAttempts.WithLabelValues(string(kind), label).Inc()
}

// Push sends the registry to a Pushgateway. One-shot runs exit before a
// scrape could happen.
func (m *Metrics) Push(url, job string) error {
	if err := push.New(url, job).Gatherer(m.Registry).Push(); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
