// Package metrics exposes poll pipeline counters on a private Prometheus
// registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "quakewatch"

// Cycle results.
const (
	ResultPrimed      = "primed"
	ResultApplied     = "applied"
	ResultFetchFailed = "fetch_failed"
	ResultDiscarded   = "discarded"
)

// Metrics holds every collector the service reports.
type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	quakesAdded   prometheus.Counter
	quakesUpdated prometheus.Counter
	changes       prometheus.Counter
	skipped       *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	stagePanics   *prometheus.CounterVec
	snapshotSize  prometheus.Gauge
	ledgerSize    prometheus.Gauge
	lastSuccessTS prometheus.Gauge
}

// New creates the collectors and registers them with a fresh registry
// alongside the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.cycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poll_cycles_total",
		Help:      "Poll cycles by result",
	}, []string{"result"})
	m.fetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Time spent fetching the feed",
		Buckets:   prometheus.DefBuckets,
	})
	m.quakesAdded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quakes_added_total",
		Help:      "Quakes classified as new",
	})
	m.quakesUpdated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quakes_updated_total",
		Help:      "Quakes classified as updated",
	})
	m.changes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "change_records_total",
		Help:      "Field-level change records appended to history",
	})
	m.skipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_entries_skipped_total",
		Help:      "Feed entries skipped by reason",
	}, []string{"reason"})
	m.decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alert_decisions_total",
		Help:      "Alert decisions by outcome",
	}, []string{"outcome"})
	m.stagePanics = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_panics_total",
		Help:      "Recovered panics by pipeline stage",
	}, []string{"stage"})
	m.snapshotSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "snapshot_quakes",
		Help:      "Quakes in the live snapshot",
	})
	m.ledgerSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "history_records",
		Help:      "Change records held in the history ledger",
	})
	m.lastSuccessTS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last successful fetch",
	})

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cycles, m.fetchDuration, m.quakesAdded, m.quakesUpdated, m.changes,
		m.skipped, m.decisions, m.stagePanics, m.snapshotSize, m.ledgerSize,
		m.lastSuccessTS,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCycle counts one finished cycle.
func (m *Metrics) ObserveCycle(result string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
}

// ObserveFetch records fetch latency and, on success, the completion time.
func (m *Metrics) ObserveFetch(d time.Duration, ok bool, at time.Time) {
	if m == nil {
		return
	}
	m.fetchDuration.Observe(d.Seconds())
	if ok {
		m.lastSuccessTS.Set(float64(at.Unix()))
	}
}

// ObserveDiff records one diff classification.
func (m *Metrics) ObserveDiff(added, updated, changes int, skipped map[string]int) {
	if m == nil {
		return
	}
	m.quakesAdded.Add(float64(added))
	m.quakesUpdated.Add(float64(updated))
	m.changes.Add(float64(changes))
	for reason, n := range skipped {
		m.skipped.WithLabelValues(reason).Add(float64(n))
	}
}

// ObserveDecision counts one alert decision outcome: notify, mark or suppress.
func (m *Metrics) ObserveDecision(outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome).Inc()
}

// ObservePanic counts a recovered panic in stage.
func (m *Metrics) ObservePanic(stage string) {
	if m == nil {
		return
	}
	m.stagePanics.WithLabelValues(stage).Inc()
}

// SetSizes updates the snapshot and ledger gauges.
func (m *Metrics) SetSizes(snapshot, ledgerRecords int) {
	if m == nil {
		return
	}
	m.snapshotSize.Set(float64(snapshot))
	m.ledgerSize.Set(float64(ledgerRecords))
}
