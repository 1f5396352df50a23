package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments of the sync service.
type Metrics struct {
	runsTotal    *prometheus.CounterVec
	actionsTotal *prometheus.CounterVec
	runDuration  prometheus.Summary
	lastRunTime  prometheus.Gauge
}

// New creates and registers the service metrics.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cardcal",
			Name:      "sync_runs_total",
			Help:      "Completed reconciliation runs by mode and outcome",
		}, []string{"mode", "outcome"}),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cardcal",
			Name:      "sync_actions_total",
			Help:      "Per-card reconciliation actions",
		}, []string{"action"}),
		runDuration: prometheus.NewSummary(prometheus.SummaryOpts{
			Namespace: "cardcal",
			Name:      "sync_run_duration_seconds",
			Help:      "Time spent in a reconciliation run",
		}),
		lastRunTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cardcal",
			Name:      "sync_last_run_timestamp_seconds",
			Help:      "Unix time of the last completed run",
		}),
	}

	reg.MustRegister(m.runsTotal, m.actionsTotal, m.runDuration, m.lastRunTime)
	return m
}

// ObserveRun records the completion of one run.
func (m *Metrics) ObserveRun(mode string, ok bool, duration time.Duration) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.runsTotal.WithLabelValues(mode, outcome).Inc()
	m.runDuration.Observe(duration.Seconds())
	m.lastRunTime.SetToCurrentTime()
}

// ObserveResult records the per-action counters of one run.
func (m *Metrics) ObserveResult(created, updated, deleted, unchanged, relinked, recreated, deduplicated, errors int) {
	counts := map[string]int{
		"created":      created,
		"updated":      updated,
		"deleted":      deleted,
		"unchanged":    unchanged,
		"relinked":     relinked,
		"recreated":    recreated,
		"deduplicated": deduplicated,
		"error":        errors,
	}
	for action, count := range counts {
		if count > 0 {
			m.actionsTotal.WithLabelValues(action).Add(float64(count))
		}
	}
}
