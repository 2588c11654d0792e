// Package metrics collects pipeline timings and outcomes for one invocation
// of the tool and exports them in the Prometheus text format.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Subject outcomes.
const (
	StatusDone    = "done"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// Metrics holds the collectors of one run. A nil *Metrics records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	StageDuration *prometheus.HistogramVec
	CacheLookups  *prometheus.CounterVec
	Subjects      *prometheus.CounterVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ventmapper_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"stage"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ventmapper_cache_lookups_total",
			Help: "Stage artifact cache lookups by result",
		}, []string{"stage", "result"}),
		Subjects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ventmapper_subjects_total",
			Help: "Processed subjects by outcome",
		}, []string{"status"}),
	}
}

// ObserveStage records the duration of a stage started at start.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// CacheLookup counts a cache hit or miss.
func (m *Metrics) CacheLookup(stage string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(stage, result).Inc()
}

// Subject counts a subject outcome.
func (m *Metrics) Subject(status string) {
	if m == nil {
		return
	}
	m.Subjects.WithLabelValues(status).Inc()
}

// WriteFile writes every metric to path in the text exposition format.
func (m *Metrics) WriteFile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
