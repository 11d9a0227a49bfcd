// Package metrics instruments the sampling loop. All methods are safe on a
// nil *Metrics so the loop can run uninstrumented.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the loop's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	ticks          prometheus.Counter
	tickErrors     prometheus.Counter
	recordsLogged  prometheus.Counter
	recordFailures prometheus.Counter
	sessions       prometheus.Counter
	absent         *prometheus.CounterVec
	synthetic      prometheus.Counter
	state          prometheus.Gauge
	lastValue      *prometheus.GaugeVec
}

// New creates and registers the rakelog_* collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rakelog_ticks_total",
			Help: "Sampling loop iterations.",
		}),
		tickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rakelog_tick_errors_total",
			Help: "Ticks that failed and were recovered at the tick boundary.",
		}),
		recordsLogged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rakelog_records_logged_total",
			Help: "Readings appended to the session file.",
		}),
		recordFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rakelog_record_failures_total",
			Help: "Readings lost because the append failed.",
		}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rakelog_sessions_begun_total",
			Help: "Session files created, including self-heal restarts.",
		}),
		absent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rakelog_source_absent_total",
			Help: "Polls that returned no data, by source.",
		}, []string{"source"}),
		synthetic: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rakelog_synthetic_readings_total",
			Help: "Readings with at least one synthetic fallback value.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rakelog_state",
			Help: "Loop state (0 starting, 1 running, 2 stopping, 3 stopped).",
		}),
		lastValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rakelog_last_value",
			Help: "Most recent merged value by metric.",
		}, []string{"metric"}),
	}

	m.registry.MustRegister(
		m.ticks,
		m.tickErrors,
		m.recordsLogged,
		m.recordFailures,
		m.sessions,
		m.absent,
		m.synthetic,
		m.state,
		m.lastValue,
	)
	return m
}

// Handler serves this registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Tick counts one loop iteration.
func (m *Metrics) Tick() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}

// TickError counts a tick that failed or panicked.
func (m *Metrics) TickError() {
	if m == nil {
		return
	}
	m.tickErrors.Inc()
}

// Logged counts one append attempt, successful or lost.
func (m *Metrics) Logged(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.recordsLogged.Inc()
	} else {
		m.recordFailures.Inc()
	}
}

// SessionBegun counts a new session file.
func (m *Metrics) SessionBegun() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

// Absent counts a poll of source ("sensor" or "gps") that returned nothing.
func (m *Metrics) Absent(source string) {
	if m == nil {
		return
	}
	m.absent.WithLabelValues(source).Inc()
}

// Synthetic counts a reading that needed fallback values.
func (m *Metrics) Synthetic() {
	if m == nil {
		return
	}
	m.synthetic.Inc()
}

// SetState records the loop state as its numeric value.
func (m *Metrics) SetState(s int) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

// SetValue records the latest merged value of metric.
func (m *Metrics) SetValue(metric string, v float64) {
	if m == nil {
		return
	}
	m.lastValue.WithLabelValues(metric).Set(v)
}
