// Package metrics exposes poll and delivery counters in Prometheus format.
package metrics

import (
	"context"
	"net/http"

	"automatex/internal/eventbus"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "automatex"

// Metrics owns its registry so several instances (tests) never collide.
type Metrics struct {
	reg *prometheus.Registry

	cycles        *prometheus.CounterVec
	alerts        *prometheus.CounterVec
	seenEntries   *prometheus.GaugeVec
	cycleDuration *prometheus.SummaryVec
	lastSuccessTS *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}
	m.cycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_total",
		Help:      "Poll cycles by source and result (ok, empty, fetch_error)",
	}, []string{"source", "result"})
	m.alerts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_total",
		Help:      "Notifications by source and delivery status (sent, failed, canceled)",
	}, []string{"source", "status"})
	m.seenEntries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "seen_entries",
		Help:      "Entries in the seen store of a source",
	}, []string{"source"})
	m.cycleDuration = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Time spent in one poll cycle, delivery included",
	}, []string{"source"})
	m.lastSuccessTS = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last cycle without fetch error",
	}, []string{"source"})

	m.reg.MustRegister(
		m.cycles, m.alerts, m.seenEntries, m.cycleDuration, m.lastSuccessTS,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) SetSeen(source string, n int) {
	m.seenEntries.WithLabelValues(source).Set(float64(n))
}

// ObserveCycle records a finished cycle.
func (m *Metrics) ObserveCycle(source string, c eventbus.Cycle) {
	result := "ok"
	switch {
	case c.Err != "":
		result = "fetch_error"
	case c.Fetched == 0:
		result = "empty"
	}
	m.cycles.WithLabelValues(source, result).Inc()
	m.cycleDuration.WithLabelValues(source).Observe(c.Duration.Seconds())
	m.SetSeen(source, c.Seen)
	if c.Err == "" {
		m.lastSuccessTS.WithLabelValues(source).Set(float64(c.Started.Add(c.Duration).Unix()))
	}
	if c.Sent > 0 {
		m.alerts.WithLabelValues(source, "sent").Add(float64(c.Sent))
	}
	if c.Failed > 0 {
		m.alerts.WithLabelValues(source, "failed").Add(float64(c.Failed))
	}
	if c.Canceled > 0 {
		m.alerts.WithLabelValues(source, "canceled").Add(float64(c.Canceled))
	}
}

// Run feeds the metrics from events until ctx is done or events is closed.
// Subscribe before the publishers start so no state.loaded event is missed.
func (m *Metrics) Run(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch d := ev.Data.(type) {
			case eventbus.Cycle:
				if ev.Type == eventbus.TypeCycleFinished {
					m.ObserveCycle(ev.Source, d)
				}
			case eventbus.StateLoaded:
				m.SetSeen(ev.Source, d.Entries)
			}
		}
	}
}
