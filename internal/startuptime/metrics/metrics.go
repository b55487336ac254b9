// Package metrics collects the figures of one measurement run in a private
// registry that is written next to the report as a node-exporter textfile.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/autopeer-io/ecukpi/internal/startuptime/core"
)

const namespace = "ecukpi_startup"

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// IterationsTotal counts processed (ECU, iteration) pairs.
	// result: passed, failed (threshold or order), error (no data).
	IterationsTotal *prometheus.CounterVec

	// CompletionSeconds is the time from IG ON until the last application was up.
	CompletionSeconds *prometheus.HistogramVec

	// AppStartupSeconds is the latest total time from IG ON per application.
	AppStartupSeconds *prometheus.GaugeVec

	PowerCycleSeconds prometheus.Histogram

	// ReportsTotal counts workbook saves. result: saved, error.
	ReportsTotal *prometheus.CounterVec

	RunSeconds prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		IterationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "iterations_total",
				Help:      "Processed ECU iterations by result.",
			},
			[]string{"ecu", "result"},
		),
		CompletionSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "completion_seconds",
				Help:      "Time from IG ON until the last application reported startup.",
				Buckets:   []float64{1, 2, 3, 4, 5, 7.5, 10, 15, 20, 30, 60},
			},
			[]string{"ecu"},
		),
		AppStartupSeconds: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "app_startup_seconds",
				Help:      "Latest time from IG ON until the application reported startup.",
			},
			[]string{"ecu", "app"},
		),
		PowerCycleSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "power_cycle_seconds",
				Help:      "Duration of one relay power cycle including dwell.",
				Buckets:   prometheus.LinearBuckets(1, 5, 8),
			},
		),
		ReportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reports_total",
				Help:      "Workbooks written by result.",
			},
			[]string{"ecu", "result"},
		),
		RunSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "run_seconds",
				Help:      "Wall time of the whole measurement run.",
			},
		),
	}
	m.registry.MustRegister(
		m.IterationsTotal,
		m.CompletionSeconds,
		m.AppStartupSeconds,
		m.PowerCycleSeconds,
		m.ReportsTotal,
		m.RunSeconds,
	)
	return m
}

// Registry exposes the collectors, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveIteration records a successful (ECU, iteration) pair.
func (m *Metrics) ObserveIteration(ecu core.ECUType, rec *core.IterationRecord) {
	if m == nil {
		return
	}
	result := "passed"
	if !rec.Result.Passed || !rec.Result.OrderPassed {
		result = "failed"
	}
	m.IterationsTotal.WithLabelValues(string(ecu), result).Inc()
	m.CompletionSeconds.WithLabelValues(string(ecu)).Observe(rec.Result.TotalFromPowerOn)
	rec.Timestamps.Each(func(_ int, app string, ts float64) {
		m.AppStartupSeconds.WithLabelValues(string(ecu), app).Set(core.FromPowerOn(ts - rec.Welcome))
	})
}

// ObserveFailure records an (ECU, iteration) pair that produced no data.
func (m *Metrics) ObserveFailure(ecu core.ECUType) {
	if m == nil {
		return
	}
	m.IterationsTotal.WithLabelValues(string(ecu), "error").Inc()
}

func (m *Metrics) ObservePowerCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.PowerCycleSeconds.Observe(d.Seconds())
}

func (m *Metrics) ObserveReport(ecu core.ECUType, err error) {
	if m == nil {
		return
	}
	result := "saved"
	if err != nil {
		result = "error"
	}
	m.ReportsTotal.WithLabelValues(string(ecu), result).Inc()
}

func (m *Metrics) SetRunDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RunSeconds.Set(d.Seconds())
}

// WriteTextfile writes every collected series to path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
