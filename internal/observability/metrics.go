// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics contains the plughost Prometheus metrics.
//
// All methods are safe on a nil *Metrics so components can run without a
// registry in tests.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	PluginCallsTotal   *prometheus.CounterVec
	PluginCallFailures *prometheus.CounterVec
	PluginCallDuration *prometheus.HistogramVec
	PluginsDiscovered  prometheus.Gauge
	PluginsLoaded      prometheus.Gauge
	RescansTotal       prometheus.Counter
}

// NewRegistry returns a registry carrying the standard Go and process collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}

// NewMetrics creates and registers the plughost metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plughost_http_requests_total",
				Help: "Total number of HTTP requests by route kind",
			},
			[]string{"kind"},
		),
		PluginCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plughost_plugin_calls_total",
				Help: "Total number of plugin handler calls by plugin and HTTP status",
			},
			[]string{"plugin", "status"},
		),
		PluginCallFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plughost_plugin_call_failures_total",
				Help: "Total number of failed plugin handler calls by plugin and error code",
			},
			[]string{"plugin", "code"},
		),
		PluginCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "plughost_plugin_call_duration_seconds",
				Help:    "Latency of plugin handler calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"plugin"},
		),
		PluginsDiscovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "plughost_plugins_discovered",
			Help: "Number of plugins found by the last scan",
		}),
		PluginsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "plughost_plugins_loaded",
			Help: "Number of plugins with a loaded native library",
		}),
		RescansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plughost_rescans_total",
			Help: "Total number of plugin directory scans",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.PluginCallsTotal,
		m.PluginCallFailures,
		m.PluginCallDuration,
		m.PluginsDiscovered,
		m.PluginsLoaded,
		m.RescansTotal,
	)

	return m
}

// ObserveRequest counts one inbound request of the given kind.
func (m *Metrics) ObserveRequest(kind string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(kind).Inc()
}

// ObserveCall records a finished plugin call. code is the error code of a
// failed call and empty on success.
func (m *Metrics) ObserveCall(plugin string, status int, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.PluginCallsTotal.WithLabelValues(plugin, strconv.Itoa(status)).Inc()
	m.PluginCallDuration.WithLabelValues(plugin).Observe(elapsed.Seconds())
	if code != "" {
		m.PluginCallFailures.WithLabelValues(plugin, code).Inc()
	}
}

// ObserveScan records the outcome of a discovery scan.
func (m *Metrics) ObserveScan(discovered, loaded int) {
	if m == nil {
		return
	}
	m.RescansTotal.Inc()
	m.PluginsDiscovered.Set(float64(discovered))
	m.PluginsLoaded.Set(float64(loaded))
}
