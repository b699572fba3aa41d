package httpapi

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// toolMetricsCollector is a prometheus.Collector that scrapes
// internal/observability.ToolStats on every /metrics request rather than
// keeping its own counters in sync with every dispatch call — the
// tool_metrics table is already the single source of truth the dispatcher
// writes to, so the exporter just reads it.
type toolMetricsCollector struct {
	server *Server

	invocations *prometheus.Desc
	errors      *prometheus.Desc
	avgDuration *prometheus.Desc
}

func newToolMetricsCollector(s *Server) *toolMetricsCollector {
	return &toolMetricsCollector{
		server: s,
		invocations: prometheus.NewDesc(
			"agentmail_tool_invocations_total", "Total tool invocations observed, by tool name.",
			[]string{"tool"}, nil),
		errors: prometheus.NewDesc(
			"agentmail_tool_errors_total", "Total tool invocations that ended in error, by tool name.",
			[]string{"tool"}, nil),
		avgDuration: prometheus.NewDesc(
			"agentmail_tool_duration_ms_avg", "Average tool invocation duration in milliseconds, by tool name.",
			[]string{"tool"}, nil),
	}
}

func (c *toolMetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.invocations
	ch <- c.errors
	ch <- c.avgDuration
}

func (c *toolMetricsCollector) Collect(ch chan<- prometheus.Metric) {
	stats, err := c.server.obs.ToolStats(context.Background(), nil)
	if err != nil {
		c.server.logger.Warn("failed to scrape tool stats for /metrics", "error", err)
		return
	}
	for _, stat := range stats {
		ch <- prometheus.MustNewConstMetric(c.invocations, prometheus.CounterValue, float64(stat.Count), stat.ToolName)
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(stat.ErrorCount), stat.ToolName)
		ch <- prometheus.MustNewConstMetric(c.avgDuration, prometheus.GaugeValue, stat.AvgDurationMS, stat.ToolName)
	}
}

// metricsHandler returns the Prometheus exposition endpoint, backed by a
// private registry so this process's metrics never mix with the default
// global one (relevant when the server binary embeds other instrumented
// packages later).
func (s *Server) metricsHandler() http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(newToolMetricsCollector(s))
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
