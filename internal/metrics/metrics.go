/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package metrics defines the Prometheus metrics centrix-ci exposes.
//
// Metrics are registered against a package-local registry rather than
// the global default, so the HTTP handler that serves them is
// constructed explicitly by the caller instead of relying on a
// process-wide default registry.
//
// Metric naming follows Prometheus conventions:
//   - ci_ prefix for all custom metrics
//   - _total suffix for counters
//   - _ms suffix for millisecond duration histograms
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric this package registers.
var Registry = prometheus.NewRegistry()

var (
	// WebhooksReceivedTotal counts inbound webhook deliveries by event kind and outcome.
	WebhooksReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ci_webhooks_received_total",
			Help: "Total inbound forge webhook deliveries by event kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	// BuildsTotal counts builds reaching a terminal status.
	BuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ci_builds_total",
			Help: "Total builds by terminal status.",
		},
		[]string{"status"},
	)

	// BuildDurationMs is a histogram of build duration in milliseconds.
	BuildDurationMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ci_build_duration_ms",
			Help:    "Build duration in milliseconds.",
			Buckets: []float64{500, 1000, 5000, 15000, 30000, 60000, 180000, 600000, 1800000},
		},
		[]string{"status"},
	)

	// StepDurationMs is a histogram of per-step duration in milliseconds.
	StepDurationMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ci_step_duration_ms",
			Help:    "Pipeline step duration in milliseconds.",
			Buckets: []float64{100, 500, 1000, 5000, 15000, 30000, 60000, 180000, 600000},
		},
		[]string{"step"},
	)

	// ActiveEnvironments is the current number of non-destroyed review environments.
	ActiveEnvironments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ci_active_environments",
			Help: "Number of review environments not yet destroyed.",
		},
	)

	// ErrorsTotal counts classified error occurrences by category.
	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ci_errors_total",
			Help: "Total error occurrences classified, by category.",
		},
		[]string{"category"},
	)
)

func init() {
	Registry.MustRegister(
		WebhooksReceivedTotal,
		BuildsTotal,
		BuildDurationMs,
		StepDurationMs,
		ActiveEnvironments,
		ErrorsTotal,
	)
}

// Handler returns the HTTP handler serving metrics in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordWebhook records one inbound webhook delivery outcome.
func RecordWebhook(kind, outcome string) {
	WebhooksReceivedTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordBuild records a build reaching status, with its duration if terminal.
func RecordBuild(status string, durationMs int64) {
	BuildsTotal.WithLabelValues(status).Inc()
	if durationMs > 0 {
		BuildDurationMs.WithLabelValues(status).Observe(float64(durationMs))
	}
}

// RecordStep records a completed step's duration, labeled by step name.
func RecordStep(step string, durationMs int64) {
	StepDurationMs.WithLabelValues(step).Observe(float64(durationMs))
}

// RecordError records one newly classified error occurrence by category.
func RecordError(category string) {
	ErrorsTotal.WithLabelValues(category).Inc()
}

// SetActiveEnvironments updates the active-environment gauge.
func SetActiveEnvironments(n int) {
	ActiveEnvironments.Set(float64(n))
}
