// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for CareOS.
//
// # Description
//
// One Metrics value implements the small metric interfaces the core services
// declare (policy_engine.ViolationRecorder, audit.FailureRecorder,
// deviation.Metrics, alerts.Metrics, insights.Metrics), so the services never
// import Prometheus themselves. Metrics include:
//   - Guardrail violations (by mode and category)
//   - Deviations detected and suppressed (by type)
//   - Alert dispatch outcomes
//   - Audit write failures
//   - Insights generated (by type)
//   - HTTP requests and sweep/dispatch durations
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "careos"

// Metrics holds every CareOS collector.
type Metrics struct {
	// GuardrailViolationsTotal counts blocked or reported scans.
	// Labels: mode (blocking, reporting), category (disciplinary, ranking, grading)
	GuardrailViolationsTotal *prometheus.CounterVec

	// DeviationsDetectedTotal counts newly persisted deviations.
	// Labels: type
	DeviationsDetectedTotal *prometheus.CounterVec

	// DeviationsSuppressedTotal counts findings dropped by the dedup window.
	// Labels: type
	DeviationsSuppressedTotal *prometheus.CounterVec

	// SweepUserFailuresTotal counts users whose sweep run failed.
	SweepUserFailuresTotal prometheus.Counter

	// AlertsTotal counts dispatch outcomes.
	// Labels: outcome (sent, skipped_no_manager, skipped_opt_out, failed)
	AlertsTotal *prometheus.CounterVec

	// AuditWriteFailuresTotal counts audit entries that could not be stored.
	AuditWriteFailuresTotal prometheus.Counter

	// InsightsGeneratedTotal counts insights returned to callers.
	// Labels: type
	InsightsGeneratedTotal *prometheus.CounterVec

	// JobDurationSeconds measures scheduled job runs.
	// Labels: job (sweep, dispatch), status (success, error)
	JobDurationSeconds *prometheus.HistogramVec

	// HTTPRequestsTotal counts API requests.
	// Labels: route, method, code
	HTTPRequestsTotal *prometheus.CounterVec
}

// InitMetrics registers the metrics with the default Prometheus registry.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
}

// NewMetrics creates and registers the metrics with reg. Tests pass a fresh
// prometheus.NewRegistry().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		GuardrailViolationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "guardrail",
				Name:      "violations_total",
				Help:      "Prohibited-language detections by enforcement mode and category",
			},
			[]string{"mode", "category"},
		),
		DeviationsDetectedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "deviation",
				Name:      "detected_total",
				Help:      "Deviations newly persisted by type",
			},
			[]string{"type"},
		),
		DeviationsSuppressedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "deviation",
				Name:      "suppressed_total",
				Help:      "Deviation findings suppressed by the dedup window by type",
			},
			[]string{"type"},
		),
		SweepUserFailuresTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "deviation",
				Name:      "sweep_user_failures_total",
				Help:      "Users whose deviation detection failed during a sweep",
			},
		),
		AlertsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "alerts",
				Name:      "dispatched_total",
				Help:      "Deviation alert dispatch outcomes",
			},
			[]string{"outcome"},
		),
		AuditWriteFailuresTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "audit",
				Name:      "write_failures_total",
				Help:      "Audit entries that could not be persisted",
			},
		),
		InsightsGeneratedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "insights",
				Name:      "generated_total",
				Help:      "Advisory insights generated by type",
			},
			[]string{"type"},
		),
		JobDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "scheduler",
				Name:      "job_duration_seconds",
				Help:      "Scheduled job duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"job", "status"},
		),
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "API requests by route, method and status code",
			},
			[]string{"route", "method", "code"},
		),
	}
}

// =============================================================================
// Recorder Methods
// =============================================================================

func (m *Metrics) RecordGuardrailViolation(mode, category string) {
	m.GuardrailViolationsTotal.WithLabelValues(mode, category).Inc()
}

func (m *Metrics) RecordDeviationDetected(deviationType string) {
	m.DeviationsDetectedTotal.WithLabelValues(deviationType).Inc()
}

func (m *Metrics) RecordDeviationSuppressed(deviationType string) {
	m.DeviationsSuppressedTotal.WithLabelValues(deviationType).Inc()
}

func (m *Metrics) RecordSweepUserFailure() {
	m.SweepUserFailuresTotal.Inc()
}

func (m *Metrics) RecordAlert(outcome string) {
	m.AlertsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordAuditWriteFailure() {
	m.AuditWriteFailuresTotal.Inc()
}

func (m *Metrics) RecordInsightGenerated(insightType string) {
	m.InsightsGeneratedTotal.WithLabelValues(insightType).Inc()
}

// RecordJob records one scheduled job run.
//
// # Inputs
//
//   - job: "sweep" or "dispatch".
//   - seconds: run duration.
//   - success: whether the run returned without error.
func (m *Metrics) RecordJob(job string, seconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.JobDurationSeconds.WithLabelValues(job, status).Observe(seconds)
}

// RecordHTTPRequest counts one API request.
func (m *Metrics) RecordHTTPRequest(route, method string, code int) {
	m.HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
}
