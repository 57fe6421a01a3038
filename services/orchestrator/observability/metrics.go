// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package observability provides metrics and tracing for the orchestrator.
//
// # Description
//
// Metrics cover the conversation core:
//   - Sessions held and messages appended
//   - Maintenance sweep runs and cleared sessions
//   - Routing decisions, retrieval fan-out and evaluator fallbacks
//   - Gateway turn outcomes and model call latency
//
// Components never import this package. Each exposes an observer callback
// and the service wires the matching Metrics method into it.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "indoclimate"

// Metrics holds the orchestrator's Prometheus collectors.
//
// # Fields
//
//   - TurnsTotal: Committed turns. Labels: action (rag, no_rag).
//   - MessagesAppendedTotal: Messages written to session history.
//   - SweepRunsTotal: Sweep runs. Labels: sweep (prefix, inactivity).
//   - SweepClearedTotal: Sessions cleared by sweeps. Labels: sweep.
//   - SweepDurationSeconds: Sweep run duration. Labels: sweep.
//   - RouteDecisionsTotal: Router decisions. Labels: action, fallback.
//   - RetrievalFragments: Fragments returned per vector-store search.
//   - EvaluatorFallbacksTotal: Selections that kept every candidate.
//     Labels: reason.
//   - GatewayTurnsTotal: Gateway turns. Labels: outcome.
//   - LLMCallDurationSeconds: Model call latency. Labels: profile, status.
type Metrics struct {
	TurnsTotal              *prometheus.CounterVec
	MessagesAppendedTotal   prometheus.Counter
	SweepRunsTotal          *prometheus.CounterVec
	SweepClearedTotal       *prometheus.CounterVec
	SweepDurationSeconds    *prometheus.HistogramVec
	RouteDecisionsTotal     *prometheus.CounterVec
	RetrievalFragments      prometheus.Histogram
	EvaluatorFallbacksTotal *prometheus.CounterVec
	GatewayTurnsTotal       *prometheus.CounterVec
	LLMCallDurationSeconds  *prometheus.HistogramVec

	reg prometheus.Registerer
}

// NewMetrics creates and registers every collector on reg.
//
// # Inputs
//
//   - reg: Target registry. Tests pass prometheus.NewRegistry() to stay
//     isolated; the service passes prometheus.DefaultRegisterer.
//
// # Limitations
//
//   - Panics if the collectors are already registered on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,

		TurnsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Committed conversation turns by routing action",
		}, []string{"action"}),

		MessagesAppendedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sessions",
			Name:      "messages_appended_total",
			Help:      "Messages appended to session history",
		}),

		SweepRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "maintenance",
			Name:      "sweep_runs_total",
			Help:      "Maintenance sweep runs",
		}, []string{"sweep"}),

		SweepClearedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "maintenance",
			Name:      "sweep_cleared_total",
			Help:      "Sessions whose history was cleared by a sweep",
		}, []string{"sweep"}),

		SweepDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "maintenance",
			Name:      "sweep_duration_seconds",
			Help:      "Maintenance sweep duration in seconds",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 1},
		}, []string{"sweep"}),

		RouteDecisionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "routing",
			Name:      "decisions_total",
			Help:      "Router decisions by action and whether the fail-safe default was used",
		}, []string{"action", "fallback"}),

		RetrievalFragments: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "retrieval",
			Name:      "fragments",
			Help:      "Fragments returned per vector-store search",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		}),

		EvaluatorFallbacksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "retrieval",
			Name:      "evaluator_fallbacks_total",
			Help:      "Relevance selections that fell back to every candidate",
		}, []string{"reason"}),

		GatewayTurnsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "gateway",
			Name:      "turns_total",
			Help:      "Gateway turns by outcome",
		}, []string{"outcome"}),

		LLMCallDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "Language-model call duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"profile", "status"}),
	}
}

// =============================================================================
// Observer Hooks
// =============================================================================

// TrackSessions registers a gauge that reads the session count on scrape.
func (m *Metrics) TrackSessions(count func() int) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "sessions",
		Name:      "active",
		Help:      "Sessions currently held in memory",
	}, func() float64 { return float64(count()) })
}

// TurnCommitted records one stored turn: a user message and an answer.
func (m *Metrics) TurnCommitted(action string) {
	m.TurnsTotal.WithLabelValues(action).Inc()
	m.MessagesAppendedTotal.Add(2)
}

// SweepCompleted records one sweep run.
func (m *Metrics) SweepCompleted(sweep string, cleared int, elapsed time.Duration) {
	m.SweepRunsTotal.WithLabelValues(sweep).Inc()
	m.SweepClearedTotal.WithLabelValues(sweep).Add(float64(cleared))
	m.SweepDurationSeconds.WithLabelValues(sweep).Observe(elapsed.Seconds())
}

// RouteDecided records one router decision.
func (m *Metrics) RouteDecided(action string, fallback bool) {
	m.RouteDecisionsTotal.WithLabelValues(action, strconv.FormatBool(fallback)).Inc()
}

// FragmentsRetrieved records the hit count of one search.
func (m *Metrics) FragmentsRetrieved(n int) {
	m.RetrievalFragments.Observe(float64(n))
}

// SelectionFellBack records one evaluator fallback.
func (m *Metrics) SelectionFellBack(reason string) {
	m.EvaluatorFallbacksTotal.WithLabelValues(reason).Inc()
}

// GatewayTurn records one gateway turn outcome.
func (m *Metrics) GatewayTurn(outcome string) {
	m.GatewayTurnsTotal.WithLabelValues(outcome).Inc()
}

// LLMCall records one model call. Matches llm.Observer.
func (m *Metrics) LLMCall(profile string, elapsed time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.LLMCallDurationSeconds.WithLabelValues(profile, status).Observe(elapsed.Seconds())
}
