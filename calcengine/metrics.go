// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package calcengine

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Prometheus metric vectors, package-level and promauto-registered —
// the same shape as agent/llm/observability.go's llmCallDuration /
// llmCallsTotal vectors, narrowed from per-provider LLM labels to
// per-node-fqn cache labels.
var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "calcengine",
		Name:      "cache_hits_total",
		Help:      "Number of wrapper calls served from the cache without recomputation.",
	}, []string{"fqn"})

	cacheRecomputesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "calcengine",
		Name:      "cache_recomputes_total",
		Help:      "Number of wrapper calls that invoked the underlying user function.",
	}, []string{"fqn"})

	invalidationCascadeSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "calcengine",
		Name:      "invalidation_cascade_size",
		Help:      "Number of nodes removed by a single invalidate() call, including the seed.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	}, []string{"fqn"})

	dependenciesDiscovered = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "calcengine",
		Name:      "dependencies_discovered",
		Help:      "Number of statically-discovered dependency edges per recomputation.",
		Buckets:   prometheus.LinearBuckets(0, 2, 10),
	}, []string{"fqn"})
)

// metricsRecorder centralizes the engine's metric emission so engine.go
// never calls promauto vectors directly, matching observability.go's
// recordLLMMetrics indirection. Recomputation counts are additionally
// mirrored to an OTel counter instrument, so a process that wires a
// MeterProvider (cmd/calcengine's setupTelemetry) gets the same signal
// over both the Prometheus pull path and whatever OTel reader it
// configured, without the core ever depending on which one is present.
type metricsRecorder struct {
	otelRecomputes metric.Int64Counter
}

func newMetricsRecorder() *metricsRecorder {
	counter, _ := otel.Meter("github.com/bsdz/calcengine").Int64Counter(
		"calcengine.cache_recomputes_total",
		metric.WithDescription("Number of wrapper calls that invoked the underlying user function."),
	)
	return &metricsRecorder{otelRecomputes: counter}
}

func (m *metricsRecorder) recordHit(fqn string) {
	cacheHitsTotal.WithLabelValues(fqn).Inc()
}

func (m *metricsRecorder) recordRecompute(fqn string, requireCount int) {
	cacheRecomputesTotal.WithLabelValues(fqn).Inc()
	dependenciesDiscovered.WithLabelValues(fqn).Observe(float64(requireCount))
	if m.otelRecomputes != nil {
		m.otelRecomputes.Add(context.Background(), 1, metric.WithAttributes(attribute.String("fqn", fqn)))
	}
}

func (m *metricsRecorder) recordInvalidation(fqn string, cascadeSize int) {
	invalidationCascadeSize.WithLabelValues(fqn).Observe(float64(cascadeSize))
}
