// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/time/rate"
)

// setupTelemetry wires a TracerProvider and a MeterProvider the way
// cmd/aleutian/internal/diagnostics/tracer.go wires its OTLP provider,
// narrowed to exporters with no collector endpoint to dial: a CLI tool
// run ad hoc on a developer's machine has nowhere to send OTLP, so spans
// go through the stdouttrace batch exporter, written to stderr, and
// metrics are read two ways — a
// Prometheus bridge for `/debug/metrics` scraping, and (only in --debug
// mode, to keep a normal run's stdout quiet) a periodic stdout dump.
func setupTelemetry(debug bool) (shutdown func(context.Context) error, err error) {
	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(traceExporter),
	)
	otel.SetTracerProvider(tp)

	promReader, err := otelprometheus.New()
	if err != nil {
		return nil, err
	}
	readerOpts := []sdkmetric.Option{sdkmetric.WithReader(promReader)}
	if debug {
		metricExporter, err := stdoutmetric.New()
		if err != nil {
			return nil, err
		}
		readerOpts = append(readerOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))
	}
	mp := sdkmetric.NewMeterProvider(readerOpts...)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}, nil
}

// rateLimitMiddleware throttles the diagnostic HTTP API the way
// ollama_llm.go throttles a streaming response: a token-bucket limiter
// shared across every request on the group, rejecting once the bucket
// is empty rather than queuing.
func rateLimitMiddleware(ratePerSecond float64, burst int) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatus(429)
			return
		}
		c.Next()
	}
}

func registerMetricsRoute(g *gin.RouterGroup) {
	handler := promhttp.Handler()
	g.GET("/metrics", gin.WrapH(handler))
}
