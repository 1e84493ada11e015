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
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// InfluxSink is an alternate metrics destination for teams that run
// InfluxDB instead of (or alongside) Prometheus: RecordRecompute writes one
// point carrying a node's fqn, recompute duration, and dependency count.
// The engine does not call it; a caller constructs the sink with
// NewInfluxSink and records points itself.
type InfluxSink struct {
	client influxdb2.Client
	writer api.WriteAPI
	logger *slog.Logger
}

// NewInfluxSink opens a non-blocking write client against url/org/bucket.
func NewInfluxSink(cfg *EngineConfig, logger *slog.Logger) *InfluxSink {
	if logger == nil {
		logger = slog.Default()
	}
	client := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
	return &InfluxSink{
		client: client,
		writer: client.WriteAPI(cfg.InfluxOrg, cfg.InfluxBucket),
		logger: logger,
	}
}

// RecordRecompute writes one point for a single wrapper recomputation.
func (s *InfluxSink) RecordRecompute(fqn string, duration time.Duration, requireCount int) {
	p := influxdb2.NewPoint(
		"calcengine_recompute",
		map[string]string{"fqn": fqn},
		map[string]any{
			"duration_ms":   duration.Milliseconds(),
			"require_count": requireCount,
		},
		time.Now(),
	)
	s.writer.WritePoint(p)
}

// Close flushes pending points and releases the client.
func (s *InfluxSink) Close(ctx context.Context) {
	s.writer.Flush()
	s.client.Close()
	_ = ctx
}
