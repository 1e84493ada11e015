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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracingHooks wraps the OTel tracer the same way graph/builder.go starts
// a span before every extractCallEdges call — one span per wrapper
// recomputation, attributed with the node's fqn and short id.
type tracingHooks struct {
	tracer trace.Tracer
}

func newTracingHooks() *tracingHooks {
	return &tracingHooks{tracer: otel.Tracer("github.com/bsdz/calcengine")}
}

type engineSpan struct {
	span trace.Span
}

func (s engineSpan) end() {
	if s.span != nil {
		s.span.End()
	}
}

func (t *tracingHooks) startCall(ctx context.Context, fqn, shortID string) (context.Context, engineSpan) {
	ctx, span := t.tracer.Start(ctx, "CalcEngine.recompute", trace.WithAttributes(
		attribute.String("calcengine.fqn", fqn),
		attribute.String("calcengine.short_id", shortID),
	))
	return ctx, engineSpan{span: span}
}
