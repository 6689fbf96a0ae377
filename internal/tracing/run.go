// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracing

import (
	"context"
	"fmt"

	"github.com/fyreflow/engine/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RunSpan wraps an OpenTelemetry span with run/step-specific helpers.
type RunSpan struct {
	span trace.Span
}

// StartRun creates a root span for a workflow run.
// This should be called when a run transitions to running.
func StartRun(ctx context.Context, tracer trace.Tracer, runID, pipelineName string) (context.Context, *RunSpan) {
	ctx, span := tracer.Start(ctx, fmt.Sprintf("run: %s", pipelineName),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("pipeline.name", pipelineName),
			attribute.String("run.id", runID),
			attribute.String("span.type", "pipeline.run"),
		),
	)

	return ctx, &RunSpan{span: span}
}

// StartStepAttempt creates a span for a single step attempt.
// This should be called for each step attempt.
func StartStepAttempt(ctx context.Context, tracer trace.Tracer, stepID, stepType string) (context.Context, *RunSpan) {
	ctx, span := tracer.Start(ctx, fmt.Sprintf("step: %s", stepID),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("step.id", stepID),
			attribute.String("step.type", stepType),
			attribute.String("span.type", "pipeline.step"),
		),
	)

	return ctx, &RunSpan{span: span}
}

// SetAttributes adds key-value attributes to the span.
func (w *RunSpan) SetAttributes(attrs map[string]any) {
	if w == nil || w.span == nil {
		return
	}

	var otelAttrs []attribute.KeyValue
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			otelAttrs = append(otelAttrs, attribute.String(k, val))
		case int:
			otelAttrs = append(otelAttrs, attribute.Int(k, val))
		case int64:
			otelAttrs = append(otelAttrs, attribute.Int64(k, val))
		case float64:
			otelAttrs = append(otelAttrs, attribute.Float64(k, val))
		case bool:
			otelAttrs = append(otelAttrs, attribute.Bool(k, val))
		default:
			otelAttrs = append(otelAttrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}

	w.span.SetAttributes(otelAttrs...)
}

// AddEvent records a timestamped event within the span.
func (w *RunSpan) AddEvent(name string, attrs map[string]any) {
	if w == nil || w.span == nil {
		return
	}

	var otelAttrs []attribute.KeyValue
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			otelAttrs = append(otelAttrs, attribute.String(k, val))
		case int:
			otelAttrs = append(otelAttrs, attribute.Int(k, val))
		case int64:
			otelAttrs = append(otelAttrs, attribute.Int64(k, val))
		case float64:
			otelAttrs = append(otelAttrs, attribute.Float64(k, val))
		case bool:
			otelAttrs = append(otelAttrs, attribute.Bool(k, val))
		default:
			otelAttrs = append(otelAttrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}

	w.span.AddEvent(name, trace.WithAttributes(otelAttrs...))
}

// RecordError records an error that occurred during execution.
func (w *RunSpan) RecordError(err error) {
	if w == nil || w.span == nil || err == nil {
		return
	}

	w.span.RecordError(err)
	w.span.SetStatus(codes.Error, err.Error())
}

// SetStatus sets the span's final status.
func (w *RunSpan) SetStatus(code observability.StatusCode, message string) {
	if w == nil || w.span == nil {
		return
	}

	var otelCode codes.Code
	switch code {
	case observability.StatusCodeOK:
		otelCode = codes.Ok
	case observability.StatusCodeError:
		otelCode = codes.Error
	default:
		otelCode = codes.Unset
	}

	w.span.SetStatus(otelCode, message)
}

// End marks the span as complete.
func (w *RunSpan) End() {
	if w == nil || w.span == nil {
		return
	}

	w.span.End()
}

// SpanContext returns the span's trace context for propagation.
func (w *RunSpan) SpanContext() trace.SpanContext {
	if w == nil || w.span == nil {
		return trace.SpanContext{}
	}

	return w.span.SpanContext()
}

// TraceID returns the trace ID as a string.
func (w *RunSpan) TraceID() string {
	if w == nil || w.span == nil {
		return ""
	}

	return w.span.SpanContext().TraceID().String()
}

// SpanID returns the span ID as a string.
func (w *RunSpan) SpanID() string {
	if w == nil || w.span == nil {
		return ""
	}

	return w.span.SpanContext().SpanID().String()
}
