package statemachine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "statemachine"

// startRequestSpan creates the span for one processed request.
// Uses the global tracer provider, which telemetry.Initialize sets up.
// The caller is responsible for calling span.End().
//
//nolint:spancheck // Span lifecycle managed by caller (factory pattern)
func startRequestSpan(ctx context.Context, e *Engine, kind string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "statemachine."+kind)
	span.SetAttributes(
		attribute.String("engine.name", e.name),
		attribute.String("engine.id", e.id),
		attribute.String("engine.config_fingerprint", e.fingerprint),
		attribute.String("stage", e.CurrentStage()),
	)

	return ctx, span
}

// endRequestSpan records the outcome of a request on its span and ends it.
func endRequestSpan(span trace.Span, result Result, err error) {
	if result.To != "" {
		span.SetAttributes(attribute.String("stage.to", result.To))
	}

	if result.Event != "" {
		span.SetAttributes(attribute.String("event", result.Event))
	}

	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case result.Cancelled:
		span.SetAttributes(
			attribute.Bool("cancelled", true),
			attribute.String("cancelled_by", result.CancelledBy),
		)
		span.SetStatus(codes.Ok, "cancelled")
	default:
		span.SetStatus(codes.Ok, "completed")
	}

	span.End()
}

// startMiddlewareSpan creates a child span for one middleware.
// The caller is responsible for calling span.End().
//
//nolint:spancheck // Span lifecycle managed by caller (factory pattern)
func startMiddlewareSpan(ctx context.Context, name string, tc *TransitionContext) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "middleware."+name)
	span.SetAttributes(
		attribute.String("middleware", name),
		attribute.String("from", tc.From),
		attribute.String("to", tc.To),
		attribute.String("origin", string(tc.Origin)),
	)

	return ctx, span
}

func endMiddlewareSpan(span trace.Span, outcome Outcome, err error) {
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case outcome.cancel:
		span.SetAttributes(attribute.Bool("cancelled", true), attribute.String("reason", outcome.reason))
		span.SetStatus(codes.Ok, "cancelled")
	default:
		span.SetStatus(codes.Ok, "continued")
	}

	span.End()
}

// extractTraceContext extracts trace ID and span ID from context for logging.
func extractTraceContext(ctx context.Context) (traceID, spanID string) {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		spanCtx := span.SpanContext()

		return spanCtx.TraceID().String(), spanCtx.SpanID().String()
	}

	return "", ""
}
