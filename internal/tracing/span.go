package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const stepAttribute = "crudfire.step"

// StartStepSpan starts a client span for one workflow request. The span is
// named "METHOD step", e.g. "POST create".
func StartStepSpan(ctx context.Context, tracer trace.Tracer, step, method, url string) (context.Context, trace.Span) {
	name := method + " " + step
	if step == "" {
		name = method
	}
	ctx, span := tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String(stepAttribute, step),
	)
	if url != "" {
		span.SetAttributes(attribute.String("url.full", url))
	}
	return ctx, span
}

// HTTPStatus is the response status attribute recorded on step spans.
func HTTPStatus(code int) attribute.KeyValue {
	return attribute.Int("http.response.status_code", code)
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders injects W3C trace context into HTTP headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
