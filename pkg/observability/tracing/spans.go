// Package tracing provides OpenTelemetry spans for client calls and job handling.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/nimburion/orchestra"

// StartClientSpan starts a client span for one API operation.
func StartClientSpan(ctx context.Context, operationID, method, path string, opts ...SpanOption) (context.Context, trace.Span) {
	spanOpts := &spanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("orchestra.operation_id", operationID),
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, fmt.Sprintf("%s %s", method, operationID), trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(spanOpts.attributes...)
	return ctx, span
}

// StartJobSpan starts a consumer span around one job handler invocation.
func StartJobSpan(ctx context.Context, jobType, jobKey string, opts ...SpanOption) (context.Context, trace.Span) {
	spanOpts := &spanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("orchestra.job.type", jobType),
			attribute.String("orchestra.job.key", jobKey),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, fmt.Sprintf("JOB %s", jobType), trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(spanOpts.attributes...)
	return ctx, span
}

// SpanOption adds attributes to a span at start.
type SpanOption func(*spanOptions)

type spanOptions struct {
	attributes []attribute.KeyValue
}

// WithAttempt records the retry attempt number.
func WithAttempt(attempt int) SpanOption {
	return func(opts *spanOptions) {
		opts.attributes = append(opts.attributes, attribute.Int("orchestra.attempt", attempt))
	}
}

// WithTenant records the tenant id.
func WithTenant(tenantID string) SpanOption {
	return func(opts *spanOptions) {
		if tenantID != "" {
			opts.attributes = append(opts.attributes, attribute.String("orchestra.tenant_id", tenantID))
		}
	}
}

// WithRetries records the retries remaining on a job.
func WithRetries(retries int) SpanOption {
	return func(opts *spanOptions) {
		opts.attributes = append(opts.attributes, attribute.Int("orchestra.job.retries", retries))
	}
}

// SetStatusCode records the HTTP response status on span.
func SetStatusCode(span trace.Span, status int) {
	span.SetAttributes(attribute.Int("http.response.status_code", status))
}

// SetOutcome records how a job handler finished ("completed", "bpmn_error", "failed", "abandoned").
func SetOutcome(span trace.Span, outcome string) {
	span.SetAttributes(attribute.String("orchestra.job.outcome", outcome))
}

// RecordError records err on span and marks it failed.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess sets the span status to OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
