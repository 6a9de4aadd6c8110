package keyauth

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	api "keyauthcli/pkg/contracts/api/v1"
)

const instrumentationName = "keyauthcli/pkg/keyauth"

// Metrics holds the client's OpenTelemetry instruments
type Metrics struct {
	Requests     metric.Int64Counter
	Outcomes     metric.Int64Counter
	TamperEvents metric.Int64Counter
	Duration     metric.Float64Histogram
}

// NewMetrics creates the client instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var err error
	metrics := &Metrics{}

	metrics.Requests, err = meter.Int64Counter(
		"keyauth_requests_total",
		metric.WithDescription("Total number of KeyAuth operations by request type"),
	)
	if err != nil {
		return nil, err
	}

	metrics.Outcomes, err = meter.Int64Counter(
		"keyauth_outcomes_total",
		metric.WithDescription("Total number of KeyAuth operation outcomes by kind"),
	)
	if err != nil {
		return nil, err
	}

	metrics.TamperEvents, err = meter.Int64Counter(
		"keyauth_tampered_responses_total",
		metric.WithDescription("Total number of responses rejected for a bad signature"),
	)
	if err != nil {
		return nil, err
	}

	metrics.Duration, err = meter.Float64Histogram(
		"keyauth_operation_duration_seconds",
		metric.WithDescription("KeyAuth operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return metrics, nil
}

func (m *Metrics) record(ctx context.Context, op api.RequestType, out Outcome, duration time.Duration) {
	if m == nil {
		return
	}

	opAttr := attribute.String("type", op.String())
	m.Requests.Add(ctx, 1, metric.WithAttributes(opAttr))
	m.Outcomes.Add(ctx, 1, metric.WithAttributes(opAttr, attribute.String("kind", out.Kind.String())))
	m.Duration.Record(ctx, duration.Seconds(), metric.WithAttributes(opAttr))

	if out.Kind == KindTampered {
		m.TamperEvents.Add(ctx, 1, metric.WithAttributes(opAttr))
	}
}

// traceOperation runs fn in a span and records its outcome
func (c *Client) traceOperation(ctx context.Context, op api.RequestType, fn func(context.Context) Outcome) Outcome {
	ctx, span := c.tracer.Start(ctx, "keyauth."+op.String(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("keyauth.type", op.String()),
			attribute.String("keyauth.app", c.identity.AppName),
		),
	)
	defer span.End()

	start := time.Now()
	out := fn(ctx)
	duration := time.Since(start)

	c.metrics.record(ctx, op, out, duration)

	span.SetAttributes(
		attribute.String("keyauth.outcome", out.Kind.String()),
		attribute.Float64("keyauth.duration_ms", float64(duration.Milliseconds())),
	)
	if out.StatusCode != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", out.StatusCode))
	}

	switch out.Kind {
	case KindCompleted, KindSuccess:
		span.SetStatus(codes.Ok, "")
	case KindLogicalFailure, KindPrecondition:
		// denied by the server or by local state; not an error of the span itself
		span.AddEvent("keyauth.denied", trace.WithAttributes(attribute.String("reason", out.Message)))
	default:
		err := out.Err()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return out
}
