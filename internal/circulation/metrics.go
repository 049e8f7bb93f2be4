package circulation

import (
	"context"

	"bookhold/internal/apperror"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "bookhold/circulation"

type telemetry struct {
	tracer     trace.Tracer
	operations metric.Int64Counter
	reaped     metric.Int64Counter
}

func newTelemetry() telemetry {
	meter := otel.Meter(instrumentation)
	// instrument creation only fails on invalid names; the returned no-op is fine
	operations, _ := meter.Int64Counter("bookhold.reservation.operations",
		metric.WithDescription("Reservation lifecycle calls by operation and outcome"))
	reaped, _ := meter.Int64Counter("bookhold.reservation.reaped",
		metric.WithDescription("Lapsed holds removed by the reaper"))
	return telemetry{
		tracer:     otel.Tracer(instrumentation),
		operations: operations,
		reaped:     reaped,
	}
}

func (t telemetry) observe(ctx context.Context, op string, err error) {
	t.operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome(err)),
	))
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if reason := apperror.ReasonOf(err); reason != "" {
		return string(reason)
	}
	return apperror.KindOf(err).String()
}
