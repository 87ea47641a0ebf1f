package reconcile

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/xenking/minmin-cart/internal/reconcile"

type metrics struct {
	runs  metric.Int64Counter
	check metric.Float64Histogram
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	meter := mp.Meter(meterName)

	runs, err := meter.Int64Counter("cart.reconcile.runs",
		metric.WithDescription("Cart reconciliations by status"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "runs counter")
	}
	check, err := meter.Float64Histogram("cart.reconcile.check.duration",
		metric.WithDescription("Latency of the remote discount check"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "check histogram")
	}
	return &metrics{runs: runs, check: check}, nil
}

func (m *metrics) recordRun(ctx context.Context, status Status) {
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

func (m *metrics) recordCheck(ctx context.Context, d time.Duration, err error) {
	m.check.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("error", err != nil)))
}
