package order

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	created    metric.Int64Counter
	reused     metric.Int64Counter
	superseded metric.Int64Counter
	settled    metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	var (
		m   metrics
		err error
	)
	if m.created, err = meter.Int64Counter("flowershop.orders.created",
		metric.WithDescription("Orders created"),
	); err != nil {
		return nil, err
	}
	if m.reused, err = meter.Int64Counter("flowershop.orders.reused",
		metric.WithDescription("Create requests answered with an existing pending order"),
	); err != nil {
		return nil, err
	}
	if m.superseded, err = meter.Int64Counter("flowershop.orders.superseded",
		metric.WithDescription("Stale pending orders cancelled"),
	); err != nil {
		return nil, err
	}
	if m.settled, err = meter.Int64Counter("flowershop.orders.webhooks",
		metric.WithDescription("Payment webhook deliveries by event and outcome"),
	); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *metrics) webhook(ctx context.Context, event, outcome string) {
	m.settled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("outcome", outcome),
	))
}
