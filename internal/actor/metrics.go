package actor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/steemit/redsky/pkg/telemetry"
)

const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

type jobMetrics struct {
	started  metric.Int64Counter
	finished metric.Int64Counter
	inFlight metric.Int64UpDownCounter
	duration metric.Float64Histogram
}

func newJobMetrics(logger *zap.Logger) *jobMetrics {
	meter := telemetry.Meter("actor")
	m, err := buildJobMetrics(meter)
	if err != nil {
		logger.Warn("Failed to create job metrics, using no-op instruments", zap.Error(err))
		m, _ = buildJobMetrics(noop.NewMeterProvider().Meter("actor"))
	}
	return m
}

func buildJobMetrics(meter metric.Meter) (*jobMetrics, error) {
	started, err := meter.Int64Counter("redsky.actor.jobs.started",
		metric.WithDescription("Jobs spawned per command kind"))
	if err != nil {
		return nil, err
	}
	finished, err := meter.Int64Counter("redsky.actor.jobs.finished",
		metric.WithDescription("Jobs finished per command kind and outcome"))
	if err != nil {
		return nil, err
	}
	inFlight, err := meter.Int64UpDownCounter("redsky.actor.jobs.in_flight",
		metric.WithDescription("Jobs whose event was not delivered yet"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("redsky.actor.job.duration",
		metric.WithDescription("Time from spawn to event"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &jobMetrics{
		started:  started,
		finished: finished,
		inFlight: inFlight,
		duration: duration,
	}, nil
}

func (m *jobMetrics) jobStarted(ctx context.Context, kind string) {
	attrs := metric.WithAttributes(attribute.String("command", kind))
	m.started.Add(ctx, 1, attrs)
	m.inFlight.Add(ctx, 1, attrs)
}

func (m *jobMetrics) jobFinished(ctx context.Context, kind, outcome string, elapsed time.Duration) {
	m.inFlight.Add(ctx, -1, metric.WithAttributes(attribute.String("command", kind)))
	attrs := metric.WithAttributes(
		attribute.String("command", kind),
		attribute.String("outcome", outcome),
	)
	m.finished.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}
