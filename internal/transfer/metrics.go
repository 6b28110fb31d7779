package transfer

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	jobDuration metric.Float64Histogram
	jobTotal    metric.Int64Counter
	inFlight    metric.Int64UpDownCounter
}

// newMetrics registers the job instruments. Instruments that fail to register
// are left nil and skipped.
func newMetrics(meter metric.Meter, logger zerolog.Logger) *metrics {
	m := &metrics{}
	var err error

	m.jobDuration, err = meter.Float64Histogram(
		"transfer.job.duration",
		metric.WithDescription("Duration of export transfer jobs in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to create transfer duration histogram")
	}

	m.jobTotal, err = meter.Int64Counter(
		"transfer.job.total",
		metric.WithDescription("Total number of export transfer jobs by outcome"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to create transfer counter")
	}

	m.inFlight, err = meter.Int64UpDownCounter(
		"transfer.job.in_flight",
		metric.WithDescription("Number of export transfer jobs awaiting a response"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to create in-flight counter")
	}

	return m
}

func (m *metrics) started(slot Slot) {
	if m.inFlight != nil {
		m.inFlight.Add(context.Background(), 1, metric.WithAttributes(attribute.String("transfer.slot", string(slot))))
	}
}

func (m *metrics) finished(slot Slot, outcome string, d time.Duration) {
	ctx := context.Background()
	slotAttr := attribute.String("transfer.slot", string(slot))
	if m.inFlight != nil {
		m.inFlight.Add(ctx, -1, metric.WithAttributes(slotAttr))
	}
	attrs := metric.WithAttributes(slotAttr, attribute.String("transfer.outcome", outcome))
	if m.jobDuration != nil {
		m.jobDuration.Record(ctx, d.Seconds(), attrs)
	}
	if m.jobTotal != nil {
		m.jobTotal.Add(ctx, 1, attrs)
	}
}
