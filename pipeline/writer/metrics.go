package writer

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/papercomputeco/semlog/pipeline/writer"

type metrics struct {
	frames        metric.Int64Counter
	documents     metric.Int64Counter
	retries       metric.Int64Counter
	failures      metric.Int64Counter
	backpressure  metric.Int64Counter
	flushDuration metric.Float64Histogram
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	var (
		m   metrics
		err error
	)

	m.frames, err = meter.Int64Counter("semlog.writer.frames",
		metric.WithDescription("Raw frames committed to a sink"),
		metric.WithUnit("{frame}"),
	)
	if err != nil {
		return nil, err
	}

	m.documents, err = meter.Int64Counter("semlog.writer.documents",
		metric.WithDescription("Episode documents committed to a sink"),
		metric.WithUnit("{document}"),
	)
	if err != nil {
		return nil, err
	}

	m.retries, err = meter.Int64Counter("semlog.writer.retries",
		metric.WithDescription("Sink writes retried after a transient failure"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	m.failures, err = meter.Int64Counter("semlog.writer.failures",
		metric.WithDescription("Sink writes that failed terminally"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		return nil, err
	}

	m.backpressure, err = meter.Int64Counter("semlog.writer.backpressure_timeouts",
		metric.WithDescription("Writes dropped because a sink queue stayed full"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		return nil, err
	}

	m.flushDuration, err = meter.Float64Histogram("semlog.writer.flush.duration",
		metric.WithDescription("Duration of one sink write including retries"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, err
	}

	return &m, nil
}
