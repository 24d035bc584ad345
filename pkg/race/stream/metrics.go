package stream

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mpapenbr/lapsim-service-go/log"
)

type metrics struct {
	started metric.Int64Counter
	ended   metric.Int64Counter
	laps    metric.Int64Counter
	active  metric.Int64UpDownCounter
}

// newMetrics registers the race instruments. Instruments that fail to
// register are skipped.
func newMetrics(l *log.Logger) *metrics {
	meter := otel.GetMeterProvider().Meter("lapsim.stream")
	report := func(name string, err error) {
		if err != nil {
			l.Error("failed to register metric",
				log.String("metric", name), log.ErrorField(err))
		}
	}
	ret := &metrics{}
	var err error
	ret.started, err = meter.Int64Counter("lapsim.races.started",
		metric.WithDescription("Number of started races"),
		metric.WithUnit("{race}"))
	report("lapsim.races.started", err)
	ret.ended, err = meter.Int64Counter("lapsim.races.ended",
		metric.WithDescription("Number of ended races by outcome"),
		metric.WithUnit("{race}"))
	report("lapsim.races.ended", err)
	ret.laps, err = meter.Int64Counter("lapsim.laps.sent",
		metric.WithDescription("Number of lap messages delivered"),
		metric.WithUnit("{lap}"))
	report("lapsim.laps.sent", err)
	ret.active, err = meter.Int64UpDownCounter("lapsim.races.active",
		metric.WithDescription("Number of races currently running"),
		metric.WithUnit("{race}"))
	report("lapsim.races.active", err)
	return ret
}

func (m *metrics) raceStarted(ctx context.Context) {
	if m.started != nil {
		m.started.Add(ctx, 1)
	}
	if m.active != nil {
		m.active.Add(ctx, 1)
	}
}

func (m *metrics) raceEnded(ctx context.Context, outcome string) {
	// ctx may already be cancelled, the measurement is recorded anyway
	ctx = context.WithoutCancel(ctx)
	if m.ended != nil {
		m.ended.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	if m.active != nil {
		m.active.Add(ctx, -1)
	}
}

func (m *metrics) lapSent(ctx context.Context) {
	if m.laps != nil {
		m.laps.Add(ctx, 1)
	}
}
