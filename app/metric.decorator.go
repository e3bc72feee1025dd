package app

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type usecaseInstruments struct {
	counter  metric.Int64Counter
	duration metric.Float64Histogram
}

func newUsecaseInstruments(meterProvider metric.MeterProvider) usecaseInstruments {
	meter := meterProvider.Meter(instrumentationName)

	counter, _ := meter.Int64Counter("usecases", metric.WithDescription("number of executed use cases"))
	duration, _ := meter.Float64Histogram("usecases_duration_seconds",
		metric.WithDescription("duration of use cases, including the save of their unit of work"),
		metric.WithUnit("s"),
	)

	return usecaseInstruments{counter: counter, duration: duration}
}

func (i usecaseInstruments) measure(ctx context.Context, name string, handle func() error) error {
	start := time.Now()

	err := handle()

	status := "success"
	if err != nil {
		status = "failure"
	}

	opt := metric.WithAttributes(
		attribute.String("command", name),
		attribute.String("status", status),
	)

	i.counter.Add(ctx, 1, opt)
	i.duration.Record(ctx, time.Since(start).Seconds(), opt)

	return err
}

func NewMeteredRequest[Req any, Res any](meterProvider metric.MeterProvider, req Request[Req, Res]) Request[Req, Res] {
	return &requestMeteringDecorator[Req, Res]{
		instruments: newUsecaseInstruments(meterProvider),
		base:        req,
	}
}

type requestMeteringDecorator[Req any, Res any] struct {
	instruments usecaseInstruments
	base        Request[Req, Res]
}

func (d *requestMeteringDecorator[Req, Res]) H(ctx context.Context, req Req) (Res, error) { //nolint:ireturn,lll // valid use of generics
	var res Res

	err := d.instruments.measure(ctx, commandName(req), func() error {
		var err error
		res, err = d.base.H(ctx, req)

		return err
	})

	return res, err
}

func NewMeteredCommand[C any](meterProvider metric.MeterProvider, cmd Command[C]) Command[C] {
	return &commandMeteringDecorator[C]{
		instruments: newUsecaseInstruments(meterProvider),
		base:        cmd,
	}
}

type commandMeteringDecorator[C any] struct {
	instruments usecaseInstruments
	base        Command[C]
}

func (d *commandMeteringDecorator[C]) H(ctx context.Context, cmd C) error {
	return d.instruments.measure(ctx, commandName(cmd), func() error {
		return d.base.H(ctx, cmd)
	})
}
