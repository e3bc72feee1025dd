package app

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/go-arrower/uow/app"

func NewTracedRequest[Req any, Res any](traceProvider trace.TracerProvider, req Request[Req, Res]) Request[Req, Res] {
	return &requestTracingDecorator[Req, Res]{
		tracer: traceProvider.Tracer(instrumentationName),
		base:   req,
	}
}

type requestTracingDecorator[Req any, Res any] struct {
	tracer trace.Tracer
	base   Request[Req, Res]
}

func (d *requestTracingDecorator[Req, Res]) H(ctx context.Context, req Req) (Res, error) { //nolint:ireturn,lll // valid use of generics
	var res Res

	err := traced(ctx, d.tracer, commandName(req), func(ctx context.Context) error {
		var err error
		res, err = d.base.H(ctx, req)

		return err
	})

	return res, err
}

func NewTracedCommand[C any](traceProvider trace.TracerProvider, cmd Command[C]) Command[C] {
	return &commandTracingDecorator[C]{
		tracer: traceProvider.Tracer(instrumentationName),
		base:   cmd,
	}
}

type commandTracingDecorator[C any] struct {
	tracer trace.Tracer
	base   Command[C]
}

func (d *commandTracingDecorator[C]) H(ctx context.Context, cmd C) error {
	return traced(ctx, d.tracer, commandName(cmd), func(ctx context.Context) error {
		return d.base.H(ctx, cmd)
	})
}

func traced(ctx context.Context, tracer trace.Tracer, name string, handle func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "usecase",
		trace.WithAttributes(attribute.String("command", name)),
	)
	defer span.End()

	err := handle(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	return err
}
