// Package app provides decorators for the use cases of an application layer
// working with a unit of work.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-arrower/uow"
	"github.com/go-arrower/uow/alog"
)

// Request can produce side effects and return data.
type Request[Req any, Res any] interface {
	H(ctx context.Context, req Req) (Res, error)
}

// Command produces side effects, e.g. mutate state.
type Command[C any] interface {
	H(ctx context.Context, cmd C) error
}

// Query does not produce side effects and returns data.
type Query[Q any, Res any] interface {
	H(ctx context.Context, query Q) (Res, error)
}

// NewInstrumentedRequest is a convenience helper for easy dependency setup.
// The order of dependencies represents the order of calling:
// the request is traced, metered and logged before it runs inside a unit of work configured with opts.
func NewInstrumentedRequest[Req any, Res any](
	traceProvider trace.TracerProvider,
	meterProvider metric.MeterProvider,
	logger alog.Logger,
	opener uow.SessionOpener,
	req Request[Req, Res],
	opts ...Option,
) Request[Req, Res] {
	opts = append([]Option{unitOfWorkInstrumentation(traceProvider, meterProvider, logger)}, opts...)

	return NewTracedRequest(traceProvider,
		NewMeteredRequest(meterProvider,
			NewLoggedRequest(logger,
				NewUnitOfWorkRequest(opener, req, opts...),
			),
		),
	)
}

// NewInstrumentedCommand is a convenience helper for easy dependency setup.
// The order of dependencies represents the order of calling.
func NewInstrumentedCommand[C any](
	traceProvider trace.TracerProvider,
	meterProvider metric.MeterProvider,
	logger alog.Logger,
	opener uow.SessionOpener,
	cmd Command[C],
	opts ...Option,
) Command[C] {
	opts = append([]Option{unitOfWorkInstrumentation(traceProvider, meterProvider, logger)}, opts...)

	return NewTracedCommand(traceProvider,
		NewMeteredCommand(meterProvider,
			NewLoggedCommand(logger,
				NewUnitOfWorkCommand(opener, cmd, opts...),
			),
		),
	)
}

// unitOfWorkInstrumentation passes the providers and the logger on to the unit of work.
// Loggers without a slog handler are not passed on.
func unitOfWorkInstrumentation(
	traceProvider trace.TracerProvider,
	meterProvider metric.MeterProvider,
	logger alog.Logger,
) Option {
	opts := []uow.Option{uow.WithTracerProvider(traceProvider), uow.WithMeterProvider(meterProvider)}

	if l, ok := logger.(interface{ Handler() slog.Handler }); ok {
		opts = append(opts, uow.WithLogger(slog.New(l.Handler())))
	}

	return WithUnitOfWorkOptions(opts...)
}

// commandName returns a printable name of cmd in the format packageName.structName.
// Pointers are named like the struct they point to.
func commandName(cmd any) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", cmd), "*")
}
