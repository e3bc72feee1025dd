package app

import (
	"context"
	"log/slog"

	"github.com/go-arrower/uow/alog"
)

func NewLoggedRequest[Req any, Res any](logger alog.Logger, req Request[Req, Res]) Request[Req, Res] {
	return &requestLoggingDecorator[Req, Res]{
		logger: logger,
		base:   req,
	}
}

type requestLoggingDecorator[Req any, Res any] struct {
	logger alog.Logger
	base   Request[Req, Res]
}

func (d *requestLoggingDecorator[Req, Res]) H(ctx context.Context, req Req) (Res, error) { //nolint:ireturn,lll // valid use of generics
	var res Res

	err := logged(ctx, d.logger, "request", commandName(req), func() error {
		var err error
		res, err = d.base.H(ctx, req)

		return err
	})

	return res, err
}

func NewLoggedCommand[C any](logger alog.Logger, cmd Command[C]) Command[C] {
	return &commandLoggingDecorator[C]{
		logger: logger,
		base:   cmd,
	}
}

type commandLoggingDecorator[C any] struct {
	logger alog.Logger
	base   Command[C]
}

func (d *commandLoggingDecorator[C]) H(ctx context.Context, cmd C) error {
	return logged(ctx, d.logger, "command", commandName(cmd), func() error {
		return d.base.H(ctx, cmd)
	})
}

func logged(ctx context.Context, logger alog.Logger, kind string, name string, handle func() error) error {
	logger.DebugContext(ctx, "executing "+kind, slog.String("command", name))

	err := handle()
	if err != nil {
		logger.DebugContext(ctx, "failed to execute "+kind,
			slog.String("command", name),
			alog.Error(err),
		)

		return err
	}

	logger.DebugContext(ctx, kind+" executed successfully", slog.String("command", name))

	return nil
}
