package app

import (
	"context"

	"github.com/go-playground/validator/v10"
)

const ctxValidated ctxKey = "uow.validated"

// PassedValidation reports if the use case was called through a validating decorator.
func PassedValidation(ctx context.Context) bool {
	v, ok := ctx.Value(ctxValidated).(bool)

	return ok && v
}

// NewValidatedRequest validates req with the struct tags of go-playground/validator
// before it is handled. Invalid requests never open a unit of work.
func NewValidatedRequest[Req any, Res any](validate *validator.Validate, req Request[Req, Res]) Request[Req, Res] {
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}

	return &requestValidatingDecorator[Req, Res]{
		validate: validate,
		base:     req,
	}
}

type requestValidatingDecorator[Req any, Res any] struct {
	validate *validator.Validate
	base     Request[Req, Res]
}

func (d *requestValidatingDecorator[Req, Res]) H(ctx context.Context, req Req) (Res, error) { //nolint:ireturn,lll // valid use of generics
	if err := d.validate.StructCtx(ctx, req); err != nil {
		return *new(Res), err //nolint:wrapcheck // validation error is returned on purpose
	}

	return d.base.H(context.WithValue(ctx, ctxValidated, true), req)
}

func NewValidatedCommand[C any](validate *validator.Validate, cmd Command[C]) Command[C] {
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}

	return &commandValidatingDecorator[C]{
		validate: validate,
		base:     cmd,
	}
}

type commandValidatingDecorator[C any] struct {
	validate *validator.Validate
	base     Command[C]
}

func (d *commandValidatingDecorator[C]) H(ctx context.Context, cmd C) error {
	if err := d.validate.StructCtx(ctx, cmd); err != nil {
		return err //nolint:wrapcheck // validation error is returned on purpose
	}

	return d.base.H(context.WithValue(ctx, ctxValidated, true), cmd)
}
