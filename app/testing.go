package app

import (
	"context"
	"errors"
)

//
// This file contains convenience helpers you can use to easier test
// your calling code relying on this use case pattern.
//

var ErrUseCaseFailed = errors.New("usecase failed")

// TestRequestHandler turns fn into a Request, e.g. to run assertions inside of decorators.
func TestRequestHandler[Req any, Res any](fn func(ctx context.Context, req Req) (Res, error)) Request[Req, Res] {
	return requestFunc[Req, Res](fn)
}

type requestFunc[Req any, Res any] func(ctx context.Context, req Req) (Res, error)

func (f requestFunc[Req, Res]) H(ctx context.Context, req Req) (Res, error) { //nolint:ireturn // valid use of generics
	return f(ctx, req)
}

// TestCommandHandler turns fn into a Command.
func TestCommandHandler[C any](fn func(ctx context.Context, cmd C) error) Command[C] {
	return commandFunc[C](fn)
}

type commandFunc[C any] func(ctx context.Context, cmd C) error

func (f commandFunc[C]) H(ctx context.Context, cmd C) error {
	return f(ctx, cmd)
}

func TestSuccessCommandHandler[C any]() Command[C] {
	return TestCommandHandler(func(context.Context, C) error { return nil })
}

func TestFailureCommandHandler[C any]() Command[C] {
	return TestCommandHandler(func(context.Context, C) error { return ErrUseCaseFailed })
}
