package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-arrower/uow"
)

type ctxKey string

const ctxUnitOfWork ctxKey = "uow.unitofwork"

// UnitOfWork returns the unit of work a use case runs in.
// It is present for all use cases decorated with NewUnitOfWorkRequest,
// NewUnitOfWorkCommand or NewReadOnlyQuery.
func UnitOfWork(ctx context.Context) (*uow.UnitOfWork, bool) {
	u, ok := ctx.Value(ctxUnitOfWork).(*uow.UnitOfWork)

	return u, ok && u != nil
}

// WithUnitOfWork returns a copy of ctx carrying u, as the decorators of this package do.
// Use it to call undecorated use cases in tests.
func WithUnitOfWork(ctx context.Context, u *uow.UnitOfWork) context.Context {
	return context.WithValue(ctx, ctxUnitOfWork, u)
}

// Option configures the unit of work a use case runs in.
type Option func(*settings)

type settings struct {
	opts  []uow.Option
	setup []func(u *uow.UnitOfWork) error
}

func newSettings(opts []Option) settings {
	s := settings{}

	for _, opt := range opts {
		opt(&s)
	}

	return s
}

// WithUnitOfWorkOptions passes opts to uow.Open.
func WithUnitOfWorkOptions(opts ...uow.Option) Option {
	return func(s *settings) {
		s.opts = append(s.opts, opts...)
	}
}

// WithSetup runs setup on every new unit of work before the use case is called,
// e.g. to Register the repositories the use case Gets. Setups run in the given order.
func WithSetup(setup func(u *uow.UnitOfWork) error) Option {
	return func(s *settings) {
		if setup != nil {
			s.setup = append(s.setup, setup)
		}
	}
}

// NewUnitOfWorkRequest runs req inside a new unit of work.
// If req succeeds all pending changes are saved, otherwise they are discarded.
// The unit of work is disposed in any case.
func NewUnitOfWorkRequest[Req any, Res any](
	opener uow.SessionOpener,
	req Request[Req, Res],
	opts ...Option,
) Request[Req, Res] {
	return &requestUnitOfWorkDecorator[Req, Res]{
		opener: opener,
		conf:   newSettings(opts),
		base:   req,
	}
}

type requestUnitOfWorkDecorator[Req any, Res any] struct {
	opener uow.SessionOpener
	conf   settings
	base   Request[Req, Res]
}

func (d *requestUnitOfWorkDecorator[Req, Res]) H(ctx context.Context, req Req) (Res, error) { //nolint:ireturn,lll // valid use of generics
	var result Res

	err := runInUnitOfWork(ctx, d.opener, d.conf, true, func(ctx context.Context) error {
		var err error
		result, err = d.base.H(ctx, req)

		return err
	})

	return result, err
}

// NewUnitOfWorkCommand runs cmd inside a new unit of work, see NewUnitOfWorkRequest.
func NewUnitOfWorkCommand[C any](opener uow.SessionOpener, cmd Command[C], opts ...Option) Command[C] {
	return &commandUnitOfWorkDecorator[C]{
		opener: opener,
		conf:   newSettings(opts),
		base:   cmd,
	}
}

type commandUnitOfWorkDecorator[C any] struct {
	opener uow.SessionOpener
	conf   settings
	base   Command[C]
}

func (d *commandUnitOfWorkDecorator[C]) H(ctx context.Context, cmd C) error {
	return runInUnitOfWork(ctx, d.opener, d.conf, true, func(ctx context.Context) error {
		return d.base.H(ctx, cmd)
	})
}

// NewReadOnlyQuery runs query inside a new unit of work that is never saved.
// Changes a query registers on the unit of work are discarded.
func NewReadOnlyQuery[Q any, Res any](opener uow.SessionOpener, query Query[Q, Res], opts ...Option) Query[Q, Res] {
	return &queryUnitOfWorkDecorator[Q, Res]{
		opener: opener,
		conf:   newSettings(opts),
		base:   query,
	}
}

type queryUnitOfWorkDecorator[Q any, Res any] struct {
	opener uow.SessionOpener
	conf   settings
	base   Query[Q, Res]
}

func (d *queryUnitOfWorkDecorator[Q, Res]) H(ctx context.Context, query Q) (Res, error) { //nolint:ireturn,lll // valid use of generics
	var result Res

	err := runInUnitOfWork(ctx, d.opener, d.conf, false, func(ctx context.Context) error {
		var err error
		result, err = d.base.H(ctx, query)

		return err
	})

	return result, err
}

func runInUnitOfWork(
	ctx context.Context,
	opener uow.SessionOpener,
	conf settings,
	save bool,
	handle func(ctx context.Context) error,
) (err error) {
	u, err := uow.Open(ctx, opener, conf.opts...)
	if err != nil {
		return fmt.Errorf("could not start unit of work: %w", err)
	}

	defer func() {
		if dErr := u.Dispose(ctx); dErr != nil {
			err = errors.Join(err, dErr)
		}
	}()

	for _, setup := range conf.setup {
		if err := setup(u); err != nil {
			return fmt.Errorf("could not set up unit of work: %w", err)
		}
	}

	if err := handle(WithUnitOfWork(ctx, u)); err != nil {
		return err
	}

	if !save {
		return nil
	}

	if _, err := u.Save(ctx); err != nil {
		return fmt.Errorf("could not save unit of work: %w", err)
	}

	return nil
}
