package uow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/go-arrower/uow/alog"
)

const instrumentationName = "github.com/go-arrower/uow"

// Option configures a UnitOfWork.
type Option func(*config)

type config struct {
	logger         *slog.Logger
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// WithLogger sets the logger. The default is alog.NewNoop.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) {
		if tp != nil {
			c.tracerProvider = tp
		}
	}
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *config) {
		if mp != nil {
			c.meterProvider = mp
		}
	}
}

// UnitOfWork owns one Session and the repositories working on it.
//
// The registry of repositories is safe for concurrent use, the Session is not:
// use a UnitOfWork from one logical flow of control.
type UnitOfWork struct {
	id      uuid.UUID
	session Session
	guarded *guardedSession

	logger alog.Logger
	tracer trace.Tracer

	saves        metric.Int64Counter
	savedRecords metric.Int64Counter
	saveDuration metric.Float64Histogram

	mu           sync.Mutex
	constructors map[string]registration
	repositories map[string]any
	disposed     atomic.Bool
}

// New returns a UnitOfWork working on session.
// The UnitOfWork takes ownership of session and disposes it with Dispose.
func New(session Session, opts ...Option) *UnitOfWork {
	if session == nil {
		panic("uow: session is nil")
	}

	conf := &config{
		logger:         alog.NewNoop(),
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
	}

	for _, opt := range opts {
		opt(conf)
	}

	id := uuid.New()
	meter := conf.meterProvider.Meter(instrumentationName)

	// the instruments of the noop and sdk meters do not fail on valid names.
	saves, _ := meter.Int64Counter("uow.saves",
		metric.WithDescription("number of saves of units of work"))
	savedRecords, _ := meter.Int64Counter("uow.saved_records",
		metric.WithDescription("number of records affected by successful saves"))
	saveDuration, _ := meter.Float64Histogram("uow.save_duration_seconds",
		metric.WithDescription("duration of saves"), metric.WithUnit("s"))

	u := &UnitOfWork{
		id:           id,
		session:      session,
		logger:       conf.logger.With(slog.String("uow", id.String())),
		tracer:       conf.tracerProvider.Tracer(instrumentationName),
		saves:        saves,
		savedRecords: savedRecords,
		saveDuration: saveDuration,
		constructors: map[string]registration{},
		repositories: map[string]any{},
	}
	u.guarded = &guardedSession{owner: u, session: session}

	return u
}

// Open returns a UnitOfWork working on a new Session created by opener.
func Open(ctx context.Context, opener SessionOpener, opts ...Option) (*UnitOfWork, error) {
	if opener == nil {
		return nil, fmt.Errorf("%w: session opener is nil", ErrConstruction)
	}

	session, err := opener(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not open session: %w", err)
	}

	if session == nil {
		return nil, fmt.Errorf("%w: session opener returned no session", ErrConstruction)
	}

	u := New(session, opts...)
	u.logger.Log(ctx, alog.LevelDebug, "opened unit of work")

	return u, nil
}

// ID identifies the unit of work in logs and traces.
func (u *UnitOfWork) ID() uuid.UUID {
	return u.id
}

func (u *UnitOfWork) Disposed() bool {
	return u.disposed.Load()
}

// Session returns the Session of the unit of work, as it is given to the repositories.
func (u *UnitOfWork) Session() Session { //nolint:ireturn // the guarded session is internal
	return u.guarded
}

// Save commits all pending changes of all repositories and returns the number of affected records.
func (u *UnitOfWork) Save(ctx context.Context) (int, error) {
	if u.disposed.Load() {
		return 0, ErrUseAfterDispose
	}

	start := time.Now()

	ctx, span := u.tracer.Start(ctx, "uow.save",
		trace.WithAttributes(
			attribute.String("uow.id", u.id.String()),
			attribute.Int("uow.pending", u.session.Pending()),
		),
	)
	defer span.End()

	u.logger.Log(ctx, alog.LevelDebug, "saving unit of work", slog.Int("pending", u.session.Pending()))

	count, err := u.session.Commit(ctx)

	opt := metric.WithAttributes(attribute.Bool("success", err == nil))
	u.saves.Add(ctx, 1, opt)
	u.saveDuration.Record(ctx, time.Since(start).Seconds(), opt)

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		u.logger.Log(ctx, alog.LevelInfo, "could not save unit of work", alog.Error(err))

		return count, err //nolint:wrapcheck // session errors are returned unchanged
	}

	u.savedRecords.Add(ctx, int64(count))
	span.SetAttributes(attribute.Int("uow.saved_records", count))
	u.logger.Log(ctx, alog.LevelInfo, "saved unit of work", slog.Int("records", count))

	return count, nil
}

// Dispose disposes the Session and forgets all repositories.
// Calling it again does nothing.
func (u *UnitOfWork) Dispose(ctx context.Context) error {
	if !u.disposed.CompareAndSwap(false, true) {
		return nil
	}

	u.mu.Lock()
	repos := len(u.repositories)
	clear(u.constructors)
	clear(u.repositories)
	u.mu.Unlock()

	u.logger.Log(ctx, alog.LevelDebug, "disposing unit of work", slog.Int("repositories", repos))

	if err := u.session.Dispose(ctx); err != nil {
		u.logger.Log(ctx, alog.LevelInfo, "could not dispose session", alog.Error(err))

		return fmt.Errorf("could not dispose session: %w", err)
	}

	return nil
}
