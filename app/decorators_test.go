package app_test

import (
	"context"
	"testing"

	"github.com/go-playground/validator/v10"
	prometheusSDK "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/go-arrower/uow"
	"github.com/go-arrower/uow/alog"
	"github.com/go-arrower/uow/app"
	"github.com/go-arrower/uow/memory"
)

func TestLoggedCommand_H(t *testing.T) {
	t.Parallel()

	t.Run("successful command", func(t *testing.T) {
		t.Parallel()

		logger := alog.Test(t)
		handler := app.NewLoggedCommand(logger, app.TestSuccessCommandHandler[placeOrder]())

		err := handler.H(ctx, placeOrder{ID: 1})
		assert.NoError(t, err)

		logger.Contains(`msg="executing command"`)
		logger.Contains(`command=app_test.placeOrder`)
		logger.Contains(`msg="command executed successfully"`)
	})

	t.Run("failed command", func(t *testing.T) {
		t.Parallel()

		logger := alog.Test(t)
		handler := app.NewLoggedCommand(logger, app.TestFailureCommandHandler[*placeOrder]())

		err := handler.H(ctx, &placeOrder{ID: 1})
		assert.ErrorIs(t, err, app.ErrUseCaseFailed)

		logger.Contains(`command=app_test.placeOrder`)
		logger.Contains(`msg="failed to execute command"`)
		logger.Contains(`err="usecase failed"`)
	})
}

func TestLoggedRequest_H(t *testing.T) {
	t.Parallel()

	logger := alog.Test(t)
	handler := app.NewLoggedRequest(logger, app.TestRequestHandler(func(context.Context, placeOrder) (int, error) {
		return 1, nil
	}))

	res, err := handler.H(ctx, placeOrder{ID: 1})
	assert.NoError(t, err)
	assert.Equal(t, 1, res)

	logger.Contains(`msg="executing request"`)
	logger.Contains(`msg="request executed successfully"`)
}

func TestTracedCommand_H(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	require.NoError(t, app.NewTracedCommand(tp, app.TestSuccessCommandHandler[placeOrder]()).H(ctx, placeOrder{}))
	require.Error(t, app.NewTracedCommand(tp, app.TestFailureCommandHandler[placeOrder]()).H(ctx, placeOrder{}))

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "usecase", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, app.ErrUseCaseFailed.Error(), spans[1].Status().Description)
}

func TestMeteredCommand_H(t *testing.T) {
	t.Parallel()

	registry := prometheusSDK.NewRegistry()
	exporter, _ := prometheus.New(prometheus.WithRegisterer(registry))
	meterProvider := metric.NewMeterProvider(metric.WithReader(exporter))

	_ = app.NewMeteredCommand(meterProvider, app.TestSuccessCommandHandler[placeOrder]()).H(ctx, placeOrder{})
	_ = app.NewMeteredCommand(meterProvider, app.TestFailureCommandHandler[placeOrder]()).H(ctx, placeOrder{})

	// one series per status
	count, err := testutil.GatherAndCount(registry, "usecases_total")
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestValidatedCommand_H(t *testing.T) {
	t.Parallel()

	t.Run("valid command", func(t *testing.T) {
		t.Parallel()

		passed := false
		handler := app.NewValidatedCommand(nil, app.TestCommandHandler(func(ctx context.Context, _ placeOrder) error {
			passed = app.PassedValidation(ctx)

			return nil
		}))

		err := handler.H(ctx, placeOrder{ID: 1, Email: "jane@example.com"})
		assert.NoError(t, err)
		assert.True(t, passed)
	})

	t.Run("invalid command", func(t *testing.T) {
		t.Parallel()

		called := false
		handler := app.NewValidatedCommand(validator.New(), app.TestCommandHandler(func(context.Context, placeOrder) error {
			called = true

			return nil
		}))

		err := handler.H(ctx, placeOrder{Email: "no-mail"})

		var vErr validator.ValidationErrors
		assert.ErrorAs(t, err, &vErr)
		assert.Len(t, vErr, 2)
		assert.False(t, called)
	})

	t.Run("not validated", func(t *testing.T) {
		t.Parallel()

		assert.False(t, app.PassedValidation(ctx))
	})
}

func TestNewInstrumentedCommand(t *testing.T) {
	t.Parallel()

	db := memory.NewDatabase()
	logger := alog.Test(t)

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	registry := prometheusSDK.NewRegistry()
	exporter, _ := prometheus.New(prometheus.WithRegisterer(registry))
	mp := metric.NewMeterProvider(metric.WithReader(exporter))

	handler := app.NewInstrumentedCommand(tp, mp, logger, db.Open,
		app.TestCommandHandler(func(ctx context.Context, cmd placeOrder) error {
			u, _ := app.UnitOfWork(ctx)

			repo, err := uow.Get(ctx, u, ordersKey)
			if err != nil {
				return err
			}

			return repo.Insert(ctx, order{ID: cmd.ID})
		}),
		app.WithSetup(registerOrders),
	)

	err := handler.H(ctx, placeOrder{ID: 1})
	assert.NoError(t, err)
	assert.Equal(t, 1, countOrders(t, db))

	logger.Contains(`msg="command executed successfully"`)
	logger.Contains(`msg="saved unit of work"`, "the unit of work logs with the same logger")
	logger.Contains("records=1")

	names := []string{}
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}

	assert.Contains(t, names, "usecase")
	assert.Contains(t, names, "uow.save")

	count, err := testutil.GatherAndCount(registry, "uow_saves_total")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}
