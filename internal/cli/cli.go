// Package cli contains the commands of uowctl, the operations tool of the PostgreSQL engine.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/go-arrower/uow/alog"
	"github.com/go-arrower/uow/config"
	"github.com/go-arrower/uow/postgres"
)

const name = "uowctl"

var ErrCommandFailed = errors.New("command failed")

// app is the state shared by all commands, set up before a command runs.
type app struct {
	configFile string
	logLevel   string

	conf           *config.Config
	logger         *slog.Logger
	tracerProvider trace.TracerProvider
	shutdown       []func(context.Context) error
}

// NewCLI returns the root command of uowctl with all sub commands.
func NewCLI() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   name,
		Short: "uowctl manages the database of the unit of work PostgreSQL engine",
		Long: `uowctl migrates the schema of the PostgreSQL engine and checks the connection to it.
The configuration is read from --config and UOW_ prefixed environment variables, e.g. UOW_POSTGRES_HOST.`,
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "configuration file, e.g. uow.yaml")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "overwrites log.level of the configuration")

	rootCmd.AddCommand(newMigrateCmd(a))
	rootCmd.AddCommand(newCheckCmd(a))
	rootCmd.AddCommand(Version(name))

	return rootCmd
}

// Execute runs uowctl and exits with 1 on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := NewCLI().ExecuteContext(ctx)

	stop()

	if err != nil {
		os.Exit(1)
	}
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	switch cmd.CommandPath() {
	case name + " version", name + " help":
		return nil
	}

	conf, err := config.Load(a.configFile)
	if err != nil {
		return err //nolint:wrapcheck // config errors are descriptive
	}

	if a.logLevel != "" {
		conf.Log.Level = a.logLevel
		if err := config.Validate(conf); err != nil {
			return err //nolint:wrapcheck // config errors are descriptive
		}
	}

	a.conf = conf
	a.logger = newLogger(cmd, conf)

	a.tracerProvider, err = a.newTracerProvider(cmd.Context())
	if err != nil {
		return err
	}

	a.logger.DebugContext(cmd.Context(), "configuration loaded",
		slog.String("environment", string(conf.Environment)),
		slog.String("file", a.configFile),
	)

	return nil
}

// run returns fn as a cobra RunE, releasing everything set up for the command once fn returns.
func (a *app) run(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			err = errors.Join(err, a.teardown(cmd.Context()))
		}()

		return fn(cmd, args)
	}
}

func (a *app) teardown(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for i := len(a.shutdown) - 1; i >= 0; i-- {
		errs = append(errs, a.shutdown[i](ctx))
	}

	a.shutdown = nil

	return errors.Join(errs...)
}

func newLogger(cmd *cobra.Command, conf *config.Config) *slog.Logger {
	opts := []alog.LoggerOpt{
		alog.WithLevel(conf.LogLevel()),
		alog.WithHandler(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
			Level:       alog.LevelDebug, // the level is controlled by alog
			ReplaceAttr: alog.MapLogLevelsToName,
		})),
	}

	if conf.Log.Loki.Enabled {
		opts = append(opts, alog.WithHandler(alog.NewLokiHandler(cmd.Context(), &alog.LokiHandlerOptions{
			PushURL: conf.Log.Loki.PushURL,
			Labels:  map[string]string{"service": name, "environment": string(conf.Environment)},
		})))
	}

	return alog.New(opts...).With(slog.String("service", name))
}

func (a *app) newTracerProvider(ctx context.Context) (trace.TracerProvider, error) { //nolint:ireturn // noop or sdk
	if !a.conf.OTEL.Enabled {
		return noop.NewTracerProvider(), nil
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(fmt.Sprintf("%s:%d", a.conf.OTEL.Host, a.conf.OTEL.Port)),
		otlptracegrpc.WithInsecure(),
	}

	if a.conf.Environment == config.TestEnv {
		// no collector is running while testing, the shutdown would block until its ctx expires
		opts = append(opts, otlptracegrpc.WithTimeout(10*time.Millisecond)) //nolint:mnd
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: could not create trace exporter: %v", ErrCommandFailed, err) //nolint:errorlint,lll // prevent err in api
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(name),
			attribute.String("environment", string(a.conf.Environment)),
		)),
	)

	a.shutdown = append(a.shutdown, tp.Shutdown)

	return tp, nil
}

// connect connects to the configured database. If wait is positive, failed attempts are
// retried with an exponential backoff until wait is over.
func (a *app) connect(ctx context.Context, wait time.Duration) (*postgres.Handler, error) {
	conf := a.conf.Postgres.Config()

	var handler *postgres.Handler

	operation := func() error {
		h, err := postgres.Connect(ctx, conf, a.tracerProvider)
		if err != nil {
			return err //nolint:wrapcheck // returned below
		}

		handler = h

		return nil
	}

	if wait <= 0 {
		if err := operation(); err != nil {
			return nil, err
		}
	} else {
		policy := backoff.NewExponentialBackOff()
		policy.MaxElapsedTime = wait

		notify := func(err error, next time.Duration) {
			a.logger.InfoContext(ctx, "database not ready", alog.Error(err), slog.Duration("retry_in", next))
		}

		if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
			return nil, err //nolint:wrapcheck // postgres errors are descriptive
		}
	}

	a.shutdown = append(a.shutdown, handler.Shutdown)

	a.logger.DebugContext(ctx, "connected to database",
		slog.String("host", conf.Host),
		slog.Int("port", conf.Port),
		slog.String("database", conf.Database),
	)

	return handler, nil
}
