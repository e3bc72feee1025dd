//go:build integration

package postgres_test

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/ory/dockertest/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/go-arrower/uow"
	"github.com/go-arrower/uow/postgres"
	"github.com/go-arrower/uow/q"
	"github.com/go-arrower/uow/tests"
	"github.com/go-arrower/uow/tests/testdata"
)

var pgDocker *tests.PostgresDocker

func TestMain(m *testing.M) {
	pgDocker = tests.GetPostgresDockerForIntegrationTestingInstance()

	code := m.Run()

	pgDocker.Cleanup()
	os.Exit(code)
}

var runOptions = &dockertest.RunOptions{
	Repository: "postgres",
	Tag:        "16",
	Env: []string{
		"POSTGRES_PASSWORD=secret",
		"POSTGRES_USER=uow",
		"POSTGRES_DB=dbname_test",
		"listen_addresses = '*'",
	},
}

func TestConnect(t *testing.T) {
	t.Parallel()

	var pgHandler *postgres.Handler

	cleanup, err := tests.StartDockerContainer(runOptions, func(resource *dockertest.Resource) func() error {
		port, _ := strconv.Atoi(resource.GetPort("5432/tcp"))

		return func() error {
			handler, err := postgres.Connect(context.Background(), postgres.Config{
				Host:     "localhost",
				Port:     port,
				User:     "uow",
				Password: "secret",
				Database: "dbname_test",
			}, noop.NewTracerProvider())
			if err != nil {
				return err //nolint:wrapcheck
			}

			pgHandler = handler

			return nil
		}
	})
	require.NoError(t, err)

	defer cleanup() //nolint:errcheck // test cleanup

	assert.NoError(t, pgHandler.PGx.Ping(context.Background()))
	assert.NoError(t, pgHandler.DB.Ping())

	version, _, err := pgHandler.MigrationVersion()
	assert.ErrorIs(t, err, postgres.ErrMigrationFailed, "no migrations configured")
	assert.Zero(t, version)

	assert.NoError(t, pgHandler.Shutdown(context.Background()))
	assert.Error(t, pgHandler.PGx.Ping(context.Background()))
}

func TestConnect_Failure(t *testing.T) {
	t.Parallel()

	_, err := postgres.Connect(context.Background(), postgres.Config{
		Host:     "localhost",
		Port:     1,
		User:     "uow",
		Password: "secret",
		Database: "none",
	}, noop.NewTracerProvider())
	assert.ErrorIs(t, err, postgres.ErrConnectionFailed)
}

func TestConnectAndMigrate(t *testing.T) {
	t.Parallel()

	t.Run("missing migrations fail", func(t *testing.T) {
		t.Parallel()

		conf := pgDocker.Handler().Config
		conf.Migrations = nil

		handler, err := postgres.ConnectAndMigrate(context.Background(), conf, noop.NewTracerProvider())
		assert.ErrorIs(t, err, postgres.ErrMigrationFailed)
		assert.Nil(t, handler)
	})

	t.Run("migrate an up to date schema", func(t *testing.T) {
		t.Parallel()

		pg := pgDocker.NewTestDatabase()
		defer pg.Shutdown(context.Background()) //nolint:errcheck // test cleanup

		again, err := postgres.ConnectAndMigrate(context.Background(), pg.Config, noop.NewTracerProvider())
		assert.NoError(t, err)
		assert.NoError(t, again.Shutdown(context.Background()))
	})
}

func TestHandler_Migrate(t *testing.T) {
	t.Parallel()

	pg := pgDocker.NewTestDatabase()
	defer pg.Shutdown(context.Background()) //nolint:errcheck // test cleanup

	version, dirty, err := pg.MigrationVersion()
	assert.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	assert.NoError(t, pg.MigrateDown(1))

	version, _, err = pg.MigrationVersion()
	assert.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, tableExists(t, pg, "customer"))

	assert.NoError(t, pg.MigrateDown(0), "nothing to revert")
	assert.NoError(t, pg.MigrateUp())
	assert.True(t, tableExists(t, pg, "customer"))
}

func TestSessionSuite(t *testing.T) {
	t.Parallel()

	tests.SessionSuite(t, pgDocker.Store())
}

func TestSession_Fixtures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	pg := pgDocker.NewTestDatabase("testdata/fixtures/orders.yaml")
	defer pg.Shutdown(ctx) //nolint:errcheck // test cleanup

	s, err := pg.Session(ctx)
	require.NoError(t, err)

	defer s.Dispose(ctx) //nolint:errcheck // test cleanup

	orders := []testdata.Order{}
	err = s.Query(testdata.Order{}).
		Where(q.Where("Status").Is("open")).
		Include("Customer").
		All(ctx, &orders)
	assert.NoError(t, err)
	assert.Len(t, orders, 2)
	assert.Equal(t, 2, orders[0].ID, "ordered by id")
	assert.Equal(t, "Alice", orders[0].Customer.Name)

	ok, err := s.Query(testdata.Customer{}).Where(q.Where("Name").Like("B%")).Any(ctx)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestSession_CtxTX(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	pg := pgDocker.NewTestDatabase()
	defer pg.Shutdown(ctx) //nolint:errcheck // test cleanup

	count := func(t *testing.T) int {
		t.Helper()

		var c int
		require.NoError(t, pg.PGx.QueryRow(ctx, `SELECT COUNT(*) FROM "order"`).Scan(&c))

		return c
	}

	t.Run("rollback of the caller", func(t *testing.T) {
		tx, err := pg.PGx.Begin(ctx)
		require.NoError(t, err)

		txCtx := context.WithValue(ctx, postgres.CtxTX, tx)

		u, err := uow.Open(txCtx, pg.Open)
		require.NoError(t, err)

		repo, _ := uow.BaseRepositoryOf[testdata.Order](u)
		assert.NoError(t, repo.Insert(txCtx, testdata.NewOrder(1)))

		n, err := u.Save(txCtx)
		assert.NoError(t, err)
		assert.Equal(t, 1, n)

		_, found, err := repo.GetByID(txCtx, 1)
		assert.NoError(t, err)
		assert.True(t, found, "visible inside of the transaction")
		assert.Equal(t, 0, count(t), "not visible outside of the transaction")

		assert.NoError(t, u.Dispose(txCtx))
		assert.NoError(t, tx.Rollback(ctx))
		assert.Equal(t, 0, count(t))
	})

	t.Run("commit of the caller", func(t *testing.T) {
		tx, err := pg.PGx.Begin(ctx)
		require.NoError(t, err)

		txCtx := context.WithValue(ctx, postgres.CtxTX, tx)

		s, err := pg.Session(txCtx)
		require.NoError(t, err)

		_ = s.AddPending(txCtx, testdata.NewOrder(2))
		_, err = s.Commit(txCtx)
		assert.NoError(t, err)
		assert.NoError(t, s.Dispose(txCtx))

		assert.NoError(t, tx.Commit(ctx))
		assert.Equal(t, 1, count(t))
	})
}

func TestConnect_Tracing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	pg := pgDocker.NewTestDatabase()
	defer pg.Shutdown(ctx) //nolint:errcheck // test cleanup

	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))

	traced, err := postgres.Connect(ctx, pg.Config, tp)
	require.NoError(t, err)

	defer traced.Shutdown(ctx) //nolint:errcheck // test cleanup

	s, err := traced.Session(ctx)
	require.NoError(t, err)

	_, _ = s.Query(testdata.Order{}).Count(ctx)
	_ = s.Dispose(ctx)

	spans := exporter.GetSpans()
	require.NotEmpty(t, spans)

	found := false

	for _, span := range spans {
		for _, attr := range span.Attributes {
			if attr.Key == "db.statement" && attr.Value.AsString() == `SELECT COUNT(*) FROM "order"` {
				found = true
			}
		}
	}

	assert.True(t, found, "statement is traced")
}

func tableExists(t *testing.T, pg *postgres.Handler, table string) bool {
	t.Helper()

	var exists bool

	err := pg.PGx.QueryRow(context.Background(),
		`SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`,
		table,
	).Scan(&exists)
	require.NoError(t, err)

	return exists
}
