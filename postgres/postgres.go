// Package postgres is the PostgreSQL persistence engine for the unit of work.
//
// Entities map to tables: the table name is the lower cased type name or the result of a
// TableName() method, columns are the snake_cased field names or the value of a `db` tag.
// Relations (slices of entities and fields of entity structs) are not columns,
// they are loaded with Include.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-arrower/uow"
	"github.com/go-arrower/uow/q"
)

type CTXKey string

// CtxTX contains a pgx.Tx, only if set by the caller, e.g. a middleware.
// Sessions use it for all statements, a Commit becomes a savepoint inside of it.
const CtxTX CTXKey = "uow.tx"

var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrMigrationFailed  = errors.New("migration failed")
	ErrInvalidQuery     = fmt.Errorf("postgres: %w", q.ErrInvalidQuery)
)

// Config holds all values used to configure and connect to a postgres database.
type Config struct {
	// Migrations contains the golang-migrate files at its root, e.g. os.DirFS("migrations").
	Migrations fs.FS
	User       string
	Password   string
	Database   string
	SSLMode    string
	Host       string
	Port       int
	MaxConns   int
}

func (c Config) toURL() string {
	if c.MaxConns == 0 { // prevent error: pool_max_conns too small
		c.MaxConns = 10
	}

	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}

	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s&pool_max_conns=%d",
		c.User, c.Password, net.JoinHostPort(c.Host, strconv.Itoa(c.Port)), c.Database, c.SSLMode, c.MaxConns)
}

// Connect connects to a PostgreSQL database.
func Connect(ctx context.Context, pgConf Config, tracerProvider trace.TracerProvider) (*Handler, error) {
	config, err := pgxpool.ParseConfig(pgConf.toURL())
	if err != nil {
		return nil, fmt.Errorf("%w: could not parse config: %v", ErrConnectionFailed, err) //nolint:errorlint,lll // prevent err in api
	}

	config.ConnConfig.RuntimeParams = map[string]string{
		"application_name": "uow",
	}
	config.ConnConfig.Tracer = &pgxTracer{
		tracer: tracerProvider.Tracer("github.com/go-arrower/uow/postgres"),
	}

	dbpool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%w: could not connect: %v", ErrConnectionFailed, err) //nolint:errorlint,lll // prevent err in api
	}

	err = dbpool.Ping(ctx)
	if err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("%w: could not ping db: %v", ErrConnectionFailed, err) //nolint:errorlint,lll // prevent err in api
	}

	connStr := stdlib.RegisterConnConfig(config.ConnConfig) // std SQL for migrations and test fixtures

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("%w: could not connect via the std lib registration: %v", ErrConnectionFailed, err) //nolint:errorlint,lll // prevent err in api
	}

	return &Handler{
		PGx:    dbpool,
		DB:     db,
		Config: pgConf,
	}, nil
}

// ConnectAndMigrate connects to a PostgreSQL database and
// runs all migrations to ensure that the schema is on the latest version.
func ConnectAndMigrate(ctx context.Context, conf Config, tracerProvider trace.TracerProvider) (*Handler, error) {
	if conf.Migrations == nil {
		return nil, fmt.Errorf("%w: no migration files given", ErrMigrationFailed)
	}

	handler, err := Connect(ctx, conf, tracerProvider)
	if err != nil {
		return nil, err
	}

	err = handler.MigrateUp()
	if err != nil {
		_ = handler.Shutdown(ctx)
		return nil, err
	}

	return handler, nil
}

type Handler struct {
	PGx    *pgxpool.Pool
	DB     *sql.DB // used by migrations and integration tests, e.g. for setting up test fixtures.
	Config Config
}

// Open acquires a connection from the pool and returns a Session working on it.
// It implements uow.SessionOpener, the connection is released with Session.Dispose.
func (h *Handler) Open(ctx context.Context) (uow.Session, error) { //nolint:ireturn // required by uow.SessionOpener
	return h.Session(ctx)
}

// Session acquires a connection from the pool and returns a Session working on it.
func (h *Handler) Session(ctx context.Context) (*Session, error) {
	conn, err := h.PGx.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: could not acquire connection: %v", ErrConnectionFailed, err) //nolint:errorlint,lll // prevent err in api
	}

	s := NewSession(conn)
	s.release = conn.Release

	return s, nil
}

// Shutdown waits & closes all connections to PostgreSQL.
func (h *Handler) Shutdown(_ context.Context) error {
	h.PGx.Close()

	if err := h.DB.Close(); err != nil {
		return fmt.Errorf("could not close db: %w", err)
	}

	return nil
}
