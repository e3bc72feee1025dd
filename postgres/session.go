package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/dbscan"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/go-arrower/uow"
	"github.com/go-arrower/uow/alog"
	"github.com/go-arrower/uow/internal/model"
	"github.com/go-arrower/uow/internal/tracker"
)

const uniqueViolation = "23505"

//nolint:gochecknoglobals // stateless helpers shared by all sessions
var (
	psql      = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	inspector = model.NewInspector(model.DefaultIDField)
	scan      = mustScanAPI()
)

func mustScanAPI() *pgxscan.API {
	dbscanAPI, err := pgxscan.NewDBScanAPI(dbscan.WithFieldNameMapper(model.SnakeCase))
	if err != nil {
		panic(err)
	}

	api, err := pgxscan.NewAPI(dbscanAPI)
	if err != nil {
		panic(err)
	}

	return api
}

// DB is the part of pgx used by a Session.
// It is implemented by *pgxpool.Pool, *pgxpool.Conn, *pgx.Conn, and pgx.Tx.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type SessionOption func(*Session)

func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Session tracks the changes of one unit of work and applies them in one transaction on Commit.
// It is not safe for concurrent use.
//
// Queries read the committed data of the database, LookupByKey returns tracked entities first.
type Session struct {
	db      DB
	release func()
	tracker *tracker.Tracker
	logger  alog.Logger

	disposed bool
}

var (
	_ uow.Session  = (*Session)(nil)
	_ model.Loader = (*Session)(nil)
)

// NewSession returns a Session working on db. Prefer Handler.Open, which manages the connection.
func NewSession(db DB, opts ...SessionOption) *Session {
	s := &Session{
		db:      db,
		release: func() {},
		tracker: tracker.New(inspector),
		logger:  alog.NewNoop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// conn returns the transaction of ctx if present, otherwise the db of the Session.
func (s *Session) conn(ctx context.Context) DB { //nolint:ireturn // tx or connection
	if tx, ok := ctx.Value(CtxTX).(pgx.Tx); ok {
		return tx
	}

	return s.db
}

func (s *Session) check(ctx context.Context) error {
	if s.disposed {
		return fmt.Errorf("%w: postgres session", uow.ErrUseAfterDispose)
	}

	return ctx.Err() //nolint:wrapcheck // return the ctx error as is
}

func (s *Session) AddPending(ctx context.Context, entity any) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	return s.tracker.Add(entity) //nolint:wrapcheck // model errors are exported by uow
}

func (s *Session) Attach(ctx context.Context, entity any) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	return s.tracker.Attach(entity) //nolint:wrapcheck // model errors are exported by uow
}

func (s *Session) MarkRemoved(ctx context.Context, entity any) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	return s.tracker.Remove(entity) //nolint:wrapcheck // model errors are exported by uow
}

func (s *Session) MarkModified(ctx context.Context, entity any) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	return s.tracker.Modify(entity) //nolint:wrapcheck // model errors are exported by uow
}

func (s *Session) State(entity any) uow.EntityState {
	switch s.tracker.State(entity) {
	case tracker.Unchanged:
		return uow.Unchanged
	case tracker.Added:
		return uow.Added
	case tracker.Modified:
		return uow.Modified
	case tracker.Deleted:
		return uow.Deleted
	case tracker.Detached:
		return uow.Detached
	default:
		return uow.Detached
	}
}

func (s *Session) Query(m any) uow.Query { //nolint:ireturn // required by uow.Session
	meta, err := inspector.Of(m)

	return &Query{session: s, meta: meta, err: err, limit: -1}
}

func (s *Session) LookupByKey(ctx context.Context, dst any, id any) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}

	typ, err := model.TargetType(dst)
	if err != nil {
		return false, err //nolint:wrapcheck // model errors are exported by uow
	}

	meta, err := inspector.Of(typ)
	if err != nil {
		return false, err //nolint:wrapcheck // model errors are exported by uow
	}

	key := meta.KeyFor(id)

	switch s.tracker.KeyState(key) { //nolint:exhaustive // all other states are read from the database
	case tracker.Deleted:
		return false, nil
	case tracker.Added, tracker.Unchanged, tracker.Modified:
		val, _ := s.tracker.Lookup(key)
		return true, model.Assign(dst, val) //nolint:wrapcheck // model errors are exported by uow
	}

	sql, args, err := psql.Select(columns(meta)...).
		From(ident(meta.Table)).
		Where(squirrel.Eq{ident(meta.IDColumn): id}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidQuery, err) //nolint:errorlint // prevent err in api
	}

	rows := reflect.New(reflect.SliceOf(meta.Type))
	if err := scan.Select(ctx, s.conn(ctx), rows.Interface(), sql, args...); err != nil {
		return false, fmt.Errorf("could not get %s %v: %w", meta.Name, id, err)
	}

	if rows.Elem().Len() == 0 {
		return false, nil
	}

	return true, model.Assign(dst, rows.Elem().Index(0)) //nolint:wrapcheck // model errors are exported by uow
}

func (s *Session) Pending() int {
	return s.tracker.Pending()
}

// Commit applies all pending changes in one transaction.
// If a transaction is set in the context under CtxTX, a savepoint of it is used instead and
// the caller stays in charge of committing it.
// If one change fails, none is applied and all changes stay pending.
func (s *Session) Commit(ctx context.Context) (int, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}

	changes := s.tracker.Changes()
	if len(changes) == 0 {
		return 0, nil
	}

	tx, err := s.conn(ctx).Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck // no-op after a successful commit

	for _, change := range changes {
		if err := apply(ctx, tx, change); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("could not commit transaction: %w", err)
	}

	s.tracker.AcceptAll()

	s.logger.Log(ctx, alog.LevelDebug, "postgres: applied changes", slog.Int("changes", len(changes)))

	return len(changes), nil
}

// Dispose forgets all tracked entities and releases the connection. Calling it again does nothing.
func (s *Session) Dispose(context.Context) error {
	if s.disposed {
		return nil
	}

	s.disposed = true
	s.tracker.Clear()
	s.release()

	return nil
}

// LoadWhereIn loads the entities of target whose field has one of the values.
func (s *Session) LoadWhereIn(ctx context.Context, target *model.Meta, field string, values []any) (reflect.Value, error) {
	if err := s.check(ctx); err != nil {
		return reflect.Value{}, err
	}

	column, ok := target.ColumnOf(field)
	if !ok {
		return reflect.Value{}, fmt.Errorf("%w: %s has no field %s", model.ErrUnknownInclude, target.Name, field)
	}

	sql, args, err := psql.Select(columns(target)...).
		From(ident(target.Table)).
		Where(squirrel.Eq{ident(column): values}).
		OrderBy(ident(target.IDColumn)).
		ToSql()
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err) //nolint:errorlint // prevent err in api
	}

	rows := reflect.New(reflect.SliceOf(target.Type))
	if err := scan.Select(ctx, s.conn(ctx), rows.Interface(), sql, args...); err != nil {
		return reflect.Value{}, fmt.Errorf("could not load %s: %w", target.Name, err)
	}

	return rows.Elem(), nil
}

func apply(ctx context.Context, tx pgx.Tx, change tracker.Entry) error {
	meta := change.Meta
	entity := change.Value.Interface()

	id, err := meta.RawID(entity)
	if err != nil {
		return err //nolint:wrapcheck // model errors are exported by uow
	}

	values, err := meta.Values(entity)
	if err != nil {
		return err //nolint:wrapcheck // model errors are exported by uow
	}

	var stmt squirrel.Sqlizer

	switch change.State { //nolint:exhaustive // only pending states are changes
	case tracker.Added:
		stmt = psql.Insert(ident(meta.Table)).Columns(columns(meta)...).Values(values...)
	case tracker.Modified:
		set := map[string]any{}

		for i, c := range meta.Columns {
			if c.Name != meta.IDColumn {
				set[ident(c.Name)] = values[i]
			}
		}

		stmt = psql.Update(ident(meta.Table)).SetMap(set).Where(squirrel.Eq{ident(meta.IDColumn): id})
	case tracker.Deleted:
		stmt = psql.Delete(ident(meta.Table)).Where(squirrel.Eq{ident(meta.IDColumn): id})
	default:
		return nil
	}

	sql, args, err := stmt.ToSql()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err) //nolint:errorlint // prevent err in api
	}

	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s %v", model.ErrAlreadyExists, meta.Name, id)
		}

		return fmt.Errorf("could not write %s %v: %w", meta.Name, id, err)
	}

	if change.State != tracker.Added && tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: could not %s %s %v", model.ErrNotFound, verb(change.State), meta.Name, id)
	}

	return nil
}

func verb(state tracker.State) string {
	if state == tracker.Deleted {
		return "delete"
	}

	return "update"
}

func columns(meta *model.Meta) []string {
	names := meta.ColumnNames()
	for i, n := range names {
		names[i] = ident(n)
	}

	return names
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
