package postgres

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/go-arrower/uow"
	"github.com/go-arrower/uow/internal/model"
	"github.com/go-arrower/uow/q"
)

// Query is the uow.Query of a Session, translating into SQL.
// Without an order, the entities are ordered by their primary key.
type Query struct {
	session *Session
	meta    *model.Meta
	err     error // of Session.Query, reported by the terminal methods

	filter   q.Query
	includes []string
	orders   []q.Order
	limit    int // negative for no limit
}

var _ uow.Query = (*Query)(nil)

func (qu *Query) clone() *Query {
	return &Query{
		session:  qu.session,
		meta:     qu.meta,
		err:      qu.err,
		filter:   qu.filter,
		includes: slices.Clone(qu.includes),
		orders:   slices.Clone(qu.orders),
		limit:    qu.limit,
	}
}

func (qu *Query) Where(filter q.Query) uow.Query { //nolint:ireturn // required by uow.Query
	c := qu.clone()

	if c.filter.IsEmpty() {
		c.filter = filter
	} else {
		c.filter = q.Query{Conditions: q.ConditionGroup{
			Operator: q.LogicalAnd,
			Groups:   []q.ConditionGroup{c.filter.Conditions, filter.Conditions},
		}}
	}

	return c
}

func (qu *Query) Include(path string) uow.Query { //nolint:ireturn // required by uow.Query
	c := qu.clone()
	c.includes = append(c.includes, model.SplitPaths(path)...)

	return c
}

func (qu *Query) OrderBy(orders ...q.Order) uow.Query { //nolint:ireturn // required by uow.Query
	c := qu.clone()
	c.orders = append(c.orders, orders...)

	return c
}

func (qu *Query) Limit(n int) uow.Query { //nolint:ireturn // required by uow.Query
	c := qu.clone()
	c.limit = n

	return c
}

// ToSQL returns the statement used by All.
func (qu *Query) ToSQL() (string, []any, error) {
	sel, err := qu.selectBuilder(columns(qu.meta)...)
	if err != nil {
		return "", nil, err
	}

	if len(qu.orders) == 0 {
		sel = sel.OrderBy(ident(qu.meta.IDColumn))
	}

	for _, o := range qu.orders {
		column, _ := qu.meta.ColumnOf(o.Field) // validated by selectBuilder

		if o.Descending {
			sel = sel.OrderBy(ident(column) + " DESC")
		} else {
			sel = sel.OrderBy(ident(column) + " ASC")
		}
	}

	sql, args, err := sel.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err) //nolint:errorlint // prevent err in api
	}

	return sql, args, nil
}

func (qu *Query) All(ctx context.Context, dst any) error {
	if err := qu.session.check(ctx); err != nil {
		return err
	}

	sql, args, err := qu.ToSQL()
	if err != nil {
		return err
	}

	typ, err := model.TargetType(dst)
	if err != nil {
		return err //nolint:wrapcheck // model errors are exported by uow
	}

	if typ != qu.meta.Type {
		return fmt.Errorf("%w: query of %s cannot load into %T", model.ErrInvalidEntity, qu.meta.Name, dst)
	}

	rows := reflect.New(reflect.SliceOf(qu.meta.Type))
	if err := scan.Select(ctx, qu.session.conn(ctx), rows.Interface(), sql, args...); err != nil {
		return fmt.Errorf("could not query %s: %w", qu.meta.Name, err)
	}

	slice := rows.Elem()

	for _, path := range qu.includes {
		if err := inspector.Include(ctx, qu.session, slice, path); err != nil {
			return err //nolint:wrapcheck // model errors are exported by uow
		}
	}

	values := make([]reflect.Value, slice.Len())
	for i := range values {
		values[i] = slice.Index(i)
	}

	return model.Fill(dst, values) //nolint:wrapcheck // model errors are exported by uow
}

func (qu *Query) Any(ctx context.Context) (bool, error) {
	if err := qu.session.check(ctx); err != nil {
		return false, err
	}

	sel, err := qu.selectBuilder("1")
	if err != nil {
		return false, err
	}

	sql, args, err := sel.Limit(1).ToSql()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidQuery, err) //nolint:errorlint // prevent err in api
	}

	var one int

	err = qu.session.conn(ctx).QueryRow(ctx, sql, args...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("could not query %s: %w", qu.meta.Name, err)
	}

	return true, nil
}

func (qu *Query) Count(ctx context.Context) (int, error) {
	if err := qu.session.check(ctx); err != nil {
		return 0, err
	}

	sql, args, err := qu.countSQL()
	if err != nil {
		return 0, err
	}

	var count int
	if err := qu.session.conn(ctx).QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("could not count %s: %w", qu.meta.Name, err)
	}

	return count, nil
}

func (qu *Query) countSQL() (string, []any, error) {
	var (
		sel squirrel.SelectBuilder
		err error
	)

	if qu.limit >= 0 {
		sel, err = qu.selectBuilder("1")
		if err != nil {
			return "", nil, err
		}

		sel = psql.Select("COUNT(*)").FromSelect(sel, "limited")
	} else {
		sel, err = qu.selectBuilder("COUNT(*)")
		if err != nil {
			return "", nil, err
		}
	}

	sql, args, err := sel.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err) //nolint:errorlint // prevent err in api
	}

	return sql, args, nil
}

// selectBuilder returns the SELECT of columns with the filter and limit of the Query applied.
func (qu *Query) selectBuilder(columns ...string) (squirrel.SelectBuilder, error) {
	if qu.err != nil {
		return squirrel.SelectBuilder{}, qu.err
	}

	if err := qu.validate(); err != nil {
		return squirrel.SelectBuilder{}, err
	}

	sel := psql.Select(columns...).From(ident(qu.meta.Table))

	if !qu.filter.IsEmpty() {
		where, err := qu.where(qu.filter.Conditions)
		if err != nil {
			return squirrel.SelectBuilder{}, err
		}

		sel = sel.Where(where)
	}

	if qu.limit >= 0 {
		sel = sel.Limit(uint64(qu.limit))
	}

	return sel, nil
}

func (qu *Query) validate() error {
	for _, o := range qu.orders {
		if _, ok := qu.meta.ColumnOf(o.Field); !ok {
			return fmt.Errorf("%w: %s has no column for field %s", ErrInvalidQuery, qu.meta.Name, o.Field)
		}
	}

	for _, path := range qu.includes {
		if err := inspector.ValidatePath(qu.meta.Type, path); err != nil {
			return err //nolint:wrapcheck // model errors are exported by uow
		}
	}

	return nil
}

func (qu *Query) where(group q.ConditionGroup) (squirrel.Sqlizer, error) { //nolint:ireturn // and or or
	if group.IsEmpty() {
		return squirrel.Expr("TRUE"), nil
	}

	parts := make([]squirrel.Sqlizer, 0, len(group.Conditions)+len(group.Groups))

	for _, c := range group.Conditions {
		cond, err := qu.condition(c)
		if err != nil {
			return nil, err
		}

		parts = append(parts, cond)
	}

	for _, sub := range group.Groups {
		cond, err := qu.where(sub)
		if err != nil {
			return nil, err
		}

		parts = append(parts, cond)
	}

	if group.Operator == q.LogicalOr {
		return squirrel.Or(parts), nil
	}

	return squirrel.And(parts), nil
}

func (qu *Query) condition(c q.Cond) (squirrel.Sqlizer, error) { //nolint:ireturn // depends on the operator
	column, ok := qu.meta.ColumnOf(c.Field)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no column for field %s", ErrInvalidQuery, qu.meta.Name, c.Field)
	}

	column = ident(column)

	switch c.Operator {
	case q.Eq:
		return squirrel.Eq{column: c.Value}, nil
	case q.Ne:
		return squirrel.NotEq{column: c.Value}, nil
	case q.Gt:
		return squirrel.Gt{column: c.Value}, nil
	case q.Gte:
		return squirrel.GtOrEq{column: c.Value}, nil
	case q.Lt:
		return squirrel.Lt{column: c.Value}, nil
	case q.Lte:
		return squirrel.LtOrEq{column: c.Value}, nil
	case q.In:
		if reflect.ValueOf(c.Value).Kind() != reflect.Slice {
			return squirrel.Eq{column: []any{c.Value}}, nil
		}

		return squirrel.Eq{column: c.Value}, nil
	case q.Like:
		if _, ok := c.Value.(string); !ok {
			return nil, fmt.Errorf("%w: LIKE needs a string pattern, got %T", ErrInvalidQuery, c.Value)
		}

		return squirrel.Like{column: c.Value}, nil
	}

	return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, c.Operator)
}
