package memory

import (
	"context"
	"fmt"
	"reflect"
	"slices"

	"github.com/go-arrower/uow"
	"github.com/go-arrower/uow/internal/model"
	"github.com/go-arrower/uow/q"
)

type query struct {
	session *Session
	meta    *model.Meta
	err     error // of Session.Query, reported by the terminal methods

	filter   q.Query
	includes []string
	orders   []q.Order
	limit    int // negative for no limit
}

var _ uow.Query = (*query)(nil)

func (qu *query) clone() *query {
	return &query{
		session:  qu.session,
		meta:     qu.meta,
		err:      qu.err,
		filter:   qu.filter,
		includes: slices.Clone(qu.includes),
		orders:   slices.Clone(qu.orders),
		limit:    qu.limit,
	}
}

func (qu *query) Where(filter q.Query) uow.Query { //nolint:ireturn // required by uow.Query
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

func (qu *query) Include(path string) uow.Query { //nolint:ireturn // required by uow.Query
	c := qu.clone()
	c.includes = append(c.includes, model.SplitPaths(path)...)

	return c
}

func (qu *query) OrderBy(orders ...q.Order) uow.Query { //nolint:ireturn // required by uow.Query
	c := qu.clone()
	c.orders = append(c.orders, orders...)

	return c
}

func (qu *query) Limit(n int) uow.Query { //nolint:ireturn // required by uow.Query
	c := qu.clone()
	c.limit = n

	return c
}

func (qu *query) All(ctx context.Context, dst any) error {
	rows, err := qu.matches(ctx, -1)
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

	if len(qu.orders) > 0 {
		var sortErr error

		slices.SortStableFunc(rows, func(a, b reflect.Value) int {
			cmp, err := q.Compare(a.Interface(), b.Interface(), qu.orders...)
			if err != nil && sortErr == nil {
				sortErr = err
			}

			return cmp
		})

		if sortErr != nil {
			return sortErr //nolint:wrapcheck // q errors are exported
		}
	}

	if qu.limit >= 0 && len(rows) > qu.limit {
		rows = rows[:qu.limit]
	}

	if len(qu.includes) > 0 && len(rows) > 0 {
		slice := reflect.MakeSlice(reflect.SliceOf(qu.meta.Type), 0, len(rows))
		for _, r := range rows {
			slice = reflect.Append(slice, r)
		}

		for _, path := range qu.includes {
			if err := qu.session.db.inspector.Include(ctx, qu.session, slice, path); err != nil {
				return err //nolint:wrapcheck // model errors are exported by uow
			}
		}

		for i := range rows {
			rows[i] = slice.Index(i)
		}
	}

	return model.Fill(dst, rows) //nolint:wrapcheck // model errors are exported by uow
}

func (qu *query) Any(ctx context.Context) (bool, error) {
	rows, err := qu.matches(ctx, 1)

	return len(rows) > 0, err
}

func (qu *query) Count(ctx context.Context) (int, error) {
	rows, err := qu.matches(ctx, qu.limit)
	if err != nil {
		return 0, err
	}

	return len(rows), nil
}

// matches returns the committed rows matching the filter, at most limit rows if limit is not negative.
// Orders are not applied, so limit is only usable if the order does not matter.
func (qu *query) matches(ctx context.Context, limit int) ([]reflect.Value, error) {
	if qu.err != nil {
		return nil, qu.err
	}

	if err := qu.session.check(ctx); err != nil {
		return nil, err
	}

	if err := qu.validate(); err != nil {
		return nil, err
	}

	rows, err := qu.session.db.read(qu.meta)
	if err != nil {
		return nil, err
	}

	if qu.filter.IsEmpty() && limit < 0 {
		return rows, nil
	}

	result := make([]reflect.Value, 0, len(rows))

	for _, row := range rows {
		if limit >= 0 && len(result) >= limit {
			break
		}

		ok, err := qu.filter.Matches(row.Interface())
		if err != nil {
			return nil, err //nolint:wrapcheck // q errors are exported
		}

		if ok {
			result = append(result, row)
		}
	}

	return result, nil
}

// validate fails for unknown fields and relations, even if there is no data to evaluate them on.
func (qu *query) validate() error {
	fields := qu.filter.Fields()
	for _, o := range qu.orders {
		fields = append(fields, o.Field)
	}

	for _, f := range fields {
		if _, ok := qu.meta.Type.FieldByName(f); !ok {
			return fmt.Errorf("%w: %s has no field %s", q.ErrInvalidQuery, qu.meta.Name, f)
		}
	}

	for _, path := range qu.includes {
		if err := qu.session.db.inspector.ValidatePath(qu.meta.Type, path); err != nil {
			return err //nolint:wrapcheck // model errors are exported by uow
		}
	}

	return nil
}
