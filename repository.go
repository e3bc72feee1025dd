package uow

import (
	"context"
	"fmt"
	"reflect"

	"github.com/go-arrower/uow/internal/model"
	"github.com/go-arrower/uow/q"
)

// Repository offers CRUD and composable reads for one entity type E.
// Custom repositories embed *BaseRepository[E] and add their own methods.
type Repository[E any] interface { //nolint:interfacebloat // showcase of all methods of the generic repository
	Insert(ctx context.Context, entity E) error
	Update(ctx context.Context, entity E) error
	Delete(ctx context.Context, entity E) error
	DeleteByID(ctx context.Context, id any) error
	Save(ctx context.Context) (int, error)

	Find(ctx context.Context, opts ...FindOption) ([]E, error)
	FindOne(ctx context.Context, opts ...FindOption) (E, bool, error)
	Exists(ctx context.Context, opts ...FindOption) (bool, error)
	Count(ctx context.Context, opts ...FindOption) (int, error)
	GetByID(ctx context.Context, id any) (E, bool, error)

	Session() Session
	UnitOfWork() *UnitOfWork
}

// FindOption composes the query of Find, FindOne, Exists, and Count.
type FindOption func(*findOptions)

type findOptions struct {
	filter   *q.Query
	orders   []q.Order
	includes []string
}

// Where filters the entities. Calling it multiple times combines the filters with AND.
func Where(filter q.Query) FindOption {
	return func(o *findOptions) {
		if o.filter == nil {
			o.filter = &filter
			return
		}

		combined := q.Query{Conditions: q.ConditionGroup{
			Operator: q.LogicalAnd,
			Groups:   []q.ConditionGroup{o.filter.Conditions, filter.Conditions},
		}}
		o.filter = &combined
	}
}

// OrderBy sorts the entities by the orders, applied in sequence.
// Without it, the engine's default order is kept.
func OrderBy(orders ...q.Order) FindOption {
	return func(o *findOptions) {
		o.orders = append(o.orders, orders...)
	}
}

// Include eager loads relations. paths is a comma separated list of dot separated relation paths,
// e.g. "Items,Items.Product,Customer". Blank segments are ignored.
func Include(paths string) FindOption {
	return func(o *findOptions) {
		o.includes = append(o.includes, model.SplitPaths(paths)...)
	}
}

func newFindOptions(opts []FindOption) findOptions {
	o := findOptions{orders: []q.Order{}, includes: []string{}}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// BaseRepository is the generic implementation of Repository.
type BaseRepository[E any] struct {
	session Session
	uow     *UnitOfWork
}

var _ Repository[struct{ ID int }] = (*BaseRepository[struct{ ID int }])(nil)

// NewRepository returns a repository for E. Use it in a Constructor to build custom repositories.
// u is optional, without it Save commits the session directly.
func NewRepository[E any](session Session, u *UnitOfWork) *BaseRepository[E] {
	return &BaseRepository[E]{session: session, uow: u}
}

func (repo *BaseRepository[E]) Session() Session { //nolint:ireturn // the session is chosen by the caller
	return repo.session
}

func (repo *BaseRepository[E]) UnitOfWork() *UnitOfWork {
	return repo.uow
}

// Insert marks entity as new. It is persisted with the next Save.
func (repo *BaseRepository[E]) Insert(ctx context.Context, entity E) error {
	return repo.session.AddPending(ctx, entity) //nolint:wrapcheck // session errors are returned unchanged
}

// Update attaches entity and marks it as modified as a whole.
func (repo *BaseRepository[E]) Update(ctx context.Context, entity E) error {
	if repo.session.State(entity) == Detached {
		if err := repo.session.Attach(ctx, entity); err != nil {
			return err //nolint:wrapcheck // session errors are returned unchanged
		}
	}

	return repo.session.MarkModified(ctx, entity) //nolint:wrapcheck // session errors are returned unchanged
}

// Delete marks entity as removed, attaching it first if it is not tracked.
// A nil or zero entity is ignored.
func (repo *BaseRepository[E]) Delete(ctx context.Context, entity E) error {
	if isAbsent(entity) {
		return nil
	}

	if repo.session.State(entity) == Detached {
		if err := repo.session.Attach(ctx, entity); err != nil {
			return err //nolint:wrapcheck // session errors are returned unchanged
		}
	}

	return repo.session.MarkRemoved(ctx, entity) //nolint:wrapcheck // session errors are returned unchanged
}

// DeleteByID marks the entity with the primary key id as removed.
// If it does not exist, nothing happens.
func (repo *BaseRepository[E]) DeleteByID(ctx context.Context, id any) error {
	entity, found, err := repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if !found {
		return nil
	}

	return repo.Delete(ctx, entity)
}

// Save commits all pending changes of the session, not only the ones of this repository.
func (repo *BaseRepository[E]) Save(ctx context.Context) (int, error) {
	if repo.uow != nil {
		return repo.uow.Save(ctx)
	}

	return repo.session.Commit(ctx) //nolint:wrapcheck // session errors are returned unchanged
}

// Find returns all entities matching opts. It never returns nil.
func (repo *BaseRepository[E]) Find(ctx context.Context, opts ...FindOption) ([]E, error) {
	query := repo.query(newFindOptions(opts), true)

	entities := []E{}
	if err := query.All(ctx, &entities); err != nil {
		return nil, err //nolint:wrapcheck // session errors are returned unchanged
	}

	if entities == nil {
		entities = []E{}
	}

	return entities, nil
}

// FindOne returns the only entity matching opts.
// If more than one entity matches, it fails with ErrMultipleMatches.
func (repo *BaseRepository[E]) FindOne(ctx context.Context, opts ...FindOption) (E, bool, error) { //nolint:ireturn,lll // E is chosen by the caller
	var zero E

	entities := []E{}
	if err := repo.query(newFindOptions(opts), true).Limit(2).All(ctx, &entities); err != nil { //nolint:mnd // one more than allowed
		return zero, false, err //nolint:wrapcheck // session errors are returned unchanged
	}

	switch len(entities) {
	case 0:
		return zero, false, nil
	case 1:
		return entities[0], true, nil
	default:
		return zero, false, fmt.Errorf("%w: %s", ErrMultipleMatches, typeName[E]())
	}
}

// Exists returns true, if at least one entity matches the filter of opts.
// Orders and includes are ignored.
func (repo *BaseRepository[E]) Exists(ctx context.Context, opts ...FindOption) (bool, error) {
	return repo.query(newFindOptions(opts), false).Any(ctx) //nolint:wrapcheck // session errors are returned unchanged
}

// Count returns the number of entities matching the filter of opts.
// Orders and includes are ignored.
func (repo *BaseRepository[E]) Count(ctx context.Context, opts ...FindOption) (int, error) {
	return repo.query(newFindOptions(opts), false).Count(ctx) //nolint:wrapcheck // session errors are returned unchanged
}

// GetByID returns the entity with the primary key id.
func (repo *BaseRepository[E]) GetByID(ctx context.Context, id any) (E, bool, error) { //nolint:ireturn // E is chosen by the caller
	var entity E

	found, err := repo.session.LookupByKey(ctx, &entity, id)
	if err != nil || !found {
		var zero E
		return zero, false, err //nolint:wrapcheck // session errors are returned unchanged
	}

	return entity, true, nil
}

func (repo *BaseRepository[E]) query(o findOptions, full bool) Query { //nolint:ireturn // engines return their own queries
	query := repo.session.Query(reflect.TypeFor[E]())

	if o.filter != nil {
		query = query.Where(*o.filter)
	}

	if !full {
		return query
	}

	for _, path := range o.includes {
		query = query.Include(path)
	}

	if len(o.orders) > 0 {
		query = query.OrderBy(o.orders...)
	}

	return query
}

func isAbsent(v any) bool {
	if isNil(v) {
		return true
	}

	return reflect.ValueOf(v).IsZero()
}
