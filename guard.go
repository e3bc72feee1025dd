package uow

import (
	"context"

	"github.com/go-arrower/uow/q"
)

// guardedSession is the Session handed to repositories.
// It fails with ErrUseAfterDispose once its owner is disposed.
type guardedSession struct {
	owner   *UnitOfWork
	session Session
}

var _ Session = (*guardedSession)(nil)

func (g *guardedSession) AddPending(ctx context.Context, entity any) error {
	if g.owner.disposed.Load() {
		return ErrUseAfterDispose
	}

	return g.session.AddPending(ctx, entity) //nolint:wrapcheck // session errors are returned unchanged
}

func (g *guardedSession) Attach(ctx context.Context, entity any) error {
	if g.owner.disposed.Load() {
		return ErrUseAfterDispose
	}

	return g.session.Attach(ctx, entity) //nolint:wrapcheck // session errors are returned unchanged
}

func (g *guardedSession) MarkRemoved(ctx context.Context, entity any) error {
	if g.owner.disposed.Load() {
		return ErrUseAfterDispose
	}

	return g.session.MarkRemoved(ctx, entity) //nolint:wrapcheck // session errors are returned unchanged
}

func (g *guardedSession) MarkModified(ctx context.Context, entity any) error {
	if g.owner.disposed.Load() {
		return ErrUseAfterDispose
	}

	return g.session.MarkModified(ctx, entity) //nolint:wrapcheck // session errors are returned unchanged
}

// State returns Detached after dispose.
func (g *guardedSession) State(entity any) EntityState {
	if g.owner.disposed.Load() {
		return Detached
	}

	return g.session.State(entity)
}

func (g *guardedSession) Query(model any) Query { //nolint:ireturn // engines return their own queries
	return &guardedQuery{owner: g.owner, query: g.session.Query(model)}
}

func (g *guardedSession) LookupByKey(ctx context.Context, dst any, id any) (bool, error) {
	if g.owner.disposed.Load() {
		return false, ErrUseAfterDispose
	}

	return g.session.LookupByKey(ctx, dst, id) //nolint:wrapcheck // session errors are returned unchanged
}

func (g *guardedSession) Pending() int {
	if g.owner.disposed.Load() {
		return 0
	}

	return g.session.Pending()
}

// Commit goes through the owner, so the save is logged, traced, and metered.
func (g *guardedSession) Commit(ctx context.Context) (int, error) {
	return g.owner.Save(ctx)
}

// Dispose disposes the owning unit of work, as it owns the session.
func (g *guardedSession) Dispose(ctx context.Context) error {
	return g.owner.Dispose(ctx)
}

type guardedQuery struct {
	owner *UnitOfWork
	query Query
}

var _ Query = (*guardedQuery)(nil)

func (g *guardedQuery) Where(filter q.Query) Query { //nolint:ireturn // engines return their own queries
	return &guardedQuery{owner: g.owner, query: g.query.Where(filter)}
}

func (g *guardedQuery) Include(path string) Query { //nolint:ireturn // engines return their own queries
	return &guardedQuery{owner: g.owner, query: g.query.Include(path)}
}

func (g *guardedQuery) OrderBy(orders ...q.Order) Query { //nolint:ireturn // engines return their own queries
	return &guardedQuery{owner: g.owner, query: g.query.OrderBy(orders...)}
}

func (g *guardedQuery) Limit(n int) Query { //nolint:ireturn // engines return their own queries
	return &guardedQuery{owner: g.owner, query: g.query.Limit(n)}
}

func (g *guardedQuery) All(ctx context.Context, dst any) error {
	if g.owner.disposed.Load() {
		return ErrUseAfterDispose
	}

	return g.query.All(ctx, dst) //nolint:wrapcheck // session errors are returned unchanged
}

func (g *guardedQuery) Any(ctx context.Context) (bool, error) {
	if g.owner.disposed.Load() {
		return false, ErrUseAfterDispose
	}

	return g.query.Any(ctx) //nolint:wrapcheck // session errors are returned unchanged
}

func (g *guardedQuery) Count(ctx context.Context) (int, error) {
	if g.owner.disposed.Load() {
		return 0, ErrUseAfterDispose
	}

	return g.query.Count(ctx) //nolint:wrapcheck // session errors are returned unchanged
}
