// Package uow implements the unit of work pattern over a generic repository.
//
// A UnitOfWork owns exactly one Session of a persistence engine (see the packages memory and postgres)
// and a registry of repositories. Repositories are registered under a typed Key and constructed lazily
// on the first Get, after that the same instance is returned for the lifetime of the unit of work.
// All repositories of one unit of work share its Session, so saving through any of them
// commits the pending changes of all of them in one atomic operation.
//
//	u := uow.New(db.Session())
//	defer u.Dispose(ctx)
//
//	orders := uow.NewKey[*OrderRepo]("orders")
//	_ = uow.Register(u, orders, NewOrderRepo)
//
//	repo, _ := uow.Get(ctx, u, orders)
//	_ = repo.Insert(ctx, Order{ID: 1})
//	_, _ = u.Save(ctx)
//
// After Dispose every operation of the unit of work and of the repositories
// obtained from it fails with ErrUseAfterDispose.
package uow
