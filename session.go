package uow

import (
	"context"
	"fmt"

	"github.com/go-arrower/uow/q"
)

// EntityState is the state of an entity as tracked by a Session.
type EntityState int

const (
	Detached EntityState = iota
	Unchanged
	Added
	Modified
	Deleted
)

func (s EntityState) String() string {
	switch s {
	case Detached:
		return "detached"
	case Unchanged:
		return "unchanged"
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is one interaction with a persistence engine.
// It tracks the entities passed to it and applies all pending changes atomically on Commit.
//
// Entities are structs or pointers to structs. A Session is not safe for concurrent use.
type Session interface { //nolint:interfacebloat // this is the contract of an engine
	// AddPending tracks entity as new, it is inserted on Commit.
	AddPending(ctx context.Context, entity any) error
	// Attach tracks entity as unchanged.
	Attach(ctx context.Context, entity any) error
	// MarkRemoved tracks entity as deleted, it is removed on Commit.
	MarkRemoved(ctx context.Context, entity any) error
	// MarkModified tracks entity as modified, it is replaced as a whole on Commit.
	MarkModified(ctx context.Context, entity any) error
	State(entity any) EntityState

	// Query returns a read handle for the entity type of model, which can be a (zero) value
	// of the entity or its reflect.Type.
	Query(model any) Query
	// LookupByKey loads the entity with the primary key id into dst, a pointer to the entity.
	// Tracked entities are returned before the store is consulted.
	LookupByKey(ctx context.Context, dst any, id any) (bool, error)

	// Pending returns the number of tracked changes not yet committed.
	Pending() int
	// Commit applies all pending changes and returns the number of affected records.
	Commit(ctx context.Context) (int, error)
	// Dispose releases all resources of the Session. It must not be used afterward.
	Dispose(ctx context.Context) error
}

// Query is a composable read handle returned by Session.Query.
// Each method returns a new Query, the receiver stays unchanged.
type Query interface {
	Where(filter q.Query) Query
	// Include eager loads the relation path, e.g. "Items.Product".
	Include(path string) Query
	OrderBy(orders ...q.Order) Query
	Limit(n int) Query

	// All loads all matching entities into dst, a pointer to a slice of entities.
	All(ctx context.Context, dst any) error
	Any(ctx context.Context) (bool, error)
	Count(ctx context.Context) (int, error)
}

// SessionOpener creates a new Session, e.g. (*memory.Database).Open.
type SessionOpener func(ctx context.Context) (Session, error)
