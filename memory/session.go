package memory

import (
	"context"
	"fmt"
	"reflect"

	"github.com/go-arrower/uow"
	"github.com/go-arrower/uow/internal/model"
	"github.com/go-arrower/uow/internal/tracker"
)

// Session tracks the changes of one unit of work. It is not safe for concurrent use.
//
// Queries read the committed data of the Database, LookupByKey returns tracked entities first.
type Session struct {
	db       *Database
	tracker  *tracker.Tracker
	disposed bool
}

var (
	_ uow.Session  = (*Session)(nil)
	_ model.Loader = (*Session)(nil)
)

func (s *Session) check(ctx context.Context) error {
	if s.disposed {
		return fmt.Errorf("%w: memory session", uow.ErrUseAfterDispose)
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
	return entityState(s.tracker.State(entity))
}

func (s *Session) Query(m any) uow.Query { //nolint:ireturn // required by uow.Session
	meta, err := s.db.inspector.Of(m)

	return &query{session: s, meta: meta, err: err, limit: -1}
}

func (s *Session) LookupByKey(ctx context.Context, dst any, id any) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}

	typ, err := model.TargetType(dst)
	if err != nil {
		return false, err //nolint:wrapcheck // model errors are exported by uow
	}

	meta, err := s.db.inspector.Of(typ)
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

	val, found, err := s.db.get(meta, id)
	if err != nil || !found {
		return false, err
	}

	return true, model.Assign(dst, val) //nolint:wrapcheck // model errors are exported by uow
}

func (s *Session) Pending() int {
	return s.tracker.Pending()
}

// Commit applies all pending changes to the Database.
// If one change fails, none is applied and all changes stay pending.
func (s *Session) Commit(ctx context.Context) (int, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}

	changes := s.tracker.Changes()
	if len(changes) == 0 {
		return 0, nil
	}

	if err := s.db.apply(ctx, changes); err != nil {
		return 0, err
	}

	s.tracker.AcceptAll()

	return len(changes), nil
}

// Dispose forgets all tracked entities. Calling it again does nothing.
func (s *Session) Dispose(context.Context) error {
	s.disposed = true
	s.tracker.Clear()

	return nil
}

// LoadWhereIn loads the committed entities of target whose field has one of the values.
func (s *Session) LoadWhereIn(ctx context.Context, target *model.Meta, field string, values []any) (reflect.Value, error) {
	if err := s.check(ctx); err != nil {
		return reflect.Value{}, err
	}

	f, ok := target.Type.FieldByName(field)
	if !ok {
		return reflect.Value{}, fmt.Errorf("%w: %s has no field %s", model.ErrUnknownInclude, target.Name, field)
	}

	wanted := make(map[any]struct{}, len(values))
	for _, v := range values {
		wanted[model.Key(v)] = struct{}{}
	}

	rows, err := s.db.read(target)
	if err != nil {
		return reflect.Value{}, err
	}

	result := reflect.MakeSlice(reflect.SliceOf(target.Type), 0, len(rows))

	for _, row := range rows {
		if _, ok := wanted[model.Key(row.FieldByIndex(f.Index).Interface())]; ok {
			result = reflect.Append(result, row)
		}
	}

	return result, nil
}

func entityState(s tracker.State) uow.EntityState {
	switch s {
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
