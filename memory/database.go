// Package memory is an in memory persistence engine for the unit of work.
//
// A Database holds the committed entities of all types, in insertion order.
// Sessions track changes and apply them to the Database atomically on Commit.
// Optionally, a Store persists the committed data, e.g. JSONStore.
//
// Use it for unit tests and prototyping, the consistency is not on par with a RDBMS.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"slices"
	"sync"

	"github.com/go-arrower/uow"
	"github.com/go-arrower/uow/alog"
	"github.com/go-arrower/uow/internal/model"
	"github.com/go-arrower/uow/internal/tracker"
)

// Option configures a Database.
type Option func(*Database)

// WithStore sets a Store used to persist the committed data.
func WithStore(store Store) Option {
	return func(db *Database) {
		if store != nil {
			db.store = store
		}
	}
}

// WithIDField sets the name of the field used as primary key. The default is "ID".
func WithIDField(name string) Option {
	return func(db *Database) {
		db.inspector = model.NewInspector(name)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(db *Database) {
		if logger != nil {
			db.logger = logger
		}
	}
}

// Database holds the committed data. It is safe for concurrent use.
type Database struct {
	inspector *model.Inspector
	store     Store
	logger    alog.Logger

	mu     sync.RWMutex
	tables map[reflect.Type]*table
}

type table struct {
	meta  *model.Meta
	rows  map[any]reflect.Value // by normalised id
	order []any                 // ids in insertion order
}

func (t *table) clone() *table {
	rows := make(map[any]reflect.Value, len(t.rows))
	for k, v := range t.rows {
		rows[k] = v
	}

	return &table{meta: t.meta, rows: rows, order: slices.Clone(t.order)}
}

func (t *table) values() []reflect.Value {
	values := make([]reflect.Value, 0, len(t.order))
	for _, id := range t.order {
		values = append(values, copyOf(t.rows[id]))
	}

	return values
}

func NewDatabase(opts ...Option) *Database {
	db := &Database{
		inspector: model.NewInspector(model.DefaultIDField),
		store:     noopStore{},
		logger:    alog.NewNoop(),
		tables:    map[reflect.Type]*table{},
	}

	for _, opt := range opts {
		opt(db)
	}

	return db
}

// Session returns a new Session working on the Database.
func (db *Database) Session() *Session {
	return &Session{db: db, tracker: tracker.New(db.inspector)}
}

// Open returns a new Session, it implements uow.SessionOpener.
func (db *Database) Open(ctx context.Context) (uow.Session, error) { //nolint:ireturn // required by uow.SessionOpener
	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck // return the ctx error as is
	}

	return db.Session(), nil
}

// table returns the table of meta, loading it from the store on first access.
// The caller has to hold the write lock.
func (db *Database) table(meta *model.Meta) (*table, error) {
	if t, ok := db.tables[meta.Type]; ok {
		return t, nil
	}

	t := &table{meta: meta, rows: map[any]reflect.Value{}, order: []any{}}

	data := reflect.New(reflect.SliceOf(meta.Type))

	err := db.store.Load(fileName(meta), data.Interface())
	if err != nil && !errors.Is(err, os.ErrNotExist) && !errors.Is(err, errNothingStored) {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoad, meta.Name, err)
	}

	for i := range data.Elem().Len() {
		row := data.Elem().Index(i)

		id, err := meta.ID(row)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoad, meta.Name, err)
		}

		if _, exists := t.rows[id]; !exists {
			t.order = append(t.order, id)
		}

		t.rows[id] = copyOf(row)
	}

	db.tables[meta.Type] = t

	return t, nil
}

// read returns copies of all committed entities of meta in insertion order.
func (db *Database) read(meta *model.Meta) ([]reflect.Value, error) {
	db.mu.RLock()
	if t, ok := db.tables[meta.Type]; ok {
		defer db.mu.RUnlock()

		return t.values(), nil
	}
	db.mu.RUnlock()

	db.mu.Lock()
	defer db.mu.Unlock()

	t, err := db.table(meta)
	if err != nil {
		return nil, err
	}

	return t.values(), nil
}

func (db *Database) get(meta *model.Meta, id any) (reflect.Value, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	t, err := db.table(meta)
	if err != nil {
		return reflect.Value{}, false, err
	}

	row, ok := t.rows[model.Key(id)]
	if !ok {
		return reflect.Value{}, false, nil
	}

	return copyOf(row), true, nil
}

// apply applies all changes or none of them.
func (db *Database) apply(ctx context.Context, changes []tracker.Entry) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	staged := map[reflect.Type]*table{}
	types := []reflect.Type{}

	for _, change := range changes {
		t, ok := staged[change.Meta.Type]
		if !ok {
			committed, err := db.table(change.Meta)
			if err != nil {
				return err
			}

			t = committed.clone()
			staged[change.Meta.Type] = t
			types = append(types, change.Meta.Type)
		}

		if err := stage(t, change); err != nil {
			return err
		}
	}

	stored := []reflect.Type{}

	for _, typ := range types {
		if err := db.persist(staged[typ]); err != nil {
			// best effort to restore the files already written
			for _, s := range stored {
				_ = db.persist(db.tables[s])
			}

			return err
		}

		stored = append(stored, typ)
	}

	for _, typ := range types {
		db.tables[typ] = staged[typ]
	}

	db.logger.Log(ctx, alog.LevelDebug, "memory: applied changes",
		slog.Int("changes", len(changes)),
		slog.Int("tables", len(types)),
	)

	return nil
}

func stage(t *table, change tracker.Entry) error {
	id := change.Key.ID
	_, exists := t.rows[id]

	switch change.State { //nolint:exhaustive // only pending states are changes
	case tracker.Added:
		if exists {
			return fmt.Errorf("%w: %s %v", model.ErrAlreadyExists, t.meta.Name, id)
		}

		row, err := t.meta.Row(change.Value)
		if err != nil {
			return err
		}

		t.rows[id] = row
		t.order = append(t.order, id)
	case tracker.Modified:
		if !exists {
			return fmt.Errorf("%w: could not update %s %v", model.ErrNotFound, t.meta.Name, id)
		}

		row, err := t.meta.Row(change.Value)
		if err != nil {
			return err
		}

		t.rows[id] = row
	case tracker.Deleted:
		if !exists {
			return fmt.Errorf("%w: could not delete %s %v", model.ErrNotFound, t.meta.Name, id)
		}

		delete(t.rows, id)
		t.order = slices.DeleteFunc(t.order, func(o any) bool { return o == id })
	}

	return nil
}

func (db *Database) persist(t *table) error {
	data := reflect.MakeSlice(reflect.SliceOf(t.meta.Type), 0, len(t.order))
	for _, id := range t.order {
		data = reflect.Append(data, t.rows[id])
	}

	if err := db.store.Store(fileName(t.meta), data.Interface()); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStore, t.meta.Name, err)
	}

	return nil
}

func fileName(meta *model.Meta) string {
	return meta.Name + ".json"
}

func copyOf(v reflect.Value) reflect.Value {
	cp := reflect.New(v.Type()).Elem()
	cp.Set(v)

	return cp
}
