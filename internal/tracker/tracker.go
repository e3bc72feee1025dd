// Package tracker keeps the state of the entities a session works with
// and the order in which they changed.
package tracker

import (
	"cmp"
	"fmt"
	"reflect"
	"slices"

	"github.com/go-arrower/uow/internal/model"
)

// State of a tracked entity.
type State int

const (
	Detached State = iota
	Unchanged
	Added
	Modified
	Deleted
)

func (s State) String() string {
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

// Entry is one tracked entity. Value is a copy of the entity as a struct value.
type Entry struct {
	Key   model.EntityKey
	Meta  *model.Meta
	Value reflect.Value
	State State

	seq uint64
}

// Tracker is not safe for concurrent use, the same as the session owning it.
type Tracker struct {
	inspector *model.Inspector
	entries   map[model.EntityKey]*Entry
	seq       uint64
}

func New(inspector *model.Inspector) *Tracker {
	return &Tracker{
		inspector: inspector,
		entries:   map[model.EntityKey]*Entry{},
	}
}

func (t *Tracker) entry(entity any) (*Entry, model.EntityKey, *model.Meta, reflect.Value, error) {
	meta, err := t.inspector.Of(entity)
	if err != nil {
		return nil, model.EntityKey{}, nil, reflect.Value{}, err
	}

	key, err := meta.KeyOf(entity)
	if err != nil {
		return nil, model.EntityKey{}, nil, reflect.Value{}, err
	}

	val, err := meta.Struct(entity)
	if err != nil {
		return nil, model.EntityKey{}, nil, reflect.Value{}, err
	}

	return t.entries[key], key, meta, val, nil
}

func (t *Tracker) track(key model.EntityKey, meta *model.Meta, val reflect.Value, state State) {
	t.seq++
	t.entries[key] = &Entry{Key: key, Meta: meta, Value: val, State: state, seq: t.seq}
}

// Add tracks entity as new.
func (t *Tracker) Add(entity any) error {
	e, key, meta, val, err := t.entry(entity)
	if err != nil {
		return err
	}

	if e == nil {
		t.track(key, meta, val, Added)
		return nil
	}

	switch e.State { //nolint:exhaustive // Detached entries are not stored
	case Added:
		e.Value = val
	case Deleted:
		e.Value = val
		e.State = Modified
	default:
		return fmt.Errorf("%w: %s %v", model.ErrAlreadyTracked, meta.Name, key.ID)
	}

	return nil
}

// Attach tracks entity as unchanged. An already tracked entity keeps its state and gets the new value.
func (t *Tracker) Attach(entity any) error {
	e, key, meta, val, err := t.entry(entity)
	if err != nil {
		return err
	}

	if e == nil {
		t.track(key, meta, val, Unchanged)
		return nil
	}

	e.Value = val

	return nil
}

// Modify marks entity as modified, tracking it if required. Added entities stay added.
func (t *Tracker) Modify(entity any) error {
	e, key, meta, val, err := t.entry(entity)
	if err != nil {
		return err
	}

	if e == nil {
		t.track(key, meta, val, Modified)
		return nil
	}

	e.Value = val

	if e.State != Added {
		e.State = Modified
	}

	return nil
}

// Remove marks entity as deleted, tracking it if required.
// Removing an added entity only forgets it.
func (t *Tracker) Remove(entity any) error {
	e, key, meta, val, err := t.entry(entity)
	if err != nil {
		return err
	}

	if e == nil {
		t.track(key, meta, val, Deleted)
		return nil
	}

	if e.State == Added {
		delete(t.entries, key)
		return nil
	}

	e.Value = val
	e.State = Deleted

	return nil
}

// State returns the state of entity, Detached if it is not tracked or invalid.
func (t *Tracker) State(entity any) State {
	e, _, _, _, err := t.entry(entity)
	if err != nil || e == nil {
		return Detached
	}

	return e.State
}

// KeyState returns the state of the entity with key.
func (t *Tracker) KeyState(key model.EntityKey) State {
	if e, ok := t.entries[key]; ok {
		return e.State
	}

	return Detached
}

// Lookup returns a copy of the tracked entity with the given key, if it is tracked and not deleted.
func (t *Tracker) Lookup(key model.EntityKey) (reflect.Value, bool) {
	e, ok := t.entries[key]
	if !ok || e.State == Deleted {
		return reflect.Value{}, false
	}

	cp := reflect.New(e.Meta.Type).Elem()
	cp.Set(e.Value)

	return cp, true
}

// Pending returns the number of added, modified, and deleted entities.
func (t *Tracker) Pending() int {
	n := 0

	for _, e := range t.entries {
		if e.State == Added || e.State == Modified || e.State == Deleted {
			n++
		}
	}

	return n
}

// Changes returns the pending entries in the order they got tracked.
func (t *Tracker) Changes() []Entry {
	changes := make([]Entry, 0, len(t.entries))

	for _, e := range t.entries {
		if e.State == Added || e.State == Modified || e.State == Deleted {
			changes = append(changes, *e)
		}
	}

	slices.SortFunc(changes, func(a, b Entry) int { return cmp.Compare(a.seq, b.seq) })

	return changes
}

// AcceptAll marks all changes as persisted: added and modified entities become unchanged,
// deleted ones are no longer tracked.
func (t *Tracker) AcceptAll() {
	for key, e := range t.entries {
		switch e.State { //nolint:exhaustive // unchanged entries stay as is
		case Added, Modified:
			e.State = Unchanged
		case Deleted:
			delete(t.entries, key)
		}
	}
}

// Clear forgets all tracked entities.
func (t *Tracker) Clear() {
	clear(t.entries)
}
