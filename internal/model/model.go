// Package model inspects entity structs: their primary key, columns, and relations.
package model

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/fatih/camelcase"
)

// DefaultIDField is the name of the field used as primary key, if not configured otherwise.
const DefaultIDField = "ID"

// Tabler can be implemented by an entity to overwrite its default table name.
type Tabler interface {
	TableName() string
}

type RelationKind int

const (
	// HasMany is a slice of entities, each carrying a foreign key to the parent.
	HasMany RelationKind = iota + 1
	// BelongsTo is a single entity, the parent carries its foreign key.
	BelongsTo
)

// Relation describes a field that can be eager loaded.
type Relation struct {
	Field   string
	Index   []int
	Kind    RelationKind
	Target  reflect.Type // struct type of the related entity
	Pointer bool         // elements (HasMany) or the field (BelongsTo) are pointers

	// ForeignKey is the field name holding the key:
	// on Target for HasMany, on the parent for BelongsTo.
	ForeignKey string
}

type Column struct {
	Field string
	Name  string
	Index []int
}

// Meta is the metadata of one entity type.
type Meta struct {
	Type      reflect.Type
	Name      string
	Table     string
	IDField   string
	IDColumn  string
	idIndex   []int
	Columns   []Column
	Relations map[string]Relation
}

// Inspector builds and caches Meta for entity types.
type Inspector struct {
	idField string
	cache   sync.Map // reflect.Type -> *Meta
}

func NewInspector(idField string) *Inspector {
	if strings.TrimSpace(idField) == "" {
		idField = DefaultIDField
	}

	return &Inspector{idField: idField}
}

func (i *Inspector) IDField() string {
	return i.idField
}

// Of returns the Meta of entity, which can be a struct, a pointer to one, or a reflect.Type of either.
func (i *Inspector) Of(entity any) (*Meta, error) {
	var t reflect.Type

	switch e := entity.(type) {
	case reflect.Type:
		t = e
	case reflect.Value:
		t = e.Type()
	default:
		t = reflect.TypeOf(entity)
	}

	if t == nil {
		return nil, fmt.Errorf("%w: nil", ErrInvalidEntity)
	}

	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if m, ok := i.cache.Load(t); ok {
		return m.(*Meta), nil //nolint:forcetypeassert // only *Meta is stored
	}

	m, err := i.inspect(t)
	if err != nil {
		return nil, err
	}

	actual, _ := i.cache.LoadOrStore(t, m)

	return actual.(*Meta), nil //nolint:forcetypeassert // only *Meta is stored
}

func (i *Inspector) inspect(t reflect.Type) (*Meta, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s is not a struct", ErrInvalidEntity, t)
	}

	idField, ok := t.FieldByName(i.idField)
	if !ok || !idField.IsExported() {
		return nil, fmt.Errorf("%w: %s does not have the field with name: %s", ErrInvalidEntity, t.Name(), i.idField)
	}

	if !isKeyKind(idField.Type) {
		return nil, fmt.Errorf("%w: type of ID is not supported: %s", ErrInvalidEntity, idField.Type)
	}

	m := &Meta{
		Type:      t,
		Name:      t.Name(),
		Table:     tableName(t),
		IDField:   i.idField,
		IDColumn:  columnName(idField),
		idIndex:   idField.Index,
		Columns:   []Column{},
		Relations: map[string]Relation{},
	}

	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() || f.Anonymous {
			continue
		}

		if rel, ok := i.relation(t, f); ok {
			m.Relations[f.Name] = rel
			continue
		}

		if f.Tag.Get("db") == "-" {
			continue
		}

		m.Columns = append(m.Columns, Column{Field: f.Name, Name: columnName(f), Index: f.Index})
	}

	return m, nil
}

var timeType = reflect.TypeOf(time.Time{})

func (i *Inspector) relation(parent reflect.Type, f reflect.StructField) (Relation, bool) {
	typ := f.Type

	switch {
	case typ.Kind() == reflect.Slice && typ.Elem().Kind() != reflect.Uint8:
		elem, ptr := typ.Elem(), false
		if elem.Kind() == reflect.Pointer {
			elem, ptr = elem.Elem(), true
		}

		if !i.isEntity(elem) {
			return Relation{}, false
		}

		return Relation{
			Field:      f.Name,
			Index:      f.Index,
			Kind:       HasMany,
			Target:     elem,
			Pointer:    ptr,
			ForeignKey: parent.Name() + i.idField,
		}, true
	case typ.Kind() == reflect.Struct || (typ.Kind() == reflect.Pointer && typ.Elem().Kind() == reflect.Struct):
		elem, ptr := typ, false
		if elem.Kind() == reflect.Pointer {
			elem, ptr = elem.Elem(), true
		}

		if elem == timeType || !i.isEntity(elem) {
			return Relation{}, false
		}

		return Relation{
			Field:      f.Name,
			Index:      f.Index,
			Kind:       BelongsTo,
			Target:     elem,
			Pointer:    ptr,
			ForeignKey: f.Name + i.idField,
		}, true
	default:
		return Relation{}, false
	}
}

func (i *Inspector) isEntity(t reflect.Type) bool {
	if t.Kind() != reflect.Struct {
		return false
	}

	f, ok := t.FieldByName(i.idField)

	return ok && f.IsExported() && isKeyKind(f.Type)
}

func isKeyKind(t reflect.Type) bool {
	switch t.Kind() { //nolint:exhaustive // only the supported key kinds
	case reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	default:
		return false
	}
}

func tableName(t reflect.Type) string {
	if tabler, ok := reflect.New(t).Interface().(Tabler); ok {
		return tabler.TableName()
	}

	if tabler, ok := reflect.Zero(t).Interface().(Tabler); ok {
		return tabler.TableName()
	}

	return strings.ToLower(t.Name())
}

func columnName(f reflect.StructField) string {
	if tag := f.Tag.Get("db"); tag != "" && tag != "-" {
		return tag
	}

	return SnakeCase(f.Name)
}

// SnakeCase converts a Go identifier into its snake_case column name, e.g. CustomerID => customer_id.
func SnakeCase(name string) string {
	words := camelcase.Split(name)
	parts := make([]string, 0, len(words))

	for _, w := range words {
		if strings.TrimFunc(w, func(r rune) bool { return r == '_' || unicode.IsSpace(r) }) == "" {
			continue
		}

		parts = append(parts, strings.ToLower(w))
	}

	return strings.Join(parts, "_")
}

// ID returns the primary key of entity, normalised with Key.
func (m *Meta) ID(entity any) (any, error) {
	val, err := m.value(entity)
	if err != nil {
		return nil, err
	}

	id := val.FieldByIndex(m.idIndex)
	if id.IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrMissingID, m.Name)
	}

	return Key(id.Interface()), nil
}

// RawID returns the primary key of entity as stored in the struct, without normalising it.
func (m *Meta) RawID(entity any) (any, error) {
	val, err := m.value(entity)
	if err != nil {
		return nil, err
	}

	return val.FieldByIndex(m.idIndex).Interface(), nil
}

// Values returns the column values of entity in the order of Columns.
func (m *Meta) Values(entity any) ([]any, error) {
	val, err := m.value(entity)
	if err != nil {
		return nil, err
	}

	values := make([]any, len(m.Columns))
	for i, c := range m.Columns {
		values[i] = val.FieldByIndex(c.Index).Interface()
	}

	return values, nil
}

// ColumnOf returns the column name of the Go field name.
func (m *Meta) ColumnOf(field string) (string, bool) {
	for _, c := range m.Columns {
		if c.Field == field {
			return c.Name, true
		}
	}

	return "", false
}

// ColumnNames returns the names of all columns.
func (m *Meta) ColumnNames() []string {
	names := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		names[i] = c.Name
	}

	return names
}

func (m *Meta) value(entity any) (reflect.Value, error) {
	val, ok := entity.(reflect.Value)
	if !ok {
		val = reflect.ValueOf(entity)
	}

	for val.IsValid() && val.Kind() == reflect.Pointer {
		if val.IsNil() {
			return reflect.Value{}, fmt.Errorf("%w: nil %s", ErrInvalidEntity, m.Name)
		}

		val = val.Elem()
	}

	if !val.IsValid() {
		return reflect.Value{}, fmt.Errorf("%w: expected %s, got nil", ErrInvalidEntity, m.Type)
	}

	if val.Type() != m.Type {
		return reflect.Value{}, fmt.Errorf("%w: expected %s, got %s", ErrInvalidEntity, m.Type, val.Type())
	}

	return val, nil
}

// Struct returns a copy of entity as a struct value, dereferencing pointers.
func (m *Meta) Struct(entity any) (reflect.Value, error) {
	val, err := m.value(entity)
	if err != nil {
		return reflect.Value{}, err
	}

	cp := reflect.New(m.Type).Elem()
	cp.Set(val)

	return cp, nil
}

// Row returns a copy of entity with all relation fields set to their zero value,
// as it is stored as one record.
func (m *Meta) Row(entity any) (reflect.Value, error) {
	row, err := m.Struct(entity)
	if err != nil {
		return reflect.Value{}, err
	}

	for _, rel := range m.Relations {
		f := row.FieldByIndex(rel.Index)
		f.Set(reflect.Zero(f.Type()))
	}

	return row, nil
}

// Key normalises an id or foreign key value, so that named types and
// different integer sizes of the same value compare equal as map keys.
func Key(v any) any {
	val := reflect.ValueOf(v)
	for val.IsValid() && val.Kind() == reflect.Pointer {
		if val.IsNil() {
			return nil
		}

		val = val.Elem()
	}

	if !val.IsValid() {
		return nil
	}

	switch val.Kind() { //nolint:exhaustive // other kinds are returned unchanged
	case reflect.String:
		return val.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return val.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if u := val.Uint(); u <= 1<<63-1 {
			return int64(u)
		}

		return val.Uint()
	default:
		return val.Interface()
	}
}

// EntityKey identifies one entity across all types.
type EntityKey struct {
	Type string
	ID   any
}

func (m *Meta) KeyOf(entity any) (EntityKey, error) {
	id, err := m.ID(entity)
	if err != nil {
		return EntityKey{}, err
	}

	return EntityKey{Type: m.Type.PkgPath() + "." + m.Name, ID: id}, nil
}

// KeyFor builds the EntityKey for a raw id of this entity type.
func (m *Meta) KeyFor(id any) EntityKey {
	return EntityKey{Type: m.Type.PkgPath() + "." + m.Name, ID: Key(id)}
}
