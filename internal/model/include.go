package model

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

// Loader loads related entities for eager loading.
type Loader interface {
	// LoadWhereIn returns all entities of the struct type target,
	// whose field has one of the given (normalised) values.
	// The returned value is a slice of target structs.
	LoadWhereIn(ctx context.Context, target *Meta, field string, values []any) (reflect.Value, error)
}

// SplitPaths splits a comma separated list of include paths,
// ignoring blank segments.
func SplitPaths(paths string) []string {
	result := []string{}

	for _, p := range strings.Split(paths, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		result = append(result, p)
	}

	return result
}

// ValidatePath checks that every segment of the dot separated path is a relation,
// starting at the entity type t.
func (i *Inspector) ValidatePath(t reflect.Type, path string) error {
	for _, segment := range strings.Split(path, ".") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}

		meta, err := i.Of(t)
		if err != nil {
			return err
		}

		rel, ok := meta.Relations[segment]
		if !ok {
			return fmt.Errorf("%w: %s has no relation %s in path %q", ErrUnknownInclude, meta.Name, segment, path)
		}

		t = rel.Target
	}

	return nil
}

// Include eager loads the dot separated relation path into entities.
// entities is a slice of structs or of pointers to structs, its elements are modified in place.
func (i *Inspector) Include(ctx context.Context, loader Loader, entities reflect.Value, path string) error {
	if entities.Kind() != reflect.Slice {
		return fmt.Errorf("%w: include needs a slice, got %s", ErrInvalidEntity, entities.Kind())
	}

	segments := []string{}

	for _, s := range strings.Split(path, ".") {
		if s = strings.TrimSpace(s); s != "" {
			segments = append(segments, s)
		}
	}

	if len(segments) == 0 {
		return nil
	}

	parents := make([]reflect.Value, 0, entities.Len())

	for idx := range entities.Len() {
		e := entities.Index(idx)
		if e.Kind() == reflect.Pointer {
			if e.IsNil() {
				continue
			}

			e = e.Elem()
		}

		parents = append(parents, e)
	}

	return i.include(ctx, loader, entities.Type().Elem(), parents, segments, path)
}

func (i *Inspector) include(
	ctx context.Context,
	loader Loader,
	parentType reflect.Type,
	parents []reflect.Value,
	segments []string,
	path string,
) error {
	if len(parents) == 0 || len(segments) == 0 {
		return nil
	}

	meta, err := i.Of(parentType)
	if err != nil {
		return err
	}

	rel, ok := meta.Relations[segments[0]]
	if !ok {
		return fmt.Errorf("%w: %s has no relation %s in path %q", ErrUnknownInclude, meta.Name, segments[0], path)
	}

	target, err := i.Of(rel.Target)
	if err != nil {
		return fmt.Errorf("%w: relation %s: %v", ErrUnknownInclude, rel.Field, err)
	}

	switch rel.Kind {
	case HasMany:
		return i.includeMany(ctx, loader, meta, target, rel, parents, segments, path)
	case BelongsTo:
		return i.includeOne(ctx, loader, meta, target, rel, parents, segments, path)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownInclude, path)
	}
}

func (i *Inspector) includeMany(
	ctx context.Context,
	loader Loader,
	meta, target *Meta,
	rel Relation,
	parents []reflect.Value,
	segments []string,
	path string,
) error {
	fk, ok := target.Type.FieldByName(rel.ForeignKey)
	if !ok {
		return fmt.Errorf("%w: %s needs the foreign key field %s for %s",
			ErrUnknownInclude, target.Name, rel.ForeignKey, path)
	}

	ids := make([]any, 0, len(parents))
	for _, p := range parents {
		ids = append(ids, Key(p.FieldByIndex(meta.idIndex).Interface()))
	}

	children, err := loader.LoadWhereIn(ctx, target, rel.ForeignKey, ids)
	if err != nil {
		return fmt.Errorf("could not load %s of %s: %w", rel.Field, meta.Name, err)
	}

	childValues := make([]reflect.Value, children.Len())
	for idx := range children.Len() {
		childValues[idx] = children.Index(idx)
	}

	// load deeper levels first, so the children are complete before they are copied into the parents.
	if err := i.include(ctx, loader, target.Type, childValues, segments[1:], path); err != nil {
		return err
	}

	byParent := map[any][]reflect.Value{}
	for _, c := range childValues {
		key := Key(c.FieldByIndex(fk.Index).Interface())
		byParent[key] = append(byParent[key], c)
	}

	for _, p := range parents {
		field := p.FieldByIndex(rel.Index)
		matches := byParent[Key(p.FieldByIndex(meta.idIndex).Interface())]

		slice := reflect.MakeSlice(field.Type(), 0, len(matches))

		for _, c := range matches {
			if rel.Pointer {
				ptr := reflect.New(target.Type)
				ptr.Elem().Set(c)
				slice = reflect.Append(slice, ptr)

				continue
			}

			slice = reflect.Append(slice, c)
		}

		field.Set(slice)
	}

	return nil
}

func (i *Inspector) includeOne(
	ctx context.Context,
	loader Loader,
	meta, target *Meta,
	rel Relation,
	parents []reflect.Value,
	segments []string,
	path string,
) error {
	fk, ok := meta.Type.FieldByName(rel.ForeignKey)
	if !ok {
		return fmt.Errorf("%w: %s needs the foreign key field %s for %s",
			ErrUnknownInclude, meta.Name, rel.ForeignKey, path)
	}

	keys := []any{}
	seen := map[any]struct{}{}

	for _, p := range parents {
		v := p.FieldByIndex(fk.Index)
		if v.IsZero() {
			continue
		}

		key := Key(v.Interface())
		if _, ok := seen[key]; ok {
			continue
		}

		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	if len(keys) == 0 {
		return nil
	}

	related, err := loader.LoadWhereIn(ctx, target, target.IDField, keys)
	if err != nil {
		return fmt.Errorf("could not load %s of %s: %w", rel.Field, meta.Name, err)
	}

	relatedValues := make([]reflect.Value, related.Len())
	for idx := range related.Len() {
		relatedValues[idx] = related.Index(idx)
	}

	if err := i.include(ctx, loader, target.Type, relatedValues, segments[1:], path); err != nil {
		return err
	}

	byID := map[any]reflect.Value{}
	for _, r := range relatedValues {
		byID[Key(r.FieldByIndex(target.idIndex).Interface())] = r
	}

	for _, p := range parents {
		v := p.FieldByIndex(fk.Index)
		if v.IsZero() {
			continue
		}

		r, ok := byID[Key(v.Interface())]
		if !ok {
			continue
		}

		field := p.FieldByIndex(rel.Index)
		if rel.Pointer {
			ptr := reflect.New(target.Type)
			ptr.Elem().Set(r)
			field.Set(ptr)

			continue
		}

		field.Set(r)
	}

	return nil
}
