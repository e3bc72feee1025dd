package model

import (
	"fmt"
	"reflect"
)

// TargetType returns the entity struct type a destination points to.
// dst can be *T, **T, *[]T, or *[]*T, with T being a struct.
func TargetType(dst any) (reflect.Type, error) {
	t := reflect.TypeOf(dst)
	if t == nil || t.Kind() != reflect.Pointer {
		return nil, fmt.Errorf("%w: destination must be a pointer, got %T", ErrInvalidEntity, dst)
	}

	t = t.Elem()
	if t.Kind() == reflect.Slice {
		t = t.Elem()
	}

	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: destination must point to a struct, got %T", ErrInvalidEntity, dst)
	}

	return t, nil
}

// Assign sets the struct value v into dst, which is *T or **T.
func Assign(dst any, v reflect.Value) error {
	ptr := reflect.ValueOf(dst)
	if ptr.Kind() != reflect.Pointer || ptr.IsNil() {
		return fmt.Errorf("%w: destination must be a non nil pointer, got %T", ErrInvalidEntity, dst)
	}

	target := ptr.Elem()

	switch {
	case target.Type() == v.Type():
		target.Set(v)
	case target.Kind() == reflect.Pointer && target.Type().Elem() == v.Type():
		p := reflect.New(v.Type())
		p.Elem().Set(v)
		target.Set(p)
	default:
		return fmt.Errorf("%w: cannot assign %s to %T", ErrInvalidEntity, v.Type(), dst)
	}

	return nil
}

// Fill replaces the slice dst points to (*[]T or *[]*T) with values, which are struct values of T.
// The resulting slice is never nil.
func Fill(dst any, values []reflect.Value) error {
	ptr := reflect.ValueOf(dst)
	if ptr.Kind() != reflect.Pointer || ptr.IsNil() || ptr.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("%w: destination must be a pointer to a slice, got %T", ErrInvalidEntity, dst)
	}

	sliceType := ptr.Elem().Type()
	elemType := sliceType.Elem()
	slice := reflect.MakeSlice(sliceType, 0, len(values))

	for _, v := range values {
		switch {
		case elemType == v.Type():
			slice = reflect.Append(slice, v)
		case elemType.Kind() == reflect.Pointer && elemType.Elem() == v.Type():
			p := reflect.New(v.Type())
			p.Elem().Set(v)
			slice = reflect.Append(slice, p)
		default:
			return fmt.Errorf("%w: cannot append %s to %T", ErrInvalidEntity, v.Type(), dst)
		}
	}

	ptr.Elem().Set(slice)

	return nil
}
