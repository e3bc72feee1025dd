package q

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"
)

// Matches evaluates q against entity, a struct or pointer to a struct.
func (q Query) Matches(entity any) (bool, error) {
	val := reflect.Indirect(reflect.ValueOf(entity))
	if val.Kind() != reflect.Struct {
		return false, fmt.Errorf("%w: entity is not a struct: %T", ErrInvalidQuery, entity)
	}

	return q.Conditions.matches(val)
}

func (g ConditionGroup) matches(val reflect.Value) (bool, error) {
	isOr := g.Operator == LogicalOr

	if len(g.Conditions) == 0 && len(g.Groups) == 0 {
		return true, nil
	}

	for _, c := range g.Conditions {
		ok, err := c.matches(val)
		if err != nil {
			return false, err
		}

		if isOr && ok {
			return true, nil
		}

		if !isOr && !ok {
			return false, nil
		}
	}

	for _, sub := range g.Groups {
		ok, err := sub.matches(val)
		if err != nil {
			return false, err
		}

		if isOr && ok {
			return true, nil
		}

		if !isOr && !ok {
			return false, nil
		}
	}

	return !isOr, nil
}

func (c Cond) matches(entity reflect.Value) (bool, error) {
	field, err := fieldByName(entity, c.Field)
	if err != nil {
		return false, err
	}

	switch c.Operator {
	case Eq:
		return equal(field, c.Value), nil
	case Ne:
		return !equal(field, c.Value), nil
	case In:
		values := reflect.ValueOf(c.Value)
		if values.Kind() != reflect.Slice {
			return equal(field, c.Value), nil
		}

		for i := range values.Len() {
			if equal(field, values.Index(i).Interface()) {
				return true, nil
			}
		}

		return false, nil
	case Like:
		pattern, ok := c.Value.(string)
		if !ok {
			return false, fmt.Errorf("%w: LIKE needs a string pattern, got %T", ErrInvalidQuery, c.Value)
		}

		s, ok := asString(field)
		if !ok {
			return false, fmt.Errorf("%w: LIKE on non string field %s", ErrInvalidQuery, c.Field)
		}

		return likeToRegexp(pattern).MatchString(s), nil
	case Gt, Gte, Lt, Lte:
		cmp, err := compare(field, reflect.ValueOf(c.Value))
		if err != nil {
			return false, fmt.Errorf("%w: field %s", err, c.Field)
		}

		switch c.Operator { //nolint:exhaustive // only ordering operators reach here
		case Gt:
			return cmp > 0, nil
		case Gte:
			return cmp >= 0, nil
		case Lt:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	}

	return false, fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, c.Operator)
}

// Compare orders a and b by the given keys, applied in sequence.
// It returns a negative number if a sorts before b, a positive number if after, and zero if equal.
func Compare(a, b any, orders ...Order) (int, error) {
	va := reflect.Indirect(reflect.ValueOf(a))
	vb := reflect.Indirect(reflect.ValueOf(b))

	for _, o := range orders {
		fa, err := fieldByName(va, o.Field)
		if err != nil {
			return 0, err
		}

		fb, err := fieldByName(vb, o.Field)
		if err != nil {
			return 0, err
		}

		cmp, err := compare(fa, fb)
		if err != nil {
			return 0, fmt.Errorf("%w: order by %s", err, o.Field)
		}

		if o.Descending {
			cmp = -cmp
		}

		if cmp != 0 {
			return cmp, nil
		}
	}

	return 0, nil
}

func fieldByName(entity reflect.Value, name string) (reflect.Value, error) {
	if entity.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("%w: not a struct: %s", ErrInvalidQuery, entity.Kind())
	}

	f, ok := entity.Type().FieldByName(name)
	if !ok || !f.IsExported() {
		return reflect.Value{}, fmt.Errorf("%w: unknown field %s on %s", ErrInvalidQuery, name, entity.Type().Name())
	}

	return entity.FieldByIndex(f.Index), nil
}

func equal(field reflect.Value, value any) bool {
	field = deref(field)
	other := deref(reflect.ValueOf(value))

	if !field.IsValid() || !other.IsValid() {
		return !field.IsValid() && !other.IsValid()
	}

	if cmp, err := compare(field, other); err == nil {
		return cmp == 0
	}

	return reflect.DeepEqual(field.Interface(), other.Interface())
}

func deref(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}

		v = v.Elem()
	}

	return v
}

var timeType = reflect.TypeOf(time.Time{})

//nolint:cyclop // one case per kind family
func compare(a, b reflect.Value) (int, error) {
	a, b = deref(a), deref(b)

	switch {
	case !a.IsValid() && !b.IsValid():
		return 0, nil
	case !a.IsValid():
		return -1, nil
	case !b.IsValid():
		return 1, nil
	}

	if a.Type() == timeType && b.Type() == timeType {
		ta, _ := a.Interface().(time.Time)
		tb, _ := b.Interface().(time.Time)

		return ta.Compare(tb), nil
	}

	switch {
	case isInt(a) && isInt(b):
		return cmpOrdered(a.Int(), b.Int()), nil
	case isUint(a) && isUint(b):
		return cmpOrdered(a.Uint(), b.Uint()), nil
	case isNumber(a) && isNumber(b):
		return cmpOrdered(toFloat(a), toFloat(b)), nil
	case a.Kind() == reflect.String && b.Kind() == reflect.String:
		return strings.Compare(a.String(), b.String()), nil
	case a.Kind() == reflect.Bool && b.Kind() == reflect.Bool:
		return cmpBool(a.Bool(), b.Bool()), nil
	}

	return 0, fmt.Errorf("%w: cannot compare %s with %s", ErrInvalidQuery, a.Type(), b.Type())
}

func isInt(v reflect.Value) bool {
	switch v.Kind() { //nolint:exhaustive // only ints
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	default:
		return false
	}
}

func isUint(v reflect.Value) bool {
	switch v.Kind() { //nolint:exhaustive // only uints
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	default:
		return false
	}
}

func isNumber(v reflect.Value) bool {
	return isInt(v) || isUint(v) || v.Kind() == reflect.Float32 || v.Kind() == reflect.Float64
}

func toFloat(v reflect.Value) float64 {
	switch {
	case isInt(v):
		return float64(v.Int())
	case isUint(v):
		return float64(v.Uint())
	default:
		return v.Float()
	}
}

func cmpOrdered[T int64 | uint64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

func asString(v reflect.Value) (string, bool) {
	v = deref(v)
	if !v.IsValid() || v.Kind() != reflect.String {
		return "", false
	}

	return v.String(), true
}

func likeToRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder

	b.WriteString("^")

	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}

	b.WriteString("$")

	return regexp.MustCompile("(?s)" + b.String())
}
