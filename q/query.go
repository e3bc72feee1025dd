// Package q is a small, store independent language to filter and order entities.
//
// A Query is a tree of conditions on the fields of an entity:
//
//	q.Where("Status").Is("open").And("Total").GreaterThan(100)
//	q.Or(q.Where("Name").Like("A%"), q.Where("Name").Like("B%"))
//	q.F(Order{Status: "open"}) // equality on every non-zero field
//
// Field names are the Go names of the struct fields.
// The in memory engine evaluates a Query with Matches,
// the postgres engine translates it into SQL.
package q

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var ErrInvalidQuery = errors.New("invalid query")

// Operator represents comparison operators.
type Operator string

const (
	Eq   Operator = "="
	Ne   Operator = "!="
	Gt   Operator = ">"
	Gte  Operator = ">="
	Lt   Operator = "<"
	Lte  Operator = "<="
	In   Operator = "IN"
	Like Operator = "LIKE"
)

type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// Query is a filter over an entity type. The zero Query matches everything.
type Query struct {
	Conditions ConditionGroup
}

// ConditionGroup combines its Conditions and nested Groups with Operator.
// An empty Operator is treated as LogicalAnd.
type ConditionGroup struct {
	Operator   LogicalOperator
	Conditions []Cond
	Groups     []ConditionGroup
}

// Cond represents a single condition on one field.
type Cond struct {
	Field    string
	Operator Operator
	Value    any
}

// IsEmpty reports whether the Query has no conditions at all.
func (q Query) IsEmpty() bool {
	return q.Conditions.IsEmpty()
}

// IsEmpty reports whether g and all of its sub groups have no conditions.
// An empty group matches every entity.
func (g ConditionGroup) IsEmpty() bool {
	if len(g.Conditions) > 0 {
		return false
	}

	for _, sub := range g.Groups {
		if !sub.IsEmpty() {
			return false
		}
	}

	return true
}

// Fields returns the names of all fields the Query refers to, in order of appearance.
func (q Query) Fields() []string {
	fields := []string{}
	seen := map[string]struct{}{}

	var walk func(g ConditionGroup)
	walk = func(g ConditionGroup) {
		for _, c := range g.Conditions {
			if _, ok := seen[c.Field]; !ok {
				seen[c.Field] = struct{}{}
				fields = append(fields, c.Field)
			}
		}

		for _, sub := range g.Groups {
			walk(sub)
		}
	}
	walk(q.Conditions)

	return fields
}

func (q Query) String() string {
	return q.Conditions.String()
}

func (g ConditionGroup) String() string {
	op := g.Operator
	if op == "" {
		op = LogicalAnd
	}

	parts := make([]string, 0, len(g.Conditions)+len(g.Groups))
	for _, c := range g.Conditions {
		parts = append(parts, fmt.Sprintf("%s %s %v", c.Field, c.Operator, c.Value))
	}

	for _, sub := range g.Groups {
		parts = append(parts, "("+sub.String()+")")
	}

	return strings.Join(parts, " "+string(op)+" ")
}

// Where starts a new Query with a condition on field.
func Where(field string) *WhereQuery {
	return &WhereQuery{query: Query{Conditions: ConditionGroup{Operator: LogicalAnd}}, field: field}
}

// And adds another condition on field to q, all conditions have to be met.
func (q Query) And(field string) *WhereQuery {
	if q.Conditions.Operator == LogicalOr {
		q = Query{Conditions: ConditionGroup{Operator: LogicalAnd, Groups: []ConditionGroup{q.Conditions}}}
	}

	return &WhereQuery{query: q, field: field}
}

// Or returns a Query that matches, if at least one of the given queries matches.
func Or(queries ...Query) Query {
	group := ConditionGroup{Operator: LogicalOr}

	for _, q := range queries {
		group.Groups = append(group.Groups, q.Conditions)
	}

	return Query{Conditions: group}
}

// WhereQuery is the pending condition on one field, completed by one of its comparison methods.
type WhereQuery struct {
	query Query
	field string
}

func (w *WhereQuery) add(op Operator, value any) Query {
	q := w.query

	conds := make([]Cond, 0, len(q.Conditions.Conditions)+1)
	conds = append(conds, q.Conditions.Conditions...)
	q.Conditions.Conditions = append(conds, Cond{Field: w.field, Operator: op, Value: value})

	return q
}

func (w *WhereQuery) Is(value any) Query                 { return w.add(Eq, value) }
func (w *WhereQuery) IsNot(value any) Query              { return w.add(Ne, value) }
func (w *WhereQuery) GreaterThan(value any) Query        { return w.add(Gt, value) }
func (w *WhereQuery) GreaterThanOrEqual(value any) Query { return w.add(Gte, value) }
func (w *WhereQuery) LessThan(value any) Query           { return w.add(Lt, value) }
func (w *WhereQuery) LessThanOrEqual(value any) Query    { return w.add(Lte, value) }

// In matches, if the field equals one of values.
func (w *WhereQuery) In(values ...any) Query { return w.add(In, values) }

// Like matches strings against a pattern: % matches any sequence, _ a single character.
func (w *WhereQuery) Like(pattern string) Query { return w.add(Like, pattern) }

// F returns a Query matching all entities that equal m in every non-zero field of m.
// F ignores zero values.
func F[T any](m T) Query {
	fv := reflect.Indirect(reflect.ValueOf(m))
	if fv.Kind() != reflect.Struct {
		return Query{}
	}

	ft := fv.Type()

	var conds []Cond

	for i := range fv.NumField() {
		if !ft.Field(i).IsExported() {
			continue
		}

		field := fv.Field(i)
		if field.IsZero() || !field.Type().Comparable() {
			continue
		}

		conds = append(conds, Cond{
			Field:    ft.Field(i).Name,
			Operator: Eq,
			Value:    field.Interface(),
		})
	}

	return Query{Conditions: ConditionGroup{Operator: LogicalAnd, Conditions: conds}}
}

// Order is one sort key.
type Order struct {
	Field      string
	Descending bool
}

func Asc(field string) Order  { return Order{Field: field, Descending: false} }
func Desc(field string) Order { return Order{Field: field, Descending: true} }

func (o Order) String() string {
	if o.Descending {
		return o.Field + " DESC"
	}

	return o.Field + " ASC"
}
