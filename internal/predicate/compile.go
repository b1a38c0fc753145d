// Package predicate compiles segments into dialect-neutral boolean
// expressions.
package predicate

import (
	"reflect"

	"github.com/aevon-lab/insight/internal/core/model"
	"github.com/aevon-lab/insight/internal/sqlexpr"
)

var comparisons = map[model.Operator]string{
	model.OpEq:   "=",
	model.OpNeq:  "<>",
	model.OpGt:   ">",
	model.OpLt:   "<",
	model.OpGtEq: ">=",
	model.OpLtEq: "<=",
}

// Compile turns a segment into an expression over a single table alias.
// Compilation is pure: the same segment always yields an equal tree.
func Compile(seg model.Segment) (sqlexpr.Expr, error) {
	switch s := seg.(type) {
	case model.SimpleSegment:
		return compileSimple(s)
	case model.ComplexSegment:
		return compileComplex(s)
	case nil:
		return nil, model.NewValidationError("segment", "segment is required")
	}
	return nil, model.NewValidationError("segment", "unknown segment type %T", seg)
}

func compileComplex(s model.ComplexSegment) (sqlexpr.Expr, error) {
	if s.Left == nil || s.Right == nil {
		return nil, model.NewValidationError("segment", "complex segment needs both sides")
	}
	left, err := Compile(s.Left)
	if err != nil {
		return nil, err
	}
	right, err := Compile(s.Right)
	if err != nil {
		return nil, err
	}
	switch s.Op {
	case model.And:
		return sqlexpr.And{Terms: []sqlexpr.Expr{left, right}}, nil
	case model.Or:
		return sqlexpr.Or{Terms: []sqlexpr.Expr{left, right}}, nil
	}
	return nil, model.NewValidationError("segment.operator", "unknown binary operator %s", s.Op)
}

func compileSimple(s model.SimpleSegment) (sqlexpr.Expr, error) {
	event, err := eventCondition(s.Left)
	if err != nil {
		return nil, err
	}
	if s.Operator == model.OpNone {
		return event, nil
	}
	if !s.Left.HasField() {
		return nil, model.NewValidationError("segment.field", "operator %s needs a field (event %s)", s.Operator, s.Left.EventName)
	}

	col := sqlexpr.Column{Field: s.Left.Field}
	var leaf sqlexpr.Expr
	switch op := s.Operator; op {
	case model.OpEq, model.OpNeq, model.OpGt, model.OpLt, model.OpGtEq, model.OpLtEq:
		v, err := scalar(s)
		if err != nil {
			return nil, err
		}
		leaf = sqlexpr.Compare{Left: col, Op: comparisons[op], Right: sqlexpr.Value{V: v}}
	case model.OpLike, model.OpNotLike:
		pattern, ok := s.Right.(string)
		if !ok {
			return nil, model.NewValidationError("segment.right", "%s needs a string pattern, got %T (field %s)", op, s.Right, s.Left.Path())
		}
		leaf = sqlexpr.Like{Expr: col, Pattern: sqlexpr.Value{V: pattern}}
		if op == model.OpNotLike {
			leaf = sqlexpr.Not{Expr: leaf}
		}
	case model.OpAnyOf, model.OpNoneOf:
		values, err := list(s)
		if err != nil {
			return nil, err
		}
		items := make([]sqlexpr.Expr, len(values))
		for i, v := range values {
			items[i] = sqlexpr.Value{V: v}
		}
		leaf = sqlexpr.In{Expr: col, Values: items, Negate: op == model.OpNoneOf}
	case model.OpIsNull, model.OpIsNotNull:
		leaf = sqlexpr.IsNull{Expr: col, Negate: op == model.OpIsNotNull}
	default:
		return nil, model.NewValidationError("segment.operator", "unknown operator %s", op)
	}
	return sqlexpr.AllOf(event, leaf), nil
}

// eventCondition restricts rows to the segment's event. The wildcard and
// tables with an event name alias need no condition.
func eventCondition(def model.EventFieldDef) (sqlexpr.Expr, error) {
	t := def.Table
	switch {
	case def.EventName == "":
		return nil, model.NewValidationError("segment.event_name", "is required (table %s)", t.QualifiedName())
	case def.EventName == model.AnyEvent:
		return sqlexpr.True, nil
	case t.EventNameAlias != "":
		if def.EventName != t.EventNameAlias {
			return nil, model.NewValidationError("segment.event_name", "table %s only holds event %q, not %q",
				t.QualifiedName(), t.EventNameAlias, def.EventName)
		}
		return sqlexpr.True, nil
	case t.EventNameField == "":
		return nil, model.NewValidationError("segment.event_name", "table %s has no event name field", t.QualifiedName())
	}
	return sqlexpr.Compare{
		Left:  sqlexpr.Column{Field: model.Field{Name: t.EventNameField}},
		Op:    "=",
		Right: sqlexpr.Value{V: def.EventName},
	}, nil
}

func scalar(s model.SimpleSegment) (any, error) {
	if s.Right == nil {
		return nil, model.NewValidationError("segment.right", "%s needs a value (field %s)", s.Operator, s.Left.Path())
	}
	if k := reflect.TypeOf(s.Right).Kind(); k == reflect.Slice || k == reflect.Array || k == reflect.Map {
		return nil, model.NewValidationError("segment.right", "%s needs a single value, got %T (field %s)", s.Operator, s.Right, s.Left.Path())
	}
	return s.Right, nil
}

func list(s model.SimpleSegment) ([]any, error) {
	if vs, ok := s.Right.([]any); ok {
		return vs, nil
	}
	rv := reflect.ValueOf(s.Right)
	if s.Right == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, model.NewValidationError("segment.right", "%s needs a list of values, got %T (field %s)", s.Operator, s.Right, s.Left.Path())
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}
