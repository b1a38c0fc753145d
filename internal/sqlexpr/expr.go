// Package sqlexpr is a small boolean expression tree that renders to SQL for
// any dialect. Predicates are compiled into it once and rendered wherever
// they are needed: in a WHERE clause or inside a join condition under a
// different table alias.
package sqlexpr

import (
	"strings"

	"github.com/aevon-lab/insight/internal/core/model"
	"github.com/aevon-lab/insight/internal/dialect"
)

// Expr is a node of the tree. The interface is sealed; every node renders
// itself fully parenthesized so operator precedence never matters.
type Expr interface {
	render(r *renderer) string
}

type renderer struct {
	binder *dialect.Binder
	alias  string
}

func (r *renderer) dialect() dialect.Dialect {
	return r.binder.Dialect()
}

// Render renders e for the binder's dialect. Unqualified columns refer to
// alias. Values are bound through the binder in rendering order.
func Render(e Expr, b *dialect.Binder, alias string) string {
	return e.render(&renderer{binder: b, alias: alias})
}

// Column is a field of the current table alias.
type Column struct {
	Field model.Field
}

func (c Column) render(r *renderer) string {
	return r.dialect().ColumnRef(r.alias, c.Field)
}

// TimeColumn is an event time column, normalized for comparisons.
type TimeColumn struct {
	Field model.Field
}

func (c TimeColumn) render(r *renderer) string {
	return r.dialect().TimeColumn(r.dialect().ColumnRef(r.alias, c.Field))
}

// Value is a bound parameter.
type Value struct {
	V any
}

func (v Value) render(r *renderer) string {
	return r.binder.Bind(v.V)
}

// Raw is SQL text emitted as is.
type Raw struct {
	SQL string
}

func (x Raw) render(*renderer) string {
	return x.SQL
}

// Compare is a binary comparison such as = or >=.
type Compare struct {
	Left  Expr
	Op    string
	Right Expr
}

func (c Compare) render(r *renderer) string {
	return "(" + c.Left.render(r) + " " + c.Op + " " + c.Right.render(r) + ")"
}

// Like is a pattern match.
type Like struct {
	Expr    Expr
	Pattern Expr
}

func (l Like) render(r *renderer) string {
	return "(" + l.Expr.render(r) + " LIKE " + l.Pattern.render(r) + ")"
}

// Not negates its operand.
type Not struct {
	Expr Expr
}

func (n Not) render(r *renderer) string {
	return "(NOT " + n.Expr.render(r) + ")"
}

// In tests membership in a literal list. An empty list matches nothing, or
// everything when negated.
type In struct {
	Expr   Expr
	Values []Expr
	Negate bool
}

func (in In) render(r *renderer) string {
	if len(in.Values) == 0 {
		return Bool(in.Negate).render(r)
	}
	items := make([]string, len(in.Values))
	for i, v := range in.Values {
		items[i] = v.render(r)
	}
	op := " IN ("
	if in.Negate {
		op = " NOT IN ("
	}
	return "(" + in.Expr.render(r) + op + strings.Join(items, ", ") + "))"
}

// IsNull is a null test.
type IsNull struct {
	Expr   Expr
	Negate bool
}

func (n IsNull) render(r *renderer) string {
	if n.Negate {
		return "(" + n.Expr.render(r) + " IS NOT NULL)"
	}
	return "(" + n.Expr.render(r) + " IS NULL)"
}

// Bool is a constant condition, written portably as (1 = 1) or (1 = 0).
type Bool bool

const (
	True  = Bool(true)
	False = Bool(false)
)

func (b Bool) render(*renderer) string {
	if b {
		return "(1 = 1)"
	}
	return "(1 = 0)"
}

// And is a conjunction. An empty And is true.
type And struct {
	Terms []Expr
}

func (a And) render(r *renderer) string {
	return junction(r, a.Terms, " AND ", True)
}

// Or is a disjunction. An empty Or is false.
type Or struct {
	Terms []Expr
}

func (o Or) render(r *renderer) string {
	return junction(r, o.Terms, " OR ", False)
}

func junction(r *renderer, terms []Expr, sep string, empty Bool) string {
	switch len(terms) {
	case 0:
		return empty.render(r)
	case 1:
		return terms[0].render(r)
	}
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = t.render(r)
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// Aliased renders Expr against another table alias.
type Aliased struct {
	Alias string
	Expr  Expr
}

func (a Aliased) render(r *renderer) string {
	return a.Expr.render(&renderer{binder: r.binder, alias: a.Alias})
}

// AllOf joins terms with AND, dropping constant true terms.
func AllOf(terms ...Expr) Expr {
	kept := make([]Expr, 0, len(terms))
	for _, t := range terms {
		if b, ok := t.(Bool); ok && bool(b) {
			continue
		}
		kept = append(kept, t)
	}
	if len(kept) == 1 {
		return kept[0]
	}
	return And{Terms: kept}
}
