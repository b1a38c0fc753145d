package query

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aevon-lab/insight/internal/core/model"
	"github.com/aevon-lab/insight/internal/core/warehouse"
	"github.com/aevon-lab/insight/internal/dialect"
	"github.com/aevon-lab/insight/internal/sqlexpr"
)

// Kind is the metric kind a query was compiled from.
type Kind int

const (
	KindSegmentation Kind = iota + 1
	KindConversion
)

func (k Kind) String() string {
	switch k {
	case KindSegmentation:
		return "segmentation"
	case KindConversion:
		return "conversion"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

type selectItem struct {
	sql     string
	alias   string
	literal bool // constant; never grouped
}

type join struct {
	table string
	alias string
	on    sqlexpr.Expr
}

// CompiledQuery is the dialect-specific plan of one metric. Render and
// Execute both derive their SQL from it, so displayed and executed SQL never
// diverge.
type CompiledQuery struct {
	dialect       dialect.Dialect
	kind          Kind
	steps         int
	items         []selectItem
	from          string
	joins         []join
	where         sqlexpr.Expr
	whereAlias    string
	grouped       bool
	maxGroupCount int
}

func (q *CompiledQuery) Kind() Kind { return q.kind }

// Steps is the number of funnel steps, 1 for segmentation.
func (q *CompiledQuery) Steps() int { return q.steps }

func (q *CompiledQuery) Dialect() dialect.Dialect { return q.dialect }

// Columns returns the result column names in order.
func (q *CompiledQuery) Columns() []string {
	cols := make([]string, len(q.items))
	for i, it := range q.items {
		cols[i] = it.alias
	}
	return cols
}

// Render returns the SQL with every value inlined as a literal, for display.
func (q *CompiledQuery) Render() string {
	return q.render(dialect.NewBinder(q.dialect, true))
}

// SQL returns the executable SQL and its bind arguments.
func (q *CompiledQuery) SQL() (string, []any) {
	b := dialect.NewBinder(q.dialect, false)
	sql := q.render(b)
	return sql, b.Args()
}

func (q *CompiledQuery) render(b *dialect.Binder) string {
	var sb strings.Builder
	sb.WriteString("SELECT\n")
	for i, it := range q.items {
		sb.WriteString("  " + it.sql + " AS " + q.dialect.QuoteIdent(it.alias))
		if i < len(q.items)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("FROM " + q.from + "\n")
	for _, j := range q.joins {
		sb.WriteString("LEFT JOIN " + j.table + " " + j.alias + "\n")
		sb.WriteString("  ON " + sqlexpr.Render(j.on, b, j.alias) + "\n")
	}
	sb.WriteString("WHERE " + sqlexpr.Render(q.where, b, q.whereAlias))

	var groupBy, orderBy []string
	for i, it := range q.items {
		if it.alias != ColDatetime && it.alias != ColGroup {
			break
		}
		if it.literal {
			continue
		}
		pos := strconv.Itoa(i + 1)
		orderBy = append(orderBy, pos)
		if q.dialect.GroupByStyle() == dialect.GroupByNamed {
			groupBy = append(groupBy, it.sql)
		} else {
			groupBy = append(groupBy, pos)
		}
	}
	if len(groupBy) > 0 {
		sb.WriteString("\nGROUP BY " + strings.Join(groupBy, ", "))
		sb.WriteString("\nORDER BY " + strings.Join(orderBy, ", "))
	}
	return sb.String()
}

// Execute runs the query through an adapter of the same dialect. Result
// columns carry the canonical names, and when MaxGroupCount is set only the
// rows of the top groups are kept.
func (q *CompiledQuery) Execute(ctx context.Context, a *dialect.Adapter) (*warehouse.Result, error) {
	if a.Dialect().Name() != q.dialect.Name() {
		return nil, model.NewValidationError("dialect", "query compiled for %s cannot run on %s", q.dialect.Name(), a.Dialect().Name())
	}
	sql, args := q.SQL()
	res, err := a.ExecuteRendered(ctx, "run_"+q.kind.String(), sql, args, q.Render())
	if err != nil {
		return nil, err
	}
	if len(res.Columns) == len(q.items) {
		res.Columns = q.Columns()
	}
	if q.grouped && q.maxGroupCount > 0 {
		res.Rows = topGroups(res.Rows, q.rankColumn(), q.maxGroupCount)
	}
	return res, nil
}

// rankColumn is the step-1 unique user count, which ranks groups.
func (q *CompiledQuery) rankColumn() int {
	want := ColUniqueUserCount
	if q.kind == KindConversion {
		want = ColUniqueUserCount + "_1"
	}
	for i, it := range q.items {
		if it.alias == want {
			return i
		}
	}
	return -1
}

const groupColumn = 1

// topGroups keeps the rows of the n groups with the most users summed over
// all buckets. Ties are broken by group text.
func topGroups(rows [][]any, rankCol, n int) [][]any {
	totals := make(map[string]float64)
	for _, row := range rows {
		totals[groupKey(row[groupColumn])] += number(row[rankCol])
	}
	if len(totals) <= n {
		return rows
	}
	groups := make([]string, 0, len(totals))
	for g := range totals {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if totals[groups[i]] != totals[groups[j]] {
			return totals[groups[i]] > totals[groups[j]]
		}
		return groups[i] < groups[j]
	})
	keep := make(map[string]bool, n)
	for _, g := range groups[:n] {
		keep[g] = true
	}
	out := make([][]any, 0, len(rows))
	for _, row := range rows {
		if keep[groupKey(row[groupColumn])] {
			out = append(out, row)
		}
	}
	return out
}

// nullGroup keys the SQL NULL group apart from an empty string group.
const nullGroup = "\x00null"

func groupKey(v any) string {
	if v == nil {
		return nullGroup
	}
	return fmt.Sprint(v)
}

func number(v any) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case float64:
		return x
	case int:
		return float64(x)
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	}
	return 0
}
