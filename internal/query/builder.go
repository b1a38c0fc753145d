// Package query compiles metrics into SQL plans for a dialect.
package query

import (
	"fmt"
	"strconv"

	"github.com/aevon-lab/insight/internal/core/model"
	"github.com/aevon-lab/insight/internal/dialect"
	"github.com/aevon-lab/insight/internal/predicate"
	"github.com/aevon-lab/insight/internal/sqlexpr"
)

// Output column names.
const (
	ColDatetime        = "datetime"
	ColGroup           = "group"
	ColConversionRate  = "conversion_rate"
	ColUniqueUserCount = "unique_user_count"
	ColEventCount      = "event_count"
)

const segmentationAlias = "e"

// Builder compiles metrics for one dialect. It holds no mutable state and is
// safe for concurrent use.
type Builder struct {
	dialect dialect.Dialect
}

func NewBuilder(d dialect.Dialect) *Builder {
	return &Builder{dialect: d}
}

// Compile validates the metric and produces its plan. Nothing is executed and
// no partial plan is returned on error.
func (b *Builder) Compile(m model.Metric) (*CompiledQuery, error) {
	switch v := m.(type) {
	case model.Segmentation:
		return b.segmentation(v)
	case *model.Segmentation:
		if v == nil {
			break
		}
		return b.segmentation(*v)
	case model.Conversion:
		return b.conversion(v)
	case *model.Conversion:
		if v == nil {
			break
		}
		return b.conversion(*v)
	}
	return nil, model.NewValidationError("metric", "unsupported metric %T", m)
}

func (b *Builder) segmentation(m model.Segmentation) (*CompiledQuery, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	table, err := model.SegmentTable(m.Segment)
	if err != nil {
		return nil, err
	}
	cfg := m.Config
	if cfg.GroupBy != nil && cfg.GroupBy.Table.QualifiedName() != table.QualifiedName() {
		return nil, model.NewValidationError("config.group_by", "field %s belongs to table %s, segment reads %s",
			cfg.GroupBy.Path(), cfg.GroupBy.Table.QualifiedName(), table.QualifiedName())
	}
	pred, err := predicate.Compile(m.Segment)
	if err != nil {
		return nil, err
	}

	q := b.newQuery(KindSegmentation, 1, cfg)
	if err := q.addDimensions(table, segmentationAlias, cfg); err != nil {
		return nil, err
	}
	user := q.ref(segmentationAlias, table.UserIDField)
	q.addItem("COUNT(DISTINCT "+user+")", ColUniqueUserCount, false)
	q.addItem("COUNT("+user+")", ColEventCount, false)

	q.from = q.dialect.TableRef(table) + " " + segmentationAlias
	q.where = sqlexpr.AllOf(pred, timeWindow(table, cfg))
	q.whereAlias = segmentationAlias
	return q, nil
}

func stepAlias(i int) string {
	return "s" + strconv.Itoa(i)
}

func (b *Builder) conversion(m model.Conversion) (*CompiledQuery, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	cfg := m.Config
	n := len(m.Steps)
	tables := make([]model.EventDataTable, n)
	preds := make([]sqlexpr.Expr, n)
	for i, step := range m.Steps {
		t, err := model.SegmentTable(step)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		pred, err := predicate.Compile(step)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		tables[i], preds[i] = t, pred
	}

	q := b.newQuery(KindConversion, n, cfg)
	first := stepAlias(1)
	// the breakdown always reads step 1, whichever step the field was picked from
	if err := q.addDimensions(tables[0], first, cfg); err != nil {
		return nil, err
	}

	users := make([]string, n)
	for i := range m.Steps {
		users[i] = q.ref(stepAlias(i+1), tables[i].UserIDField)
	}
	rate := fmt.Sprintf("%s / NULLIF(COUNT(DISTINCT %s), 0)",
		q.dialect.ToFloat("COUNT(DISTINCT "+users[n-1]+")"), users[0])
	q.addItem(rate, ColConversionRate, false)
	for i := range m.Steps {
		step := strconv.Itoa(i + 1)
		q.addItem("COUNT(DISTINCT "+users[i]+")", ColUniqueUserCount+"_"+step, false)
		q.addItem("COUNT("+users[i]+")", ColEventCount+"_"+step, false)
	}

	q.from = q.dialect.TableRef(tables[0]) + " " + first
	for i := 1; i < n; i++ {
		prev, cur := stepAlias(i), stepAlias(i+1)
		prevTime := q.timeRef(prev, tables[i-1].EventTimeField)
		curTime := q.timeRef(cur, tables[i].EventTimeField)
		deadline, err := q.dialect.AddInterval(prevTime, m.Window)
		if err != nil {
			return nil, err
		}
		q.joins = append(q.joins, join{
			table: q.dialect.TableRef(tables[i]),
			alias: cur,
			on: sqlexpr.AllOf(
				sqlexpr.Compare{Left: sqlexpr.Raw{SQL: users[i]}, Op: "=", Right: sqlexpr.Raw{SQL: users[i-1]}},
				sqlexpr.Compare{Left: sqlexpr.Raw{SQL: curTime}, Op: ">", Right: sqlexpr.Raw{SQL: prevTime}},
				sqlexpr.Compare{Left: sqlexpr.Raw{SQL: curTime}, Op: "<=", Right: sqlexpr.Raw{SQL: deadline}},
				sqlexpr.Aliased{Alias: cur, Expr: preds[i]},
			),
		})
	}
	q.where = sqlexpr.AllOf(preds[0], timeWindow(tables[0], cfg))
	q.whereAlias = first
	return q, nil
}

func (b *Builder) newQuery(kind Kind, steps int, cfg model.MetricConfig) *CompiledQuery {
	return &CompiledQuery{
		dialect:       b.dialect,
		kind:          kind,
		steps:         steps,
		maxGroupCount: cfg.MaxGroupCount,
		grouped:       cfg.GroupBy != nil,
	}
}

// addDimensions adds the datetime bucket and the group columns.
func (q *CompiledQuery) addDimensions(t model.EventDataTable, alias string, cfg model.MetricConfig) error {
	if cfg.TimeGroup == model.Total {
		q.addItem("NULL", ColDatetime, true)
	} else {
		bucket, err := q.dialect.DateTrunc(cfg.TimeGroup, q.timeRef(alias, t.EventTimeField))
		if err != nil {
			return err
		}
		q.addItem(bucket, ColDatetime, false)
	}
	if cfg.GroupBy != nil {
		q.addItem(q.dialect.ColumnRef(alias, cfg.GroupBy.Field), ColGroup, false)
	} else {
		q.addItem("NULL", ColGroup, true)
	}
	return nil
}

func (q *CompiledQuery) addItem(sql, alias string, literal bool) {
	q.items = append(q.items, selectItem{sql: sql, alias: alias, literal: literal})
}

func (q *CompiledQuery) ref(alias, column string) string {
	return q.dialect.ColumnRef(alias, model.Field{Name: column})
}

func (q *CompiledQuery) timeRef(alias, column string) string {
	return q.dialect.TimeColumn(q.ref(alias, column))
}

// timeWindow restricts event time to [start, end).
func timeWindow(t model.EventDataTable, cfg model.MetricConfig) sqlexpr.Expr {
	ts := sqlexpr.TimeColumn{Field: model.Field{Name: t.EventTimeField}}
	return sqlexpr.And{Terms: []sqlexpr.Expr{
		sqlexpr.Compare{Left: ts, Op: ">=", Right: sqlexpr.Value{V: cfg.Start}},
		sqlexpr.Compare{Left: ts, Op: "<", Right: sqlexpr.Value{V: cfg.End}},
	}}
}
