package dialect

import (
	"context"

	"github.com/aevon-lab/insight/internal/core/model"
	"github.com/aevon-lab/insight/internal/core/warehouse"
)

// GroupByStyle says how GROUP BY refers to select items.
type GroupByStyle int

const (
	// GroupByOrdinal references select items by position: GROUP BY 1, 2.
	GroupByOrdinal GroupByStyle = iota
	// GroupByNamed repeats the grouped expressions.
	GroupByNamed
)

// Dialect encapsulates every SQL text difference between warehouses.
// Implementations embed ANSI and override only what differs.
type Dialect interface {
	Name() string

	QuoteIdent(name string) string
	TableRef(t model.EventDataTable) string
	// ColumnRef renders access to a field, including struct members and map keys.
	ColumnRef(alias string, f model.Field) string

	// Placeholder returns the bind marker for the n-th argument, 1-based.
	Placeholder(n int) string
	// InlineArgs reports whether values must be rendered as literals because
	// the engine has no bind parameters.
	InlineArgs() bool
	// BindArg converts a value into what the driver expects.
	BindArg(v any) any
	Literal(v any) string

	// TimeColumn normalizes an event time expression before comparisons.
	TimeColumn(expr string) string
	DateTrunc(g model.TimeGroup, expr string) (string, error)
	AddInterval(expr string, w model.TimeWindow) (string, error)

	// DistinctArrayAgg aggregates distinct values into something DecodeArray
	// understands. The encoding is private to the dialect.
	DistinctArrayAgg(expr string) string
	DecodeArray(v any) ([]any, error)
	// MapKeysAgg aggregates the distinct keys of a MAP column.
	MapKeysAgg(expr string) (string, error)
	// ToFloat casts an integer expression so division does not truncate.
	ToFloat(expr string) string

	GroupByStyle() GroupByStyle

	// ColumnsQuery lists (column name, native type) pairs of a table.
	ColumnsQuery(t model.EventDataTable, b *Binder) string
	ParseType(native string) (model.Field, error)
}

// For returns the dialect of a connection type.
func For(t model.ConnectionType) (Dialect, error) {
	switch t {
	case model.ConnPostgres:
		return NewPostgres(), nil
	case model.ConnSQLite, model.ConnLibSQL:
		return NewSQLite(), nil
	case model.ConnDuckDB:
		return NewDuckDB(), nil
	case model.ConnMySQL:
		return NewMySQL(), nil
	case model.ConnTrino:
		return NewTrino(), nil
	case model.ConnAthena:
		return NewAthena(), nil
	case model.ConnDatabricks:
		return NewDatabricks(), nil
	}
	return nil, &model.UnsupportedFeatureError{Dialect: string(t), Feature: "connection type"}
}

// Connect returns an adapter for cfg backed by the pool's cached connection.
func Connect(ctx context.Context, pool *warehouse.Pool, cfg model.ConnectionConfig) (*Adapter, error) {
	d, err := For(cfg.Type)
	if err != nil {
		return nil, err
	}
	conn, err := pool.Get(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewAdapter(d, conn), nil
}

// Binder collects arguments while SQL is rendered. An inlining binder renders
// literals instead of placeholders.
type Binder struct {
	dialect Dialect
	inline  bool
	args    []any
}

// NewBinder creates a binder. Use inline for display or engines without bind
// parameters.
func NewBinder(d Dialect, inline bool) *Binder {
	return &Binder{dialect: d, inline: inline || d.InlineArgs()}
}

// Bind records v and returns the SQL that refers to it.
func (b *Binder) Bind(v any) string {
	if b.inline {
		return b.dialect.Literal(v)
	}
	b.args = append(b.args, b.dialect.BindArg(v))
	return b.dialect.Placeholder(len(b.args))
}

// Args returns the bound arguments in placeholder order.
func (b *Binder) Args() []any {
	return b.args
}

// Dialect returns the dialect the binder renders for.
func (b *Binder) Dialect() Dialect {
	return b.dialect
}
