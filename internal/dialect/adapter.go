package dialect

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aevon-lab/insight/internal/core/model"
	"github.com/aevon-lab/insight/internal/core/warehouse"
)

// tableAlias is the alias every introspection query gives the event table.
const tableAlias = "e"

// Adapter pairs a dialect with an open connection and implements the
// introspection operations discovery needs.
type Adapter struct {
	dialect Dialect
	conn    warehouse.Connection
}

// NewAdapter creates an adapter. The connection is owned by the caller.
func NewAdapter(d Dialect, conn warehouse.Connection) *Adapter {
	return &Adapter{dialect: d, conn: conn}
}

func (a *Adapter) Dialect() Dialect {
	return a.dialect
}

// Execute runs a query. Failures are logged with the SQL and its arguments and
// returned as *model.QueryExecutionError.
func (a *Adapter) Execute(ctx context.Context, operation, query string, args []any) (*warehouse.Result, error) {
	return a.execute(ctx, operation, query, args, "")
}

// ExecuteRendered runs query with args but reports failures with rendered, the
// same statement with its values inlined.
func (a *Adapter) ExecuteRendered(ctx context.Context, operation, query string, args []any, rendered string) (*warehouse.Result, error) {
	return a.execute(ctx, operation, query, args, rendered)
}

func (a *Adapter) execute(ctx context.Context, operation, query string, args []any, rendered string) (*warehouse.Result, error) {
	start := time.Now()
	res, err := a.conn.Query(ctx, query, args...)
	if err != nil {
		execErr := &model.QueryExecutionError{Operation: operation, SQL: query, Args: args, Err: err}
		if rendered != "" {
			execErr.SQL, execErr.Args = rendered, nil
		}
		slog.Error("[Query] Query execution failed",
			"operation", operation,
			"dialect", a.dialect.Name(),
			"sql", execErr.SQL,
			"args", execErr.Args,
			"error", err)
		return nil, execErr
	}
	slog.Debug("[Query] Query executed",
		"operation", operation,
		"rows", len(res.Rows),
		"duration", time.Since(start))
	return res, nil
}

// TestConnection pings the warehouse and runs a trivial query.
func (a *Adapter) TestConnection(ctx context.Context) error {
	if err := a.conn.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	_, err := a.Execute(ctx, "test_connection", "SELECT 1", nil)
	return err
}

// ListFields introspects the table's columns. Native types that cannot be
// mapped are logged and treated as STRING.
func (a *Adapter) ListFields(ctx context.Context, t model.EventDataTable) ([]model.Field, error) {
	b := NewBinder(a.dialect, false)
	query := a.dialect.ColumnsQuery(t, b)
	res, err := a.Execute(ctx, "list_fields", query, b.Args())
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, &model.SchemaError{Table: t.QualifiedName(), Message: "table has no columns or does not exist"}
	}

	fields := make([]model.Field, 0, len(res.Rows))
	seen := make(map[string]bool, len(res.Rows))
	for _, row := range res.Rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("columns query returned %d cells, want 2", len(row))
		}
		name := cellString(row[0])
		native := cellString(row[1])
		shape, err := a.dialect.ParseType(native)
		if err != nil {
			slog.Warn("[Dialect] Unmappable column type, treating as STRING",
				"table", t.QualifiedName(),
				"column", name,
				"native_type", native)
			shape = model.Field{Type: model.TypeString}
		}
		fields = append(fields, model.Column(name, shape))
		seen[name] = true
	}

	required := []string{t.UserIDField, t.EventTimeField}
	if t.EventNameField != "" {
		required = append(required, t.EventNameField)
	}
	for _, col := range required {
		if !seen[col] {
			return nil, model.NewMissingColumnError(t.QualifiedName(), col)
		}
	}
	return fields, nil
}

// ListDistinctEventNames returns the sorted event names seen in [start, end).
// A table with an event name alias holds that single event.
func (a *Adapter) ListDistinctEventNames(ctx context.Context, t model.EventDataTable, start, end time.Time) ([]string, error) {
	if t.EventNameAlias != "" {
		return []string{t.EventNameAlias}, nil
	}
	b := NewBinder(a.dialect, false)
	eventCol := a.dialect.ColumnRef(tableAlias, model.Field{Name: t.EventNameField})
	query := fmt.Sprintf("SELECT DISTINCT %s AS %s FROM %s %s WHERE %s",
		eventCol, a.dialect.QuoteIdent("event_name"),
		a.dialect.TableRef(t), tableAlias,
		a.timeFilter(b, t, start, end))

	res, err := a.Execute(ctx, "list_distinct_event_names", query, b.Args())
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		if row[0] == nil {
			continue
		}
		names = append(names, cellString(row[0]))
	}
	sort.Strings(names)
	return names, nil
}

// EnumRequest asks for the distinct values of a batch of leaf fields.
type EnumRequest struct {
	Table  model.EventDataTable
	Fields []model.Field
	// EventName restricts rows to one event. GroupByEvent enumerates every
	// event in one query. With neither, values are keyed by model.AnyEvent.
	EventName    string
	GroupByEvent bool
	Start, End   time.Time
}

// SampleFieldEnumValues returns event name -> field path -> distinct values.
// A field whose distinct count reaches the table's MaxEnumCardinality maps to
// a nil list.
func (a *Adapter) SampleFieldEnumValues(ctx context.Context, req EnumRequest) (map[string]map[string][]any, error) {
	t := req.Table.WithDefaults()
	out := make(map[string]map[string][]any)
	if len(req.Fields) == 0 {
		return out, nil
	}

	b := NewBinder(a.dialect, false)
	grouped := req.GroupByEvent && t.EventNameField != ""
	eventCol := ""
	if t.EventNameField != "" {
		eventCol = a.dialect.ColumnRef(tableAlias, model.Field{Name: t.EventNameField})
	}

	items := make([]string, 0, 2*len(req.Fields)+1)
	if grouped {
		items = append(items, fmt.Sprintf("%s AS %s", eventCol, a.dialect.QuoteIdent("event_name")))
	}
	for i, f := range req.Fields {
		col := a.dialect.ColumnRef(tableAlias, f)
		items = append(items,
			fmt.Sprintf("COUNT(DISTINCT %s) AS %s", col, a.dialect.QuoteIdent("c"+strconv.Itoa(i))),
			fmt.Sprintf("%s AS %s", a.dialect.DistinctArrayAgg(col), a.dialect.QuoteIdent("v"+strconv.Itoa(i))))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s %s WHERE %s",
		strings.Join(items, ", "), a.dialect.TableRef(t), tableAlias, a.timeFilter(b, t, req.Start, req.End))
	if req.EventName != "" && eventCol != "" {
		fmt.Fprintf(&sb, " AND %s = %s", eventCol, b.Bind(req.EventName))
	}
	if grouped {
		fmt.Fprintf(&sb, " GROUP BY %s", eventCol)
	}

	res, err := a.Execute(ctx, "sample_field_enum_values", sb.String(), b.Args())
	if err != nil {
		return nil, err
	}

	key := model.AnyEvent
	switch {
	case t.EventNameAlias != "" && (req.EventName != "" || req.GroupByEvent):
		key = t.EventNameAlias
	case req.EventName != "":
		key = req.EventName
	}

	offset := 0
	if grouped {
		offset = 1
	}
	for _, row := range res.Rows {
		event := key
		if grouped {
			if row[0] == nil {
				continue
			}
			event = cellString(row[0])
		}
		values := make(map[string][]any, len(req.Fields))
		for i, f := range req.Fields {
			count, err := cellInt(row[offset+2*i])
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Path(), err)
			}
			if count >= int64(t.MaxEnumCardinality) {
				values[f.Path()] = nil
				continue
			}
			decoded, err := a.dialect.DecodeArray(row[offset+2*i+1])
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Path(), err)
			}
			sortValues(decoded)
			values[f.Path()] = decoded
		}
		out[event] = values
	}
	return out, nil
}

// MapKeysRequest asks for the keys of a MAP column.
type MapKeysRequest struct {
	Table      model.EventDataTable
	Field      model.Field
	EventName  string
	Start, End time.Time
}

// ListMapKeys returns the sorted distinct keys of a MAP field, truncated to
// the table's MaxMapKeyCardinality.
func (a *Adapter) ListMapKeys(ctx context.Context, req MapKeysRequest) ([]string, error) {
	t := req.Table.WithDefaults()
	agg, err := a.dialect.MapKeysAgg(a.dialect.ColumnRef(tableAlias, req.Field))
	if err != nil {
		return nil, err
	}

	b := NewBinder(a.dialect, false)
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s AS %s FROM %s %s WHERE %s",
		agg, a.dialect.QuoteIdent("keys"), a.dialect.TableRef(t), tableAlias, a.timeFilter(b, t, req.Start, req.End))
	if req.EventName != "" && t.EventNameField != "" {
		eventCol := a.dialect.ColumnRef(tableAlias, model.Field{Name: t.EventNameField})
		fmt.Fprintf(&sb, " AND %s = %s", eventCol, b.Bind(req.EventName))
	}

	res, err := a.Execute(ctx, "list_map_keys", sb.String(), b.Args())
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, row := range res.Rows {
		decoded, err := a.dialect.DecodeArray(row[0])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", req.Field.Path(), err)
		}
		for _, k := range decoded {
			keys = append(keys, cellString(k))
		}
	}
	sort.Strings(keys)
	keys = slices.Compact(keys)
	if len(keys) > t.MaxMapKeyCardinality {
		slog.Warn("[Dialect] Map key cardinality limit reached, truncating",
			"table", t.QualifiedName(),
			"field", req.Field.Path(),
			"keys", len(keys),
			"limit", t.MaxMapKeyCardinality)
		keys = keys[:t.MaxMapKeyCardinality]
	}
	return keys, nil
}

// timeFilter restricts the aliased table to [start, end).
func (a *Adapter) timeFilter(b *Binder, t model.EventDataTable, start, end time.Time) string {
	col := a.dialect.TimeColumn(a.dialect.ColumnRef(tableAlias, model.Field{Name: t.EventTimeField}))
	return fmt.Sprintf("%s >= %s AND %s < %s", col, b.Bind(start), col, b.Bind(end))
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	}
	return fmt.Sprint(v)
}

func cellInt(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case nil:
		return 0, nil
	}
	d, err := decimal.NewFromString(cellString(v))
	if err != nil {
		return 0, fmt.Errorf("count is not numeric: %v", v)
	}
	return d.IntPart(), nil
}

// sortValues orders values numerically when they are numbers and by text
// otherwise, so snapshots are deterministic.
func sortValues(values []any) {
	sort.SliceStable(values, func(i, j int) bool {
		fi, iok := asFloat(values[i])
		fj, jok := asFloat(values[j])
		if iok && jok {
			return fi < fj
		}
		return cellString(values[i]) < cellString(values[j])
	})
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	}
	return 0, false
}
