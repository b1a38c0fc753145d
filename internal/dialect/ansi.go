package dialect

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aevon-lab/insight/internal/core/model"
)

const timestampLayout = "2006-01-02 15:04:05.999999"

// ANSI is the baseline dialect. A fully compliant engine works with it
// unmodified; the other dialects embed it and override their deltas.
type ANSI struct {
	name  string
	quote string
}

// NewANSI returns the baseline dialect.
func NewANSI() ANSI {
	return ANSI{name: "ansi", quote: `"`}
}

func (a ANSI) Name() string { return a.name }

func (a ANSI) QuoteIdent(name string) string {
	return a.quote + strings.ReplaceAll(name, a.quote, a.quote+a.quote) + a.quote
}

func (a ANSI) TableRef(t model.EventDataTable) string {
	return qualified(a.QuoteIdent, t.Catalog, t.Schema, t.Name)
}

func (a ANSI) ColumnRef(alias string, f model.Field) string {
	return columnRef(a.QuoteIdent, alias, f, bracketMapAccess)
}

func (a ANSI) Placeholder(int) string { return "?" }

func (a ANSI) InlineArgs() bool { return false }

func (a ANSI) BindArg(v any) any { return v }

func (a ANSI) Literal(v any) string {
	return literal(v, quoteString, func(t time.Time) string {
		return "TIMESTAMP " + quoteString(t.UTC().Format(timestampLayout))
	})
}

func (a ANSI) TimeColumn(expr string) string { return expr }

func (a ANSI) DateTrunc(g model.TimeGroup, expr string) (string, error) {
	if err := truncatable(g); err != nil {
		return "", err
	}
	return fmt.Sprintf("DATE_TRUNC('%s', %s)", g.Unit(), expr), nil
}

func (a ANSI) AddInterval(expr string, w model.TimeWindow) (string, error) {
	if err := w.Validate(); err != nil {
		return "", err
	}
	n, unit := pluralUnit(w)
	return fmt.Sprintf("%s + INTERVAL '%d %s'", expr, n, unit), nil
}

func (a ANSI) DistinctArrayAgg(expr string) string {
	return fmt.Sprintf("ARRAY_AGG(DISTINCT %s)", expr)
}

func (a ANSI) DecodeArray(v any) ([]any, error) {
	return decodeJSONArray(v)
}

func (a ANSI) MapKeysAgg(string) (string, error) {
	return "", &model.UnsupportedFeatureError{Dialect: a.name, Feature: "MAP fields"}
}

func (a ANSI) ToFloat(expr string) string {
	return fmt.Sprintf("CAST(%s AS DOUBLE PRECISION)", expr)
}

func (a ANSI) GroupByStyle() GroupByStyle { return GroupByOrdinal }

func (a ANSI) ColumnsQuery(t model.EventDataTable, b *Binder) string {
	return informationSchemaQuery("information_schema.columns", "column_name", "data_type", t, b, true)
}

func (a ANSI) ParseType(native string) (model.Field, error) {
	return parseNativeType(native)
}

// informationSchemaQuery lists columns from an information_schema view.
func informationSchemaQuery(view, nameCol, typeCol string, t model.EventDataTable, b *Binder, filterCatalog bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s, %s FROM %s WHERE table_name = %s", nameCol, typeCol, view, b.Bind(t.Name))
	if t.Schema != "" {
		fmt.Fprintf(&sb, " AND table_schema = %s", b.Bind(t.Schema))
	}
	if filterCatalog && t.Catalog != "" {
		fmt.Fprintf(&sb, " AND table_catalog = %s", b.Bind(t.Catalog))
	}
	sb.WriteString(" ORDER BY ordinal_position")
	return sb.String()
}

func qualified(quote func(string) string, parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, quote(p))
		}
	}
	return strings.Join(out, ".")
}

func columnRef(quote func(string) string, alias string, f model.Field, mapAccess func(expr, key string) string) string {
	var expr string
	if alias != "" {
		expr = alias + "."
	}
	if len(f.Access) == 0 {
		return expr + quote(f.Name)
	}
	for _, a := range f.Access {
		switch a.Kind {
		case model.AccessColumn:
			expr += quote(a.Name)
		case model.AccessMember:
			expr += "." + quote(a.Name)
		case model.AccessMapKey:
			expr = mapAccess(expr, a.Name)
		}
	}
	return expr
}

func bracketMapAccess(expr, key string) string {
	return expr + "[" + quoteString(key) + "]"
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// quoteStringBackslash escapes for engines that treat backslash as an escape
// character inside string literals.
func quoteStringBackslash(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func literal(v any, quote func(string) string, timestamp func(time.Time) string) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return quote(x)
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case int:
		return strconv.FormatInt(int64(x), 10)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case time.Time:
		return timestamp(x)
	case fmt.Stringer:
		return quote(x.String())
	}
	return quote(fmt.Sprint(v))
}

func truncatable(g model.TimeGroup) error {
	if g == model.Total || g > model.Year {
		return model.NewValidationError("time_group", "%s has no truncation", g)
	}
	return nil
}

// pluralUnit expresses a window as "N units". Quarters become months.
func pluralUnit(w model.TimeWindow) (int, string) {
	switch w.Period {
	case model.Quarter:
		return 3 * w.Value, "months"
	default:
		return w.Value, w.Period.Unit() + "s"
	}
}

// decodeJSONArray accepts native slices and JSON array text. NULL elements
// are dropped.
func decodeJSONArray(v any) ([]any, error) {
	switch x := v.(type) {
	case nil:
		return []any{}, nil
	case []any:
		return withoutNulls(x), nil
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, nil
	case []byte:
		return decodeJSONText(string(x))
	case string:
		return decodeJSONText(x)
	}
	return nil, fmt.Errorf("cannot decode %T as array", v)
}

func decodeJSONText(s string) ([]any, error) {
	if strings.TrimSpace(s) == "" {
		return []any{}, nil
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var out []any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode array %q: %w", s, err)
	}
	for i, v := range out {
		if n, ok := v.(json.Number); ok {
			if iv, err := n.Int64(); err == nil {
				out[i] = iv
			} else if fv, err := n.Float64(); err == nil {
				out[i] = fv
			}
		}
	}
	return withoutNulls(out), nil
}

// decodeDelimited splits a delimiter-joined aggregate.
func decodeDelimited(v any, sep string) ([]any, error) {
	var s string
	switch x := v.(type) {
	case nil:
		return []any{}, nil
	case []byte:
		s = string(x)
	case string:
		s = x
	case []any:
		return withoutNulls(x), nil
	default:
		return nil, fmt.Errorf("cannot decode %T as delimited list", v)
	}
	if s == "" {
		return []any{}, nil
	}
	parts := strings.Split(s, sep)
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out, nil
}

func withoutNulls(values []any) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}
