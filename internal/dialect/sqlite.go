package dialect

import (
	"fmt"
	"strings"
	"time"

	"github.com/aevon-lab/insight/internal/core/model"
)

const sqliteTimeLayout = "2006-01-02 15:04:05"

// SQLite stores timestamps as text and has no DATE_TRUNC, INTERVAL or array
// type. Buckets are built with strftime format strings and distinct values
// are aggregated as JSON.
type SQLite struct {
	ANSI
}

func NewSQLite() SQLite {
	return SQLite{ANSI: ANSI{name: "sqlite", quote: `"`}}
}

func (s SQLite) TableRef(t model.EventDataTable) string {
	return qualified(s.QuoteIdent, t.Schema, t.Name)
}

func (SQLite) BindArg(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return v
}

func (SQLite) Literal(v any) string {
	if b, ok := v.(bool); ok {
		if b {
			return "1"
		}
		return "0"
	}
	return literal(v, quoteString, func(t time.Time) string {
		return quoteString(t.UTC().Format(sqliteTimeLayout))
	})
}

func (SQLite) TimeColumn(expr string) string {
	return fmt.Sprintf("datetime(%s)", expr)
}

var sqliteTruncFormats = map[model.TimeGroup]string{
	model.Second: "%Y-%m-%d %H:%M:%S",
	model.Minute: "%Y-%m-%d %H:%M:00",
	model.Hour:   "%Y-%m-%d %H:00:00",
	model.Day:    "%Y-%m-%d 00:00:00",
	model.Week:   "%Y-%m-%d 00:00:00",
	model.Month:  "%Y-%m-01 00:00:00",
	model.Year:   "%Y-01-01 00:00:00",
}

func (s SQLite) DateTrunc(g model.TimeGroup, expr string) (string, error) {
	if g == model.Quarter {
		return "", &model.UnsupportedFeatureError{Dialect: s.name, Feature: "QUARTER time group"}
	}
	if err := truncatable(g); err != nil {
		return "", err
	}
	format := sqliteTruncFormats[g]
	if g == model.Week {
		// %w is 0 for Sunday; step back to the most recent Monday
		return fmt.Sprintf("strftime('%s', %s, '-' || ((CAST(strftime('%%w', %s) AS INTEGER) + 6) %% 7) || ' days')",
			format, expr, expr), nil
	}
	return fmt.Sprintf("strftime('%s', %s)", format, expr), nil
}

func (SQLite) AddInterval(expr string, w model.TimeWindow) (string, error) {
	if err := w.Validate(); err != nil {
		return "", err
	}
	n, unit := w.Value, w.Period.Unit()+"s"
	switch w.Period {
	case model.Week:
		n, unit = 7*w.Value, "days"
	case model.Quarter:
		n, unit = 3*w.Value, "months"
	}
	return fmt.Sprintf("datetime(%s, '+%d %s')", expr, n, unit), nil
}

func (SQLite) DistinctArrayAgg(expr string) string {
	return fmt.Sprintf("json_group_array(DISTINCT %s)", expr)
}

func (SQLite) ToFloat(expr string) string {
	return fmt.Sprintf("CAST(%s AS REAL)", expr)
}

func (SQLite) ColumnsQuery(t model.EventDataTable, b *Binder) string {
	return fmt.Sprintf("SELECT name, type FROM pragma_table_info(%s) ORDER BY cid", b.Bind(t.Name))
}

// ParseType applies SQLite's column affinity rules to the declared type.
func (SQLite) ParseType(native string) (model.Field, error) {
	u := strings.ToUpper(native)
	typ := model.TypeNumber
	switch {
	case strings.Contains(u, "DATE") || strings.Contains(u, "TIME"):
		typ = model.TypeDatetime
	case strings.Contains(u, "BOOL"):
		typ = model.TypeBool
	case strings.Contains(u, "INT"):
		typ = model.TypeNumber
	case strings.Contains(u, "CHAR"), strings.Contains(u, "CLOB"), strings.Contains(u, "TEXT"),
		strings.Contains(u, "JSON"), strings.Contains(u, "BLOB"), strings.TrimSpace(u) == "":
		typ = model.TypeString
	}
	return model.Field{Type: typ}, nil
}
