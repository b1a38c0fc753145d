package dialect

import (
	"fmt"
	"strings"
	"time"

	"github.com/aevon-lab/insight/internal/core/model"
)

// mysqlListSeparator joins GROUP_CONCAT values; it does not occur in event data.
const mysqlListSeparator = "\x1f"

// MySQL has no DATE_TRUNC, no arrays and deprecates positional GROUP BY.
type MySQL struct {
	ANSI
}

func NewMySQL() MySQL {
	return MySQL{ANSI: ANSI{name: "mysql", quote: "`"}}
}

// TableRef uses the schema as the MySQL database; catalogs do not exist.
func (m MySQL) TableRef(t model.EventDataTable) string {
	return qualified(m.QuoteIdent, t.Schema, t.Name)
}

func (MySQL) Literal(v any) string {
	return literal(v, quoteStringBackslash, func(t time.Time) string {
		return "TIMESTAMP " + quoteString(t.UTC().Format(timestampLayout))
	})
}

var mysqlTruncFormats = map[model.TimeGroup]string{
	model.Second: "%Y-%m-%d %H:%i:%s",
	model.Minute: "%Y-%m-%d %H:%i:00",
	model.Hour:   "%Y-%m-%d %H:00:00",
	model.Day:    "%Y-%m-%d 00:00:00",
	model.Week:   "%Y-%m-%d 00:00:00",
	model.Month:  "%Y-%m-01 00:00:00",
	model.Year:   "%Y-01-01 00:00:00",
}

func (m MySQL) DateTrunc(g model.TimeGroup, expr string) (string, error) {
	if g == model.Quarter {
		return "", &model.UnsupportedFeatureError{Dialect: m.name, Feature: "QUARTER time group"}
	}
	if err := truncatable(g); err != nil {
		return "", err
	}
	if g == model.Week {
		// WEEKDAY is 0 for Monday
		expr = fmt.Sprintf("DATE_SUB(%s, INTERVAL WEEKDAY(%s) DAY)", expr, expr)
	}
	return fmt.Sprintf("CAST(DATE_FORMAT(%s, '%s') AS DATETIME)", expr, mysqlTruncFormats[g]), nil
}

func (MySQL) AddInterval(expr string, w model.TimeWindow) (string, error) {
	if err := w.Validate(); err != nil {
		return "", err
	}
	return fmt.Sprintf("DATE_ADD(%s, INTERVAL %d %s)", expr, w.Value, w.Period), nil
}

func (MySQL) DistinctArrayAgg(expr string) string {
	return fmt.Sprintf("GROUP_CONCAT(DISTINCT %s SEPARATOR '%s')", expr, mysqlListSeparator)
}

func (MySQL) DecodeArray(v any) ([]any, error) {
	return decodeDelimited(v, mysqlListSeparator)
}

func (MySQL) ToFloat(expr string) string {
	return fmt.Sprintf("CAST(%s AS DOUBLE)", expr)
}

func (MySQL) GroupByStyle() GroupByStyle { return GroupByNamed }

func (MySQL) ColumnsQuery(t model.EventDataTable, b *Binder) string {
	var sb strings.Builder
	sb.WriteString("SELECT COLUMN_NAME, DATA_TYPE FROM information_schema.COLUMNS WHERE TABLE_NAME = ")
	sb.WriteString(b.Bind(t.Name))
	if t.Schema != "" {
		sb.WriteString(" AND TABLE_SCHEMA = " + b.Bind(t.Schema))
	} else {
		sb.WriteString(" AND TABLE_SCHEMA = DATABASE()")
	}
	sb.WriteString(" ORDER BY ORDINAL_POSITION")
	return sb.String()
}
