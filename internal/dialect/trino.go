package dialect

import (
	"fmt"

	"github.com/aevon-lab/insight/internal/core/model"
)

// Trino uses date_add for intervals and element_at for map access, so a
// missing key yields NULL instead of an error.
type Trino struct {
	ANSI
}

func NewTrino() Trino {
	return Trino{ANSI: ANSI{name: "trino", quote: `"`}}
}

func (t Trino) ColumnRef(alias string, f model.Field) string {
	return columnRef(t.QuoteIdent, alias, f, elementAtMapAccess)
}

func elementAtMapAccess(expr, key string) string {
	return fmt.Sprintf("element_at(%s, %s)", expr, quoteString(key))
}

func (Trino) AddInterval(expr string, w model.TimeWindow) (string, error) {
	if err := w.Validate(); err != nil {
		return "", err
	}
	return fmt.Sprintf("date_add('%s', %d, %s)", w.Period.Unit(), w.Value, expr), nil
}

func (Trino) MapKeysAgg(expr string) (string, error) {
	return fmt.Sprintf("array_distinct(flatten(array_agg(map_keys(%s))))", expr), nil
}

func (Trino) ToFloat(expr string) string {
	return fmt.Sprintf("CAST(%s AS DOUBLE)", expr)
}

func (t Trino) ColumnsQuery(table model.EventDataTable, b *Binder) string {
	view := "information_schema.columns"
	if table.Catalog != "" {
		view = t.QuoteIdent(table.Catalog) + "." + view
	}
	return informationSchemaQuery(view, "column_name", "data_type", table, b, false)
}

// athenaListSeparator joins aggregated values; result cells are plain text.
const athenaListSeparator = "\x1f"

// Athena is Trino without bind parameters. Array results come back as text,
// so aggregates are joined with a separator and split client side.
type Athena struct {
	Trino
}

func NewAthena() Athena {
	return Athena{Trino: Trino{ANSI: ANSI{name: "athena", quote: `"`}}}
}

func (Athena) InlineArgs() bool { return true }

func (Athena) DistinctArrayAgg(expr string) string {
	return fmt.Sprintf("array_join(array_agg(DISTINCT CAST(%s AS VARCHAR)), chr(31))", expr)
}

func (Athena) DecodeArray(v any) ([]any, error) {
	return decodeDelimited(v, athenaListSeparator)
}

func (Athena) MapKeysAgg(expr string) (string, error) {
	return fmt.Sprintf("array_join(array_distinct(flatten(array_agg(map_keys(%s)))), chr(31))", expr), nil
}
