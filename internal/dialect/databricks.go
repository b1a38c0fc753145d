package dialect

import (
	"fmt"
	"time"

	"github.com/aevon-lab/insight/internal/core/model"
)

// Databricks quotes with backticks and aggregates with collect_set; the
// driver returns complex values as JSON text.
type Databricks struct {
	ANSI
}

func NewDatabricks() Databricks {
	return Databricks{ANSI: ANSI{name: "databricks", quote: "`"}}
}

func (Databricks) Literal(v any) string {
	return literal(v, quoteStringBackslash, func(t time.Time) string {
		return "TIMESTAMP " + quoteString(t.UTC().Format(timestampLayout))
	})
}

func (Databricks) AddInterval(expr string, w model.TimeWindow) (string, error) {
	if err := w.Validate(); err != nil {
		return "", err
	}
	return fmt.Sprintf("TIMESTAMPADD(%s, %d, %s)", w.Period, w.Value, expr), nil
}

func (Databricks) DistinctArrayAgg(expr string) string {
	return fmt.Sprintf("collect_set(%s)", expr)
}

func (Databricks) MapKeysAgg(expr string) (string, error) {
	return fmt.Sprintf("array_distinct(flatten(collect_list(map_keys(%s))))", expr), nil
}

func (Databricks) ToFloat(expr string) string {
	return fmt.Sprintf("CAST(%s AS DOUBLE)", expr)
}

func (d Databricks) ColumnsQuery(t model.EventDataTable, b *Binder) string {
	view := "information_schema.columns"
	if t.Catalog != "" {
		view = d.QuoteIdent(t.Catalog) + "." + view
	}
	return informationSchemaQuery(view, "column_name", "full_data_type", t, b, false)
}
