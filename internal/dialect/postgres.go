package dialect

import (
	"fmt"
	"strconv"

	"github.com/aevon-lab/insight/internal/core/model"
)

// Postgres differs from ANSI in placeholders and in aggregating distinct
// values as JSON, which lib/pq and pgx both return as text.
type Postgres struct {
	ANSI
}

func NewPostgres() Postgres {
	return Postgres{ANSI: ANSI{name: "postgres", quote: `"`}}
}

func (Postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (Postgres) DistinctArrayAgg(expr string) string {
	return fmt.Sprintf("JSON_AGG(DISTINCT %s)", expr)
}

func (p Postgres) ColumnsQuery(t model.EventDataTable, b *Binder) string {
	if t.Schema == "" {
		t.Schema = "public"
	}
	return informationSchemaQuery("information_schema.columns", "column_name", "data_type", t, b, true)
}
