package dialect

import "fmt"

// DuckDB follows ANSI closely; lists and maps are native and the driver
// returns them as Go slices.
type DuckDB struct {
	ANSI
}

func NewDuckDB() DuckDB {
	return DuckDB{ANSI: ANSI{name: "duckdb", quote: `"`}}
}

func (DuckDB) DistinctArrayAgg(expr string) string {
	return fmt.Sprintf("list(DISTINCT %s)", expr)
}

func (DuckDB) MapKeysAgg(expr string) (string, error) {
	return fmt.Sprintf("list_distinct(flatten(list(map_keys(%s))))", expr), nil
}

func (DuckDB) ToFloat(expr string) string {
	return fmt.Sprintf("CAST(%s AS DOUBLE)", expr)
}
