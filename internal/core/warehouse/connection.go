package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Result is a fully materialized tabular query result.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Column returns the index of the named column, or -1.
func (r *Result) Column(name string) int {
	for i, c := range r.Columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

// Connection is the driver boundary the compiler and discovery engine use.
type Connection interface {
	Query(ctx context.Context, query string, args ...any) (*Result, error)
	Ping(ctx context.Context) error
	Close() error
}

// SQLConnection adapts a database/sql pool to Connection.
type SQLConnection struct {
	db     *sql.DB
	driver string
}

// NewSQLConnection wraps an open *sql.DB.
func NewSQLConnection(db *sql.DB, driver string) *SQLConnection {
	return &SQLConnection{db: db, driver: driver}
}

// DB returns the underlying database handle.
func (c *SQLConnection) DB() *sql.DB {
	return c.db
}

func (c *SQLConnection) Query(ctx context.Context, query string, args ...any) (*Result, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	dbTypes := make([]string, len(columns))
	if types, err := rows.ColumnTypes(); err == nil {
		for i, ct := range types {
			dbTypes[i] = strings.ToUpper(ct.DatabaseTypeName())
		}
	}

	result := &Result{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			values[i] = normalizeValue(v, dbTypes[i])
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *SQLConnection) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *SQLConnection) Close() error {
	return c.db.Close()
}

// normalizeValue converts driver-specific cell types into int64, float64,
// bool, string, time.Time, []any or nil.
func normalizeValue(v any, dbType string) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		if isFloatType(dbType) {
			if f, err := strconv.ParseFloat(string(x), 64); err == nil {
				return f
			}
		}
		if isNumericType(dbType) {
			if d, err := decimal.NewFromString(string(x)); err == nil {
				return decimalValue(d)
			}
		}
		return string(x)
	case decimal.Decimal:
		return decimalValue(x)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	}
	return v
}

func decimalValue(d decimal.Decimal) any {
	if d.IsInteger() {
		return d.IntPart()
	}
	return d.InexactFloat64()
}

// isFloatType reports approximate numeric columns, which stay float64 even
// when the value is whole.
func isFloatType(dbType string) bool {
	return strings.Contains(dbType, "DOUBLE") ||
		strings.Contains(dbType, "FLOAT") ||
		strings.Contains(dbType, "REAL")
}

func isNumericType(dbType string) bool {
	switch {
	case dbType == "":
		return false
	case strings.Contains(dbType, "INT"),
		strings.Contains(dbType, "DECIMAL"),
		strings.Contains(dbType, "NUMERIC"),
		strings.Contains(dbType, "DOUBLE"),
		strings.Contains(dbType, "FLOAT"),
		strings.Contains(dbType, "REAL"):
		return true
	}
	return false
}
