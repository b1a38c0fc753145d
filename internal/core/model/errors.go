package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinels for errors.Is checks across the typed errors below.
var (
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("validation failed")
	ErrUnsupported = errors.New("unsupported feature")
	ErrSchema      = errors.New("schema error")
	ErrSerialize   = errors.New("serialization error")
)

// Detailer surfaces structured error details for API error responses.
type Detailer interface {
	Details() map[string]interface{}
}

// SchemaError reports a table that does not have the shape its definition requires.
type SchemaError struct {
	Table   string
	Column  string
	Message string
}

func (e *SchemaError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("table %s: column %q: %s", e.Table, e.Column, e.Message)
	}
	return fmt.Sprintf("table %s: %s", e.Table, e.Message)
}

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

func (e *SchemaError) Details() map[string]interface{} {
	d := map[string]interface{}{"table": e.Table}
	if e.Column != "" {
		d["column"] = e.Column
	}
	return d
}

// NewMissingColumnError creates an error for a required column absent from a table.
func NewMissingColumnError(table, column string) *SchemaError {
	return &SchemaError{Table: table, Column: column, Message: "required column is missing"}
}

// UnsupportedFeatureError is returned when a dialect cannot express a construct.
type UnsupportedFeatureError struct {
	Dialect string
	Feature string
}

func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("%s is not supported by the %s dialect", e.Feature, e.Dialect)
}

func (e *UnsupportedFeatureError) Is(target error) bool { return target == ErrUnsupported }

// TypeMappingError reports a native column type with no semantic equivalent.
type TypeMappingError struct {
	Table      string
	Column     string
	NativeType string
}

func (e *TypeMappingError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("unmappable native type %q", e.NativeType)
	}
	return fmt.Sprintf("table %s: column %q: unmappable native type %q", e.Table, e.Column, e.NativeType)
}

// QueryExecutionError wraps a driver failure together with the SQL that caused
// it. Args holds the bound values when SQL carries placeholders.
type QueryExecutionError struct {
	Operation string
	SQL       string
	Args      []any
	Err       error
}

func (e *QueryExecutionError) Error() string {
	return fmt.Sprintf("%s: query failed: %v", e.Operation, e.Err)
}

func (e *QueryExecutionError) Unwrap() error { return e.Err }

func (e *QueryExecutionError) Details() map[string]interface{} {
	d := map[string]interface{}{"operation": e.Operation, "sql": e.SQL}
	if len(e.Args) > 0 {
		d["args"] = e.Args
	}
	return d
}

// SerializationError reports a malformed metric payload or a field path that
// no longer resolves against the current snapshot.
type SerializationError struct {
	Path    string
	Message string
	Err     error
}

func (e *SerializationError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Path == "" {
		return "serialization: " + msg
	}
	return fmt.Sprintf("serialization: %s: %s", e.Path, msg)
}

func (e *SerializationError) Unwrap() error { return e.Err }

func (e *SerializationError) Is(target error) bool { return target == ErrSerialize }

func (e *SerializationError) Details() map[string]interface{} {
	if e.Path == "" {
		return nil
	}
	return map[string]interface{}{"path": e.Path}
}

// NotFoundError is returned by snapshot and registry lookups.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationError rejects a structurally invalid metric, segment or definition
// before any SQL is produced.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Details() map[string]interface{} {
	if e.Field == "" {
		return nil
	}
	return map[string]interface{}{"field": e.Field}
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// DiscoveryPartialFailure carries per-table discovery failures. Tables that
// succeeded are returned alongside it.
type DiscoveryPartialFailure struct {
	Failures map[string]error
}

func (e *DiscoveryPartialFailure) tables() []string {
	names := make([]string, 0, len(e.Failures))
	for name := range e.Failures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *DiscoveryPartialFailure) Error() string {
	names := e.tables()
	msgs := make([]string, len(names))
	for i, name := range names {
		msgs[i] = fmt.Sprintf("%s: %v", name, e.Failures[name])
	}
	return fmt.Sprintf("discovery failed for %d table(s): %s", len(names), strings.Join(msgs, "; "))
}

func (e *DiscoveryPartialFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, name := range e.tables() {
		errs = append(errs, e.Failures[name])
	}
	return errs
}

func (e *DiscoveryPartialFailure) Details() map[string]interface{} {
	failures := make(map[string]string, len(e.Failures))
	for name, err := range e.Failures {
		failures[name] = err.Error()
	}
	return map[string]interface{}{"failed_tables": failures}
}
