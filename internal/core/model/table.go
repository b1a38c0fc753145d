package model

import (
	"crypto/sha256"
	"fmt"
	"os"
	"strings"
)

const (
	DefaultMaxEnumCardinality   = 300
	DefaultMaxMapKeyCardinality = 1000
)

// EventDataTable is a warehouse table holding one row per event.
type EventDataTable struct {
	Name    string
	Schema  string
	Catalog string

	UserIDField    string
	EventTimeField string
	// Exactly one of EventNameField and EventNameAlias is set. A table with an
	// alias holds a single event type and has no event name column.
	EventNameField string
	EventNameAlias string

	IgnoredFields       []string
	EventSpecificFields []string // path prefixes whose values vary per event

	MaxEnumCardinality   int
	MaxMapKeyCardinality int
}

// QualifiedName is catalog.schema.name with empty parts left out.
func (t EventDataTable) QualifiedName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{t.Catalog, t.Schema, t.Name} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

// Validate checks the table definition, not the warehouse table itself.
func (t EventDataTable) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return NewValidationError("table.name", "is required")
	}
	if strings.TrimSpace(t.UserIDField) == "" {
		return NewValidationError("table.user_id_field", "is required (table %s)", t.Name)
	}
	if strings.TrimSpace(t.EventTimeField) == "" {
		return NewValidationError("table.event_time_field", "is required (table %s)", t.Name)
	}
	hasField := t.EventNameField != ""
	hasAlias := t.EventNameAlias != ""
	if hasField == hasAlias {
		return NewValidationError("table.event_name", "exactly one of event_name_field and event_name_alias must be set (table %s)", t.Name)
	}
	if t.MaxEnumCardinality < 0 || t.MaxMapKeyCardinality < 0 {
		return NewValidationError("table.cardinality", "limits must be >= 0 (table %s)", t.Name)
	}
	return nil
}

// WithDefaults fills unset cardinality limits.
func (t EventDataTable) WithDefaults() EventDataTable {
	if t.MaxEnumCardinality == 0 {
		t.MaxEnumCardinality = DefaultMaxEnumCardinality
	}
	if t.MaxMapKeyCardinality == 0 {
		t.MaxMapKeyCardinality = DefaultMaxMapKeyCardinality
	}
	return t
}

// IsIgnored reports whether a field path is excluded from discovery.
func (t EventDataTable) IsIgnored(path string) bool {
	for _, ignored := range t.IgnoredFields {
		if path == ignored || strings.HasPrefix(path, ignored+".") {
			return true
		}
	}
	return false
}

// IsEventSpecific reports whether a field path matches an event-specific prefix.
func (t EventDataTable) IsEventSpecific(path string) bool {
	for _, prefix := range t.EventSpecificFields {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// IsReserved reports whether the column is one of the table's structural columns.
func (t EventDataTable) IsReserved(column string) bool {
	return column == t.UserIDField || column == t.EventTimeField || (t.EventNameField != "" && column == t.EventNameField)
}

// ConnectionType selects the warehouse driver and SQL dialect.
type ConnectionType string

const (
	ConnPostgres   ConnectionType = "postgres"
	ConnSQLite     ConnectionType = "sqlite"
	ConnLibSQL     ConnectionType = "libsql"
	ConnDuckDB     ConnectionType = "duckdb"
	ConnMySQL      ConnectionType = "mysql"
	ConnTrino      ConnectionType = "trino"
	ConnAthena     ConnectionType = "athena"
	ConnDatabricks ConnectionType = "databricks"
)

// ConnectionTypes lists every supported connection type.
func ConnectionTypes() []ConnectionType {
	return []ConnectionType{ConnPostgres, ConnSQLite, ConnLibSQL, ConnDuckDB, ConnMySQL, ConnTrino, ConnAthena, ConnDatabricks}
}

// SecretResolver produces a credential at connection time.
type SecretResolver interface {
	ResolveSecret() (string, error)
	// Identity distinguishes resolvers without revealing the secret.
	Identity() string
}

// EnvSecret reads the secret from an environment variable.
type EnvSecret struct {
	Var string
}

func (s EnvSecret) ResolveSecret() (string, error) {
	v, ok := os.LookupEnv(s.Var)
	if !ok {
		return "", fmt.Errorf("secret env var %s is not set", s.Var)
	}
	return v, nil
}

func (s EnvSecret) Identity() string { return "env:" + s.Var }

// ConstSecret holds the secret inline.
type ConstSecret struct {
	Value string
}

func (s ConstSecret) ResolveSecret() (string, error) { return s.Value, nil }

func (s ConstSecret) Identity() string {
	return fmt.Sprintf("const:%x", sha256.Sum256([]byte(s.Value)))[:22]
}

// ConnectionConfig describes how to reach a warehouse.
type ConnectionConfig struct {
	Type    ConnectionType
	Host    string
	Port    int
	Catalog string
	Schema  string
	User    string
	Path    string // file-backed engines (sqlite, duckdb)
	URL     string // libsql
	Params  map[string]string
	Secret  SecretResolver
}

// ResolveSecret returns the configured secret or "" when none is set.
func (c ConnectionConfig) ResolveSecret() (string, error) {
	if c.Secret == nil {
		return "", nil
	}
	return c.Secret.ResolveSecret()
}

// Param returns a connection parameter or def when it is unset.
func (c ConnectionConfig) Param(key, def string) string {
	if v, ok := c.Params[key]; ok && v != "" {
		return v
	}
	return def
}

// EventDataSource groups the event tables reachable through one connection.
type EventDataSource struct {
	ID                     string
	Connection             ConnectionConfig
	Tables                 []EventDataTable
	DefaultDiscoveryWindow TimeWindow
}

// Table returns the table definition with the given name.
func (s EventDataSource) Table(name string) (EventDataTable, error) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, nil
		}
	}
	return EventDataTable{}, &NotFoundError{Kind: "table", Name: name}
}

func (s EventDataSource) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return NewValidationError("source.id", "is required")
	}
	known := false
	for _, t := range ConnectionTypes() {
		if s.Connection.Type == t {
			known = true
			break
		}
	}
	if !known {
		return NewValidationError("source.connection.type", "unsupported connection type %q", s.Connection.Type)
	}
	if len(s.Tables) == 0 {
		return NewValidationError("source.tables", "at least one table is required (source %s)", s.ID)
	}
	seen := make(map[string]bool, len(s.Tables))
	for _, t := range s.Tables {
		if err := t.Validate(); err != nil {
			return err
		}
		if seen[t.Name] {
			return NewValidationError("source.tables", "duplicate table %q (source %s)", t.Name, s.ID)
		}
		seen[t.Name] = true
	}
	return s.DefaultDiscoveryWindow.Validate()
}
