// Package sources loads event data source definitions from YAML files.
package sources

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aevon-lab/insight/internal/core/model"
)

// DefaultDiscoveryWindow applies when a source file sets none.
var DefaultDiscoveryWindow = model.TimeWindow{Value: 30, Period: model.Day}

// Source is a loaded data source definition.
type Source struct {
	model.EventDataSource
	File        string
	Fingerprint string // SHA-256 of the raw YAML file
}

// rawSource is the on-disk YAML shape.
type rawSource struct {
	ID                     string        `yaml:"id"`
	Connection             rawConnection `yaml:"connection"`
	DefaultDiscoveryWindow *rawWindow    `yaml:"default_discovery_window"`
	Tables                 []rawTable    `yaml:"tables"`
}

type rawConnection struct {
	Type        string            `yaml:"type"`
	Host        string            `yaml:"host"`
	Port        int               `yaml:"port"`
	Catalog     string            `yaml:"catalog"`
	Schema      string            `yaml:"schema"`
	User        string            `yaml:"user"`
	Password    string            `yaml:"password"`
	PasswordEnv string            `yaml:"password_env"` // preferred over an inline password
	Path        string            `yaml:"path"`
	URL         string            `yaml:"url"`
	Params      map[string]string `yaml:"params"`
}

type rawWindow struct {
	Value  int    `yaml:"value"`
	Period string `yaml:"period"`
}

type rawTable struct {
	Name                 string   `yaml:"name"`
	Schema               string   `yaml:"schema"`
	Catalog              string   `yaml:"catalog"`
	UserIDField          string   `yaml:"user_id_field"`
	EventTimeField       string   `yaml:"event_time_field"`
	EventNameField       string   `yaml:"event_name_field"`
	EventNameAlias       string   `yaml:"event_name_alias"`
	IgnoredFields        []string `yaml:"ignored_fields"`
	EventSpecificFields  []string `yaml:"event_specific_fields"`
	MaxEnumCardinality   int      `yaml:"max_enum_cardinality"`
	MaxMapKeyCardinality int      `yaml:"max_map_key_cardinality"`
}

// Repository gives access to the configured data sources.
type Repository interface {
	// Get returns the source with the given ID.
	Get(ctx context.Context, id string) (*Source, error)

	// List returns every source ordered by ID.
	List(ctx context.Context) []Source
}

// FileSystemRepository loads one source per *.yaml file in a directory. Sources
// are loaded once at startup and kept in memory.
type FileSystemRepository struct {
	dir     string
	sources map[string]Source
}

// NewFileSystemRepository eagerly loads every source file in dir. Any
// malformed or invalid file fails the load.
func NewFileSystemRepository(dir string) (*FileSystemRepository, error) {
	repo := &FileSystemRepository{
		dir:     dir,
		sources: make(map[string]Source),
	}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *FileSystemRepository) load() error {
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("source dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source path %q is not a directory", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading source dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading source file %s: %w", path, err)
		}
		source, err := Parse(data)
		if err != nil {
			return fmt.Errorf("source file %s: %w", path, err)
		}
		if source.ID == "" {
			continue // empty or comment-only file
		}
		if existing, exists := r.sources[source.ID]; exists {
			return fmt.Errorf("source %q: duplicate id (defined in %s and %s)", source.ID, existing.File, path)
		}
		source.File = path
		r.sources[source.ID] = *source
	}
	return nil
}

// Parse decodes and validates one source definition. An empty document
// yields a Source with an empty ID.
func Parse(data []byte) (*Source, error) {
	var raw rawSource
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	if raw.ID == "" {
		return &Source{}, nil
	}

	conn, err := raw.Connection.toModel()
	if err != nil {
		return nil, fmt.Errorf("source %q: %w", raw.ID, err)
	}
	window := DefaultDiscoveryWindow
	if raw.DefaultDiscoveryWindow != nil {
		period, err := model.ParseTimeGroup(raw.DefaultDiscoveryWindow.Period)
		if err != nil {
			return nil, fmt.Errorf("source %q: default_discovery_window: %w", raw.ID, err)
		}
		window = model.TimeWindow{Value: raw.DefaultDiscoveryWindow.Value, Period: period}
	}

	tables := make([]model.EventDataTable, len(raw.Tables))
	for i, t := range raw.Tables {
		tables[i] = model.EventDataTable{
			Name:                 t.Name,
			Schema:               t.Schema,
			Catalog:              t.Catalog,
			UserIDField:          t.UserIDField,
			EventTimeField:       t.EventTimeField,
			EventNameField:       t.EventNameField,
			EventNameAlias:       t.EventNameAlias,
			IgnoredFields:        t.IgnoredFields,
			EventSpecificFields:  t.EventSpecificFields,
			MaxEnumCardinality:   t.MaxEnumCardinality,
			MaxMapKeyCardinality: t.MaxMapKeyCardinality,
		}.WithDefaults()
	}

	source := model.EventDataSource{
		ID:                     raw.ID,
		Connection:             conn,
		Tables:                 tables,
		DefaultDiscoveryWindow: window,
	}
	if err := source.Validate(); err != nil {
		return nil, err
	}
	return &Source{
		EventDataSource: source,
		Fingerprint:     fmt.Sprintf("%x", sha256.Sum256(data)),
	}, nil
}

func (c rawConnection) toModel() (model.ConnectionConfig, error) {
	if c.Password != "" && c.PasswordEnv != "" {
		return model.ConnectionConfig{}, fmt.Errorf("connection: set only one of password and password_env")
	}
	conn := model.ConnectionConfig{
		Type:    model.ConnectionType(strings.ToLower(c.Type)),
		Host:    c.Host,
		Port:    c.Port,
		Catalog: c.Catalog,
		Schema:  c.Schema,
		User:    c.User,
		Path:    c.Path,
		URL:     c.URL,
		Params:  c.Params,
	}
	switch {
	case c.PasswordEnv != "":
		conn.Secret = model.EnvSecret{Var: c.PasswordEnv}
	case c.Password != "":
		conn.Secret = model.ConstSecret{Value: c.Password}
	}
	return conn, nil
}

// Get returns the source with the given ID.
func (r *FileSystemRepository) Get(_ context.Context, id string) (*Source, error) {
	source, ok := r.sources[id]
	if !ok {
		return nil, &model.NotFoundError{Kind: "source", Name: id}
	}
	return &source, nil
}

// List returns every source ordered by ID.
func (r *FileSystemRepository) List(_ context.Context) []Source {
	out := make([]Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
