package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aevon-lab/insight/internal/core/model"
	_ "github.com/databricks/databricks-sql-go" // Register databricks driver
	_ "github.com/duckdb/duckdb-go/v2"          // Register duckdb driver
	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver
	_ "github.com/lib/pq"              // Register postgres driver
	_ "github.com/mattn/go-sqlite3"    // Register sqlite3 driver
	"github.com/trinodb/trino-go-client/trino"
	_ "github.com/tursodatabase/libsql-client-go/libsql" // Register libsql driver
)

const defaultConnectTimeout = 5 * time.Second

func defaultOpeners() map[model.ConnectionType]Opener {
	return map[model.ConnectionType]Opener{
		model.ConnPostgres:   openPostgres,
		model.ConnSQLite:     openSQLite,
		model.ConnLibSQL:     openLibSQL,
		model.ConnDuckDB:     openDuckDB,
		model.ConnMySQL:      openMySQL,
		model.ConnTrino:      openTrino,
		model.ConnDatabricks: openDatabricks,
		model.ConnAthena:     openAthena,
	}
}

// openSQL opens a database/sql pool, applies settings and verifies it with a ping.
func openSQL(ctx context.Context, driver, dsn string, settings Settings) (*SQLConnection, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if settings.MaxOpenConns > 0 {
		db.SetMaxOpenConns(settings.MaxOpenConns)
	}
	if settings.MaxIdleConns > 0 {
		db.SetMaxIdleConns(settings.MaxIdleConns)
	}
	if settings.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(settings.ConnMaxLifetime)
	}

	slog.Info("[Pool] Connection pool configured",
		"driver", driver,
		"max_open_conns", settings.MaxOpenConns,
		"max_idle_conns", settings.MaxIdleConns)

	timeout := settings.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}
	return NewSQLConnection(db, driver), nil
}

func hostPort(cfg model.ConnectionConfig, defaultPort int) string {
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(cfg.Host, strconv.Itoa(port))
}

// PostgresDSN builds a postgres URL. The "driver" param selects lib/pq
// ("postgres", default) or pgx and is not part of the DSN.
func PostgresDSN(cfg model.ConnectionConfig) (driver, dsn string, err error) {
	secret, err := cfg.ResolveSecret()
	if err != nil {
		return "", "", err
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   hostPort(cfg, 5432),
		Path:   "/" + cfg.Catalog,
	}
	if cfg.User != "" {
		if secret != "" {
			u.User = url.UserPassword(cfg.User, secret)
		} else {
			u.User = url.User(cfg.User)
		}
	}
	q := url.Values{}
	for k, v := range cfg.Params {
		if k == "driver" {
			continue
		}
		q.Set(k, v)
	}
	if cfg.Schema != "" && q.Get("search_path") == "" {
		q.Set("search_path", cfg.Schema)
	}
	u.RawQuery = q.Encode()

	driver = cfg.Param("driver", "postgres")
	if driver != "postgres" && driver != "pgx" {
		return "", "", fmt.Errorf("unsupported postgres driver %q", driver)
	}
	return driver, u.String(), nil
}

func openPostgres(ctx context.Context, cfg model.ConnectionConfig, settings Settings) (Connection, error) {
	driver, dsn, err := PostgresDSN(cfg)
	if err != nil {
		return nil, err
	}
	return openSQL(ctx, driver, dsn, settings)
}

func openSQLite(ctx context.Context, cfg model.ConnectionConfig, settings Settings) (Connection, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	// every in-memory connection is a separate database
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		settings.MaxOpenConns = 1
		settings.MaxIdleConns = 1
		settings.ConnMaxLifetime = 0
	}
	return openSQL(ctx, "sqlite3", path, settings)
}

func openLibSQL(ctx context.Context, cfg model.ConnectionConfig, settings Settings) (Connection, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("libsql connection requires url")
	}
	secret, err := cfg.ResolveSecret()
	if err != nil {
		return nil, err
	}
	dsn := cfg.URL
	if secret != "" {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "authToken=" + url.QueryEscape(secret)
	}
	return openSQL(ctx, "libsql", dsn, settings)
}

func openDuckDB(ctx context.Context, cfg model.ConnectionConfig, settings Settings) (Connection, error) {
	return openSQL(ctx, "duckdb", cfg.Path, settings)
}

// MySQLDSN builds a go-sql-driver DSN. Times are parsed into time.Time and
// GROUP_CONCAT is widened so enum sampling is not silently truncated.
func MySQLDSN(cfg model.ConnectionConfig) (string, error) {
	secret, err := cfg.ResolveSecret()
	if err != nil {
		return "", err
	}
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = secret
	mc.Net = "tcp"
	mc.Addr = hostPort(cfg, 3306)
	mc.DBName = cfg.Schema
	if mc.DBName == "" {
		mc.DBName = cfg.Catalog
	}
	mc.ParseTime = true
	mc.Params = map[string]string{"group_concat_max_len": "1048576"}
	for k, v := range cfg.Params {
		mc.Params[k] = v
	}
	return mc.FormatDSN(), nil
}

func openMySQL(ctx context.Context, cfg model.ConnectionConfig, settings Settings) (Connection, error) {
	dsn, err := MySQLDSN(cfg)
	if err != nil {
		return nil, err
	}
	return openSQL(ctx, "mysql", dsn, settings)
}

// TrinoDSN builds a trino-go-client DSN.
func TrinoDSN(cfg model.ConnectionConfig) (string, error) {
	secret, err := cfg.ResolveSecret()
	if err != nil {
		return "", err
	}
	server := url.URL{Scheme: cfg.Param("scheme", "https"), Host: hostPort(cfg, 443)}
	if cfg.User != "" {
		if secret != "" {
			server.User = url.UserPassword(cfg.User, secret)
		} else {
			server.User = url.User(cfg.User)
		}
	}
	tc := trino.Config{
		ServerURI: server.String(),
		Source:    "insight",
		Catalog:   cfg.Catalog,
		Schema:    cfg.Schema,
	}
	session := map[string]string{}
	for k, v := range cfg.Params {
		if k == "scheme" {
			continue
		}
		session[k] = v
	}
	if len(session) > 0 {
		tc.SessionProperties = session
	}
	return tc.FormatDSN()
}

func openTrino(ctx context.Context, cfg model.ConnectionConfig, settings Settings) (Connection, error) {
	dsn, err := TrinoDSN(cfg)
	if err != nil {
		return nil, err
	}
	return openSQL(ctx, "trino", dsn, settings)
}

// DatabricksDSN builds a databricks-sql-go DSN; the secret is the access token
// and the http_path param selects the warehouse.
func DatabricksDSN(cfg model.ConnectionConfig) (string, error) {
	token, err := cfg.ResolveSecret()
	if err != nil {
		return "", err
	}
	httpPath := cfg.Param("http_path", "")
	if httpPath == "" {
		return "", fmt.Errorf("databricks connection requires the http_path param")
	}
	q := url.Values{}
	if cfg.Catalog != "" {
		q.Set("catalog", cfg.Catalog)
	}
	if cfg.Schema != "" {
		q.Set("schema", cfg.Schema)
	}
	keys := make([]string, 0, len(cfg.Params))
	for k := range cfg.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k != "http_path" {
			q.Set(k, cfg.Params[k])
		}
	}
	dsn := fmt.Sprintf("token:%s@%s/%s", token, hostPort(cfg, 443), strings.TrimPrefix(httpPath, "/"))
	if len(q) > 0 {
		dsn += "?" + q.Encode()
	}
	return dsn, nil
}

func openDatabricks(ctx context.Context, cfg model.ConnectionConfig, settings Settings) (Connection, error) {
	dsn, err := DatabricksDSN(cfg)
	if err != nil {
		return nil, err
	}
	return openSQL(ctx, "databricks", dsn, settings)
}
