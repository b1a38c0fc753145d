package warehouse

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aevon-lab/insight/internal/core/model"
)

// Settings are the database/sql pool settings applied to every connection.
type Settings struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// Opener creates a connection for one connection type.
type Opener func(ctx context.Context, cfg model.ConnectionConfig, settings Settings) (Connection, error)

// Pool caches one Connection per distinct connection configuration.
type Pool struct {
	mu        sync.RWMutex
	entries   map[string]Connection
	openers   map[model.ConnectionType]Opener
	settings  Settings
	openGroup singleflight.Group
}

// NewPool creates a pool with openers for every built-in connection type.
func NewPool(settings Settings) *Pool {
	p := &Pool{
		entries:  make(map[string]Connection),
		openers:  make(map[model.ConnectionType]Opener),
		settings: settings,
	}
	for typ, opener := range defaultOpeners() {
		p.openers[typ] = opener
	}
	return p
}

// Register replaces the opener for a connection type.
func (p *Pool) Register(typ model.ConnectionType, opener Opener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openers[typ] = opener
}

// Get returns the cached connection for cfg, opening it on first use.
// Uses singleflight so concurrent first use opens one connection without
// holding the pool lock while the warehouse is dialed. The shared open is
// detached from the caller's cancellation and bounded by the connect timeout;
// a cancelled caller stops waiting but other waiters still get the connection.
func (p *Pool) Get(ctx context.Context, cfg model.ConnectionConfig) (Connection, error) {
	key := Fingerprint(cfg)

	p.mu.RLock()
	if conn, ok := p.entries[key]; ok {
		p.mu.RUnlock()
		return conn, nil
	}
	opener, ok := p.openers[cfg.Type]
	p.mu.RUnlock()
	if !ok {
		return nil, &model.UnsupportedFeatureError{Dialect: string(cfg.Type), Feature: "connection type"}
	}

	ch := p.openGroup.DoChan(key, func() (interface{}, error) {
		// Double-check after winning the flight
		p.mu.RLock()
		conn, ok := p.entries[key]
		p.mu.RUnlock()
		if ok {
			return conn, nil
		}

		openCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.connectTimeout())
		defer cancel()
		conn, err := opener(openCtx, cfg, p.settings)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s connection: %w", cfg.Type, err)
		}
		p.mu.Lock()
		p.entries[key] = conn
		p.mu.Unlock()

		slog.Info("[Pool] Opened connection", "type", cfg.Type, "host", cfg.Host, "fingerprint", key[:12])
		return conn, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Connection), nil
	}
}

// connectTimeout bounds one open, including the opener's own ping.
func (p *Pool) connectTimeout() time.Duration {
	if p.settings.ConnectTimeout > 0 {
		return 2 * p.settings.ConnectTimeout
	}
	return 2 * defaultConnectTimeout
}

// Invalidate closes and forgets the connection for cfg, if any.
func (p *Pool) Invalidate(cfg model.ConnectionConfig) error {
	key := Fingerprint(cfg)

	p.mu.Lock()
	conn, ok := p.entries[key]
	delete(p.entries, key)
	p.mu.Unlock()

	if !ok {
		return nil
	}
	slog.Info("[Pool] Invalidated connection", "type", cfg.Type, "fingerprint", key[:12])
	return conn.Close()
}

// Reconnect drops any cached connection for cfg and opens a fresh one.
func (p *Pool) Reconnect(ctx context.Context, cfg model.ConnectionConfig) (Connection, error) {
	if err := p.Invalidate(cfg); err != nil {
		slog.Warn("[Pool] Closing stale connection failed", "type", cfg.Type, "error", err)
	}
	return p.Get(ctx, cfg)
}

// Len returns the number of open connections.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// Close closes every cached connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]Connection)
	p.mu.Unlock()

	var errs []error
	for _, conn := range entries {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Fingerprint identifies a connection configuration. Secrets contribute their
// resolver identity, never their value.
func Fingerprint(cfg model.ConnectionConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "type=%s\nhost=%s\nport=%d\ncatalog=%s\nschema=%s\nuser=%s\npath=%s\nurl=%s\n",
		cfg.Type, cfg.Host, cfg.Port, cfg.Catalog, cfg.Schema, cfg.User, cfg.Path, cfg.URL)
	keys := make([]string, 0, len(cfg.Params))
	for k := range cfg.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "param.%s=%s\n", k, cfg.Params[k])
	}
	if cfg.Secret != nil {
		fmt.Fprintf(&b, "secret=%s\n", cfg.Secret.Identity())
	}
	return fmt.Sprintf("%x", sha256.Sum256([]byte(b.String())))
}
