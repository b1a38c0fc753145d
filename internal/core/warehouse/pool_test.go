package warehouse

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aevon-lab/insight/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id     int64
	closed atomic.Bool
}

func (c *fakeConn) Query(context.Context, string, ...any) (*Result, error) { return &Result{}, nil }
func (c *fakeConn) Ping(context.Context) error                            { return nil }
func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func countingOpener(opens *atomic.Int64) Opener {
	return func(ctx context.Context, cfg model.ConnectionConfig, settings Settings) (Connection, error) {
		time.Sleep(5 * time.Millisecond)
		return &fakeConn{id: opens.Add(1)}, nil
	}
}

func TestPool_GetConcurrentFirstUseOpensOnce(t *testing.T) {
	var opens atomic.Int64
	pool := NewPool(Settings{})
	pool.Register(model.ConnSQLite, countingOpener(&opens))

	cfg := model.ConnectionConfig{Type: model.ConnSQLite, Path: "events.db"}

	const workers = 20
	conns := make([]Connection, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := pool.Get(context.Background(), cfg)
			require.NoError(t, err)
			conns[i] = conn
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, opens.Load())
	for _, conn := range conns {
		assert.Same(t, conns[0], conn)
	}
	require.Equal(t, 1, pool.Len())
}

func TestPool_CancelledCallerDoesNotFailSharedOpen(t *testing.T) {
	var opens atomic.Int64
	started := make(chan struct{})
	release := make(chan struct{})
	pool := NewPool(Settings{})
	pool.Register(model.ConnSQLite, func(ctx context.Context, cfg model.ConnectionConfig, settings Settings) (Connection, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &fakeConn{id: opens.Add(1)}, nil
	})
	cfg := model.ConnectionConfig{Type: model.ConnSQLite, Path: "events.db"}

	first, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := pool.Get(first, cfg)
		firstErr <- err
	}()
	<-started

	type result struct {
		conn Connection
		err  error
	}
	second := make(chan result, 1)
	go func() {
		conn, err := pool.Get(context.Background(), cfg)
		second <- result{conn, err}
	}()

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	got := <-second
	require.NoError(t, got.err)
	require.NotNil(t, got.conn)
	assert.EqualValues(t, 1, opens.Load())
	assert.Equal(t, 1, pool.Len(), "the open completed despite the cancelled caller")
}

func TestPool_DistinctConfigsGetDistinctConnections(t *testing.T) {
	var opens atomic.Int64
	pool := NewPool(Settings{})
	pool.Register(model.ConnSQLite, countingOpener(&opens))

	a, err := pool.Get(context.Background(), model.ConnectionConfig{Type: model.ConnSQLite, Path: "a.db"})
	require.NoError(t, err)
	b, err := pool.Get(context.Background(), model.ConnectionConfig{Type: model.ConnSQLite, Path: "b.db"})
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	require.EqualValues(t, 2, opens.Load())
}

func TestPool_InvalidateAndReconnect(t *testing.T) {
	var opens atomic.Int64
	pool := NewPool(Settings{})
	pool.Register(model.ConnSQLite, countingOpener(&opens))
	cfg := model.ConnectionConfig{Type: model.ConnSQLite, Path: "events.db"}

	first, err := pool.Get(context.Background(), cfg)
	require.NoError(t, err)

	second, err := pool.Reconnect(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.True(t, first.(*fakeConn).closed.Load())

	require.NoError(t, pool.Invalidate(cfg))
	assert.True(t, second.(*fakeConn).closed.Load())
	require.Equal(t, 0, pool.Len())

	// invalidating an unknown config is a no-op
	require.NoError(t, pool.Invalidate(cfg))
}

func TestPool_OpenFailureIsNotCached(t *testing.T) {
	calls := 0
	pool := NewPool(Settings{})
	pool.Register(model.ConnSQLite, func(context.Context, model.ConnectionConfig, Settings) (Connection, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("connection refused")
		}
		return &fakeConn{}, nil
	})
	cfg := model.ConnectionConfig{Type: model.ConnSQLite}

	_, err := pool.Get(context.Background(), cfg)
	require.ErrorContains(t, err, "connection refused")

	_, err = pool.Get(context.Background(), cfg)
	require.NoError(t, err)
}

func TestPool_UnknownConnectionType(t *testing.T) {
	pool := NewPool(Settings{})
	_, err := pool.Get(context.Background(), model.ConnectionConfig{Type: "oracle"})
	require.ErrorIs(t, err, model.ErrUnsupported)
}

func TestFingerprint(t *testing.T) {
	base := model.ConnectionConfig{
		Type:   model.ConnPostgres,
		Host:   "db",
		Port:   5432,
		User:   "insight",
		Params: map[string]string{"sslmode": "disable", "application_name": "insight"},
		Secret: model.EnvSecret{Var: "PG_PASSWORD"},
	}

	same := base
	same.Params = map[string]string{"application_name": "insight", "sslmode": "disable"}
	assert.Equal(t, Fingerprint(base), Fingerprint(same))

	otherHost := base
	otherHost.Host = "replica"
	assert.NotEqual(t, Fingerprint(base), Fingerprint(otherHost))

	otherSecret := base
	otherSecret.Secret = model.EnvSecret{Var: "PG_REPLICA_PASSWORD"}
	assert.NotEqual(t, Fingerprint(base), Fingerprint(otherSecret))
}
