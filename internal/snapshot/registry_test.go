package snapshot

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aevon-lab/insight/internal/core/model"
)

func snap(source string) model.DiscoveredEventDataSource {
	return model.DiscoveredEventDataSource{
		SourceID: source,
		Tables: map[string]model.DiscoveredTable{
			"events": {Table: model.EventDataTable{Name: "events"}, Events: map[string]model.EventDef{}},
		},
	}
}

func TestRegistry_PublishVersions(t *testing.T) {
	r := NewRegistry(10)

	first, err := r.Publish(snap("web"))
	require.NoError(t, err)
	second, err := r.Publish(snap("web"))
	require.NoError(t, err)
	other, err := r.Publish(snap("app"))
	require.NoError(t, err)

	assert.Equal(t, 1, first.Version)
	assert.Equal(t, 2, second.Version)
	assert.Equal(t, 1, other.Version)
	assert.NotEqual(t, first.ID, second.ID)
	assert.False(t, first.DiscoveredAt.IsZero())

	current, err := r.Current("web")
	require.NoError(t, err)
	assert.Same(t, second, current)

	old, err := r.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, old.Version, "replaced snapshots stay addressable")

	assert.Equal(t, []string{"app", "web"}, r.Sources())
}

func TestRegistry_NotFound(t *testing.T) {
	r := NewRegistry(1)

	_, err := r.Current("web")
	assert.ErrorIs(t, err, model.ErrNotFound)

	first, err := r.Publish(snap("web"))
	require.NoError(t, err)
	_, err = r.Publish(snap("app"))
	require.NoError(t, err)
	second, err := r.Publish(snap("web"))
	require.NoError(t, err)

	_, err = r.Get(first.ID)
	assert.ErrorIs(t, err, model.ErrNotFound, "evicted snapshots are gone, not dangling")

	got, err := r.Get(second.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)

	_, err = r.Get("nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRegistry_PublishRequiresSource(t *testing.T) {
	_, err := NewRegistry(1).Publish(model.DiscoveredEventDataSource{})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestRegistry_ConcurrentPublish(t *testing.T) {
	r := NewRegistry(100)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Publish(snap("web"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	current, err := r.Current("web")
	require.NoError(t, err)
	assert.Equal(t, 20, current.Version)
}

func TestLRUCache(t *testing.T) {
	c := NewLRUCache(2)
	a := &model.DiscoveredEventDataSource{ID: "a"}
	b := &model.DiscoveredEventDataSource{ID: "b"}
	d := &model.DiscoveredEventDataSource{ID: "d"}

	c.Put(a)
	c.Put(b)
	require.NotNil(t, c.Get("a")) // a is now most recent
	c.Put(d)

	assert.Nil(t, c.Get("b"))
	assert.Same(t, a, c.Get("a"))
	assert.Same(t, d, c.Get("d"))

	// replacing an entry refreshes it without evicting
	a2 := &model.DiscoveredEventDataSource{ID: "a", Version: 2}
	c.Put(a2)
	assert.Same(t, a2, c.Get("a"))
	assert.Same(t, d, c.Get("d"))
}
