// Package snapshot publishes discovery snapshots. Published snapshots are
// immutable; re-discovery publishes a new version instead of mutating the old
// one, and readers holding an ID look it up again rather than keeping
// pointers into a replaced snapshot.
package snapshot

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aevon-lab/insight/internal/core/model"
)

// DefaultCacheCapacity is the default number of snapshots kept addressable by ID.
const DefaultCacheCapacity = 64

// Registry holds the current snapshot per source and recent snapshots by ID.
type Registry struct {
	mu       sync.RWMutex
	current  map[string]*model.DiscoveredEventDataSource
	versions map[string]int
	cache    *LRUCache
	now      func() time.Time
}

// NewRegistry creates a registry keeping up to capacity snapshots by ID.
// Current snapshots stay addressable regardless of capacity.
func NewRegistry(capacity int) *Registry {
	return &Registry{
		current:  make(map[string]*model.DiscoveredEventDataSource),
		versions: make(map[string]int),
		cache:    NewLRUCache(capacity),
		now:      time.Now,
	}
}

// Publish assigns the snapshot an ID and the next version of its source and
// makes it current.
func (r *Registry) Publish(s model.DiscoveredEventDataSource) (*model.DiscoveredEventDataSource, error) {
	if s.SourceID == "" {
		return nil, model.NewValidationError("source_id", "is required")
	}
	if s.Tables == nil {
		s.Tables = map[string]model.DiscoveredTable{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.versions[s.SourceID]++
	s.ID = uuid.New().String()
	s.Version = r.versions[s.SourceID]
	if s.DiscoveredAt.IsZero() {
		s.DiscoveredAt = r.now().UTC()
	}

	published := &s
	r.current[s.SourceID] = published
	r.cache.Put(published)

	slog.Info("[Snapshot] Published",
		"source_id", s.SourceID,
		"snapshot_id", s.ID,
		"version", s.Version,
		"tables", len(s.Tables))
	return published, nil
}

// Current returns the latest snapshot of a source.
func (r *Registry) Current(sourceID string) (*model.DiscoveredEventDataSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.current[sourceID]
	if !ok {
		return nil, &model.NotFoundError{Kind: "snapshot for source", Name: sourceID}
	}
	return s, nil
}

// Get returns a snapshot by ID, current or recently replaced.
func (r *Registry) Get(id string) (*model.DiscoveredEventDataSource, error) {
	if s := r.cache.Get(id); s != nil {
		return s, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.current {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, &model.NotFoundError{Kind: "snapshot", Name: id}
}

// Sources lists the sources with a published snapshot.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.current))
	for id := range r.current {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
