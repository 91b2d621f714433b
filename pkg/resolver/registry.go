package resolver

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/openfroyo/crateplan/pkg/core"
)

// Registry supplies candidate summaries. Candidates must return every known
// version of name from source, in registration order; filtering and ordering
// are the resolver's job. An unknown name is not an error: it returns an
// empty slice.
type Registry interface {
	Candidates(ctx context.Context, source core.SourceId, name string) ([]core.Summary, error)
}

// RegistryFunc adapts a function to the Registry interface.
type RegistryFunc func(ctx context.Context, source core.SourceId, name string) ([]core.Summary, error)

// Candidates implements Registry.
func (f RegistryFunc) Candidates(ctx context.Context, source core.SourceId, name string) ([]core.Summary, error) {
	return f(ctx, source, name)
}

type registryKey struct {
	source core.SourceId
	name   string
}

// MemoryRegistry is an in-memory Registry. Summaries are returned in the
// order they were added.
type MemoryRegistry struct {
	mu      sync.RWMutex
	entries map[registryKey][]core.Summary
}

// NewMemoryRegistry creates a registry holding the given summaries.
func NewMemoryRegistry(summaries ...core.Summary) *MemoryRegistry {
	r := &MemoryRegistry{entries: make(map[registryKey][]core.Summary)}
	r.Add(summaries...)
	return r
}

// Add registers summaries.
func (r *MemoryRegistry) Add(summaries ...core.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range summaries {
		k := registryKey{source: s.ID.Source, name: s.ID.Name}
		r.entries[k] = append(r.entries[k], s)
	}
}

// Len returns the number of registered summaries.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, v := range r.entries {
		n += len(v)
	}
	return n
}

// Candidates implements Registry.
func (r *MemoryRegistry) Candidates(_ context.Context, source core.SourceId, name string) ([]core.Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	found := r.entries[registryKey{source: source, name: name}]
	out := make([]core.Summary, len(found))
	copy(out, found)
	return out, nil
}

// CachingRegistry memoizes another Registry's answers in an LRU cache so
// repeated queries for a name are stable and cheap.
type CachingRegistry struct {
	inner Registry
	cache *lru.Cache[registryKey, []core.Summary]
}

// NewCachingRegistry wraps inner with a cache holding up to size names.
func NewCachingRegistry(inner Registry, size int) (*CachingRegistry, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[registryKey, []core.Summary](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create candidate cache: %w", err)
	}
	return &CachingRegistry{inner: inner, cache: cache}, nil
}

// Candidates implements Registry.
func (c *CachingRegistry) Candidates(ctx context.Context, source core.SourceId, name string) ([]core.Summary, error) {
	k := registryKey{source: source, name: name}
	if cached, ok := c.cache.Get(k); ok {
		return cached, nil
	}
	found, err := c.inner.Candidates(ctx, source, name)
	if err != nil {
		return nil, err
	}
	c.cache.Add(k, found)
	return found, nil
}

// Purge drops every cached answer.
func (c *CachingRegistry) Purge() {
	c.cache.Purge()
}

// MultiRegistry dispatches queries by source kind. Kinds without a registered
// backend yield no candidates.
type MultiRegistry struct {
	backends map[core.SourceKind]Registry
}

// NewMultiRegistry creates an empty MultiRegistry.
func NewMultiRegistry() *MultiRegistry {
	return &MultiRegistry{backends: make(map[core.SourceKind]Registry)}
}

// Register sets the backend for a source kind.
func (m *MultiRegistry) Register(kind core.SourceKind, r Registry) *MultiRegistry {
	m.backends[kind] = r
	return m
}

// Candidates implements Registry.
func (m *MultiRegistry) Candidates(ctx context.Context, source core.SourceId, name string) ([]core.Summary, error) {
	r, ok := m.backends[source.Kind]
	if !ok {
		return nil, nil
	}
	return r.Candidates(ctx, source, name)
}
