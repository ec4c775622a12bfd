package sync

import (
	"context"
	"sync"

	"shopsync/internal/retailer"
	"shopsync/internal/store"
)

// StoreNames is a bounded in-process cache of store display names, used for
// fast job-title resolution. It is an explicit object passed by reference,
// not a package global, so tests can build and discard their own.
type StoreNames struct {
	registry store.Registry
	max      int

	mu      sync.Mutex
	entries map[string]string
}

// NewStoreNames creates a cache holding at most max names.
func NewStoreNames(registry store.Registry, max int) *StoreNames {
	if max <= 0 {
		max = 256
	}
	return &StoreNames{
		registry: registry,
		max:      max,
		entries:  make(map[string]string),
	}
}

// Get returns the display name of a store, loading and caching it on a miss.
// Unknown stores resolve to their key so titles stay renderable.
func (n *StoreNames) Get(ctx context.Context, r retailer.Retailer, storeID string) (string, error) {
	key := retailer.StoreKey(r, storeID)

	n.mu.Lock()
	if name, ok := n.entries[key]; ok {
		n.mu.Unlock()
		return name, nil
	}
	n.mu.Unlock()

	s, err := n.registry.GetStore(ctx, r, storeID)
	if err != nil {
		return "", err
	}
	name := key
	if s != nil && s.Name != "" {
		name = s.Name
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.entries) >= n.max {
		// Evict one arbitrary entry; the cache is small and hot keys reload
		// on the next miss.
		for k := range n.entries {
			delete(n.entries, k)
			break
		}
	}
	n.entries[key] = name
	return name, nil
}

// Reset drops all cached names.
func (n *StoreNames) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries = make(map[string]string)
}
