package database

import (
	"context"
	"errors"
	"sync"
)

// HNSWRebuilder is an interface for stores that keep an in-memory HNSW index
type HNSWRebuilder interface {
	// RebuildHNSW rebuilds the in-memory HNSW index from the store
	RebuildHNSW(ctx context.Context) error
	// HNSWCount returns the number of profiles in the HNSW index
	HNSWCount() int
	// IsHNSWEnabled returns whether HNSW is enabled
	IsHNSWEnabled() bool
	// SaveHNSWIndex saves the current index to disk (if path configured)
	SaveHNSWIndex() error
}

var (
	providerMu    sync.RWMutex
	storeBackend  string
	storeFactory  func() ProfileStore
	hnswRebuilder HNSWRebuilder
)

// ErrNotInitialized is returned when no backend has been registered.
var ErrNotInitialized = errors.New("profile store not initialized: DATABASE_URL or --store bolt is required")

// RegisterBackend registers the profile store constructor of the active backend.
// This is called by the backend packages to avoid import cycles.
func RegisterBackend(name string, factory func() ProfileStore) {
	providerMu.Lock()
	defer providerMu.Unlock()
	storeBackend = name
	storeFactory = factory
}

// RegisterHNSWRebuilder registers the HNSW rebuilder of the active backend.
// This allows rebuilding the in-memory HNSW index without knowing the concrete type.
func RegisterHNSWRebuilder(rebuilder HNSWRebuilder) {
	providerMu.Lock()
	defer providerMu.Unlock()
	hnswRebuilder = rebuilder
}

// GetHNSWRebuilder returns the registered HNSW rebuilder, or nil if not registered.
func GetHNSWRebuilder() HNSWRebuilder {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return hnswRebuilder
}

// IsInitialized returns whether a backend has been registered.
func IsInitialized() bool {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return storeFactory != nil
}

// Backend returns the name of the registered backend.
func Backend() string {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return storeBackend
}

// GetProfileStore returns the ProfileStore of the registered backend.
func GetProfileStore(_ context.Context) (ProfileStore, error) {
	providerMu.RLock()
	defer providerMu.RUnlock()
	if storeFactory == nil {
		return nil, ErrNotInitialized
	}
	return storeFactory(), nil
}

// ResetProvider clears the registry. Used by Close functions and tests.
func ResetProvider() {
	providerMu.Lock()
	defer providerMu.Unlock()
	storeBackend = ""
	storeFactory = nil
	hnswRebuilder = nil
}
