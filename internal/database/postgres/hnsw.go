package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/lookalike/internal/database"
)

// EnableHNSW turns on the in-memory HNSW fast path. When path is set and the
// saved index matches the database (enrolled count and highest version) it is
// loaded from disk, otherwise the index is rebuilt from PostgreSQL.
func (r *ProfileRepository) EnableHNSW(ctx context.Context, path string) error {
	r.hnswMu.Lock()
	r.hnswIndexPath = path
	r.hnswMu.Unlock()

	if path != "" {
		loaded, err := r.loadSavedIndex(ctx, path)
		if err != nil {
			fmt.Printf("HNSW: saved index unusable, rebuilding: %v\n", err)
		}
		if loaded {
			return nil
		}
	}

	return r.RebuildHNSW(ctx)
}

// loadSavedIndex loads the index from disk if it is still in sync with the database.
func (r *ProfileRepository) loadSavedIndex(ctx context.Context, path string) (bool, error) {
	meta, err := database.LoadHNSWMetadata(path)
	if err != nil {
		return false, err
	}

	count, maxVersion, err := r.indexStats(ctx)
	if err != nil {
		return false, err
	}
	if meta.ProfileCount != count || meta.MaxVersion != maxVersion || (count > 0 && meta.Dim != r.dim) {
		return false, fmt.Errorf("stale index: saved %d profiles at version %d, database has %d at version %d",
			meta.ProfileCount, meta.MaxVersion, count, maxVersion)
	}

	idx := database.NewHNSWCentroidIndex()
	if err := idx.Load(path); err != nil {
		return false, err
	}

	r.hnswMu.Lock()
	r.hnswIndex = idx
	r.hnswEnabled = true
	r.hnswMu.Unlock()

	fmt.Printf("HNSW: loaded %d profiles from %s\n", idx.Count(), path)
	return true, nil
}

// RebuildHNSW rebuilds the in-memory HNSW index from PostgreSQL
func (r *ProfileRepository) RebuildHNSW(ctx context.Context) error {
	idx := database.NewHNSWCentroidIndex()
	if err := idx.BuildFrom(ctx, r); err != nil {
		return fmt.Errorf("build HNSW index: %w", err)
	}

	r.hnswMu.Lock()
	r.hnswIndex = idx
	r.hnswEnabled = true
	r.hnswMu.Unlock()

	return nil
}

// hnswRebuildTimeout bounds a background rebuild triggered by a stale index.
const hnswRebuildTimeout = 5 * time.Minute

// rebuildHNSWInBackground rebuilds the index unless a rebuild is already running.
// Searches use PostgreSQL until the new index is in place.
func (r *ProfileRepository) rebuildHNSWInBackground(reason string) {
	if !r.rebuilding.CompareAndSwap(false, true) {
		return
	}
	fmt.Printf("HNSW: index out of sync (%s), rebuilding\n", reason)

	go func() {
		defer r.rebuilding.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), hnswRebuildTimeout)
		defer cancel()

		if err := r.RebuildHNSW(ctx); err != nil {
			fmt.Printf("HNSW: background rebuild failed: %v\n", err)
			return
		}
		fmt.Printf("HNSW: rebuilt with %d profiles\n", r.HNSWCount())
	}()
}

// HNSWCount returns the number of profiles in the HNSW index
func (r *ProfileRepository) HNSWCount() int {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	if r.hnswIndex == nil {
		return 0
	}
	return r.hnswIndex.Count()
}

// IsHNSWEnabled returns whether HNSW is enabled
func (r *ProfileRepository) IsHNSWEnabled() bool {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	return r.hnswEnabled
}

// SaveHNSWIndex saves the current index to disk (if path configured)
func (r *ProfileRepository) SaveHNSWIndex() error {
	r.hnswMu.RLock()
	idx := r.hnswIndex
	path := r.hnswIndexPath
	r.hnswMu.RUnlock()

	if idx == nil || path == "" {
		return nil
	}
	if err := idx.Save(path); err != nil {
		return fmt.Errorf("save HNSW index: %w", err)
	}
	return nil
}
