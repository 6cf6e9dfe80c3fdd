package database

// HNSW index parameters for 512-dim face centroids
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size of the in-memory graph.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 100

	// HNSWSearchMultiplier is the factor to request more candidates from HNSW
	// so that exact re-ranking still has k hits after dropping removed profiles.
	HNSWSearchMultiplier = 3

	// HNSWMinCandidates is the smallest candidate pool requested from the graph.
	HNSWMinCandidates = 32
)

// Display name limits
const (
	// MaxDisplayNameLength is the maximum display name length in runes
	MaxDisplayNameLength = 200
)
