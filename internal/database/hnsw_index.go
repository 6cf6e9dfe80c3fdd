package database

import (
	"bytes"
	"cmp"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

// HNSWIndexMetadata stores metadata for validating cached HNSW indexes.
type HNSWIndexMetadata struct {
	ProfileCount int64     `json:"profile_count"`
	MaxVersion   int64     `json:"max_version"`
	Dim          int       `json:"dim"`
	BuildTime    time.Time `json:"build_time"`
	Version      int       `json:"version"` // For future compatibility
}

const hnswMetadataVersion = 2

// indexedProfile is the in-memory copy of an enrolled profile kept next to the graph.
type indexedProfile struct {
	Ref      PersonRef
	Centroid []float32
	Seq      int64
	Version  int64
}

// HNSWCentroidIndex wraps the HNSW graph for centroid search. The graph only
// proposes candidates; results are re-ranked exactly from the profile map so
// removed or replaced nodes never leak into results.
//
// Graph nodes are keyed by profile ID and version and are never deleted or
// replaced in place: coder/hnsw panics on searches after a layer empties and
// on re-adding an existing key. Superseded nodes are counted as stale and the
// graph is rebuilt from the profile map once they outnumber the live ones.
type HNSWCentroidIndex struct {
	graph      *hnsw.Graph[string]
	savedGraph *hnsw.SavedGraph[string] // Set when loaded from disk
	profiles   map[string]*indexedProfile
	keys       map[string]string // graph node key -> profile id, live nodes only
	stale      int               // graph nodes no longer referenced by keys
	removed    map[string]int64  // id -> version of the delete, guards late writes
	dim        int
	mu         sync.RWMutex
}

// NewHNSWCentroidIndex creates a new empty index.
func NewHNSWCentroidIndex() *HNSWCentroidIndex {
	return &HNSWCentroidIndex{
		profiles: make(map[string]*indexedProfile),
		keys:     make(map[string]string),
		removed:  make(map[string]int64),
	}
}

// nodeKey is the graph key of one version of a profile. Versions are digits
// only, so the last '@' separates them from the ID.
func nodeKey(id string, version int64) string {
	return id + "@" + strconv.FormatInt(version, 10)
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	return g
}

// BuildFrom replaces the index content with every profile lister returns.
func (h *HNSWCentroidIndex) BuildFrom(ctx context.Context, lister EnrolledLister) error {
	profiles, err := lister.ListEnrolled(ctx)
	if err != nil {
		return fmt.Errorf("load profiles for HNSW: %w", err)
	}
	return h.Build(profiles)
}

// Build replaces the index content with the enrolled profiles.
func (h *HNSWCentroidIndex) Build(profiles []PersonProfile) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.savedGraph = nil
	h.removed = make(map[string]int64)
	h.profiles = make(map[string]*indexedProfile, len(profiles))
	h.keys = make(map[string]string, len(profiles))
	h.stale = 0
	h.dim = 0

	if len(profiles) == 0 {
		h.graph = nil
		return nil
	}

	g := newGraph()
	for i := range profiles {
		p := &profiles[i]
		if !p.Enrolled() {
			continue
		}
		if h.dim == 0 {
			h.dim = len(p.Centroid)
		}
		if len(p.Centroid) != h.dim {
			return fmt.Errorf("%w: profile %s has %d dimensions, index has %d",
				ErrDimensionMismatch, p.ID, len(p.Centroid), h.dim)
		}
		entry := toIndexed(p)
		key := nodeKey(p.ID, p.Version)
		g.Add(hnsw.MakeNode(key, entry.Centroid))
		h.profiles[p.ID] = entry
		h.keys[key] = p.ID
	}

	h.graph = g
	return nil
}

// rebuildGraph replaces the graph with one holding only the live profiles.
// Caller holds h.mu.
func (h *HNSWCentroidIndex) rebuildGraph() {
	h.savedGraph = nil
	h.keys = make(map[string]string, len(h.profiles))
	h.stale = 0
	if len(h.profiles) == 0 {
		h.graph = nil
		return
	}

	entries := make([]*indexedProfile, 0, len(h.profiles))
	for _, e := range h.profiles {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *indexedProfile) int { return cmp.Compare(a.Seq, b.Seq) })

	g := newGraph()
	for _, e := range entries {
		key := nodeKey(e.Ref.ID, e.Version)
		g.Add(hnsw.MakeNode(key, e.Centroid))
		h.keys[key] = e.Ref.ID
	}
	h.graph = g
}

// compactIfNeeded rebuilds the graph once stale nodes dominate it. Caller holds h.mu.
func (h *HNSWCentroidIndex) compactIfNeeded() {
	if h.stale >= HNSWMinCandidates && h.stale > len(h.profiles) {
		h.rebuildGraph()
	}
}

// hasNode reports whether key is already a node of the graph. Caller holds h.mu.
func (h *HNSWCentroidIndex) hasNode(key string) bool {
	var ok bool
	switch {
	case h.savedGraph != nil:
		_, ok = h.savedGraph.Lookup(key)
	case h.graph != nil:
		_, ok = h.graph.Lookup(key)
	}
	return ok
}

func toIndexed(p *PersonProfile) *indexedProfile {
	return &indexedProfile{
		Ref:      p.Ref(),
		Centroid: CopyVector(p.Centroid),
		Seq:      p.Seq,
		Version:  p.Version,
	}
}

// Apply mirrors a committed write into the index. The write is ignored when
// the index already holds the same or a newer version of the profile.
// Returns true if the index changed.
func (h *HNSWCentroidIndex) Apply(p *PersonProfile) bool {
	if !p.Enrolled() {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.profiles[p.ID]; ok && existing.Version >= p.Version {
		return false
	}
	if v, ok := h.removed[p.ID]; ok && v >= p.Version {
		return false
	}
	if h.dim != 0 && len(p.Centroid) != h.dim {
		return false
	}

	if existing, ok := h.profiles[p.ID]; ok {
		delete(h.keys, nodeKey(p.ID, existing.Version))
		h.stale++
	}

	entry := toIndexed(p)
	key := nodeKey(p.ID, p.Version)
	node := hnsw.MakeNode(key, entry.Centroid)
	switch {
	case h.hasNode(key):
		// A stale node of this exact version becomes live again.
		h.stale--
	case h.savedGraph != nil:
		h.savedGraph.Add(node)
	case h.graph != nil:
		h.graph.Add(node)
	default:
		h.graph = newGraph()
		h.graph.Add(node)
	}
	if h.dim == 0 {
		h.dim = len(entry.Centroid)
	}
	h.profiles[p.ID] = entry
	h.keys[key] = p.ID
	delete(h.removed, p.ID)
	h.compactIfNeeded()
	return true
}

// UpdateRef refreshes display attributes without touching the vector.
func (h *HNSWCentroidIndex) UpdateRef(ref PersonRef) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.profiles[ref.ID]
	if !ok {
		return false
	}
	entry.Ref = ref
	return true
}

// Remove drops a profile from search results. version is the store version at
// the time of the delete; later writes with a version at or below it are ignored.
func (h *HNSWCentroidIndex) Remove(id string, version int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.profiles[id]; ok {
		delete(h.keys, nodeKey(id, existing.Version))
		delete(h.profiles, id)
		h.stale++
	}
	if version > h.removed[id] {
		h.removed[id] = version
	}
	h.compactIfNeeded()
}

// Search returns the k best matches for query, ranked exactly. When the graph
// proposes fewer than min(k, Count()) live candidates the whole profile map is
// ranked instead, so approximate recall never shortens the result.
func (h *HNSWCentroidIndex) Search(query []float32, k int) ([]MatchResult, error) {
	if k <= 0 {
		return []MatchResult{}, nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil && h.savedGraph == nil {
		return nil, errors.New("index not initialized")
	}
	if err := CheckDimension(query, h.dim); err != nil {
		return nil, err
	}
	if len(h.profiles) == 0 {
		return []MatchResult{}, nil
	}

	limit := max(k*HNSWSearchMultiplier, HNSWMinCandidates)
	var neighbors []hnsw.Node[string]
	if h.savedGraph != nil {
		neighbors = h.savedGraph.Search(query, limit)
	} else {
		neighbors = h.graph.Search(query, limit)
	}

	candidates := make([]PersonProfile, 0, len(neighbors))
	seen := make(map[string]bool, len(neighbors))
	for _, n := range neighbors {
		id, ok := h.keys[n.Key]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		candidates = append(candidates, h.profiles[id].profile())
	}

	if len(candidates) < min(k, len(h.profiles)) {
		candidates = candidates[:0]
		for _, entry := range h.profiles {
			candidates = append(candidates, entry.profile())
		}
	}

	return RankByCosine(candidates, query, k)
}

func (e *indexedProfile) profile() PersonProfile {
	return PersonProfile{
		ID:          e.Ref.ID,
		DisplayName: e.Ref.DisplayName,
		AvatarRef:   e.Ref.AvatarRef,
		Centroid:    e.Centroid,
		Seq:         e.Seq,
		Version:     e.Version,
	}
}

// Stats returns the number of searchable profiles and their highest version.
// Compared against the store to detect writes the index never saw.
func (h *HNSWCentroidIndex) Stats() (int64, int64) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var maxVersion int64
	for _, p := range h.profiles {
		maxVersion = max(maxVersion, p.Version)
	}
	return int64(len(h.profiles)), maxVersion
}

// Count returns the number of searchable profiles.
func (h *HNSWCentroidIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.profiles)
}

// IsEmpty returns true if the index has no graph data loaded.
func (h *HNSWCentroidIndex) IsEmpty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph == nil && h.savedGraph == nil
}

// Metadata describes the current index content.
func (h *HNSWCentroidIndex) Metadata() HNSWIndexMetadata {
	h.mu.RLock()
	defer h.mu.RUnlock()

	meta := HNSWIndexMetadata{
		ProfileCount: int64(len(h.profiles)),
		Dim:          h.dim,
		BuildTime:    time.Now(),
		Version:      hnswMetadataVersion,
	}
	for _, p := range h.profiles {
		meta.MaxVersion = max(meta.MaxVersion, p.Version)
	}
	return meta
}

// Save persists the graph to path, metadata to path.meta and the profile
// map to path.profiles. An empty index removes the files.
func (h *HNSWCentroidIndex) Save(path string) error {
	if path == "" {
		return nil // No path set
	}

	meta := h.Metadata()

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil && h.savedGraph == nil {
		// Best-effort cleanup of a previously saved index.
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		_ = os.Remove(path + ".profiles")
		return nil
	}

	if err := h.exportGraph(path); err != nil {
		return err
	}

	metaData, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(h.profiles); err != nil {
		return fmt.Errorf("failed to encode profiles: %w", err)
	}
	if err := os.WriteFile(path+".profiles", buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write profiles file: %w", err)
	}

	return nil
}

// exportGraph writes the HNSW graph to the given file path.
func (h *HNSWCentroidIndex) exportGraph(path string) error {
	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	defer f.Close()

	if h.savedGraph != nil {
		err = h.savedGraph.Export(f)
	} else {
		err = h.graph.Export(f)
	}
	if err != nil {
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}
	return nil
}

// Load restores an index written by Save.
func (h *HNSWCentroidIndex) Load(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("HNSW index file not found: %s", path)
	}

	meta, err := LoadHNSWMetadata(path)
	if err != nil {
		return err
	}

	saved, err := hnsw.LoadSavedGraph[string](path)
	if err != nil {
		return fmt.Errorf("failed to load HNSW index: %w", err)
	}

	data, err := os.ReadFile(path + ".profiles") //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to read profiles file: %w", err)
	}
	profiles := make(map[string]*indexedProfile)
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&profiles); err != nil {
		return fmt.Errorf("failed to decode profiles: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.graph = nil
	h.savedGraph = saved
	h.profiles = profiles
	h.keys = make(map[string]string, len(profiles))
	for id, p := range profiles {
		h.keys[nodeKey(id, p.Version)] = id
	}
	h.stale = max(saved.Len()-len(profiles), 0)
	h.removed = make(map[string]int64)
	h.dim = meta.Dim
	return nil
}

// LoadHNSWMetadata loads metadata from a separate .meta file.
func LoadHNSWMetadata(path string) (HNSWIndexMetadata, error) {
	var metadata HNSWIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	if metadata.Version != hnswMetadataVersion {
		return metadata, fmt.Errorf("unsupported HNSW metadata version %d", metadata.Version)
	}

	return metadata, nil
}
