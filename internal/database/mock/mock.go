// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/kozaktomas/lookalike/internal/database"
)

// MockProfileStore is an in-memory implementation of database.ProfileStore
type MockProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*database.PersonProfile
	seq      int64
	version  int64
	dim      int

	// Error injection
	UpsertError       error
	RankedSearchError error
	GetProfileError   error
	CountError        error
	RegisterError     error
	UpdateNameError   error
	DeleteError       error
	ListEnrolledError error

	// Call counters
	UpsertCalls       int
	RankedSearchCalls int
	DeleteCalls       int
}

var (
	_ database.ProfileStore   = (*MockProfileStore)(nil)
	_ database.EnrolledLister = (*MockProfileStore)(nil)
)

// NewMockProfileStore creates a new mock store. dim <= 0 accepts any vector length.
func NewMockProfileStore(dim int) *MockProfileStore {
	return &MockProfileStore{
		profiles: make(map[string]*database.PersonProfile),
		dim:      dim,
	}
}

// AddProfile adds a profile to the mock store as-is, assigning seq and version when unset
func (m *MockProfileStore) AddProfile(p database.PersonProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Seq == 0 {
		m.seq++
		p.Seq = m.seq
	}
	if p.Version == 0 {
		m.version++
		p.Version = m.version
	}
	p.Centroid = database.CopyVector(p.Centroid)
	m.profiles[p.ID] = &p
}

// Profile returns a copy of the stored profile, nil when missing
func (m *MockProfileStore) Profile(id string) *database.PersonProfile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil
	}
	cp := *p
	cp.Centroid = database.CopyVector(p.Centroid)
	return &cp
}

// UpsertCentroid replaces the centroid of a person
func (m *MockProfileStore) UpsertCentroid(ctx context.Context, id string, centroid []float32, opts ...database.UpsertOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertCalls++

	if m.UpsertError != nil {
		return m.UpsertError
	}
	if err := database.CheckDimension(centroid, m.dim); err != nil {
		return err
	}

	o := database.ApplyUpsertOptions(opts...)
	now := time.Now()
	p, ok := m.profiles[id]
	if !ok {
		m.seq++
		p = &database.PersonProfile{ID: id, Seq: m.seq, CreatedAt: now}
		m.profiles[id] = p
	}
	if o.DisplayName != nil {
		p.DisplayName = *o.DisplayName
	}
	if o.AvatarRef != nil {
		p.AvatarRef = *o.AvatarRef
	}
	m.version++
	p.Version = m.version
	p.Centroid = database.CopyVector(centroid)
	p.UpdatedAt = now
	return nil
}

// RankedSearch ranks enrolled profiles by cosine similarity
func (m *MockProfileStore) RankedSearch(ctx context.Context, query []float32, k int) ([]database.MatchResult, error) {
	m.mu.Lock()
	m.RankedSearchCalls++
	m.mu.Unlock()

	if m.RankedSearchError != nil {
		return nil, m.RankedSearchError
	}
	if k <= 0 {
		return []database.MatchResult{}, nil
	}
	if err := database.CheckDimension(query, m.dim); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	candidates := make([]database.PersonProfile, 0, len(m.profiles))
	for _, p := range m.profiles {
		candidates = append(candidates, *p)
	}
	return database.RankByCosine(candidates, query, k)
}

// GetProfile retrieves a profile by ID
func (m *MockProfileStore) GetProfile(ctx context.Context, id string) (*database.PersonProfile, error) {
	if m.GetProfileError != nil {
		return nil, m.GetProfileError
	}
	p := m.Profile(id)
	if p == nil {
		return nil, database.ErrNotFound
	}
	return p, nil
}

// Count returns total and enrolled profile counts
func (m *MockProfileStore) Count(ctx context.Context) (database.ProfileCounts, error) {
	if m.CountError != nil {
		return database.ProfileCounts{}, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var counts database.ProfileCounts
	for _, p := range m.profiles {
		counts.Total++
		if p.Enrolled() {
			counts.Enrolled++
		}
	}
	return counts, nil
}

// RegisterProfile inserts an unenrolled profile
func (m *MockProfileStore) RegisterProfile(ctx context.Context, id, displayName string) (bool, error) {
	if m.RegisterError != nil {
		return false, m.RegisterError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[id]; ok {
		return false, nil
	}
	m.seq++
	now := time.Now()
	m.profiles[id] = &database.PersonProfile{
		ID:          id,
		DisplayName: displayName,
		Seq:         m.seq,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return true, nil
}

// UpdateDisplayName renames a profile
func (m *MockProfileStore) UpdateDisplayName(ctx context.Context, id, displayName string) error {
	if m.UpdateNameError != nil {
		return m.UpdateNameError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return database.ErrNotFound
	}
	p.DisplayName = displayName
	p.UpdatedAt = time.Now()
	return nil
}

// DeleteProfile removes a profile
func (m *MockProfileStore) DeleteProfile(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls++
	if m.DeleteError != nil {
		return m.DeleteError
	}
	if _, ok := m.profiles[id]; !ok {
		return database.ErrNotFound
	}
	delete(m.profiles, id)
	return nil
}

// ListEnrolled returns every enrolled profile
func (m *MockProfileStore) ListEnrolled(ctx context.Context) ([]database.PersonProfile, error) {
	if m.ListEnrolledError != nil {
		return nil, m.ListEnrolledError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.PersonProfile
	for _, p := range m.profiles {
		if p.Enrolled() {
			cp := *p
			cp.Centroid = database.CopyVector(p.Centroid)
			out = append(out, cp)
		}
	}
	return out, nil
}

// MockHNSWRebuilder is a mock implementation of database.HNSWRebuilder
type MockHNSWRebuilder struct {
	Enabled      bool
	Size         int
	RebuildError error
	SaveError    error

	RebuildCalls int
	SaveCalls    int
}

var _ database.HNSWRebuilder = (*MockHNSWRebuilder)(nil)

// RebuildHNSW records the call
func (m *MockHNSWRebuilder) RebuildHNSW(ctx context.Context) error {
	m.RebuildCalls++
	return m.RebuildError
}

// HNSWCount returns the configured size
func (m *MockHNSWRebuilder) HNSWCount() int {
	return m.Size
}

// IsHNSWEnabled returns the configured flag
func (m *MockHNSWRebuilder) IsHNSWEnabled() bool {
	return m.Enabled
}

// SaveHNSWIndex records the call
func (m *MockHNSWRebuilder) SaveHNSWIndex() error {
	m.SaveCalls++
	return m.SaveError
}
