// Package bolt implements the profile store on an embedded bbolt file for
// single-node deployments. Ranking is an exact brute-force scan over an
// in-memory copy of the enrolled profiles.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/kozaktomas/lookalike/internal/database"
)

var (
	bucketProfiles = []byte("profiles")
	bucketMeta     = []byte("meta")
	keyDim         = []byte("dim")
	keyVersion     = []byte("version")
)

// openTimeout bounds how long Open waits for the file lock held by another process.
const openTimeout = 2 * time.Second

// Store implements database.ProfileStore using bbolt for persistence.
type Store struct {
	db  *bbolt.DB
	dim int

	mu       sync.RWMutex
	profiles map[string]*database.PersonProfile // In-memory cache for fast search
}

var (
	_ database.ProfileStore   = (*Store)(nil)
	_ database.EnrolledLister = (*Store)(nil)
)

type storedProfile struct {
	DisplayName string    `json:"n"`
	AvatarRef   string    `json:"a,omitempty"`
	Vector      []float32 `json:"v,omitempty"`
	Seq         int64     `json:"s"`
	Version     int64     `json:"ver"`
	CreatedAt   time.Time `json:"c"`
	UpdatedAt   time.Time `json:"u"`
}

// Open opens (or creates) the bbolt file at path for dim-dimensional centroids.
func Open(path string, dim int) (*Store, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s is locked by another process", database.ErrUnavailable, path)
		}
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketProfiles, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return checkDimension(tx.Bucket(bucketMeta), dim)
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:       db,
		dim:      dim,
		profiles: make(map[string]*database.PersonProfile),
	}
	if err := s.loadProfiles(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	return s, nil
}

// Initialize opens the store and registers it as the active profile store.
func Initialize(path string, dim int) (*Store, error) {
	s, err := Open(path, dim)
	if err != nil {
		return nil, err
	}
	database.RegisterBackend("bolt", func() database.ProfileStore { return s })
	return s, nil
}

// checkDimension records the dimension on first use and refuses a different one later.
func checkDimension(meta *bbolt.Bucket, dim int) error {
	want := []byte(strconv.Itoa(dim))
	stored := meta.Get(keyDim)
	if stored == nil {
		return meta.Put(keyDim, want)
	}
	if string(stored) != string(want) {
		return fmt.Errorf("store was created for %s-dimensional embeddings, configured dimension is %d", stored, dim)
	}
	return nil
}

// loadProfiles loads all profiles from bbolt into memory.
func (s *Store) loadProfiles() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketProfiles).ForEach(func(k, v []byte) error {
			var stored storedProfile
			if err := json.Unmarshal(v, &stored); err != nil {
				return fmt.Errorf("decode profile %s: %w", k, err)
			}
			s.profiles[string(k)] = fromStored(string(k), &stored)
			return nil
		})
	})
}

func fromStored(id string, sp *storedProfile) *database.PersonProfile {
	return &database.PersonProfile{
		ID:          id,
		DisplayName: sp.DisplayName,
		AvatarRef:   sp.AvatarRef,
		Centroid:    sp.Vector,
		Seq:         sp.Seq,
		Version:     sp.Version,
		CreatedAt:   sp.CreatedAt,
		UpdatedAt:   sp.UpdatedAt,
	}
}

func toStored(p *database.PersonProfile) storedProfile {
	return storedProfile{
		DisplayName: p.DisplayName,
		AvatarRef:   p.AvatarRef,
		Vector:      p.Centroid,
		Seq:         p.Seq,
		Version:     p.Version,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// Close closes the underlying bbolt file.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing bolt db: %w", err)
	}
	return nil
}

// nextVersion bumps the global write counter stored in the meta bucket.
func nextVersion(tx *bbolt.Tx) (int64, error) {
	meta := tx.Bucket(bucketMeta)
	var v uint64
	if raw := meta.Get(keyVersion); len(raw) == 8 {
		v = binary.BigEndian.Uint64(raw)
	}
	v++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	if err := meta.Put(keyVersion, buf); err != nil {
		return 0, err
	}
	return int64(v), nil
}

// put writes p inside tx, assigning a sequence number to new profiles.
func putProfile(tx *bbolt.Tx, p *database.PersonProfile) error {
	b := tx.Bucket(bucketProfiles)
	if p.Seq == 0 {
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		p.Seq = int64(seq)
	}
	data, err := json.Marshal(toStored(p))
	if err != nil {
		return err
	}
	return b.Put([]byte(p.ID), data)
}

// update runs fn in a write transaction and maps bbolt failures to gateway errors.
func (s *Store) update(op string, fn func(tx *bbolt.Tx) error) error {
	err := s.db.Update(fn)
	if err == nil {
		return nil
	}
	if errors.Is(err, database.ErrNotFound) || errors.Is(err, database.ErrDimensionMismatch) {
		return err
	}
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) || errors.Is(err, bbolt.ErrTimeout) {
		return fmt.Errorf("%s: %w: %w", op, database.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// snapshot returns a copy of the cached profile, nil when missing. Caller holds s.mu.
func (s *Store) snapshot(id string) *database.PersonProfile {
	p, ok := s.profiles[id]
	if !ok {
		return nil
	}
	cp := *p
	cp.Centroid = database.CopyVector(p.Centroid)
	return &cp
}

// UpsertCentroid replaces the centroid of a person, creating the profile when missing.
func (s *Store) UpsertCentroid(ctx context.Context, id string, centroid []float32, opts ...database.UpsertOption) error {
	if err := database.CheckDimension(centroid, s.dim); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", database.ErrUnavailable, err)
	}
	o := database.ApplyUpsertOptions(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	p := s.snapshot(id)
	if p == nil {
		p = &database.PersonProfile{ID: id, CreatedAt: now}
	}
	if o.DisplayName != nil {
		p.DisplayName = *o.DisplayName
	}
	if o.AvatarRef != nil {
		p.AvatarRef = *o.AvatarRef
	}
	p.Centroid = database.CopyVector(centroid)
	p.UpdatedAt = now

	err := s.update("upsert centroid", func(tx *bbolt.Tx) error {
		version, err := nextVersion(tx)
		if err != nil {
			return err
		}
		p.Version = version
		return putProfile(tx, p)
	})
	if err != nil {
		return err
	}

	// Cache is updated only after the transaction committed.
	s.profiles[id] = p
	return nil
}

// RankedSearch ranks every enrolled profile by cosine similarity.
func (s *Store) RankedSearch(ctx context.Context, query []float32, k int) ([]database.MatchResult, error) {
	if k <= 0 {
		return []database.MatchResult{}, nil
	}
	if err := database.CheckDimension(query, s.dim); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := make([]database.PersonProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		candidates = append(candidates, *p)
	}
	return database.RankByCosine(candidates, query, k)
}

// GetProfile retrieves a profile by ID
func (s *Store) GetProfile(ctx context.Context, id string) (*database.PersonProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := s.snapshot(id)
	if p == nil {
		return nil, database.ErrNotFound
	}
	return p, nil
}

// Count returns total and enrolled profile counts
func (s *Store) Count(ctx context.Context) (database.ProfileCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var counts database.ProfileCounts
	for _, p := range s.profiles {
		counts.Total++
		if p.Enrolled() {
			counts.Enrolled++
		}
	}
	return counts, nil
}

// RegisterProfile inserts an unenrolled profile; existing profiles are left untouched
func (s *Store) RegisterProfile(ctx context.Context, id, displayName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[id]; ok {
		return false, nil
	}

	now := time.Now().UTC()
	p := &database.PersonProfile{ID: id, DisplayName: displayName, CreatedAt: now, UpdatedAt: now}
	if err := s.update("register profile", func(tx *bbolt.Tx) error {
		return putProfile(tx, p)
	}); err != nil {
		return false, err
	}

	s.profiles[id] = p
	return true, nil
}

// UpdateDisplayName renames a profile without touching its centroid
func (s *Store) UpdateDisplayName(ctx context.Context, id, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.snapshot(id)
	if p == nil {
		return database.ErrNotFound
	}
	p.DisplayName = displayName
	p.UpdatedAt = time.Now().UTC()

	if err := s.update("update display name", func(tx *bbolt.Tx) error {
		return putProfile(tx, p)
	}); err != nil {
		return err
	}

	s.profiles[id] = p
	return nil
}

// DeleteProfile removes a profile and its vector
func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[id]; !ok {
		return database.ErrNotFound
	}
	if err := s.update("delete profile", func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketProfiles).Delete([]byte(id))
	}); err != nil {
		return err
	}

	delete(s.profiles, id)
	return nil
}

// ListEnrolled returns every enrolled profile
func (s *Store) ListEnrolled(ctx context.Context) ([]database.PersonProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []database.PersonProfile
	for id, p := range s.profiles {
		if p.Enrolled() {
			out = append(out, *s.snapshot(id))
		}
	}
	return out, nil
}
