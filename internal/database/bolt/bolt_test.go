package bolt

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/kozaktomas/lookalike/internal/database"
)

func openTestStore(t *testing.T, dim int) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.db")
	s, err := Open(path, dim)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestStore_UpsertAndGet(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t, 3)

	err := s.UpsertCentroid(ctx, "alice", []float32{1, 0, 0},
		database.WithDisplayName("Alice"), database.WithAvatar("alice.jpg"))
	if err != nil {
		t.Fatalf("UpsertCentroid failed: %v", err)
	}

	p, err := s.GetProfile(ctx, "alice")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if p.DisplayName != "Alice" || p.AvatarRef != "alice.jpg" || !p.Enrolled() {
		t.Errorf("unexpected profile %+v", p)
	}
	if p.Seq == 0 || p.Version == 0 {
		t.Errorf("expected seq and version to be assigned, got %d/%d", p.Seq, p.Version)
	}
}

func TestStore_UpsertReplacesKeepingSeq(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t, 2)

	s.UpsertCentroid(ctx, "p", []float32{1, 0}, database.WithDisplayName("P"))
	first, _ := s.GetProfile(ctx, "p")

	s.UpsertCentroid(ctx, "p", []float32{0, 1})
	second, _ := s.GetProfile(ctx, "p")

	if second.Seq != first.Seq {
		t.Errorf("expected stable seq, got %d then %d", first.Seq, second.Seq)
	}
	if second.Version <= first.Version {
		t.Errorf("expected version to increase, got %d then %d", first.Version, second.Version)
	}
	if second.DisplayName != "P" || second.Centroid[1] != 1 {
		t.Errorf("unexpected profile after replace %+v", second)
	}

	counts, _ := s.Count(ctx)
	if counts.Total != 1 || counts.Enrolled != 1 {
		t.Errorf("expected single profile, got %+v", counts)
	}
}

func TestStore_RankedSearch(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t, 2)

	s.RegisterProfile(ctx, "pending", "Pending")
	s.UpsertCentroid(ctx, "first", []float32{1, 0})
	s.UpsertCentroid(ctx, "second", []float32{3, 0})
	s.UpsertCentroid(ctx, "diagonal", []float32{1, 1})
	s.UpsertCentroid(ctx, "opposite", []float32{-1, 0})

	results, err := s.RankedSearch(ctx, []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("RankedSearch failed: %v", err)
	}

	want := []string{"first", "second", "diagonal"}
	if len(results) != len(want) {
		t.Fatalf("expected %d results, got %+v", len(want), results)
	}
	for i, id := range want {
		if results[i].Person.ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, results[i].Person.ID)
		}
	}
	if math.Abs(results[2].Similarity-(1-(1-1/math.Sqrt2))) > 1e-6 {
		t.Errorf("unexpected diagonal similarity %v", results[2].Similarity)
	}

	empty, err := s.RankedSearch(ctx, []float32{1, 0}, 0)
	if err != nil || len(empty) != 0 {
		t.Errorf("expected empty result for k=0, got %v, %v", empty, err)
	}
}

func TestStore_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s, path := openTestStore(t, 3)

	if err := s.UpsertCentroid(ctx, "p", []float32{1, 0}); !errors.Is(err, database.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch on upsert, got %v", err)
	}
	if _, err := s.RankedSearch(ctx, []float32{1, 0}, 3); !errors.Is(err, database.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch on search, got %v", err)
	}
	if _, err := s.GetProfile(ctx, "p"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected rejected write to leave nothing behind, got %v", err)
	}

	s.Close()
	if _, err := Open(path, 4); err == nil {
		t.Error("expected reopening with another dimension to fail")
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "profiles.db")

	s, err := Open(path, 2)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	s.RegisterProfile(ctx, "a", "A")
	s.UpsertCentroid(ctx, "b", []float32{0, 1}, database.WithDisplayName("B"))
	s.Close()

	reopened, err := Open(path, 2)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	counts, _ := reopened.Count(ctx)
	if counts.Total != 2 || counts.Enrolled != 1 {
		t.Errorf("unexpected counts after reopen %+v", counts)
	}
	results, _ := reopened.RankedSearch(ctx, []float32{0, 1}, 3)
	if len(results) != 1 || results[0].Person.DisplayName != "B" {
		t.Errorf("unexpected results after reopen %+v", results)
	}

	// New profiles continue the sequence.
	reopened.UpsertCentroid(ctx, "c", []float32{1, 0})
	a, _ := reopened.GetProfile(ctx, "a")
	c, _ := reopened.GetProfile(ctx, "c")
	if c.Seq <= a.Seq {
		t.Errorf("expected increasing seq, got a=%d c=%d", a.Seq, c.Seq)
	}
}

func TestStore_RegisterRenameDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t, 2)

	created, err := s.RegisterProfile(ctx, "bob", "Bob")
	if err != nil || !created {
		t.Fatalf("expected profile to be created, got %v, %v", created, err)
	}
	if created, _ := s.RegisterProfile(ctx, "bob", "Robert"); created {
		t.Error("expected duplicate registration to be a no-op")
	}

	if err := s.UpdateDisplayName(ctx, "bob", "Bobby"); err != nil {
		t.Fatalf("UpdateDisplayName failed: %v", err)
	}
	p, _ := s.GetProfile(ctx, "bob")
	if p.DisplayName != "Bobby" {
		t.Errorf("expected renamed profile, got %q", p.DisplayName)
	}

	if err := s.DeleteProfile(ctx, "bob"); err != nil {
		t.Fatalf("DeleteProfile failed: %v", err)
	}
	if err := s.DeleteProfile(ctx, "bob"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateDisplayName(ctx, "bob", "x"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ConcurrentUpserts(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t, 2)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.UpsertCentroid(ctx, "p", []float32{float32(i + 1), float32(i + 1)}); err != nil {
				t.Errorf("UpsertCentroid failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	p, _ := s.GetProfile(ctx, "p")
	if p.Centroid[0] != p.Centroid[1] {
		t.Errorf("expected a whole vector from one writer, got %v", p.Centroid)
	}
	if p.Version != 20 {
		t.Errorf("expected 20 serialized writes, got version %d", p.Version)
	}
}

func TestStore_CanceledContext(t *testing.T) {
	s, _ := openTestStore(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.UpsertCentroid(ctx, "p", []float32{1, 0}); !errors.Is(err, database.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestInitialize_RegistersBackend(t *testing.T) {
	t.Cleanup(database.ResetProvider)

	s, err := Initialize(filepath.Join(t.TempDir(), "profiles.db"), 2)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer s.Close()

	if database.Backend() != "bolt" {
		t.Errorf("expected bolt backend, got %q", database.Backend())
	}
	store, err := database.GetProfileStore(context.Background())
	if err != nil || store == nil {
		t.Fatalf("expected registered store, got %v", err)
	}
}
