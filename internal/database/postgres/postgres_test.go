//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kozaktomas/lookalike/internal/config"
	"github.com/kozaktomas/lookalike/internal/database"
)

const testDim = 4

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	cfg := &config.DatabaseConfig{
		URL:          dbURL,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, err := NewPool(cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	if err := pool.Migrate(ctx, testDim); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, cleanup
}

func resetProfiles(t *testing.T, pool *Pool) {
	t.Helper()
	if _, err := pool.Exec(context.Background(), "TRUNCATE profiles RESTART IDENTITY"); err != nil {
		t.Fatalf("Failed to truncate profiles: %v", err)
	}
}

func TestProfileRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewProfileRepository(pool, testDim)

	t.Run("UpsertCreatesAndReplaces", func(t *testing.T) {
		resetProfiles(t, pool)

		if err := repo.UpsertCentroid(ctx, "alice", []float32{1, 0, 0, 0}, database.WithDisplayName("Alice")); err != nil {
			t.Fatalf("UpsertCentroid failed: %v", err)
		}
		first, err := repo.GetProfile(ctx, "alice")
		if err != nil {
			t.Fatalf("GetProfile failed: %v", err)
		}
		if first.DisplayName != "Alice" || !first.Enrolled() {
			t.Errorf("unexpected profile %+v", first)
		}

		if err := repo.UpsertCentroid(ctx, "alice", []float32{0, 1, 0, 0}); err != nil {
			t.Fatalf("second UpsertCentroid failed: %v", err)
		}
		second, _ := repo.GetProfile(ctx, "alice")
		if second.DisplayName != "Alice" {
			t.Errorf("expected display name to be kept, got %q", second.DisplayName)
		}
		if second.Centroid[1] != 1 {
			t.Errorf("expected replaced centroid, got %v", second.Centroid)
		}
		if second.Version <= first.Version {
			t.Errorf("expected version to increase, got %d then %d", first.Version, second.Version)
		}
		if second.Seq != first.Seq {
			t.Errorf("expected seq to be stable, got %d then %d", first.Seq, second.Seq)
		}

		counts, _ := repo.Count(ctx)
		if counts.Total != 1 || counts.Enrolled != 1 {
			t.Errorf("expected one enrolled profile, got %+v", counts)
		}
	})

	t.Run("RankedSearch", func(t *testing.T) {
		resetProfiles(t, pool)

		repo.RegisterProfile(ctx, "pending", "Pending")
		repo.UpsertCentroid(ctx, "tie-first", []float32{1, 0, 0, 0})
		repo.UpsertCentroid(ctx, "tie-second", []float32{2, 0, 0, 0})
		repo.UpsertCentroid(ctx, "near", []float32{1, 0.2, 0, 0})
		repo.UpsertCentroid(ctx, "opposite", []float32{-1, 0, 0, 0})

		results, err := repo.RankedSearch(ctx, []float32{1, 0, 0, 0}, 3)
		if err != nil {
			t.Fatalf("RankedSearch failed: %v", err)
		}

		want := []string{"tie-first", "tie-second", "near"}
		if len(results) != len(want) {
			t.Fatalf("expected %d results, got %+v", len(want), results)
		}
		for i, id := range want {
			if results[i].Person.ID != id {
				t.Errorf("position %d: expected %s, got %s", i, id, results[i].Person.ID)
			}
		}
		if math.Abs(results[0].Similarity-1) > 1e-6 {
			t.Errorf("expected similarity 1, got %v", results[0].Similarity)
		}

		all, _ := repo.RankedSearch(ctx, []float32{1, 0, 0, 0}, 10)
		if last := all[len(all)-1]; last.Person.ID != "opposite" || last.Similarity > -0.99 {
			t.Errorf("expected opposite last with negative similarity, got %+v", last)
		}

		empty, err := repo.RankedSearch(ctx, []float32{1, 0, 0, 0}, 0)
		if err != nil || len(empty) != 0 {
			t.Errorf("expected empty result for k=0, got %v, %v", empty, err)
		}
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		if err := repo.UpsertCentroid(ctx, "bad", []float32{1, 0}); !errors.Is(err, database.ErrDimensionMismatch) {
			t.Errorf("expected ErrDimensionMismatch on upsert, got %v", err)
		}
		if _, err := repo.RankedSearch(ctx, []float32{1, 0}, 3); !errors.Is(err, database.ErrDimensionMismatch) {
			t.Errorf("expected ErrDimensionMismatch on search, got %v", err)
		}

		// Bypass the local check to exercise pgvector's own error.
		loose := NewProfileRepository(pool, 0)
		if err := loose.UpsertCentroid(ctx, "bad", []float32{1, 0}); !errors.Is(err, database.ErrDimensionMismatch) {
			t.Errorf("expected ErrDimensionMismatch from pgvector, got %v", err)
		}
	})

	t.Run("RegisterRenameDelete", func(t *testing.T) {
		resetProfiles(t, pool)

		created, err := repo.RegisterProfile(ctx, "bob", "Bob")
		if err != nil || !created {
			t.Fatalf("expected profile to be created, got %v, %v", created, err)
		}
		created, _ = repo.RegisterProfile(ctx, "bob", "Robert")
		if created {
			t.Error("expected duplicate registration to be a no-op")
		}

		if err := repo.UpdateDisplayName(ctx, "bob", "Bobby"); err != nil {
			t.Fatalf("UpdateDisplayName failed: %v", err)
		}
		p, _ := repo.GetProfile(ctx, "bob")
		if p.DisplayName != "Bobby" || p.Enrolled() {
			t.Errorf("unexpected profile %+v", p)
		}

		if err := repo.DeleteProfile(ctx, "bob"); err != nil {
			t.Fatalf("DeleteProfile failed: %v", err)
		}
		if _, err := repo.GetProfile(ctx, "bob"); !errors.Is(err, database.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := repo.DeleteProfile(ctx, "bob"); !errors.Is(err, database.ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got %v", err)
		}
		if err := repo.UpdateDisplayName(ctx, "bob", "x"); !errors.Is(err, database.ErrNotFound) {
			t.Errorf("expected ErrNotFound on rename, got %v", err)
		}
	})

	t.Run("ConcurrentUpsertsLastWriterWins", func(t *testing.T) {
		resetProfiles(t, pool)

		var wg sync.WaitGroup
		for i := range 10 {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				repo.UpsertCentroid(ctx, "carol", []float32{float32(i + 1), 0, 0, 0})
			}(i)
		}
		wg.Wait()

		p, err := repo.GetProfile(ctx, "carol")
		if err != nil {
			t.Fatalf("GetProfile failed: %v", err)
		}
		if len(p.Centroid) != testDim || p.Centroid[0] < 1 || p.Centroid[0] > 10 {
			t.Errorf("expected one complete write to win, got %v", p.Centroid)
		}
	})
}

func TestProfileRepository_HNSW(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewProfileRepository(pool, testDim)
	resetProfiles(t, pool)

	repo.UpsertCentroid(ctx, "a", []float32{1, 0, 0, 0})
	repo.UpsertCentroid(ctx, "b", []float32{0, 1, 0, 0})

	path := filepath.Join(t.TempDir(), "profiles.hnsw")
	if err := repo.EnableHNSW(ctx, path); err != nil {
		t.Fatalf("EnableHNSW failed: %v", err)
	}
	if !repo.IsHNSWEnabled() || repo.HNSWCount() != 2 {
		t.Fatalf("expected enabled index with 2 profiles, got %v/%d", repo.IsHNSWEnabled(), repo.HNSWCount())
	}

	// Writes after enabling are mirrored into the index.
	repo.UpsertCentroid(ctx, "c", []float32{0, 0, 1, 0})
	repo.DeleteProfile(ctx, "a")

	results, err := repo.RankedSearch(ctx, []float32{0, 0, 1, 0}, 3)
	if err != nil {
		t.Fatalf("RankedSearch failed: %v", err)
	}
	if len(results) != 2 || results[0].Person.ID != "c" {
		t.Errorf("unexpected HNSW results %+v", results)
	}

	if err := repo.SaveHNSWIndex(); err != nil {
		t.Fatalf("SaveHNSWIndex failed: %v", err)
	}

	reloaded := NewProfileRepository(pool, testDim)
	if err := reloaded.EnableHNSW(ctx, path); err != nil {
		t.Fatalf("EnableHNSW from disk failed: %v", err)
	}
	if reloaded.HNSWCount() != 2 {
		t.Errorf("expected 2 profiles after reload, got %d", reloaded.HNSWCount())
	}
}

// waitForHNSWRebuild waits until no background rebuild is running and the
// index holds want profiles.
func waitForHNSWRebuild(t *testing.T, repo *ProfileRepository, want int) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if !repo.rebuilding.Load() && repo.HNSWCount() == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("HNSW index did not reach %d profiles, has %d", want, repo.HNSWCount())
}

func TestProfileRepository_HNSWSeesWritesFromOtherProcesses(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	resetProfiles(t, pool)

	// server keeps the index, other writes straight to the table like the CLI does.
	server := NewProfileRepository(pool, testDim)
	other := NewProfileRepository(pool, testDim)

	server.UpsertCentroid(ctx, "a", []float32{1, 0, 0, 0}, database.WithDisplayName("A"))
	server.UpsertCentroid(ctx, "b", []float32{0, 1, 0, 0}, database.WithDisplayName("B"))
	if err := server.EnableHNSW(ctx, ""); err != nil {
		t.Fatalf("EnableHNSW failed: %v", err)
	}

	if err := other.DeleteProfile(ctx, "a"); err != nil {
		t.Fatalf("DeleteProfile failed: %v", err)
	}
	if err := other.UpsertCentroid(ctx, "c", []float32{0.9, 0.1, 0, 0}, database.WithDisplayName("C")); err != nil {
		t.Fatalf("UpsertCentroid failed: %v", err)
	}

	results, err := server.RankedSearch(ctx, []float32{1, 0, 0, 0}, 3)
	if err != nil {
		t.Fatalf("RankedSearch failed: %v", err)
	}
	if len(results) != 2 || results[0].Person.ID != "c" || results[1].Person.ID != "b" {
		t.Fatalf("expected deleted profile gone and new one found, got %+v", results)
	}

	waitForHNSWRebuild(t, server, 2)

	if err := other.UpdateDisplayName(ctx, "b", "Bee"); err != nil {
		t.Fatalf("UpdateDisplayName failed: %v", err)
	}
	results, err = server.RankedSearch(ctx, []float32{0, 1, 0, 0}, 1)
	if err != nil {
		t.Fatalf("RankedSearch failed: %v", err)
	}
	if len(results) != 1 || results[0].Person.DisplayName != "Bee" {
		t.Errorf("expected rename from another process to show up, got %+v", results)
	}
}

func TestMigrations(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()

	applied, err := pool.MigrationsApplied(ctx)
	if err != nil {
		t.Fatalf("MigrationsApplied failed: %v", err)
	}
	if len(applied) < 2 {
		t.Errorf("expected at least 2 migrations, got %v", applied)
	}

	// Re-running is a no-op.
	if err := pool.Migrate(ctx, testDim); err != nil {
		t.Errorf("second Migrate failed: %v", err)
	}

	// A different dimension is refused.
	if err := pool.Migrate(ctx, testDim+1); err == nil {
		t.Error("expected Migrate to refuse a different dimension")
	}
}
