package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kozaktomas/lookalike/internal/centroid"
	"github.com/kozaktomas/lookalike/internal/config"
	"github.com/kozaktomas/lookalike/internal/database"
	"github.com/kozaktomas/lookalike/internal/database/bolt"
	"github.com/kozaktomas/lookalike/internal/database/postgres"
	"github.com/kozaktomas/lookalike/internal/embedding"
	"github.com/kozaktomas/lookalike/internal/logging"
	"github.com/kozaktomas/lookalike/internal/lookalike"
)

// app bundles the pieces every command works with.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	service *lookalike.Service
	closers []func()
}

// Close releases the store and flushes the logger.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}

// loadConfig reads the environment and applies the persistent flags.
func loadConfig() *config.Config {
	cfg := config.Load()
	if storeBackend != "" {
		cfg.Database.Backend = storeBackend
	}
	if debugLogging {
		cfg.Log.Debug = true
	}
	return cfg
}

// setupApp opens the configured store and wires the lookalike service on top
// of it. The HNSW fast path is only built when withHNSW is set and enabled in
// the configuration.
func setupApp(ctx context.Context, cfg *config.Config, withHNSW bool) (*app, error) {
	logger, err := logging.New(cfg.Log.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}

	closeStore, err := openStore(ctx, cfg, withHNSW)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	store, err := database.GetProfileStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.service, err = newService(cfg, store, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// openStore initializes the backend selected by cfg and registers it with the
// database provider. The returned function closes it.
func openStore(ctx context.Context, cfg *config.Config, withHNSW bool) (func(), error) {
	switch strings.ToLower(cfg.Database.Backend) {
	case "", "postgres":
		if cfg.Database.URL == "" {
			return nil, errors.New("DATABASE_URL environment variable is required (or use --store bolt)")
		}
		fmt.Printf("Connecting to PostgreSQL database...\n")
		repo, err := postgres.Initialize(&cfg.Database, cfg.Embedding.Dim)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		if withHNSW && cfg.Database.HNSWEnabled {
			initProfileHNSW(ctx, repo, cfg.Database.HNSWIndexPath)
		}
		return func() {
			if err := postgres.Shutdown(); err != nil {
				fmt.Printf("Warning: failed to close PostgreSQL pool: %v\n", err)
			}
		}, nil

	case "bolt":
		fmt.Printf("Opening bolt store %s...\n", cfg.Database.BoltPath)
		store, err := bolt.Initialize(cfg.Database.BoltPath, cfg.Embedding.Dim)
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt store: %w", err)
		}
		return func() {
			database.ResetProvider()
			if err := store.Close(); err != nil {
				fmt.Printf("Warning: %v\n", err)
			}
		}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q (expected postgres or bolt)", cfg.Database.Backend)
	}
}

// initProfileHNSW builds or loads the centroid HNSW index for fast lookalike search.
func initProfileHNSW(ctx context.Context, repo *postgres.ProfileRepository, indexPath string) {
	if indexPath != "" {
		fmt.Printf("Loading profile HNSW index from %s...\n", indexPath)
	} else {
		fmt.Printf("Building in-memory HNSW index for profiles...\n")
	}
	if err := repo.EnableHNSW(ctx, indexPath); err != nil {
		fmt.Printf("Warning: Failed to build profile HNSW index: %v\n", err)
		fmt.Printf("Lookalike search will use PostgreSQL queries (slower)\n")
	} else if indexPath != "" {
		fmt.Printf("Profile HNSW index ready with %d profiles (persisted to %s)\n", repo.HNSWCount(), indexPath)
	} else {
		fmt.Printf("Profile HNSW index built with %d profiles (in-memory only)\n", repo.HNSWCount())
	}
}

// newService builds the embedding client and the lookalike service from cfg.
func newService(cfg *config.Config, store database.ProfileStore, logger *zap.Logger) (*lookalike.Service, error) {
	strategy, err := centroid.ByName(cfg.Enroll.Aggregation, cfg.Enroll.TrimFraction)
	if err != nil {
		return nil, fmt.Errorf("invalid ENROLL_AGGREGATION: %w", err)
	}
	if cfg.Embedding.URL == "" {
		return nil, errors.New("EMBEDDING_URL environment variable is required")
	}

	client := embedding.NewClient(cfg.Embedding.URL, cfg.Embedding.Dim,
		embedding.WithTimeout(cfg.Embedding.Timeout()),
		embedding.WithRateLimit(cfg.Embedding.RateLimit),
		embedding.WithMaxImageSize(cfg.Embedding.MaxImageSize),
	)

	return lookalike.NewService(client, store,
		lookalike.WithTopK(cfg.Search.TopK),
		lookalike.WithMaxImages(cfg.Enroll.MaxImages),
		lookalike.WithWorkers(cfg.Enroll.Workers),
		lookalike.WithStrategy(strategy),
		lookalike.WithLogger(logger.Named("lookalike")),
	), nil
}

// saveHNSWIndex persists the profile HNSW index when a path is configured.
func saveHNSWIndex(indexPath string) {
	rebuilder := database.GetHNSWRebuilder()
	if indexPath == "" || rebuilder == nil || !rebuilder.IsHNSWEnabled() {
		return
	}
	if err := rebuilder.SaveHNSWIndex(); err != nil {
		fmt.Printf("Warning: failed to save profile HNSW index: %v\n", err)
	} else {
		fmt.Printf("Profile HNSW index saved to %s\n", indexPath)
	}
}
