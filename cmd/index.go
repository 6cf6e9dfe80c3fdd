package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/lookalike/internal/database"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the profile HNSW index",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the profile HNSW index from PostgreSQL and save it",
	Long: `Rebuild the in-memory HNSW index of enrolled profile centroids from PostgreSQL
and write it to HNSW_INDEX_PATH, so the next 'serve' can load it instead of
rebuilding on startup. Only available with the PostgreSQL store.`,
	Args: cobra.NoArgs,
	RunE: runIndexRebuild,
}

var indexSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Bring the saved profile HNSW index up to date",
	Long: `Load the index from HNSW_INDEX_PATH, rebuilding it from PostgreSQL when it no
longer matches the database, and write it back.`,
	Args: cobra.NoArgs,
	RunE: runIndexSave,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexRebuildCmd)
	indexCmd.AddCommand(indexSaveCmd)
}

func runIndexRebuild(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	if cfg.Database.HNSWIndexPath == "" {
		return errors.New("HNSW_INDEX_PATH environment variable is required")
	}

	// Enabling attaches the index path to the store; the rebuild below always
	// starts from the database even when the saved index was still current.
	cfg.Database.HNSWEnabled = true

	ctx := context.Background()
	a, err := setupApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	rebuilder := database.GetHNSWRebuilder()
	if rebuilder == nil {
		return fmt.Errorf("the %s store has no HNSW index", database.Backend())
	}

	start := time.Now()
	fmt.Println("Rebuilding profile HNSW index...")
	if err := rebuilder.RebuildHNSW(ctx); err != nil {
		return fmt.Errorf("failed to rebuild HNSW index: %w", err)
	}
	fmt.Printf("Index built with %d profiles in %s\n", rebuilder.HNSWCount(), time.Since(start).Round(time.Millisecond))

	saveHNSWIndex(cfg.Database.HNSWIndexPath)
	return nil
}

func runIndexSave(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	if cfg.Database.HNSWIndexPath == "" {
		return errors.New("HNSW_INDEX_PATH environment variable is required")
	}
	cfg.Database.HNSWEnabled = true

	ctx := context.Background()
	a, err := setupApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	rebuilder := database.GetHNSWRebuilder()
	if rebuilder == nil {
		return fmt.Errorf("the %s store has no HNSW index", database.Backend())
	}
	if !rebuilder.IsHNSWEnabled() {
		return errors.New("profile HNSW index could not be built")
	}

	saveHNSWIndex(cfg.Database.HNSWIndexPath)
	return nil
}
