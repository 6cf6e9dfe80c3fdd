package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/lookalike/internal/constants"
	"github.com/kozaktomas/lookalike/internal/database"
	"github.com/kozaktomas/lookalike/internal/lookalike"
)

// importNamespace seeds the person IDs derived from directory names, so
// importing the same tree twice updates the same profiles.
var importNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/kozaktomas/lookalike/import"))

var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Enroll many people from a directory tree",
	Long: `Enroll one person per sub-directory of <dir>. The directory name becomes the
display name and the person ID is derived from it, so re-running an import
refreshes the same profiles instead of creating duplicates.

Layout:
  people/
    Jan Novák/      -> one profile, display name "Jan Novák"
      1.jpg
      2.jpg
    Alice Smith/
      a.png

Examples:
  # Import everything with the default concurrency
  lookalike import ./people

  # Show what would be imported
  lookalike import ./people --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().Int("concurrency", constants.ImportConcurrency, "Number of people enrolled in parallel")
	importCmd.Flags().Bool("dry-run", false, "List the people and image counts without enrolling")
}

// importPerson is one sub-directory of the import tree.
type importPerson struct {
	ID     string
	Name   string
	Images []string
}

// personID returns the stable ID for a display name.
func personID(name string) string {
	return uuid.NewSHA1(importNamespace, []byte(database.Slug(name))).String()
}

// scanImportDir lists the people found under root. Directories without
// images are skipped; batches above maxImages are truncated.
func scanImportDir(root string, maxImages int) ([]importPerson, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var people []importPerson
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name, err := database.NormalizeDisplayName(e.Name())
		if err != nil {
			fmt.Printf("Skipping %q: %v\n", e.Name(), err)
			continue
		}
		paths, err := collectImagePaths([]string{filepath.Join(root, e.Name())})
		if err != nil {
			return nil, err
		}
		if len(paths) == 0 {
			continue
		}
		if maxImages > 0 && len(paths) > maxImages {
			paths = paths[:maxImages]
		}
		people = append(people, importPerson{ID: personID(name), Name: name, Images: paths})
	}
	return people, nil
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	concurrency := mustGetInt(cmd, "concurrency")
	dryRun := mustGetBool(cmd, "dry-run")
	if concurrency < 1 {
		concurrency = 1
	}

	people, err := scanImportDir(args[0], cfg.Enroll.MaxImages)
	if err != nil {
		return err
	}
	if len(people) == 0 {
		return errors.New("no sub-directories with images found")
	}

	if dryRun {
		fmt.Printf("Would import %d people:\n", len(people))
		for _, p := range people {
			fmt.Printf("  %-30s %3d images  (%s)\n", p.Name, len(p.Images), p.ID)
		}
		return nil
	}

	ctx := context.Background()
	a, err := setupApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("Importing %d people (concurrency: %d)\n", len(people), concurrency)

	bar := progressbar.NewOptions(len(people),
		progressbar.OptionSetDescription("Enrolling"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("people"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	var enrolled, failed, usedImages int
	var failures []string
	var mu sync.Mutex

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, person := range people {
		wg.Add(1)
		go func(p importPerson) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			used, err := importOne(ctx, a.service, p)

			mu.Lock()
			if err != nil {
				failed++
				failures = append(failures, fmt.Sprintf("%s: %s", p.Name, userError(err)))
			} else {
				enrolled++
				usedImages += used
			}
			mu.Unlock()
			_ = bar.Add(1)
		}(person)
	}

	wg.Wait()
	_ = bar.Finish()

	fmt.Printf("\nImport complete: %d enrolled (%d images), %d failed\n", enrolled, usedImages, failed)
	for _, f := range failures {
		fmt.Printf("  %s\n", f)
	}
	if failed > 0 && enrolled == 0 {
		return errors.New("no person could be enrolled")
	}
	return nil
}

// importOne registers the person and enrolls the images of their directory.
func importOne(ctx context.Context, service *lookalike.Service, p importPerson) (int, error) {
	images, err := readImages(p.Images)
	if err != nil {
		return 0, err
	}
	if _, err := service.Register(ctx, p.ID, p.Name); err != nil {
		return 0, err
	}
	report, err := service.Enroll(ctx, p.ID, images, lookalike.ProfileAttrs{DisplayName: p.Name})
	if err != nil {
		return 0, err
	}
	return report.Used, nil
}
