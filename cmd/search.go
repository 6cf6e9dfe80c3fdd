package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/lookalike/internal/lookalike"
)

var searchCmd = &cobra.Command{
	Use:   "search <image>",
	Short: "Find the enrolled people who look most like the face in an image",
	Long: `Embed the single face in the given image and rank every enrolled profile
by cosine similarity to it.

Examples:
  # Show the 3 closest lookalikes (SEARCH_TOP_K)
  lookalike search me.jpg

  # Show the 10 closest lookalikes
  lookalike search me.jpg --top-k 10`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().Int("top-k", 0, "Number of lookalikes to show (defaults to SEARCH_TOP_K)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	if k := mustGetInt(cmd, "top-k"); k > 0 {
		cfg.Search.TopK = k
	}

	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	ctx := context.Background()
	a, err := setupApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.service.FindLookalikes(ctx, image)
	if err != nil {
		return userError(err)
	}

	if len(results) == 0 {
		fmt.Println("No enrolled profiles to compare against.")
		return nil
	}

	fmt.Printf("\nTop %d lookalikes for %s:\n", len(results), args[0])
	for i, r := range results {
		name := r.Person.DisplayName
		if name == "" {
			name = r.Person.ID
		}
		fmt.Printf("  %d. %-30s %6.2f%%  (%s)\n", i+1, name, r.Similarity*100, r.Person.ID)
	}
	return nil
}

// userError turns a service error into its user-facing message. With --debug
// the full error chain is kept.
func userError(err error) error {
	var le *lookalike.Error
	if debugLogging || !errors.As(err, &le) {
		return err
	}
	msg := lookalike.MessageOf(err)
	if lookalike.Retryable(err) {
		msg += " (temporary failure, retry later)"
	}
	return errors.New(msg)
}
