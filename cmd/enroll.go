package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/lookalike/internal/lookalike"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <person-id> <image|dir>...",
	Short: "Build a person's face profile from a batch of photos",
	Long: `Embed every photo, drop the ones without exactly one usable face and store
the average of the remaining embeddings as the person's profile. An existing
profile is replaced.

Examples:
  # Enroll from a directory of photos
  lookalike enroll alice ./photos/alice --name "Alice Smith"

  # Enroll from individual files
  lookalike enroll bob bob1.jpg bob2.jpg`,
	Args: cobra.MinimumNArgs(2),
	RunE: runEnroll,
}

var reenrollCmd = &cobra.Command{
	Use:   "reenroll <person-id> <image>",
	Short: "Replace a person's face profile with a single new photo",
	Long: `Replace the stored profile with the embedding of one new photo. If the photo
cannot be used the existing profile is left unchanged.`,
	Args: cobra.ExactArgs(2),
	RunE: runReenroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)
	rootCmd.AddCommand(reenrollCmd)

	for _, c := range []*cobra.Command{enrollCmd, reenrollCmd} {
		c.Flags().String("name", "", "Display name to store with the profile")
		c.Flags().String("avatar", "", "Avatar reference to store with the profile")
	}
}

func runEnroll(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	attrs := lookalike.ProfileAttrs{
		DisplayName: mustGetString(cmd, "name"),
		AvatarRef:   mustGetString(cmd, "avatar"),
	}

	paths, err := collectImagePaths(args[1:])
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.New("no images found")
	}
	images, err := readImages(paths)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := setupApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("Enrolling %s from %d images...\n", args[0], len(images))
	report, err := a.service.Enroll(ctx, args[0], images, attrs)
	if err != nil {
		return userError(err)
	}

	for _, f := range report.Rejected {
		fmt.Printf("  Skipped %s: %s\n", paths[f.Index], lookalike.DescribeImageError(f.Err))
	}
	fmt.Printf("Enrolled %s using %d of %d images\n", args[0], report.Used, len(images))
	return nil
}

func runReenroll(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	attrs := lookalike.ProfileAttrs{
		DisplayName: mustGetString(cmd, "name"),
		AvatarRef:   mustGetString(cmd, "avatar"),
	}

	image, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	ctx := context.Background()
	a, err := setupApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.service.Reenroll(ctx, args[0], image, attrs); err != nil {
		return userError(err)
	}
	fmt.Printf("Profile %s updated from %s\n", args[0], args[1])
	return nil
}
