package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage stored profiles",
}

var profileShowCmd = &cobra.Command{
	Use:   "show <person-id>",
	Short: "Show a profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileShow,
}

var profileRegisterCmd = &cobra.Command{
	Use:   "register <person-id> <display-name>",
	Short: "Create a profile without enrolling it",
	Long: `Create a profile that is not searchable yet. It becomes searchable after the
first enroll or reenroll. Registering an existing ID is a no-op.`,
	Args: cobra.ExactArgs(2),
	RunE: runProfileRegister,
}

var profileRenameCmd = &cobra.Command{
	Use:   "rename <person-id> <display-name>",
	Short: "Change the display name of a profile",
	Args:  cobra.ExactArgs(2),
	RunE:  runProfileRename,
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete <person-id>",
	Short: "Delete a profile and its face data",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileDelete,
}

var profileCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Count stored and enrolled profiles",
	Args:  cobra.NoArgs,
	RunE:  runProfileCount,
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileRegisterCmd)
	profileCmd.AddCommand(profileRenameCmd)
	profileCmd.AddCommand(profileDeleteCmd)
	profileCmd.AddCommand(profileCountCmd)
}

func runProfileShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := setupApp(ctx, loadConfig(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.service.Profile(ctx, args[0])
	if err != nil {
		return userError(err)
	}

	fmt.Printf("ID:           %s\n", p.ID)
	fmt.Printf("Display name: %s\n", p.DisplayName)
	if p.AvatarRef != "" {
		fmt.Printf("Avatar:       %s\n", p.AvatarRef)
	}
	fmt.Printf("Enrolled:     %t\n", p.Enrolled())
	if p.Enrolled() {
		fmt.Printf("Dimension:    %d\n", len(p.Centroid))
		fmt.Printf("Version:      %d\n", p.Version)
	}
	fmt.Printf("Created:      %s\n", p.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:      %s\n", p.UpdatedAt.Format("2006-01-02 15:04:05"))
	return nil
}

func runProfileRegister(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := setupApp(ctx, loadConfig(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	created, err := a.service.Register(ctx, args[0], args[1])
	if err != nil {
		return userError(err)
	}
	if created {
		fmt.Printf("Registered profile %s\n", args[0])
	} else {
		fmt.Printf("Profile %s already exists\n", args[0])
	}
	return nil
}

func runProfileRename(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := setupApp(ctx, loadConfig(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.service.Rename(ctx, args[0], args[1]); err != nil {
		return userError(err)
	}
	fmt.Printf("Renamed profile %s\n", args[0])
	return nil
}

func runProfileDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := setupApp(ctx, loadConfig(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.service.Remove(ctx, args[0]); err != nil {
		return userError(err)
	}
	fmt.Printf("Deleted profile %s\n", args[0])
	return nil
}

func runProfileCount(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := setupApp(ctx, loadConfig(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	counts, err := a.service.Stats(ctx)
	if err != nil {
		return userError(err)
	}
	fmt.Printf("Profiles: %d\n", counts.Total)
	fmt.Printf("Enrolled: %d\n", counts.Enrolled)
	return nil
}
