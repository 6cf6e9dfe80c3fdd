package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	storeBackend string
	debugLogging bool
)

var rootCmd = &cobra.Command{
	Use:   "lookalike",
	Short: "Find the enrolled people who look most like a face",
	Long: `Lookalike keeps one face profile per person, built from the average of
their face embeddings, and ranks enrolled people by similarity to a query photo.

Profiles are stored in PostgreSQL with pgvector (default) or in a local bbolt
file for single-node setups. Face embeddings come from an external face
recognition server configured with EMBEDDING_URL.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&storeBackend, "store", "", "Profile store backend: postgres or bolt (defaults to DATABASE_BACKEND)")
	rootCmd.PersistentFlags().BoolVar(&debugLogging, "debug", false, "Enable debug logging")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
