package main

import (
	"fmt"
	"os"

	"github.com/nordfire/munikb/internal/cli"
	"github.com/nordfire/munikb/internal/cli/client"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "munikb",
		Short: "Munikb CLI - Municipal fire-safety knowledge store",
		Long: `Munikb CLI manages the confidence-weighted knowledge store for
municipal fire-safety documentation.

Environment variables:
  MUNIKB_API_TOKEN   API token for authentication
  MUNIKB_API_URL     API base URL (default: http://localhost:8080)`,
		Version: version,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-token", "", "API token for authentication (overrides env and config)")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env and config)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.InitCmd())
	rootCmd.AddCommand(client.SearchCmd())
	rootCmd.AddCommand(client.IngestCmd())
	rootCmd.AddCommand(client.RespondCmd())
	rootCmd.AddCommand(client.FeedbackCmd())
	rootCmd.AddCommand(client.GoldenCmd())
	rootCmd.AddCommand(client.NegativeCmd())
	rootCmd.AddCommand(client.StatsCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
