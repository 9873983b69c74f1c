// Package cli implements the capsuled command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/capsulemarket/capsule/internal/api"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "capsuled",
	Short: "Trust-gated task validation and capsule reward engine",
	Long: `capsuled validates social engagement task submissions and releases
capsule rewards. Trust tiers derived from each user's score gate how much
evidence a task needs, how long rewards are held, and how much a user can
earn per day. The capsule ledger is append-only and auditable.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file (default ~/.capsule/config.toml)")
}

// Execute runs the CLI. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the engine version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(os.Stdout, "capsuled", api.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
