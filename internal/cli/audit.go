package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/capsulemarket/capsule/internal/app/ledger"
	"github.com/capsulemarket/capsule/internal/config"
	"github.com/capsulemarket/capsule/internal/infra/sqlite"
)

// ─── audit ──────────────────────────────────────────────────────────────────
// Offline ledger verification: replays a user's full chain without the API
// server running. Exit code 1 when the chain does not hold.

var auditCmd = &cobra.Command{
	Use:   "audit USER_ID",
	Short: "Replay a user's capsule ledger chain",
	Long: `Replay every ledger entry for a user, oldest first, and verify that
each balance_after equals the running sum and that the final sum matches
the materialized balance.`,
	Args: cobra.ExactArgs(1),
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	dataDir, err := cfg.DataDir()
	if err != nil {
		return err
	}
	db, err := sqlite.Open(dataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	led := ledger.New(db, zerolog.New(os.Stderr).Level(zerolog.WarnLevel))
	report, err := led.Audit(context.Background(), args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(report)

	if !report.OK {
		return fmt.Errorf("ledger chain broken for user %s at entry %d", args[0], report.BadEntryID)
	}
	return nil
}
