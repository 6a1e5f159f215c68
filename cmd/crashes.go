package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/infrastructure/sqlite"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/log"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/presentation"
)

var (
	crashesLimit int
	crashesPrune time.Duration
)

var crashesCmd = &cobra.Command{
	Use:   "crashes",
	Short: "Show recorded worker crashes",
	Long: `Print the most recent worker crashes recorded by the supervisor, newest
first, as JSON. Code is null for crashes caused by a signal.

Examples:
  rinawarp crashes --limit 5
  rinawarp crashes --prune 720h   # delete crashes older than 30 days`,
	Args: cobra.NoArgs,
	RunE: runCrashes,
}

func init() {
	rootCmd.AddCommand(crashesCmd)

	crashesCmd.Flags().IntVarP(&crashesLimit, "limit", "n", 20, "maximum number of crashes to show")
	crashesCmd.Flags().DurationVar(&crashesPrune, "prune", 0, "delete crashes older than this before listing")
}

func runCrashes(cmd *cobra.Command, _ []string) error {
	log.InitWriter(os.Stderr, logLevel())

	db, err := sqlite.NewDB(cfg.Worker.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	repo := db.CrashRepository()
	ctx := cmd.Context()

	if crashesPrune > 0 {
		n, err := repo.Prune(ctx, time.Now().Add(-crashesPrune))
		if err != nil {
			return fmt.Errorf("pruning crashes: %w", err)
		}
		log.Info(log.CatDB, "Pruned crash history", "deleted", n, "olderThan", crashesPrune)
	}

	recs, err := repo.List(ctx, crashesLimit)
	if err != nil {
		return fmt.Errorf("listing crashes: %w", err)
	}
	return presentation.NewFormatter(cmd.OutOrStdout()).FormatCrashes(presentation.FromCrashRecords(recs))
}
