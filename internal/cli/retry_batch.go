package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/payguard/internal/core/authz"
)

var batchLimit int

var retryBatchCmd = &cobra.Command{
	Use:   "retry-batch",
	Short: "Run one retry batch over transactions that are due",
	Run:   runRetryBatch,
}

func init() {
	retryBatchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max transactions to process (0 uses retry.batch_size)")
	rootCmd.AddCommand(retryBatchCmd)
}

func runRetryBatch(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	app := newApp(ctx, cfg)
	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start payguard", "error", err)
		os.Exit(1)
	}

	stats, err := app.Service().ProcessReadyBatch(ctx, authz.System, batchLimit)
	// Stop drains the audit sink before exit.
	if stopErr := app.Stop(ctx); stopErr != nil {
		slog.Warn("Error during shutdown", "error", stopErr)
	}
	if err != nil {
		slog.Error("Retry batch failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("processed=%d succeeded=%d rescheduled=%d failed=%d skipped=%d errors=%d\n",
		stats.Processed, stats.Succeeded, stats.Rescheduled, stats.Failed, stats.Skipped, stats.Errors)
}
