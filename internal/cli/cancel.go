package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var cancelReason string

var cancelCmd = &cobra.Command{
	Use:   "cancel-tx [transaction_id]",
	Short: "Cancel a transaction and release its hold",
	Args:  cobra.ExactArgs(1),
	Run:   runCancel,
}

func init() {
	cancelCmd.Flags().StringVar(&cancelReason, "reason", "cancelled by operator", "reason recorded in the audit log")
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	app := newApp(ctx, cfg)
	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start payguard", "error", err)
		os.Exit(1)
	}

	tx, err := app.Service().CancelTransaction(ctx, operator, args[0], cancelReason)
	if stopErr := app.Stop(ctx); stopErr != nil {
		slog.Warn("Error during shutdown", "error", stopErr)
	}
	if err != nil {
		slog.Error("Failed to cancel transaction", "id", args[0], "error", err)
		os.Exit(1)
	}
	fmt.Printf("%s %s\n", tx.ID, tx.Status)
}
