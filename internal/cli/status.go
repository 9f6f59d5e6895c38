package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/payguard/internal/core/authz"
	"github.com/vietddude/payguard/internal/core/config"
	"github.com/vietddude/payguard/internal/core/holds"
	"github.com/vietddude/payguard/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status [transaction_id]",
	Short: "Show retry queue counters, or one transaction with its attempts",
	Args:  cobra.MaximumNArgs(1),
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	if len(args) == 1 {
		showTransaction(ctx, cfg, args[0])
		return
	}

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	stats, err := postgres.NewStore(db).Stats(ctx, time.Now().UTC())
	if err != nil {
		slog.Error("Failed to query stats", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "READY\tWAITING\tMANUAL\tACTIVE HOLDS\tFAILED HOLDS")
	_, _ = fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\n",
		stats.ReadyRetries, stats.AwaitingRetry, stats.AwaitingManual, stats.ActiveHolds, stats.FailedHeldHolds)
	_ = w.Flush()
}

func showTransaction(ctx context.Context, cfg *config.AppConfig, txID string) {
	app := newApp(ctx, cfg)
	defer func() {
		_ = app.Stop(ctx)
	}()

	view, err := app.Service().GetTransaction(ctx, operator, txID)
	if err != nil {
		slog.Error("Failed to load transaction", "id", txID, "error", err)
		return
	}

	t := view.Transaction
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintf(w, "ID\t%s\n", t.ID)
	_, _ = fmt.Fprintf(w, "KIND\t%s\n", t.Kind)
	_, _ = fmt.Fprintf(w, "USER\t%s\n", t.UserID)
	_, _ = fmt.Fprintf(w, "AMOUNT\t%s %s\n", t.Amount.String(), t.Currency)
	_, _ = fmt.Fprintf(w, "STATUS\t%s\n", t.Status)
	_, _ = fmt.Fprintf(w, "FAILURE\t%s\n", t.FailureType)
	_, _ = fmt.Fprintf(w, "RETRIES\t%d/%d\n", t.RetryCount, t.MaxRetryAttempts)
	if t.NextRetryAt != nil {
		_, _ = fmt.Fprintf(w, "NEXT RETRY\t%s\n", t.NextRetryAt.Format(time.RFC3339))
	}
	if view.Hold != nil {
		_, _ = fmt.Fprintf(w, "HOLD\t%s (%s)\n", view.Hold.Amount.String(), holds.StateDescription(view.Hold.Status))
	}
	_ = w.Flush()

	if len(view.Attempts) == 0 {
		return
	}
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "\nATTEMPT\tDECISION\tCODE\tSCHEDULED\tSUCCESS")
	for _, a := range view.Attempts {
		success := "-"
		if a.Success != nil {
			success = fmt.Sprint(*a.Success)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			a.AttemptNumber, a.Decision, a.ErrorCode, a.ScheduledAt.Format(time.RFC3339), success)
	}
	_ = w.Flush()
}

// operator is the identity used by admin commands.
var operator = authz.Caller{UserID: "cli", Roles: []authz.Role{authz.RoleOperator}}
