package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/payguard/internal/control"
	"github.com/vietddude/payguard/internal/core/config"
)

var (
	cfgPath string
	isDebug bool
	migrate bool
	workers bool
)

var rootCmd = &cobra.Command{
	Use:   "payguard",
	Short: "Payguard payment reliability service",
	Long:  `Payguard retries failed payouts, holds funds in dispute and resolves deposit variance.`,
	Run:   runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background workers (default)",
	Run:   runServe,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().BoolVar(&migrate, "migrate", true, "apply database migrations on start")
		cmd.Flags().BoolVar(&workers, "workers", true, "run the retry driver and session pruner")
	}
	rootCmd.AddCommand(serveCmd)
}

// loadConfig reads the config file and installs the default logger.
func loadConfig() *config.AppConfig {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	slogLevel := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}

	if cfg.Logging.Format == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})))
		return cfg
	}
	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})
	return cfg
}

// newApp builds an App that needs PostgreSQL, for one-shot commands.
func newApp(ctx context.Context, cfg *config.AppConfig) *control.App {
	if cfg.Database.URL == "" {
		slog.Error("database.url is required for this command")
		os.Exit(1)
	}
	app, err := control.NewApp(ctx, control.Config{AppConfig: *cfg}, slog.Default())
	if err != nil {
		slog.Error("Failed to initialize payguard", "error", err)
		os.Exit(1)
	}
	return app
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := control.NewApp(ctx, control.Config{
		AppConfig: *cfg,
		Migrate:   migrate,
		Workers:   workers,
		Serve:     true,
	}, slog.Default())
	if err != nil {
		slog.Error("Failed to initialize payguard", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start payguard", "error", err)
		os.Exit(1)
	}

	slog.Info("Payguard started", "config", cfgPath)

	sig := <-sigChan
	slog.Info("Received signal, shutting down...", "signal", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}
}
