package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vietddude/payguard/internal/api"
	"github.com/vietddude/payguard/internal/core/holds"
	"github.com/vietddude/payguard/internal/core/payments"
	"github.com/vietddude/payguard/internal/core/recovery"
	"github.com/vietddude/payguard/internal/core/retry"
	"github.com/vietddude/payguard/internal/core/worker"
	"github.com/vietddude/payguard/internal/health"
	"github.com/vietddude/payguard/internal/infra/audit"
	"github.com/vietddude/payguard/internal/infra/notify"
	"github.com/vietddude/payguard/internal/infra/provider"
	redisclient "github.com/vietddude/payguard/internal/infra/redis"
	"github.com/vietddude/payguard/internal/infra/storage"
	"github.com/vietddude/payguard/internal/infra/storage/memory"
	"github.com/vietddude/payguard/internal/infra/storage/postgres"
)

// App is the main application struct that manages the service lifecycle.
type App struct {
	cfg       Config
	store     storage.Store
	db        *postgres.DB
	service   *payments.Service
	providers *provider.Registry
	audit     *audit.Sink
	driver    *worker.Driver
	pruner    *worker.Pruner
	monitor   *health.Monitor
	server    *api.Server
	closers   []closer
	log       *slog.Logger
}

// NewApp creates a new App with all dependencies initialized.
func NewApp(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, log: logger}
	if err := a.init(ctx); err != nil {
		a.closeAll()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.cfg
	deps := map[string]health.Pinger{}

	// 1. Initialize Storage
	var (
		sessions  storage.SessionRepository
		auditRepo storage.AuditRepository
	)
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to init db: %w", err)
		}
		a.db = db
		a.closers = append(a.closers, closer{"database", db.Close})

		if cfg.Migrate {
			if err := db.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to migrate db: %w", err)
			}
		}
		a.store = postgres.NewStore(db)
		sessions = postgres.NewSessionRepo(db)
		auditRepo = postgres.NewAuditRepo(db)
		a.log.Info("Using PostgreSQL storage")
	} else {
		a.store = memory.NewMemoryStorage()
		sessions = memory.NewSessionRepo()
		auditRepo = audit.NewLogRepository(a.log)
		a.log.Info("Using Memory storage")
	}

	// 2. Redis takes over sessions and provides the batch leader lock
	var lock worker.Locker
	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			a.log.Warn("Failed to connect to Redis, using database sessions and no leader lock", "error", err)
		} else {
			a.closers = append(a.closers, closer{"redis", client.Close})
			sessions = redisclient.NewSessionRepo(client)
			lock = redisclient.NewLeaderLock(client, "retry-batch", cfg.Retry.LockTTL)
			deps["redis"] = client
			a.log.Info("Using Redis recovery sessions")
		}
	}

	// 3. Notifications
	var notifier retry.Notifier = notify.NewLogSink(a.log)
	if cfg.NATS.URL != "" {
		pub, err := notify.ConnectNATS(cfg.NATS.URL, "payguard", a.log)
		if err != nil {
			a.log.Warn("Failed to connect to NATS, logging notifications", "error", err)
		} else {
			a.closers = append(a.closers, closer{"nats", pub.Close})
			notifier = notify.NewSink(pub, cfg.NATS.SubjectPrefix, a.log)
			deps["nats"] = pub
		}
	}

	// 4. Audit
	a.audit = audit.NewSink(auditRepo, 0, a.log)

	// 5. Core
	policy, err := retry.NewPolicy(cfg.Retry.PolicyConfig)
	if err != nil {
		return err
	}
	ledger := holds.NewLedger(a.log)
	orch := retry.NewOrchestrator(a.store, ledger, policy,
		retry.WithAudit(a.audit),
		retry.WithNotifier(notifier),
		retry.WithLogger(a.log),
		retry.WithIdempotencyBucket(cfg.Retry.IdempotencyBucket),
	)

	signer, err := recovery.NewSigner(cfg.Recovery.SigningSecret)
	if err != nil {
		return err
	}
	rec := recovery.NewService(a.store, sessions, ledger, signer, recovery.Config{
		TTL:    cfg.Recovery.SessionTTL,
		Audit:  a.audit,
		Logger: a.log,
	})

	a.providers, err = provider.Build(ctx, cfg.Providers)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, closer{"providers", a.providers.Close})

	executor := worker.NewExecutor(a.providers, orch, a.log)
	processor := worker.NewRetryProcessor(cfg.Retry.Processor(), a.store, executor, a.log)
	a.driver = worker.NewDriver(processor, cfg.Retry.BatchInterval, lock, a.log)
	a.pruner = worker.NewPruner(rec, cfg.Recovery.PruneInterval, a.log)

	a.service = payments.NewService(payments.Deps{
		Store:     a.store,
		Ledger:    ledger,
		Orch:      orch,
		Recovery:  rec,
		Executor:  executor,
		Processor: processor,
		Audit:     a.audit,
		Notifier:  notifier,
		Logger:    a.log,
	})

	// 6. HTTP
	a.monitor = health.NewMonitor(a.store, deps, a.providers, health.DefaultThresholds())
	router := api.NewRouter(api.NewHandler(a.service, a.log), a.monitor, []byte(cfg.Auth.JWTSecret), a.log)
	a.server = api.NewServer(router, cfg.Server.Port)

	a.log.Info("Application initialized",
		"policy", policy.Name(),
		"max_attempts", policy.MaxAttempts(),
		"providers", a.providers.Names(),
	)
	return nil
}

// Service returns the payments facade.
func (a *App) Service() *payments.Service { return a.service }

// Store returns the active store.
func (a *App) Store() storage.Store { return a.store }

// Monitor returns the health monitor.
func (a *App) Monitor() *health.Monitor { return a.monitor }

// Start launches the audit writer and, as configured, the HTTP server and workers.
// It does not block.
func (a *App) Start(ctx context.Context) error {
	a.audit.Start()

	if a.cfg.Serve {
		go func() {
			a.log.Info("HTTP server listening", "port", a.cfg.Server.Port)
			if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("HTTP server failed", "error", err)
			}
		}()
	}

	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}

	if a.cfg.Workers {
		go a.driver.Start(ctx)
		go a.pruner.Start(ctx)
	}
	return nil
}

// Stop shuts down the server, drains the audit sink and closes connections.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping payguard...")

	var errs []error
	if a.cfg.Serve {
		if err := a.server.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}
	if err := a.audit.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("audit sink: %w", err))
	}
	a.closeAll()
	return errors.Join(errs...)
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.log.Warn("Failed to close resource", "resource", c.name, "error", err)
		}
	}
	a.closers = nil
}
