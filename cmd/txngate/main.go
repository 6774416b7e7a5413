// Command txngate runs a standalone transactional script against the
// configured storage adapter: it seeds two ledger accounts, moves money
// between them atomically, and shows the rollback path by attempting a
// transfer that must fail.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/txngate/txngate/internal/adapters/memory"
	"github.com/txngate/txngate/internal/adapters/postgres"
	redisadapter "github.com/txngate/txngate/internal/adapters/redis"
	"github.com/txngate/txngate/internal/adapters/sqlite"
	"github.com/txngate/txngate/internal/config"
	"github.com/txngate/txngate/internal/domain"
	"github.com/txngate/txngate/internal/domain/models"
	"github.com/txngate/txngate/internal/domain/ports"
	"github.com/txngate/txngate/internal/logger"
	"github.com/txngate/txngate/internal/registry"
	"github.com/txngate/txngate/internal/services/ledger"
	"github.com/txngate/txngate/internal/txn"
	"github.com/txngate/txngate/pkg/observability"
	"github.com/txngate/txngate/pkg/resourcemgmt"
	"github.com/txngate/txngate/pkg/shutdown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("txngate failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	// Cancellation disposes any open transaction the same way a failure
	// would: the owner rolls back before the process exits.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMgr := shutdown.NewManager(log, 15*time.Second)
	defer shutdownMgr.Shutdown()

	adapter, err := buildAdapter(ctx, cfg, log, shutdownMgr)
	if err != nil {
		return err
	}

	reg := registry.New(log)
	manager := txn.NewManager(adapter, reg, log)
	dispatcher := txn.NewDispatcher(manager, log)
	svc := ledger.New(adapter, dispatcher, log)

	tracker := resourcemgmt.NewGoroutineTracker(log, nil)
	svc.UseTracker(tracker)
	go tracker.StartMonitoring(ctx)

	startSweep(ctx, cfg, reg)

	if cfg.Metrics.Enabled {
		health := observability.NewHealthChecker()
		if hc, ok := adapter.(interface{ HealthCheck(context.Context) error }); ok {
			health.Register(adapter.Name(), hc.HealthCheck)
		}
		metricsServer := observability.StartMetricsServer(strconv.Itoa(cfg.Metrics.Port), health, log)
		shutdownMgr.Register("metrics-server", func(context.Context) error {
			return observability.ShutdownMetricsServer(metricsServer)
		})
		log.Info("metrics server started", zap.Int("port", cfg.Metrics.Port))
	}

	return runScript(ctx, svc, log)
}

// buildAdapter constructs the configured storage engine.
func buildAdapter(ctx context.Context, cfg *config.Config, log *zap.Logger, shutdownMgr *shutdown.Manager) (ports.Adapter, error) {
	switch cfg.Adapter {
	case "postgres":
		adapter, err := postgres.New(ctx, postgres.Config{
			DatabaseURL:  cfg.Postgres.URL(),
			MaxConns:     cfg.Postgres.MaxConns,
			MinConns:     cfg.Postgres.MinConns,
			Transactions: cfg.Postgres.Transactions.Enabled,
			Options:      cfg.Postgres.Transactions.Options(),
		}, log)
		if err != nil {
			return nil, err
		}
		if err := adapter.EnsureSchema(ctx); err != nil {
			adapter.Close()
			return nil, err
		}
		shutdownMgr.Register("postgres", func(context.Context) error {
			adapter.Close()
			return nil
		})
		return adapter, nil
	case "sqlite":
		adapter, err := sqlite.New(ctx, sqlite.Config{
			Path:         cfg.SQLite.Path,
			Transactions: cfg.SQLite.Transactions.Enabled,
			Options:      cfg.SQLite.Transactions.Options(),
		}, log)
		if err != nil {
			return nil, err
		}
		shutdownMgr.Register("sqlite", func(context.Context) error {
			return adapter.Close()
		})
		return adapter, nil
	case "redis":
		adapter, err := redisadapter.New(ctx, redisadapter.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, log)
		if err != nil {
			return nil, err
		}
		shutdownMgr.Register("redis", func(context.Context) error {
			return adapter.Close()
		})
		return adapter, nil
	default:
		return memory.New(memory.Config{
			Transactions: cfg.Memory.Transactions.Enabled,
			Options:      cfg.Memory.Transactions.Options(),
		}, log), nil
	}
}

// startSweep periodically reports sessions that outlived their expected
// lifetime, the symptom of a callback holding a transaction identifier.
func startSweep(ctx context.Context, cfg *config.Config, reg *registry.Registry) {
	maxAge := time.Duration(cfg.Registry.SweepMaxAgeSeconds) * time.Second
	if maxAge <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(maxAge)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reg.SweepIdle(maxAge)
			}
		}
	}()
}

// runScript is the standalone logical operation: several writes, one
// atomic outcome per transfer.
func runScript(ctx context.Context, svc *ledger.Service, log *zap.Logger) error {
	accounts := []models.Account{
		{ID: "acct-operating", Owner: "operating", Currency: "USD", Balance: decimal.NewFromInt(1000)},
		{ID: "acct-reserve", Owner: "reserve", Currency: "USD", Balance: decimal.NewFromInt(250)},
	}
	for _, acct := range accounts {
		err := svc.CreateAccount(ctx, txn.Options{}, acct)
		if err != nil && !domain.IsDomainError(err, domain.ErrorCodeDocumentConflict) {
			return fmt.Errorf("seed account %s: %w", acct.ID, err)
		}
	}

	transferID, err := svc.Transfer(ctx, txn.Options{},
		"acct-operating", "acct-reserve", decimal.NewFromInt(100), "monthly reserve top-up")
	if err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	log.Info("transfer applied", zap.String("transfer_id", transferID))

	// This one must fail and leave no trace: the reserve account cannot
	// cover the amount, so both balance updates roll back together.
	_, err = svc.Transfer(ctx, txn.Options{},
		"acct-reserve", "acct-operating", decimal.NewFromInt(1_000_000), "doomed transfer")
	if err == nil {
		return fmt.Errorf("expected the oversized transfer to fail")
	}
	log.Info("oversized transfer rejected, nothing persisted", zap.Error(err))

	for _, id := range []string{"acct-operating", "acct-reserve"} {
		acct, err := svc.GetAccount(ctx, id)
		if err != nil {
			return fmt.Errorf("read account %s: %w", id, err)
		}
		log.Info("final balance",
			zap.String("account_id", acct.ID),
			zap.String("balance", acct.Balance.String()),
		)
	}
	return nil
}
