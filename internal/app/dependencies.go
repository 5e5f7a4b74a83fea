package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/salesmaster/internal/health"
	"github.com/vladislavdragonenkov/salesmaster/internal/storage/memory"
	"github.com/vladislavdragonenkov/salesmaster/internal/storage/postgres"
)

// runtimeDependencies объединяет хранилище и всё, что от него зависит.
type runtimeDependencies struct {
	store          domain.Store
	outboxRepo     domain.OutboxRepository
	outboxCleaner  domain.OutboxCleaner
	storageChecker healthcheck.Checker
	closeFn        func() error
}

// initRuntimeDependencies открывает хранилище, выбранное в cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		store := memory.NewStore()
		logger.WithField("driver", StorageDriverMemory).Info("storage initialized")
		return &runtimeDependencies{
			store:          store,
			outboxRepo:     store.Outbox(),
			outboxCleaner:  store.Outbox(),
			storageChecker: healthcheck.NewStoreChecker(store),
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres dsn is required for storage driver %q", StorageDriverPostgres)
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN,
			postgres.WithMaxConns(cfg.PostgresMaxConns),
			postgres.WithConnLifetime(cfg.PostgresConnLifetime),
		)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("migrate postgres schema: %w", err)
			}
		}
		logger.WithFields(log.Fields{
			"driver":       StorageDriverPostgres,
			"auto_migrate": cfg.PostgresAutoMigrate,
			"max_conns":    cfg.PostgresMaxConns,
		}).Info("storage initialized")
		outboxRepo := postgres.NewOutboxRepository(store)
		return &runtimeDependencies{
			store:          store,
			outboxRepo:     outboxRepo,
			outboxCleaner:  outboxRepo,
			storageChecker: healthcheck.NewStoreChecker(store),
			closeFn:        store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}
