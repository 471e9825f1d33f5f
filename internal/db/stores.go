package db

import (
	"context"
	"fmt"

	"github.com/custody-ledger/backend/internal/config"
	"github.com/custody-ledger/backend/internal/repositories"
	"github.com/custody-ledger/backend/internal/storage"
	"github.com/custody-ledger/backend/internal/storage/memory"
	"go.uber.org/zap"
)

// Stores bundles the storage contracts one process needs.
type Stores struct {
	Escrows storage.EscrowStore
	Rentals storage.RentalStore
	Events  storage.EventStore
	Payouts storage.PayoutStore
	Audit   storage.AuditStore

	close func()
}

func (s *Stores) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenStores builds the stores for cfg.StorageBackend. The postgres backend
// applies pending migrations when migrationsDir is non-empty.
func OpenStores(ctx context.Context, cfg *config.Config, migrationsDir string, log *zap.Logger) (*Stores, error) {
	switch cfg.StorageBackend {
	case config.StorageBackendMemory:
		m := memory.NewStore()
		return &Stores{Escrows: m, Rentals: m, Events: m, Payouts: m, Audit: m}, nil

	case config.StorageBackendPostgres:
		pool, err := NewPostgresPool(ctx, cfg.PostgresDSN, log)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if migrationsDir != "" {
			if err := RunMigrations(ctx, pool, migrationsDir, log); err != nil {
				pool.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		return &Stores{
			Escrows: repositories.NewEscrowRepo(pool),
			Rentals: repositories.NewRentalRepo(pool),
			Events:  repositories.NewEventRepo(pool),
			Payouts: repositories.NewPayoutRepo(pool),
			Audit:   repositories.NewAuditRepo(pool),
			close:   pool.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}
