package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/custody-ledger/backend/internal/config"
	"github.com/custody-ledger/backend/internal/db"
	"github.com/custody-ledger/backend/internal/events"
	"github.com/custody-ledger/backend/internal/indexer"
	"github.com/custody-ledger/backend/internal/ledger"
	"github.com/custody-ledger/backend/internal/metrics"
	"github.com/custody-ledger/backend/internal/services"
	"github.com/custody-ledger/backend/internal/ton"
	"github.com/xssnick/tonutils-go/address"
	"go.uber.org/zap"
)

const pollInterval = 5 * time.Second

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.TONHotWalletAddress == "" {
		log.Fatal("TON_HOT_WALLET_ADDRESS is required")
	}
	if cfg.StorageBackend == config.StorageBackendMemory {
		log.Fatal("ton-indexer needs shared storage, set STORAGE_BACKEND=postgres")
	}

	hotWallet, err := address.ParseAddr(cfg.TONHotWalletAddress)
	if err != nil {
		log.Fatal("invalid TON_HOT_WALLET_ADDRESS", zap.String("addr", cfg.TONHotWalletAddress), zap.Error(err))
	}

	policy, err := cfg.FeePolicy()
	if err != nil {
		log.Fatal("invalid late fee configuration", zap.Error(err))
	}

	stores, err := db.OpenStores(ctx, cfg, "", log)
	if err != nil {
		log.Fatal("failed to open storage", zap.Error(err))
	}
	defer stores.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	if rdb == nil {
		log.Fatal("ton-indexer keeps its cursor in redis, set REDIS_URL")
	}
	defer rdb.Close()
	publisher := events.NewRedisPublisher(rdb, log)

	// Ledger services; transfers act as the sender through the indexer channel.
	reg := metrics.NewRegistry()
	metrics.Serve(ctx, cfg.IndexerMetricsAddr, reg, log)
	m := metrics.New(reg)
	clock := ledger.SystemClock{}
	escrowService := services.NewEscrowService(stores.Escrows, stores.Events, stores.Audit, publisher, clock, m, log)
	rentalService := services.NewRentalService(stores.Rentals, stores.Events, stores.Audit, publisher, policy, clock, m, log)
	// Only queues refunds; the worker sends them.
	refunds := services.NewPayoutService(stores.Payouts, stores.Audit, nil, publisher, m, services.PayoutConfig{}, log)

	api, err := ton.Connect(ctx, ton.NetworkConfig{
		Network:        cfg.TONNetwork,
		LiteServerHost: cfg.LiteServerHost,
		LiteServerPort: cfg.LiteServerPort,
		LiteServerKey:  cfg.LiteServerKey,
	}, log)
	if err != nil {
		log.Fatal("failed to connect to TON network", zap.Error(err))
	}

	scanner := indexer.NewScanner(
		api,
		hotWallet,
		indexer.NewCursor(rdb),
		indexer.NewDispatcher(escrowService, rentalService, refunds, log),
		log,
	)

	log.Info("TON indexer started",
		zap.String("hot_wallet", hotWallet.String()),
		zap.String("network", cfg.TONNetwork),
	)

	if err := scanner.Init(ctx); err != nil {
		log.Fatal("failed to initialize cursor", zap.Error(err))
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			if err := scanner.Poll(ctx); err != nil {
				log.Error("poll cycle failed", zap.Error(err))
			}
		case <-sigCh:
			log.Info("shutting down TON indexer")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}
