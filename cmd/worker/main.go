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
	"github.com/custody-ledger/backend/internal/metrics"
	"github.com/custody-ledger/backend/internal/services"
	"github.com/custody-ledger/backend/internal/ton"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)
	if cfg.StorageBackend == config.StorageBackendMemory {
		log.Fatal("worker needs shared storage; the API settles payouts itself with STORAGE_BACKEND=memory")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, err := db.OpenStores(ctx, cfg, "", log)
	if err != nil {
		log.Fatal("failed to open storage", zap.Error(err))
	}
	defer stores.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	var publisher events.Publisher = events.NopPublisher{}
	if rdb != nil {
		defer rdb.Close()
		publisher = events.NewRedisPublisher(rdb, log)
	}

	// Sender
	var sender services.Sender = services.LogSender{Log: log}
	if cfg.TONWalletSeed != "" {
		api, err := ton.Connect(ctx, ton.NetworkConfig{
			Network:        cfg.TONNetwork,
			LiteServerHost: cfg.LiteServerHost,
			LiteServerPort: cfg.LiteServerPort,
			LiteServerKey:  cfg.LiteServerKey,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to TON", zap.Error(err))
		}
		w, err := ton.NewWalletSender(api, cfg.TONWalletSeed, log)
		if err != nil {
			log.Fatal("failed to open payout wallet", zap.Error(err))
		}
		sender = w
	}

	reg := metrics.NewRegistry()
	metrics.Serve(ctx, cfg.WorkerMetricsAddr, reg, log)

	payouts := services.NewPayoutService(stores.Payouts, stores.Audit, sender, publisher, metrics.New(reg), services.PayoutConfig{
		BatchSize:     cfg.PayoutBatchSize,
		MaxAttempts:   cfg.PayoutMaxAttempts,
		RatePerSecond: cfg.PayoutRatePerSecond,
		LeaseTimeout:  cfg.PayoutLeaseTimeout,
	}, log)

	log.Info("worker started", zap.Duration("interval", cfg.PayoutInterval))

	ticker := time.NewTicker(cfg.PayoutInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			runPayouts(ctx, payouts, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

// runPayouts settles one batch per tick. Failed payouts wait for the next
// tick, which spaces out retries by PayoutInterval.
func runPayouts(ctx context.Context, payouts *services.PayoutService, log *zap.Logger) {
	sent, err := payouts.SettleBatch(ctx)
	if err != nil {
		log.Error("payout batch failed", zap.Error(err))
		return
	}
	if sent > 0 {
		log.Info("payout batch settled", zap.Int("sent", sent))
	}
}
