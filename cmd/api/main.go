package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/custody-ledger/backend/internal/config"
	"github.com/custody-ledger/backend/internal/db"
	"github.com/custody-ledger/backend/internal/events"
	apphttp "github.com/custody-ledger/backend/internal/http"
	"github.com/custody-ledger/backend/internal/http/handlers"
	"github.com/custody-ledger/backend/internal/ledger"
	"github.com/custody-ledger/backend/internal/metrics"
	"github.com/custody-ledger/backend/internal/services"
	"github.com/custody-ledger/backend/internal/ton"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	policy, err := cfg.FeePolicy()
	if err != nil {
		log.Fatal("invalid late fee configuration", zap.Error(err))
	}

	// Storage
	stores, err := db.OpenStores(ctx, cfg, "migrations", log)
	if err != nil {
		log.Fatal("failed to open storage", zap.Error(err))
	}
	defer stores.Close()

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}

	// Events
	var publisher events.Publisher = events.NopPublisher{}
	var wsHub *handlers.WSHub
	if rdb != nil {
		defer rdb.Close()
		publisher = events.NewRedisPublisher(rdb, log)
		wsHub = handlers.NewWSHub(cfg.JWTSecret, events.NewRedisSubscriber(rdb, log), log)
		if err := wsHub.Start(ctx); err != nil {
			log.Fatal("failed to subscribe ws hub", zap.Error(err))
		}
	}

	// Metrics
	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	// Services
	clock := ledger.SystemClock{}
	escrowService := services.NewEscrowService(stores.Escrows, stores.Events, stores.Audit, publisher, clock, m, log)
	rentalService := services.NewRentalService(stores.Rentals, stores.Events, stores.Audit, publisher, policy, clock, m, log)

	payoutService := services.NewPayoutService(stores.Payouts, stores.Audit, services.LogSender{Log: log}, publisher, m, services.PayoutConfig{
		BatchSize:     cfg.PayoutBatchSize,
		MaxAttempts:   cfg.PayoutMaxAttempts,
		RatePerSecond: cfg.PayoutRatePerSecond,
		LeaseTimeout:  cfg.PayoutLeaseTimeout,
	}, log)

	// A memory store is private to this process, so its payouts are settled here.
	if cfg.StorageBackend == config.StorageBackendMemory {
		go settleLoop(ctx, payoutService, cfg.PayoutInterval, log)
	}

	// Handlers
	v := validator.New()
	escrowHandler := handlers.NewEscrowHandler(escrowService, v, ton.NormalizeAddress, log)
	rentalHandler := handlers.NewRentalHandler(rentalService, v, log)
	ledgerHandler := handlers.NewLedgerHandler(payoutService, stores.Audit, log)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, apphttp.RouterConfig{
		JWTSecret:          cfg.JWTSecret,
		AllowDirectFunding: cfg.AllowDirectFunding,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Gatherer:           reg,
	}, log, rdb, escrowHandler, rentalHandler, ledgerHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.ShutdownWithTimeout(10 * time.Second)
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server",
		zap.String("addr", addr),
		zap.String("storage", cfg.StorageBackend),
		zap.Bool("direct_funding", cfg.AllowDirectFunding),
	)
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

func settleLoop(ctx context.Context, payouts *services.PayoutService, every time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := payouts.SettleBatch(ctx); err != nil {
				log.Error("payout batch failed", zap.Error(err))
			}
		}
	}
}
