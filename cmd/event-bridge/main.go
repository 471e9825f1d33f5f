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
	"go.uber.org/zap"
)

// Event Bridge: subscribes to ledger events on Redis and forwards them to
// Kafka for downstream consumers.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if len(cfg.KafkaBrokers) == 0 {
		log.Fatal("KAFKA_BROKERS is required")
	}

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	if rdb == nil {
		log.Fatal("event-bridge reads from redis, set REDIS_URL")
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)
	kafka := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
	defer kafka.Close()

	err = subscriber.Subscribe(ctx, events.StreamLedger, func(event events.Event) {
		writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := kafka.Publish(writeCtx, events.StreamLedger, event); err != nil {
			log.Warn("failed to forward event",
				zap.String("type", event.Type),
				zap.String("ledger_id", event.LedgerID()),
				zap.Error(err),
			)
			return
		}
		log.Debug("event forwarded", zap.String("type", event.Type), zap.String("ledger_id", event.LedgerID()))
	})
	if err != nil {
		log.Fatal("failed to subscribe", zap.Error(err))
	}

	log.Info("event-bridge started",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.KafkaTopic),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down event-bridge")
	cancel()
}
