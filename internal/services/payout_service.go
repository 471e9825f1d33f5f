package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/custody-ledger/backend/internal/events"
	"github.com/custody-ledger/backend/internal/ledger"
	"github.com/custody-ledger/backend/internal/metrics"
	"github.com/custody-ledger/backend/internal/models"
	"github.com/custody-ledger/backend/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Sender moves value to a payout's recipient and returns a transfer reference.
type Sender interface {
	Send(ctx context.Context, p models.Payout) (string, error)
}

// SentFinder is implemented by senders that can tell whether a payout whose
// outcome was lost already reached the chain.
type SentFinder interface {
	FindSent(ctx context.Context, p models.Payout) (txRef string, found bool, err error)
}

var errLeaseExpired = errors.New("send lease expired")

// LogSender only logs payouts. Used when no wallet is configured.
type LogSender struct {
	Log *zap.Logger
}

func (s LogSender) Send(_ context.Context, p models.Payout) (string, error) {
	s.Log.Info("payout (log only)",
		zap.String("payout_id", p.ID.String()),
		zap.String("recipient", string(p.Recipient)),
		zap.String("amount", ledger.FormatAmount(p.Amount)),
		zap.String("memo", p.Memo()),
	)
	return "log:" + p.ID.String(), nil
}

type PayoutConfig struct {
	BatchSize     int
	MaxAttempts   int
	RatePerSecond float64
	LeaseTimeout  time.Duration
}

// PayoutService settles payouts that committed ledger operations authorized.
// Send outcomes only move the payout record; ledger state is never touched.
type PayoutService struct {
	store     storage.PayoutStore
	audit     storage.AuditStore
	sender    Sender
	limiter   *rate.Limiter
	publisher events.Publisher
	metrics   *metrics.Metrics
	cfg       PayoutConfig
	log       *zap.Logger
}

func NewPayoutService(
	store storage.PayoutStore,
	audit storage.AuditStore,
	sender Sender,
	publisher events.Publisher,
	m *metrics.Metrics,
	cfg PayoutConfig,
	log *zap.Logger,
) *PayoutService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 10 * time.Minute
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &PayoutService{
		store:     store,
		audit:     audit,
		sender:    sender,
		limiter:   rate.NewLimiter(limit, 1),
		publisher: publisher,
		metrics:   m,
		cfg:       cfg,
		log:       log,
	}
}

// SettleBatch resolves payouts stuck in sending, then claims one batch and
// tries to send each payout once. It returns how many were sent.
func (s *PayoutService) SettleBatch(ctx context.Context) (int, error) {
	sent, err := s.reclaimStale(ctx)
	if err != nil {
		return sent, err
	}

	batch, err := s.store.ClaimBatch(ctx, s.cfg.BatchSize)
	if err != nil {
		return sent, fmt.Errorf("claim payouts: %w", err)
	}

	for _, p := range batch {
		if err := s.limiter.Wait(ctx); err != nil {
			// Claimed but unsent payouts stay in sending; record them as failed
			// so the next batch retries them.
			s.fail(context.WithoutCancel(ctx), p, err)
			continue
		}
		txRef, err := s.sender.Send(ctx, p)
		if err != nil {
			s.fail(ctx, p, err)
			continue
		}
		if err := s.store.MarkSent(ctx, p.ID, txRef); err != nil {
			s.log.Error("failed to mark payout sent", zap.String("payout_id", p.ID.String()), zap.Error(err))
			continue
		}
		sent++
		s.settled(ctx, p, models.PayoutStatusSent, txRef)
	}
	return sent, nil
}

// reclaimStale looks at payouts left in sending past the lease. One already on
// chain is marked sent; any other is failed so ClaimBatch retries it. When the
// chain cannot be checked the payout keeps its renewed lease.
func (s *PayoutService) reclaimStale(ctx context.Context) (int, error) {
	stale, err := s.store.ClaimStale(ctx, s.cfg.LeaseTimeout, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim stale payouts: %w", err)
	}

	finder, _ := s.sender.(SentFinder)
	sent := 0
	for _, p := range stale {
		if finder == nil {
			s.fail(ctx, p, errLeaseExpired)
			continue
		}
		txRef, found, err := finder.FindSent(ctx, p)
		if err != nil {
			s.log.Warn("failed to look up stale payout", zap.String("payout_id", p.ID.String()), zap.Error(err))
			continue
		}
		if !found {
			s.fail(ctx, p, errLeaseExpired)
			continue
		}
		if err := s.store.MarkSent(ctx, p.ID, txRef); err != nil {
			s.log.Error("failed to mark payout sent", zap.String("payout_id", p.ID.String()), zap.Error(err))
			continue
		}
		s.log.Info("stale payout found on chain", zap.String("payout_id", p.ID.String()), zap.String("tx_ref", txRef))
		sent++
		s.settled(ctx, p, models.PayoutStatusSent, txRef)
	}
	return sent, nil
}

func (s *PayoutService) fail(ctx context.Context, p models.Payout, sendErr error) {
	status, err := s.store.MarkFailed(ctx, p.ID, sendErr.Error(), s.cfg.MaxAttempts)
	if err != nil {
		s.log.Error("failed to mark payout failed", zap.String("payout_id", p.ID.String()), zap.Error(err))
		return
	}
	s.log.Warn("payout send failed",
		zap.String("payout_id", p.ID.String()),
		zap.Int("attempts", p.Attempts),
		zap.String("status", status),
		zap.Error(sendErr),
	)
	s.settled(ctx, p, status, "")
}

func (s *PayoutService) settled(ctx context.Context, p models.Payout, status, txRef string) {
	s.metrics.ObservePayout(status)
	if status == models.PayoutStatusFailed {
		return
	}

	var entity *uuid.UUID
	if p.LedgerID != uuid.Nil {
		entity = &p.LedgerID
	}
	_ = s.audit.Log(ctx, models.AuditLog{
		ActorType:  ActorSystem,
		Action:     "payout_" + status,
		EntityType: "payout",
		EntityID:   entity,
		Meta:       map[string]any{"payout_id": p.ID.String(), "reason": p.Reason, "tx_ref": txRef},
	})
	_ = s.publisher.Publish(ctx, events.StreamLedger, events.Event{
		Type: events.EventPayoutSettled,
		Payload: map[string]any{
			"ledger_id": p.LedgerID.String(),
			"payout_id": p.ID.String(),
			"recipient": string(p.Recipient),
			"amount":    p.Amount.String(),
			"reason":    p.Reason,
			"status":    status,
			"tx_ref":    txRef,
		},
	})
}

// RefundRejected queues value from a rejected chain transfer back to its
// sender. transfer identifies the chain transfer; refunding it a second time
// fails with models.ErrTransferProcessed.
func (s *PayoutService) RefundRejected(ctx context.Context, transfer string, to ledger.Address, amount *big.Int, cause error) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	payouts := models.NewPayouts(uuid.Nil, "", []ledger.Payout{{To: to, Amount: amount, Reason: ledger.ReasonRejectedTransfer}})
	if err := s.store.Enqueue(ctx, transfer, payouts); err != nil {
		return fmt.Errorf("enqueue refund: %w", err)
	}
	_ = s.publisher.Publish(ctx, events.StreamLedger, events.Event{
		Type: events.EventTransferRejected,
		Payload: map[string]any{
			"payout_id": payouts[0].ID.String(),
			"transfer":  transfer,
			"sender":    string(to),
			"amount":    amount.String(),
			"error":     reason,
		},
	})
	s.log.Info("rejected transfer queued for refund",
		zap.String("transfer", transfer),
		zap.String("sender", string(to)),
		zap.String("amount", ledger.FormatAmount(amount)),
		zap.String("cause", reason),
	)
	return nil
}

func (s *PayoutService) ListByLedger(ctx context.Context, ledgerID uuid.UUID) ([]models.Payout, error) {
	return s.store.ListByLedger(ctx, ledgerID)
}
