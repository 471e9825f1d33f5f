package services

import (
	"context"
	"errors"

	"github.com/custody-ledger/backend/internal/events"
	"github.com/custody-ledger/backend/internal/ledger"
	"github.com/custody-ledger/backend/internal/metrics"
	"github.com/custody-ledger/backend/internal/models"
	"github.com/custody-ledger/backend/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Actor types recorded in the audit log.
const (
	ActorParty   = "party"
	ActorIndexer = "indexer"
	ActorSystem  = "system"
)

// Caller identifies who invokes a ledger operation and through which channel.
// Transfer is set when the operation is driven by a chain transfer; the
// store records it so the same transfer is never applied twice.
type Caller struct {
	Address   ledger.Address
	ActorType string
	Transfer  string
}

// Party is a caller acting through the API.
func Party(addr ledger.Address) Caller {
	return Caller{Address: addr, ActorType: ActorParty}
}

// recorder does the post-commit bookkeeping shared by ledger services.
// Nothing it does can undo a committed operation.
type recorder struct {
	kind      string
	audit     storage.AuditStore
	publisher events.Publisher
	metrics   *metrics.Metrics
	log       *zap.Logger
}

func (r *recorder) committed(ctx context.Context, id uuid.UUID, op string, caller Caller, res ledger.Result) {
	r.metrics.ObserveOp(r.kind, op, res, nil)

	names := make([]string, 0, len(res.Events))
	for _, ev := range res.Events {
		names = append(names, ev.Name)
	}
	_ = r.audit.Log(ctx, models.AuditLog{
		Actor:      string(caller.Address),
		ActorType:  caller.ActorType,
		Action:     r.kind + "_" + op,
		EntityType: r.kind,
		EntityID:   &id,
		Meta:       map[string]any{"events": names, "payouts": len(res.Payouts)},
	})

	for _, ev := range res.Events {
		if err := r.publisher.Publish(ctx, events.StreamLedger, events.FromLedger(id, r.kind, ev)); err != nil {
			r.log.Warn("failed to publish ledger event",
				zap.String("ledger_id", id.String()),
				zap.String("event", ev.Name),
				zap.Error(err),
			)
		}
	}

	r.log.Info("ledger operation committed",
		zap.String("kind", r.kind),
		zap.String("op", op),
		zap.String("ledger_id", id.String()),
		zap.String("caller", string(caller.Address)),
		zap.Int("events", len(res.Events)),
		zap.Int("payouts", len(res.Payouts)),
	)
}

func (r *recorder) rejected(id uuid.UUID, op string, caller Caller, err error) {
	r.metrics.ObserveOp(r.kind, op, ledger.Result{}, err)
	fields := []zap.Field{
		zap.String("kind", r.kind),
		zap.String("op", op),
		zap.String("ledger_id", id.String()),
		zap.String("caller", string(caller.Address)),
		zap.Error(err),
	}
	if ledger.KindOf(err) != "" || errors.Is(err, models.ErrLedgerNotFound) || errors.Is(err, models.ErrTransferProcessed) {
		r.log.Debug("ledger operation rejected", fields...)
		return
	}
	r.log.Error("ledger operation failed", fields...)
}
