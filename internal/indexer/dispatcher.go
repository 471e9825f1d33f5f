// Package indexer turns incoming transfers to the hot wallet into ledger
// operations.
package indexer

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/custody-ledger/backend/internal/ledger"
	"github.com/custody-ledger/backend/internal/models"
	"github.com/custody-ledger/backend/internal/services"
	"github.com/custody-ledger/backend/internal/ton"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outcomes of handling one transfer.
const (
	OutcomeApplied  = "applied"
	OutcomeRefunded = "refunded"
	OutcomeIgnored  = "ignored"
	// The transfer was already applied or refunded by an earlier run.
	OutcomeDuplicate = "duplicate"
)

// Transfer is an incoming value transfer to the hot wallet. Key is unique per
// chain transaction and is recorded with whatever the transfer caused.
type Transfer struct {
	Key    string
	LT     uint64
	From   ledger.Address
	Amount *big.Int
	Memo   string
}

type Depositor interface {
	Deposit(ctx context.Context, id uuid.UUID, caller services.Caller, value *big.Int) (*models.EscrowRecord, ledger.Result, error)
}

type Renter interface {
	RentBook(ctx context.Context, id uuid.UUID, caller services.Caller, bookID uint64, period time.Duration, value *big.Int) (ledger.Result, error)
}

type Refunder interface {
	RefundRejected(ctx context.Context, transfer string, to ledger.Address, amount *big.Int, cause error) error
}

// Dispatcher applies a transfer's value to the ledger its memo names. Value
// the ledger rejects is queued back to the sender, so a failed operation
// never keeps the funds.
type Dispatcher struct {
	escrows  Depositor
	rentals  Renter
	refunder Refunder
	log      *zap.Logger
}

func NewDispatcher(escrows Depositor, rentals Renter, refunder Refunder, log *zap.Logger) *Dispatcher {
	return &Dispatcher{escrows: escrows, rentals: rentals, refunder: refunder, log: log}
}

// Handle returns the outcome of t. A non-nil error means nothing was decided
// and the transfer should be retried.
func (d *Dispatcher) Handle(ctx context.Context, t Transfer) (string, error) {
	if t.Amount == nil || t.Amount.Sign() <= 0 {
		return OutcomeIgnored, nil
	}
	// Plain top-ups of the hot wallet carry no memo.
	if t.Memo == "" {
		d.log.Debug("transfer without memo, skipping",
			zap.Uint64("lt", t.LT),
			zap.String("from", string(t.From)),
		)
		return OutcomeIgnored, nil
	}

	intent, err := ton.ParseMemo(t.Memo)
	if err != nil {
		return d.refund(ctx, t, err)
	}

	caller := services.Caller{Address: t.From, ActorType: services.ActorIndexer, Transfer: t.Key}
	switch intent.Kind {
	case ton.IntentDeposit:
		_, _, err = d.escrows.Deposit(ctx, intent.LedgerID, caller, t.Amount)
	case ton.IntentRent:
		_, err = d.rentals.RentBook(ctx, intent.LedgerID, caller, intent.BookID, intent.Period, t.Amount)
	}
	if err != nil {
		if errors.Is(err, models.ErrTransferProcessed) {
			return d.duplicate(t), nil
		}
		if rejected(err) {
			return d.refund(ctx, t, err)
		}
		return "", err
	}

	d.log.Info("transfer applied",
		zap.Uint64("lt", t.LT),
		zap.String("kind", intent.Kind),
		zap.String("ledger_id", intent.LedgerID.String()),
		zap.String("from", string(t.From)),
		zap.String("amount", ledger.FormatAmount(t.Amount)),
	)
	return OutcomeApplied, nil
}

func (d *Dispatcher) refund(ctx context.Context, t Transfer, cause error) (string, error) {
	if err := d.refunder.RefundRejected(ctx, t.Key, t.From, t.Amount, cause); err != nil {
		if errors.Is(err, models.ErrTransferProcessed) {
			return d.duplicate(t), nil
		}
		return "", err
	}
	d.log.Warn("transfer rejected",
		zap.Uint64("lt", t.LT),
		zap.String("from", string(t.From)),
		zap.String("memo", t.Memo),
		zap.Error(cause),
	)
	return OutcomeRefunded, nil
}

func (d *Dispatcher) duplicate(t Transfer) string {
	d.log.Info("transfer already processed",
		zap.String("key", t.Key),
		zap.Uint64("lt", t.LT),
		zap.String("from", string(t.From)),
	)
	return OutcomeDuplicate
}

// rejected reports whether err is a final answer from the ledger rather than
// an infrastructure failure.
func rejected(err error) bool {
	return ledger.KindOf(err) != "" || errors.Is(err, models.ErrLedgerNotFound)
}
