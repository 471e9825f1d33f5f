package services

import (
	"context"
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
)

type EscrowService struct {
	store  storage.EscrowStore
	events storage.EventStore
	clock  ledger.Clock
	rec    recorder
	log    *zap.Logger
}

func NewEscrowService(
	store storage.EscrowStore,
	eventStore storage.EventStore,
	audit storage.AuditStore,
	publisher events.Publisher,
	clock ledger.Clock,
	m *metrics.Metrics,
	log *zap.Logger,
) *EscrowService {
	return &EscrowService{
		store:  store,
		events: eventStore,
		clock:  clock,
		rec: recorder{
			kind:      models.LedgerKindEscrow,
			audit:     audit,
			publisher: publisher,
			metrics:   m,
			log:       log,
		},
		log: log,
	}
}

type CreateEscrowInput struct {
	Payer      ledger.Address
	Payee      ledger.Address
	Arbitrator ledger.Address
	Amount     *big.Int
	Deadline   time.Time
}

func (s *EscrowService) CreateEscrow(ctx context.Context, creator Caller, in CreateEscrowInput) (*models.EscrowRecord, error) {
	e, err := ledger.NewEscrow(ledger.EscrowTerms{
		Payer:      in.Payer,
		Payee:      in.Payee,
		Arbitrator: in.Arbitrator,
		Amount:     in.Amount,
		Deadline:   in.Deadline.UTC(),
	})
	if err != nil {
		return nil, err
	}

	rec := &models.EscrowRecord{
		ID:        uuid.New(),
		CreatedBy: creator.Address,
		State:     e.State(),
	}
	if err := s.store.CreateEscrow(ctx, rec); err != nil {
		return nil, fmt.Errorf("create escrow: %w", err)
	}

	s.rec.committed(ctx, rec.ID, "create", creator, ledger.Result{})
	return rec, nil
}

func (s *EscrowService) GetEscrow(ctx context.Context, id uuid.UUID) (*models.EscrowRecord, error) {
	return s.store.GetEscrow(ctx, id)
}

// Balance is getContractBalance.
func (s *EscrowService) Balance(ctx context.Context, id uuid.UUID) (*big.Int, error) {
	rec, err := s.store.GetEscrow(ctx, id)
	if err != nil {
		return nil, err
	}
	return ledger.RestoreEscrow(rec.State).Balance(), nil
}

// Deposit attaches value to the escrow on behalf of caller.
func (s *EscrowService) Deposit(ctx context.Context, id uuid.UUID, caller Caller, value *big.Int) (*models.EscrowRecord, ledger.Result, error) {
	return s.apply(ctx, id, "deposit", caller, func(e *ledger.Escrow) (ledger.Result, error) {
		return e.Deposit(caller.Address, value, s.clock.Now())
	})
}

func (s *EscrowService) ConfirmDelivery(ctx context.Context, id uuid.UUID, caller Caller) (*models.EscrowRecord, ledger.Result, error) {
	return s.apply(ctx, id, "confirm_delivery", caller, func(e *ledger.Escrow) (ledger.Result, error) {
		return e.ConfirmDelivery(caller.Address)
	})
}

func (s *EscrowService) ReleaseFunds(ctx context.Context, id uuid.UUID, caller Caller) (*models.EscrowRecord, ledger.Result, error) {
	return s.apply(ctx, id, "release_funds", caller, func(e *ledger.Escrow) (ledger.Result, error) {
		return e.ReleaseFunds(caller.Address)
	})
}

func (s *EscrowService) InitiateDispute(ctx context.Context, id uuid.UUID, caller Caller) (*models.EscrowRecord, ledger.Result, error) {
	return s.apply(ctx, id, "initiate_dispute", caller, func(e *ledger.Escrow) (ledger.Result, error) {
		return e.InitiateDispute(caller.Address)
	})
}

func (s *EscrowService) Events(ctx context.Context, id uuid.UUID, afterSeq uint64, limit int) ([]models.LedgerEvent, error) {
	if _, err := s.store.GetEscrow(ctx, id); err != nil {
		return nil, err
	}
	return s.events.ListEvents(ctx, id, afterSeq, limit)
}

// apply runs op against the locked escrow and persists the outcome.
// fn runs under the row lock, so it reads the clock itself.
func (s *EscrowService) apply(ctx context.Context, id uuid.UUID, op string, caller Caller, fn func(*ledger.Escrow) (ledger.Result, error)) (*models.EscrowRecord, ledger.Result, error) {
	rec, res, err := s.store.MutateEscrow(ctx, id, caller.Transfer, func(rec *models.EscrowRecord) (ledger.Result, error) {
		e := ledger.RestoreEscrow(rec.State)
		res, err := fn(e)
		if err != nil {
			return ledger.Result{}, err
		}
		rec.State = e.State()
		return res, nil
	})
	if err != nil {
		s.rec.rejected(id, op, caller, err)
		return nil, ledger.Result{}, err
	}
	s.rec.committed(ctx, id, op, caller, res)
	return rec, res, nil
}
