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

type RentalService struct {
	store  storage.RentalStore
	events storage.EventStore
	policy ledger.FeePolicy
	clock  ledger.Clock
	rec    recorder
	log    *zap.Logger
}

func NewRentalService(
	store storage.RentalStore,
	eventStore storage.EventStore,
	audit storage.AuditStore,
	publisher events.Publisher,
	policy ledger.FeePolicy,
	clock ledger.Clock,
	m *metrics.Metrics,
	log *zap.Logger,
) *RentalService {
	return &RentalService{
		store:  store,
		events: eventStore,
		policy: policy,
		clock:  clock,
		rec: recorder{
			kind:      models.LedgerKindRental,
			audit:     audit,
			publisher: publisher,
			metrics:   m,
			log:       log,
		},
		log: log,
	}
}

// CreateRentalSystem opens an empty catalog owned by the caller.
func (s *RentalService) CreateRentalSystem(ctx context.Context, owner Caller) (*models.RentalRecord, error) {
	l, err := ledger.NewRentalLedger(owner.Address, s.policy)
	if err != nil {
		return nil, err
	}
	rec := &models.RentalRecord{ID: uuid.New(), State: l.State()}
	if err := s.store.CreateRental(ctx, rec); err != nil {
		return nil, fmt.Errorf("create rental system: %w", err)
	}
	s.rec.committed(ctx, rec.ID, "create", owner, ledger.Result{})
	return rec, nil
}

func (s *RentalService) GetRentalSystem(ctx context.Context, id uuid.UUID) (*models.RentalRecord, error) {
	return s.store.GetRental(ctx, id)
}

func (s *RentalService) AddBook(ctx context.Context, id uuid.UUID, caller Caller, b ledger.Book) (ledger.Result, error) {
	return s.apply(ctx, id, "add_book", caller, func(l *ledger.RentalLedger) (ledger.Result, error) {
		return l.AddBook(caller.Address, b)
	})
}

// RentBook opens an agreement; value is what the renter attached.
func (s *RentalService) RentBook(ctx context.Context, id uuid.UUID, caller Caller, bookID uint64, period time.Duration, value *big.Int) (ledger.Result, error) {
	return s.apply(ctx, id, "rent_book", caller, func(l *ledger.RentalLedger) (ledger.Result, error) {
		return l.RentBook(caller.Address, bookID, period, value, s.clock.Now())
	})
}

func (s *RentalService) ReturnBook(ctx context.Context, id uuid.UUID, caller Caller, bookID uint64) (ledger.Result, error) {
	return s.apply(ctx, id, "return_book", caller, func(l *ledger.RentalLedger) (ledger.Result, error) {
		return l.ReturnBook(caller.Address, bookID, s.clock.Now())
	})
}

func (s *RentalService) ReportDamage(ctx context.Context, id uuid.UUID, caller Caller, bookID uint64) (ledger.Result, error) {
	return s.apply(ctx, id, "report_damage", caller, func(l *ledger.RentalLedger) (ledger.Result, error) {
		return l.ReportDamage(caller.Address, bookID)
	})
}

func (s *RentalService) WithdrawRetained(ctx context.Context, id uuid.UUID, caller Caller) (ledger.Result, error) {
	return s.apply(ctx, id, "withdraw_retained", caller, func(l *ledger.RentalLedger) (ledger.Result, error) {
		return l.WithdrawRetained(caller.Address)
	})
}

func (s *RentalService) Book(ctx context.Context, id uuid.UUID, bookID uint64) (ledger.Book, error) {
	l, err := s.load(ctx, id)
	if err != nil {
		return ledger.Book{}, err
	}
	return l.Book(bookID)
}

func (s *RentalService) Books(ctx context.Context, id uuid.UUID) ([]ledger.Book, error) {
	l, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return l.Books(), nil
}

// Agreement is getRentalAgreement: the most recent agreement for a book.
func (s *RentalService) Agreement(ctx context.Context, id uuid.UUID, bookID uint64) (ledger.RentalAgreement, error) {
	l, err := s.load(ctx, id)
	if err != nil {
		return ledger.RentalAgreement{}, err
	}
	return l.RentalAgreement(bookID)
}

func (s *RentalService) History(ctx context.Context, id uuid.UUID, bookID uint64) ([]ledger.RentalAgreement, error) {
	l, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return l.History(bookID), nil
}

func (s *RentalService) Events(ctx context.Context, id uuid.UUID, afterSeq uint64, limit int) ([]models.LedgerEvent, error) {
	if _, err := s.store.GetRental(ctx, id); err != nil {
		return nil, err
	}
	return s.events.ListEvents(ctx, id, afterSeq, limit)
}

func (s *RentalService) load(ctx context.Context, id uuid.UUID) (*ledger.RentalLedger, error) {
	rec, err := s.store.GetRental(ctx, id)
	if err != nil {
		return nil, err
	}
	return ledger.RestoreRentalLedger(rec.State, s.policy), nil
}

func (s *RentalService) apply(ctx context.Context, id uuid.UUID, op string, caller Caller, fn func(*ledger.RentalLedger) (ledger.Result, error)) (ledger.Result, error) {
	_, res, err := s.store.MutateRental(ctx, id, caller.Transfer, func(rec *models.RentalRecord) (ledger.Result, error) {
		l := ledger.RestoreRentalLedger(rec.State, s.policy)
		res, err := fn(l)
		if err != nil {
			return ledger.Result{}, err
		}
		rec.State = l.State()
		return res, nil
	})
	if err != nil {
		s.rec.rejected(id, op, caller, err)
		return ledger.Result{}, err
	}
	s.rec.committed(ctx, id, op, caller, res)
	return res, nil
}
