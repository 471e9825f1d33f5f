package indexer

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/custody-ledger/backend/internal/events"
	"github.com/custody-ledger/backend/internal/ledger"
	"github.com/custody-ledger/backend/internal/models"
	"github.com/custody-ledger/backend/internal/services"
	"github.com/custody-ledger/backend/internal/storage/memory"
	"github.com/custody-ledger/backend/internal/ton"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store    *memory.Store
	escrows  *services.EscrowService
	rentals  *services.RentalService
	payouts  *services.PayoutService
	dispatch *Dispatcher
}

func newFixture() *fixture {
	log := zap.NewNop()
	store := memory.NewStore()
	clock := ledger.ClockFunc(func() time.Time { return t0 })
	pub := events.NopPublisher{}
	f := &fixture{
		store:   store,
		escrows: services.NewEscrowService(store, store, store, pub, clock, nil, log),
		rentals: services.NewRentalService(store, store, store, pub, ledger.ProratedFeePolicy{}, clock, nil, log),
		payouts: services.NewPayoutService(store, store, services.LogSender{Log: log}, pub, nil, services.PayoutConfig{}, log),
	}
	f.dispatch = NewDispatcher(f.escrows, f.rentals, f.payouts, log)
	return f
}

func (f *fixture) escrow(t *testing.T) uuid.UUID {
	t.Helper()
	rec, err := f.escrows.CreateEscrow(context.Background(), services.Party("EQpayer"), services.CreateEscrowInput{
		Payer:      "EQpayer",
		Payee:      "EQpayee",
		Arbitrator: "EQarbitrator",
		Amount:     big.NewInt(1000),
		Deadline:   t0.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateEscrow: %v", err)
	}
	return rec.ID
}

// refunds returns queued rejected-transfer payouts.
func (f *fixture) refunds(t *testing.T) []models.Payout {
	t.Helper()
	out, err := f.store.ListByLedger(context.Background(), uuid.Nil)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestHandleDeposit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id := f.escrow(t)

	outcome, err := f.dispatch.Handle(ctx, Transfer{LT: 1, From: "EQpayer", Amount: big.NewInt(1000), Memo: ton.DepositMemo(id)})
	if err != nil || outcome != OutcomeApplied {
		t.Fatalf("Handle = %q, %v", outcome, err)
	}
	bal, _ := f.escrows.Balance(ctx, id)
	if bal.Int64() != 1000 {
		t.Errorf("balance = %s, want 1000", bal)
	}
	if r := f.refunds(t); len(r) != 0 {
		t.Errorf("refunds = %+v", r)
	}

	audit := f.store.AuditEntries()
	last := audit[len(audit)-1]
	if last.ActorType != services.ActorIndexer {
		t.Errorf("actor type = %q, want indexer", last.ActorType)
	}
}

func TestHandleRent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	owner := services.Party("EQowner")
	rs, err := f.rentals.CreateRentalSystem(ctx, owner)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.rentals.AddBook(ctx, rs.ID, owner, ledger.Book{ID: 7, Title: "Dune", RentalPrice: big.NewInt(50)}); err != nil {
		t.Fatal(err)
	}

	memo := ton.RentMemo(rs.ID, 7, time.Hour)
	outcome, err := f.dispatch.Handle(ctx, Transfer{LT: 2, From: "EQrenter", Amount: big.NewInt(50), Memo: memo})
	if err != nil || outcome != OutcomeApplied {
		t.Fatalf("Handle = %q, %v", outcome, err)
	}
	a, err := f.rentals.Agreement(ctx, rs.ID, 7)
	if err != nil || a.Renter != "EQrenter" {
		t.Errorf("agreement = %+v, %v", a, err)
	}
}

func TestHandleRejectedTransfersAreRefunded(t *testing.T) {
	tests := []struct {
		name string
		memo func(escrowID uuid.UUID) string
		amt  int64
	}{
		{"wrong amount", func(id uuid.UUID) string { return ton.DepositMemo(id) }, 999},
		{"unknown escrow", func(uuid.UUID) string { return ton.DepositMemo(uuid.New()) }, 1000},
		{"garbage memo", func(uuid.UUID) string { return "hello" }, 1000},
		{"rent unknown system", func(uuid.UUID) string { return ton.RentMemo(uuid.New(), 1, time.Hour) }, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			id := f.escrow(t)

			outcome, err := f.dispatch.Handle(context.Background(), Transfer{LT: 3, From: "EQsender", Amount: big.NewInt(tt.amt), Memo: tt.memo(id)})
			if err != nil || outcome != OutcomeRefunded {
				t.Fatalf("Handle = %q, %v", outcome, err)
			}
			r := f.refunds(t)
			if len(r) != 1 || r[0].Recipient != "EQsender" || r[0].Amount.Int64() != tt.amt || r[0].Reason != ledger.ReasonRejectedTransfer {
				t.Errorf("refunds = %+v", r)
			}
		})
	}
}

func TestHandleSecondDepositIsRefunded(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id := f.escrow(t)
	tr := Transfer{LT: 4, From: "EQpayer", Amount: big.NewInt(1000), Memo: ton.DepositMemo(id)}

	if outcome, _ := f.dispatch.Handle(ctx, tr); outcome != OutcomeApplied {
		t.Fatalf("first = %q", outcome)
	}
	tr.LT = 5
	if outcome, _ := f.dispatch.Handle(ctx, tr); outcome != OutcomeRefunded {
		t.Errorf("second = %q, want refunded", outcome)
	}
	bal, _ := f.escrows.Balance(ctx, id)
	if bal.Int64() != 1000 {
		t.Errorf("balance = %s, want 1000", bal)
	}
}

func TestHandleSameTransferTwice(t *testing.T) {
	tests := []struct {
		name  string
		amt   int64
		first string
	}{
		{"applied", 1000, OutcomeApplied},
		{"refunded", 999, OutcomeRefunded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			ctx := context.Background()
			id := f.escrow(t)
			tr := Transfer{Key: "EQwallet:40", LT: 40, From: "EQpayer", Amount: big.NewInt(tt.amt), Memo: ton.DepositMemo(id)}

			if outcome, err := f.dispatch.Handle(ctx, tr); err != nil || outcome != tt.first {
				t.Fatalf("first = %q, %v", outcome, err)
			}
			if outcome, err := f.dispatch.Handle(ctx, tr); err != nil || outcome != OutcomeDuplicate {
				t.Fatalf("replay = %q, %v, want duplicate", outcome, err)
			}

			wantRefunds := 0
			if tt.first == OutcomeRefunded {
				wantRefunds = 1
			}
			if r := f.refunds(t); len(r) != wantRefunds {
				t.Errorf("refunds = %d, want %d", len(r), wantRefunds)
			}
		})
	}
}

func TestHandleIgnored(t *testing.T) {
	f := newFixture()
	for _, tr := range []Transfer{
		{LT: 6, From: "EQsender", Amount: big.NewInt(10), Memo: ""},
		{LT: 7, From: "EQsender", Amount: big.NewInt(0), Memo: "hello"},
	} {
		outcome, err := f.dispatch.Handle(context.Background(), tr)
		if err != nil || outcome != OutcomeIgnored {
			t.Errorf("Handle(%+v) = %q, %v", tr, outcome, err)
		}
	}
	if r := f.refunds(t); len(r) != 0 {
		t.Errorf("refunds = %+v", r)
	}
}

type failingDepositor struct{ err error }

func (d failingDepositor) Deposit(context.Context, uuid.UUID, services.Caller, *big.Int) (*models.EscrowRecord, ledger.Result, error) {
	return nil, ledger.Result{}, d.err
}

func TestHandleInfrastructureErrorIsRetried(t *testing.T) {
	f := newFixture()
	boom := errors.New("connection reset")
	d := NewDispatcher(failingDepositor{boom}, f.rentals, f.payouts, zap.NewNop())

	_, err := d.Handle(context.Background(), Transfer{LT: 8, From: "EQpayer", Amount: big.NewInt(1000), Memo: ton.DepositMemo(uuid.New())})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if r := f.refunds(t); len(r) != 0 {
		t.Errorf("refunds = %+v", r)
	}
}
