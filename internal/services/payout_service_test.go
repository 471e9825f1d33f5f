package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/custody-ledger/backend/internal/ledger"
	"github.com/custody-ledger/backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type scriptedSender struct {
	fail  map[ledger.Address]bool
	calls int
}

func (s *scriptedSender) Send(_ context.Context, p models.Payout) (string, error) {
	s.calls++
	if s.fail[p.Recipient] {
		return "", errors.New("liteserver timeout")
	}
	return "tx-" + p.ID.String(), nil
}

// findingSender also answers whether a payout already reached the chain.
type findingSender struct {
	scriptedSender
	onChain map[uuid.UUID]string
	lookups int
}

func (s *findingSender) FindSent(_ context.Context, p models.Payout) (string, bool, error) {
	s.lookups++
	ref, ok := s.onChain[p.ID]
	return ref, ok, nil
}

func releasedEscrow(t *testing.T, f *fixture) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id := createEscrow(t, f)
	if _, _, err := f.escrow.Deposit(ctx, id, Party(payer), ledger.MustParseAmount("1")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	for _, p := range []ledger.Address{payer, payee} {
		if _, _, err := f.escrow.ConfirmDelivery(ctx, id, Party(p)); err != nil {
			t.Fatalf("confirm: %v", err)
		}
	}
	if _, _, err := f.escrow.ReleaseFunds(ctx, id, Party(payer)); err != nil {
		t.Fatalf("release: %v", err)
	}
	return id
}

func TestSettleBatchSends(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil)
	id := releasedEscrow(t, f)

	sender := &scriptedSender{}
	svc := NewPayoutService(f.store, f.store, sender, f.pub, nil, PayoutConfig{MaxAttempts: 3}, zap.NewNop())

	sent, err := svc.SettleBatch(ctx)
	if err != nil || sent != 1 {
		t.Fatalf("SettleBatch = %d, %v", sent, err)
	}
	payouts, _ := svc.ListByLedger(ctx, id)
	if len(payouts) != 1 || payouts[0].Status != models.PayoutStatusSent || payouts[0].TxRef == nil {
		t.Fatalf("payouts = %+v", payouts)
	}

	// Nothing left to claim.
	sent, _ = svc.SettleBatch(ctx)
	if sent != 0 || sender.calls != 1 {
		t.Errorf("second batch sent = %d, calls = %d", sent, sender.calls)
	}
}

func TestSettleBatchRetriesThenAbandons(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil)
	id := releasedEscrow(t, f)

	sender := &scriptedSender{fail: map[ledger.Address]bool{payee: true}}
	svc := NewPayoutService(f.store, f.store, sender, f.pub, nil, PayoutConfig{MaxAttempts: 2}, zap.NewNop())

	wantStatus := []string{models.PayoutStatusFailed, models.PayoutStatusAbandoned}
	for i, want := range wantStatus {
		if _, err := svc.SettleBatch(ctx); err != nil {
			t.Fatalf("batch %d: %v", i, err)
		}
		payouts, _ := svc.ListByLedger(ctx, id)
		if payouts[0].Status != want || payouts[0].Attempts != i+1 {
			t.Errorf("after batch %d: status = %s attempts = %d, want %s", i, payouts[0].Status, payouts[0].Attempts, want)
		}
	}

	if _, err := svc.SettleBatch(ctx); err != nil {
		t.Fatal(err)
	}
	if sender.calls != 2 {
		t.Errorf("abandoned payout was retried: calls = %d", sender.calls)
	}

	// Settlement failures never reopen the escrow.
	rec, _ := f.escrow.GetEscrow(ctx, id)
	if !rec.State.Released {
		t.Error("escrow no longer released after failed payout")
	}
}

func TestRefundRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil)
	sender := &scriptedSender{}
	svc := NewPayoutService(f.store, f.store, sender, f.pub, nil, PayoutConfig{}, zap.NewNop())

	if err := svc.RefundRejected(ctx, "EQwallet:7", stranger, ledger.MustParseAmount("0.3"), ledger.ErrAmountMismatch); err != nil {
		t.Fatalf("RefundRejected: %v", err)
	}
	if err := svc.RefundRejected(ctx, "EQwallet:7", stranger, ledger.MustParseAmount("0.3"), ledger.ErrAmountMismatch); !errors.Is(err, models.ErrTransferProcessed) {
		t.Fatalf("second refund of the same transfer err = %v", err)
	}
	if err := svc.RefundRejected(ctx, "EQwallet:8", stranger, nil, ledger.ErrAmountMismatch); err != nil {
		t.Fatalf("RefundRejected(nil): %v", err)
	}

	sent, err := svc.SettleBatch(ctx)
	if err != nil || sent != 1 {
		t.Fatalf("SettleBatch = %d, %v", sent, err)
	}
	payouts, _ := svc.ListByLedger(ctx, uuid.Nil)
	if len(payouts) != 1 || payouts[0].Reason != ledger.ReasonRejectedTransfer || payouts[0].Recipient != stranger {
		t.Errorf("refunds = %+v", payouts)
	}
}

func TestSettleBatchResolvesStaleSends(t *testing.T) {
	tests := []struct {
		name      string
		onChain   bool
		canLookUp bool
		wantSends int
		wantRef   string
	}{
		{"found on chain", true, true, 0, "tx-onchain"},
		{"not on chain", false, true, 1, ""},
		{"sender cannot look up", false, false, 1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(nil)
			id := releasedEscrow(t, f)

			// A worker claimed the payout and died before recording the outcome.
			claimed, _ := f.store.ClaimBatch(ctx, 10)
			if len(claimed) != 1 {
				t.Fatalf("claimed = %d", len(claimed))
			}

			finder := &findingSender{onChain: map[uuid.UUID]string{}}
			if tt.onChain {
				finder.onChain[claimed[0].ID] = "tx-onchain"
			}
			var sender Sender = &finder.scriptedSender
			if tt.canLookUp {
				sender = finder
			}
			cfg := PayoutConfig{MaxAttempts: 3, LeaseTimeout: 10 * time.Minute}
			svc := NewPayoutService(f.store, f.store, sender, f.pub, nil, cfg, zap.NewNop())

			if sent, err := svc.SettleBatch(ctx); err != nil || sent != 0 {
				t.Fatalf("inside lease: SettleBatch = %d, %v", sent, err)
			}
			if finder.lookups != 0 || finder.calls != 0 {
				t.Fatalf("leased payout touched: lookups = %d, sends = %d", finder.lookups, finder.calls)
			}

			f.clock.Advance(11 * time.Minute)
			sent, err := svc.SettleBatch(ctx)
			if err != nil || sent != 1 {
				t.Fatalf("after lease: SettleBatch = %d, %v", sent, err)
			}
			if finder.calls != tt.wantSends {
				t.Errorf("sends = %d, want %d", finder.calls, tt.wantSends)
			}

			payouts, _ := svc.ListByLedger(ctx, id)
			if len(payouts) != 1 || payouts[0].Status != models.PayoutStatusSent || payouts[0].TxRef == nil {
				t.Fatalf("payouts = %+v", payouts)
			}
			if tt.wantRef != "" && *payouts[0].TxRef != tt.wantRef {
				t.Errorf("tx ref = %s, want %s", *payouts[0].TxRef, tt.wantRef)
			}
		})
	}
}

func TestLogSender(t *testing.T) {
	p := models.NewPayouts(uuid.New(), models.LedgerKindEscrow, []ledger.Payout{{To: payee, Amount: ledger.MustParseAmount("1"), Reason: ledger.ReasonEscrowRelease}})[0]
	ref, err := LogSender{Log: zap.NewNop()}.Send(context.Background(), p)
	if err != nil || ref != "log:"+p.ID.String() {
		t.Errorf("Send = %q, %v", ref, err)
	}
}
