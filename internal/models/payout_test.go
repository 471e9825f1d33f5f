package models

import (
	"math/big"
	"strings"
	"testing"

	"github.com/custody-ledger/backend/internal/ledger"
	"github.com/google/uuid"
)

func TestIsValidPayoutTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Happy path
		{PayoutStatusPending, PayoutStatusSending, true},
		{PayoutStatusSending, PayoutStatusSent, true},

		// Retry loop
		{PayoutStatusSending, PayoutStatusFailed, true},
		{PayoutStatusFailed, PayoutStatusSending, true},
		{PayoutStatusSending, PayoutStatusAbandoned, true},

		// Invalid transitions
		{PayoutStatusPending, PayoutStatusSent, false},
		{PayoutStatusSent, PayoutStatusSending, false},
		{PayoutStatusSent, PayoutStatusFailed, false},
		{PayoutStatusAbandoned, PayoutStatusSending, false},
		{PayoutStatusPending, PayoutStatusAbandoned, false},
		{PayoutStatusFailed, PayoutStatusAbandoned, false},
		{"nonexistent", PayoutStatusSending, false},
		{PayoutStatusPending, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidPayoutTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidPayoutTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestTerminalPayoutStatusesHaveNoTransitions(t *testing.T) {
	for _, status := range []string{PayoutStatusSent, PayoutStatusAbandoned} {
		if transitions := ValidPayoutTransitions[status]; len(transitions) != 0 {
			t.Errorf("terminal status %q should have no transitions, got %v", status, transitions)
		}
	}
}

func TestPayoutStatusesInto(t *testing.T) {
	tests := []struct {
		to   string
		want string
	}{
		{PayoutStatusSending, "failed,pending"},
		{PayoutStatusSent, "sending"},
		{PayoutStatusFailed, "sending"},
		{PayoutStatusAbandoned, "sending"},
		{PayoutStatusPending, ""},
	}
	for _, tt := range tests {
		if got := strings.Join(PayoutStatusesInto(tt.to), ","); got != tt.want {
			t.Errorf("PayoutStatusesInto(%q) = %q, want %q", tt.to, got, tt.want)
		}
	}
}

func TestNewPayouts(t *testing.T) {
	id := uuid.New()
	amount := big.NewInt(42)
	out := NewPayouts(id, LedgerKindEscrow, []ledger.Payout{{To: "EQpayee", Amount: amount, Reason: ledger.ReasonEscrowRelease}})
	if len(out) != 1 {
		t.Fatalf("len = %d", len(out))
	}
	p := out[0]
	if p.Status != PayoutStatusPending || p.LedgerID != id || p.Recipient != "EQpayee" {
		t.Errorf("payout = %+v", p)
	}
	amount.SetInt64(7)
	if p.Amount.Int64() != 42 {
		t.Error("payout shares amount with ledger payout")
	}
	if !strings.HasPrefix(p.Memo(), ledger.ReasonEscrowRelease+":") {
		t.Errorf("memo = %q", p.Memo())
	}
}
