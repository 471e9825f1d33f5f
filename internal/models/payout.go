package models

import (
	"math/big"
	"sort"
	"time"

	"github.com/custody-ledger/backend/internal/ledger"
	"github.com/google/uuid"
)

// Payout statuses
const (
	PayoutStatusPending   = "pending"
	PayoutStatusSending   = "sending"
	PayoutStatusSent      = "sent"
	PayoutStatusFailed    = "failed"
	PayoutStatusAbandoned = "abandoned"
)

// Valid state transitions: from -> []to.
// Payout outcomes never feed back into ledger state.
var ValidPayoutTransitions = map[string][]string{
	PayoutStatusPending:   {PayoutStatusSending},
	PayoutStatusSending:   {PayoutStatusSent, PayoutStatusFailed, PayoutStatusAbandoned},
	PayoutStatusFailed:    {PayoutStatusSending},
	PayoutStatusSent:      {},
	PayoutStatusAbandoned: {},
}

func IsValidPayoutTransition(from, to string) bool {
	allowed, ok := ValidPayoutTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// PayoutStatusesInto lists, in order, the statuses that may move to status.
// Stores use it as the guard on status updates.
func PayoutStatusesInto(status string) []string {
	var from []string
	for s := range ValidPayoutTransitions {
		if IsValidPayoutTransition(s, status) {
			from = append(from, s)
		}
	}
	sort.Strings(from)
	return from
}

type Payout struct {
	ID         uuid.UUID      `json:"id"`
	LedgerID   uuid.UUID      `json:"ledger_id"` // uuid.Nil for rejected chain transfers
	LedgerKind string         `json:"ledger_kind"`
	Recipient  ledger.Address `json:"recipient"`
	Amount     *big.Int       `json:"amount"`
	Reason     string         `json:"reason"`
	Status     string         `json:"status"`
	Attempts   int            `json:"attempts"`
	LastError  *string        `json:"last_error,omitempty"`
	TxRef      *string        `json:"tx_ref,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Memo is the transfer comment attached to the on-chain payout.
func (p Payout) Memo() string {
	return p.Reason + ":" + p.ID.String()
}

// NewPayouts turns ledger payouts into pending records.
func NewPayouts(ledgerID uuid.UUID, kind string, in []ledger.Payout) []Payout {
	out := make([]Payout, 0, len(in))
	for _, p := range in {
		out = append(out, Payout{
			ID:         uuid.New(),
			LedgerID:   ledgerID,
			LedgerKind: kind,
			Recipient:  p.To,
			Amount:     new(big.Int).Set(p.Amount),
			Reason:     p.Reason,
			Status:     PayoutStatusPending,
		})
	}
	return out
}
