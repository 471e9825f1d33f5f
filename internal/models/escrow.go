package models

import (
	"errors"
	"time"

	"github.com/custody-ledger/backend/internal/ledger"
	"github.com/google/uuid"
)

// Ledger kinds
const (
	LedgerKindEscrow = "escrow"
	LedgerKindRental = "rental"
)

var ErrLedgerNotFound = errors.New("ledger not found")

// ErrTransferProcessed means a chain transfer was already applied to a ledger
// or queued for refund. Replays of it must change nothing.
var ErrTransferProcessed = errors.New("chain transfer already processed")

type EscrowRecord struct {
	ID        uuid.UUID          `json:"id"`
	CreatedBy ledger.Address     `json:"created_by"`
	State     ledger.EscrowState `json:"state"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

type RentalRecord struct {
	ID        uuid.UUID          `json:"id"`
	State     ledger.RentalState `json:"state"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// LedgerEvent is a persisted ledger.Event.
type LedgerEvent struct {
	ID         int64        `json:"id"`
	LedgerID   uuid.UUID    `json:"ledger_id"`
	LedgerKind string       `json:"ledger_kind"`
	Seq        uint64       `json:"seq"`
	Name       string       `json:"name"`
	Args       []ledger.Arg `json:"args"`
	CreatedAt  time.Time    `json:"created_at"`
}
