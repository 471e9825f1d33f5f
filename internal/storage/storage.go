// Package storage declares the persistence contracts shared by the
// PostgreSQL repositories and the in-memory store.
package storage

import (
	"context"
	"time"

	"github.com/custody-ledger/backend/internal/ledger"
	"github.com/custody-ledger/backend/internal/models"
	"github.com/google/uuid"
)

// EscrowMutation applies one ledger operation to a locked record. It mutates
// rec.State on success; on error the store discards the record.
type EscrowMutation func(rec *models.EscrowRecord) (ledger.Result, error)

type RentalMutation func(rec *models.RentalRecord) (ledger.Result, error)

// Outcomes recorded against a chain transfer key.
const (
	TransferApplied  = "applied"
	TransferRefunded = "refunded"
)

type EscrowStore interface {
	CreateEscrow(ctx context.Context, e *models.EscrowRecord) error
	GetEscrow(ctx context.Context, id uuid.UUID) (*models.EscrowRecord, error)
	// MutateEscrow persists the new state together with the result's events
	// and payouts, atomically. A non-empty transfer is the key of the chain
	// transfer funding the operation; it is recorded in the same write, and a
	// key recorded before fails with models.ErrTransferProcessed.
	MutateEscrow(ctx context.Context, id uuid.UUID, transfer string, fn EscrowMutation) (*models.EscrowRecord, ledger.Result, error)
}

type RentalStore interface {
	CreateRental(ctx context.Context, rs *models.RentalRecord) error
	GetRental(ctx context.Context, id uuid.UUID) (*models.RentalRecord, error)
	MutateRental(ctx context.Context, id uuid.UUID, transfer string, fn RentalMutation) (*models.RentalRecord, ledger.Result, error)
}

type EventStore interface {
	ListEvents(ctx context.Context, ledgerID uuid.UUID, afterSeq uint64, limit int) ([]models.LedgerEvent, error)
}

type PayoutStore interface {
	// Enqueue stores payouts that no ledger mutation produced. transfer is
	// recorded as in MutateEscrow.
	Enqueue(ctx context.Context, transfer string, payouts []models.Payout) error
	ClaimBatch(ctx context.Context, limit int) ([]models.Payout, error)
	// ClaimStale renews the lease of up to limit payouts that have been
	// sending for longer than lease and returns them. Their outcome is unknown.
	ClaimStale(ctx context.Context, lease time.Duration, limit int) ([]models.Payout, error)
	MarkSent(ctx context.Context, id uuid.UUID, txRef string) error
	MarkFailed(ctx context.Context, id uuid.UUID, msg string, maxAttempts int) (string, error)
	ListByLedger(ctx context.Context, ledgerID uuid.UUID) ([]models.Payout, error)
}

type AuditStore interface {
	Log(ctx context.Context, entry models.AuditLog) error
	// ByEntity returns up to limit entries about an entity, newest first.
	ByEntity(ctx context.Context, entityID uuid.UUID, limit int) ([]models.AuditLog, error)
}
