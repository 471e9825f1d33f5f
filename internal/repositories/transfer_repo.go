package repositories

import (
	"context"

	"github.com/custody-ledger/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// recordTransfer claims a chain transfer key inside tx. The primary key makes
// a second claim, concurrent or later, fail with models.ErrTransferProcessed;
// if tx rolls back the key is free again.
func recordTransfer(ctx context.Context, tx pgx.Tx, key, outcome string, ledgerID uuid.UUID) error {
	if key == "" {
		return nil
	}
	var lid *uuid.UUID
	if ledgerID != uuid.Nil {
		lid = &ledgerID
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO chain_transfers (key, outcome, ledger_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO NOTHING
	`, key, outcome, lid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrTransferProcessed
	}
	return nil
}
