package repositories

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/custody-ledger/backend/internal/ledger"
	"github.com/custody-ledger/backend/internal/models"
	"github.com/custody-ledger/backend/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

const selectEscrow = `
	SELECT id, created_by, state::text, created_at, updated_at
	FROM escrows WHERE id = $1`

func (r *EscrowRepo) CreateEscrow(ctx context.Context, e *models.EscrowRecord) error {
	state, err := json.Marshal(e.State)
	if err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO escrows (id, payer, payee, arbitrator, released, created_by, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
		RETURNING created_at, updated_at
	`, e.ID, string(e.State.Payer), string(e.State.Payee), string(e.State.Arbitrator),
		e.State.Released, string(e.CreatedBy), string(state),
	).Scan(&e.CreatedAt, &e.UpdatedAt)
}

func (r *EscrowRepo) GetEscrow(ctx context.Context, id uuid.UUID) (*models.EscrowRecord, error) {
	return scanEscrow(r.pool.QueryRow(ctx, selectEscrow, id))
}

// MutateEscrow locks the escrow row, applies fn and writes the new state,
// its events, its payouts and the funding transfer key in one transaction.
// Nothing is written if fn fails.
func (r *EscrowRepo) MutateEscrow(ctx context.Context, id uuid.UUID, transfer string, fn storage.EscrowMutation) (*models.EscrowRecord, ledger.Result, error) {
	var (
		rec *models.EscrowRecord
		res ledger.Result
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := recordTransfer(ctx, tx, transfer, storage.TransferApplied, id); err != nil {
			return err
		}
		var err error
		rec, err = scanEscrow(tx.QueryRow(ctx, selectEscrow+" FOR UPDATE", id))
		if err != nil {
			return err
		}
		res, err = fn(rec)
		if err != nil {
			return err
		}

		state, err := json.Marshal(rec.State)
		if err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, `
			UPDATE escrows SET state = $2::jsonb, released = $3, updated_at = now()
			WHERE id = $1
			RETURNING updated_at
		`, id, string(state), rec.State.Released).Scan(&rec.UpdatedAt); err != nil {
			return err
		}

		if err := insertEvents(ctx, tx, id, models.LedgerKindEscrow, res.Events); err != nil {
			return err
		}
		return insertPayouts(ctx, tx, models.NewPayouts(id, models.LedgerKindEscrow, res.Payouts))
	})
	if err != nil {
		return nil, ledger.Result{}, err
	}
	return rec, res, nil
}

func scanEscrow(row pgx.Row) (*models.EscrowRecord, error) {
	var (
		e     models.EscrowRecord
		by    string
		state string
	)
	if err := row.Scan(&e.ID, &by, &state, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrLedgerNotFound
		}
		return nil, err
	}
	e.CreatedBy = ledger.Address(by)
	if err := json.Unmarshal([]byte(state), &e.State); err != nil {
		return nil, err
	}
	return &e, nil
}

var (
	_ storage.EscrowStore = (*EscrowRepo)(nil)
	_ storage.RentalStore = (*RentalRepo)(nil)
	_ storage.EventStore  = (*EventRepo)(nil)
	_ storage.PayoutStore = (*PayoutRepo)(nil)
	_ storage.AuditStore  = (*AuditRepo)(nil)
)
