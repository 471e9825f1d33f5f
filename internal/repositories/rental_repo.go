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

type RentalRepo struct {
	pool *pgxpool.Pool
}

func NewRentalRepo(pool *pgxpool.Pool) *RentalRepo {
	return &RentalRepo{pool: pool}
}

const selectRental = `
	SELECT id, state::text, created_at, updated_at
	FROM rental_systems WHERE id = $1`

func (r *RentalRepo) CreateRental(ctx context.Context, rs *models.RentalRecord) error {
	state, err := json.Marshal(rs.State)
	if err != nil {
		return err
	}
	if rs.ID == uuid.Nil {
		rs.ID = uuid.New()
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO rental_systems (id, owner, state)
		VALUES ($1, $2, $3::jsonb)
		RETURNING created_at, updated_at
	`, rs.ID, string(rs.State.Owner), string(state)).Scan(&rs.CreatedAt, &rs.UpdatedAt)
}

func (r *RentalRepo) GetRental(ctx context.Context, id uuid.UUID) (*models.RentalRecord, error) {
	return scanRental(r.pool.QueryRow(ctx, selectRental, id))
}

// MutateRental is MutateEscrow for rental systems.
func (r *RentalRepo) MutateRental(ctx context.Context, id uuid.UUID, transfer string, fn storage.RentalMutation) (*models.RentalRecord, ledger.Result, error) {
	var (
		rec *models.RentalRecord
		res ledger.Result
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := recordTransfer(ctx, tx, transfer, storage.TransferApplied, id); err != nil {
			return err
		}
		var err error
		rec, err = scanRental(tx.QueryRow(ctx, selectRental+" FOR UPDATE", id))
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
			UPDATE rental_systems SET state = $2::jsonb, updated_at = now()
			WHERE id = $1
			RETURNING updated_at
		`, id, string(state)).Scan(&rec.UpdatedAt); err != nil {
			return err
		}

		if err := insertEvents(ctx, tx, id, models.LedgerKindRental, res.Events); err != nil {
			return err
		}
		return insertPayouts(ctx, tx, models.NewPayouts(id, models.LedgerKindRental, res.Payouts))
	})
	if err != nil {
		return nil, ledger.Result{}, err
	}
	return rec, res, nil
}

func scanRental(row pgx.Row) (*models.RentalRecord, error) {
	var (
		rs    models.RentalRecord
		state string
	)
	if err := row.Scan(&rs.ID, &state, &rs.CreatedAt, &rs.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrLedgerNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(state), &rs.State); err != nil {
		return nil, err
	}
	return &rs, nil
}
