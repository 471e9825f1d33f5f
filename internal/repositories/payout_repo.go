package repositories

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/custody-ledger/backend/internal/ledger"
	"github.com/custody-ledger/backend/internal/models"
	"github.com/custody-ledger/backend/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PayoutRepo struct {
	pool *pgxpool.Pool
}

func NewPayoutRepo(pool *pgxpool.Pool) *PayoutRepo {
	return &PayoutRepo{pool: pool}
}

const payoutColumns = `id, ledger_id, ledger_kind, recipient, amount::text, reason, status, attempts, last_error, tx_ref, created_at, updated_at`

func insertPayouts(ctx context.Context, tx pgx.Tx, payouts []models.Payout) error {
	for i := range payouts {
		p := &payouts[i]
		var ledgerID *uuid.UUID
		if p.LedgerID != uuid.Nil {
			ledgerID = &p.LedgerID
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO payouts (id, ledger_id, ledger_kind, recipient, amount, reason, status)
			VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)
		`, p.ID, ledgerID, p.LedgerKind, string(p.Recipient), p.Amount.String(), p.Reason, p.Status); err != nil {
			return err
		}
	}
	return nil
}

// Enqueue stores payouts that do not originate from a ledger mutation,
// such as refunds of rejected chain transfers.
func (r *PayoutRepo) Enqueue(ctx context.Context, transfer string, payouts []models.Payout) error {
	if len(payouts) == 0 && transfer == "" {
		return nil
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := recordTransfer(ctx, tx, transfer, storage.TransferRefunded, uuid.Nil); err != nil {
			return err
		}
		return insertPayouts(ctx, tx, payouts)
	})
}

// ClaimBatch moves up to limit claimable payouts to sending.
// SKIP LOCKED lets several workers claim disjoint batches.
func (r *PayoutRepo) ClaimBatch(ctx context.Context, limit int) ([]models.Payout, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE payouts SET status = $2, attempts = attempts + 1, updated_at = now()
		WHERE id IN (
			SELECT id FROM payouts
			WHERE status = ANY($3)
			ORDER BY created_at, id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+payoutColumns,
		limit, models.PayoutStatusSending, models.PayoutStatusesInto(models.PayoutStatusSending))
	if err != nil {
		return nil, err
	}
	return collectPayouts(rows)
}

// ClaimStale takes over payouts whose sender stopped reporting, for example
// because the worker died between send and MarkSent. Renewing updated_at is
// the lease.
func (r *PayoutRepo) ClaimStale(ctx context.Context, lease time.Duration, limit int) ([]models.Payout, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE payouts SET updated_at = now()
		WHERE id IN (
			SELECT id FROM payouts
			WHERE status = $3 AND updated_at < now() - make_interval(secs => $1)
			ORDER BY updated_at, id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+payoutColumns,
		lease.Seconds(), limit, models.PayoutStatusSending)
	if err != nil {
		return nil, err
	}
	return collectPayouts(rows)
}

func (r *PayoutRepo) MarkSent(ctx context.Context, id uuid.UUID, txRef string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payouts SET status = $3, tx_ref = $2, last_error = NULL, updated_at = now()
		WHERE id = $1 AND status = ANY($4)
	`, id, txRef, models.PayoutStatusSent, models.PayoutStatusesInto(models.PayoutStatusSent))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payout %s cannot become sent", id)
	}
	return nil
}

// MarkFailed records a send error. Payouts that used up maxAttempts are
// abandoned instead. The resulting status is returned.
func (r *PayoutRepo) MarkFailed(ctx context.Context, id uuid.UUID, msg string, maxAttempts int) (string, error) {
	var status string
	// failed and abandoned are entered from the same statuses.
	err := r.pool.QueryRow(ctx, `
		UPDATE payouts
		SET status = CASE WHEN attempts >= $3 THEN $4 ELSE $5 END,
		    last_error = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($6)
		RETURNING status
	`, id, msg, maxAttempts, models.PayoutStatusAbandoned, models.PayoutStatusFailed,
		models.PayoutStatusesInto(models.PayoutStatusFailed)).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("payout %s cannot fail", id)
	}
	return status, err
}

func (r *PayoutRepo) ListByLedger(ctx context.Context, ledgerID uuid.UUID) ([]models.Payout, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+payoutColumns+`
		FROM payouts WHERE ledger_id = $1
		ORDER BY created_at, id
	`, ledgerID)
	if err != nil {
		return nil, err
	}
	return collectPayouts(rows)
}

func collectPayouts(rows pgx.Rows) ([]models.Payout, error) {
	defer rows.Close()
	var out []models.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPayout(row pgx.Row) (*models.Payout, error) {
	var (
		p         models.Payout
		ledgerID  *uuid.UUID
		recipient string
		amount    string
	)
	if err := row.Scan(&p.ID, &ledgerID, &p.LedgerKind, &recipient, &amount, &p.Reason,
		&p.Status, &p.Attempts, &p.LastError, &p.TxRef, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if ledgerID != nil {
		p.LedgerID = *ledgerID
	}
	p.Recipient = ledger.Address(recipient)
	v, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return nil, fmt.Errorf("payout %s: bad amount %q", p.ID, amount)
	}
	p.Amount = v
	return &p, nil
}
