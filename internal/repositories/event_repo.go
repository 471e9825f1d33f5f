package repositories

import (
	"context"
	"encoding/json"

	"github.com/custody-ledger/backend/internal/ledger"
	"github.com/custody-ledger/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type EventRepo struct {
	pool *pgxpool.Pool
}

func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

func insertEvents(ctx context.Context, tx pgx.Tx, ledgerID uuid.UUID, kind string, evs []ledger.Event) error {
	for _, ev := range evs {
		args, err := json.Marshal(ev.Args)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO ledger_events (ledger_id, ledger_kind, seq, name, args)
			VALUES ($1, $2, $3, $4, $5::jsonb)
		`, ledgerID, kind, int64(ev.Seq), ev.Name, string(args)); err != nil {
			return err
		}
	}
	return nil
}

// ListEvents returns events after afterSeq in emission order.
func (r *EventRepo) ListEvents(ctx context.Context, ledgerID uuid.UUID, afterSeq uint64, limit int) ([]models.LedgerEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, ledger_id, ledger_kind, seq, name, args::text, created_at
		FROM ledger_events WHERE ledger_id = $1 AND seq > $2
		ORDER BY seq ASC LIMIT $3
	`, ledgerID, int64(afterSeq), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.LedgerEvent
	for rows.Next() {
		var (
			e    models.LedgerEvent
			seq  int64
			args string
		)
		if err := rows.Scan(&e.ID, &e.LedgerID, &e.LedgerKind, &seq, &e.Name, &args, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Seq = uint64(seq)
		if err := json.Unmarshal([]byte(args), &e.Args); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
