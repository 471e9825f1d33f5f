package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/custody-ledger/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) Log(ctx context.Context, entry models.AuditLog) error {
	var meta []byte
	if entry.Meta != nil {
		b, err := json.Marshal(entry.Meta)
		if err != nil {
			return fmt.Errorf("encode audit meta: %w", err)
		}
		meta = b
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_log (actor, actor_type, action, entity_type, entity_id, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.Actor, entry.ActorType, entry.Action, entry.EntityType, entry.EntityID, meta)
	return err
}

func (r *AuditRepo) ByEntity(ctx context.Context, entityID uuid.UUID, limit int) ([]models.AuditLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, actor, actor_type, action, entity_type, entity_id, meta, created_at
		FROM audit_log WHERE entity_id = $1
		ORDER BY created_at DESC, id LIMIT $2
	`, entityID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.AuditLog, error) {
		var (
			l    models.AuditLog
			meta []byte
		)
		if err := row.Scan(&l.ID, &l.Actor, &l.ActorType, &l.Action, &l.EntityType, &l.EntityID, &meta, &l.CreatedAt); err != nil {
			return l, err
		}
		if len(meta) > 0 {
			l.Meta = json.RawMessage(meta)
		}
		return l, nil
	})
}
