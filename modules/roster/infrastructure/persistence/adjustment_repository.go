package persistence

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iota-uz/roster/modules/roster/domain/adjustment"
	"github.com/iota-uz/roster/modules/roster/domain/member"
	"github.com/iota-uz/roster/pkg/composables"
)

type AdjustmentRepository struct{}

func NewAdjustmentRepository() adjustment.Queue {
	return &AdjustmentRepository{}
}

const adjustmentColumns = `id, registry_id, delta_id, requested_by, reason, from_rank, to_rank, role_id, status, created_at, completed_at, completed_by`

func scanAdjustment(row pgx.Row) (*adjustment.Item, error) {
	var (
		it               adjustment.Item
		deltaID, roleID  pgtype.UUID
		fromRank, toRank int
		status           string
		completedAt      pgtype.Timestamptz
	)
	err := row.Scan(&it.ID, &it.RegistryID, &deltaID, &it.RequestedBy, &it.Reason, &fromRank, &toRank, &roleID, &status, &it.CreatedAt, &completedAt, &it.CompletedBy)
	if err != nil {
		return nil, err
	}
	it.DeltaID = asUUIDPtr(deltaID)
	it.RoleID = asUUIDPtr(roleID)
	it.FromRank, it.ToRank = member.Rank(fromRank), member.Rank(toRank)
	it.Status = adjustment.Status(status)
	it.CreatedAt = it.CreatedAt.UTC()
	it.CompletedAt = asTimePtr(completedAt)
	return &it, nil
}

func (r *AdjustmentRepository) Enqueue(ctx context.Context, it *adjustment.Item) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO roster_permission_adjustments (`+adjustmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, it.ID, it.RegistryID, pgUUID(it.DeltaID), it.RequestedBy, it.Reason, int(it.FromRank), int(it.ToRank), pgUUID(it.RoleID), string(it.Status), it.CreatedAt, pgTime(it.CompletedAt), it.CompletedBy)
	if err != nil {
		return errors.Wrap(err, "roster_permission_adjustments: insert")
	}
	return nil
}

func (r *AdjustmentRepository) ListPending(ctx context.Context, limit, offset int) ([]adjustment.Item, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
		SELECT `+adjustmentColumns+`
		FROM roster_permission_adjustments
		WHERE status = 'pending'
		ORDER BY created_at, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "roster_permission_adjustments: list pending")
	}
	defer rows.Close()
	out := []adjustment.Item{}
	for rows.Next() {
		it, err := scanAdjustment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "roster_permission_adjustments: scan")
		}
		out = append(out, *it)
	}
	return out, errors.Wrap(rows.Err(), "roster_permission_adjustments: rows")
}

func (r *AdjustmentRepository) Complete(ctx context.Context, id uuid.UUID, by string, at time.Time) (*adjustment.Item, error) {
	var out *adjustment.Item
	err := composables.InTx(ctx, func(txCtx context.Context) error {
		tx, err := composables.UseTx(txCtx)
		if err != nil {
			return err
		}
		it, err := scanAdjustment(tx.QueryRow(txCtx, `SELECT `+adjustmentColumns+` FROM roster_permission_adjustments WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return notFound(err, adjustment.ErrNotFound, "roster_permission_adjustments: get")
		}
		if err := it.Complete(by, at); err != nil {
			return err
		}
		_, err = tx.Exec(txCtx, `
			UPDATE roster_permission_adjustments
			SET status = $2, completed_at = $3, completed_by = $4
			WHERE id = $1
		`, it.ID, string(it.Status), pgTime(it.CompletedAt), it.CompletedBy)
		if err != nil {
			return errors.Wrap(err, "roster_permission_adjustments: complete")
		}
		out = it
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
