package persistence

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iota-uz/roster/modules/roster/domain/delta"
	"github.com/iota-uz/roster/pkg/composables"
)

type DeltaRepository struct{}

func NewDeltaRepository() delta.Repository {
	return &DeltaRepository{}
}

const deltaColumns = `
	d.id, d.import_id, d.registry_id, d.subject_name, d.division_label,
	d.change, d.movement, d.observation, d.action_code, d.status,
	d.resolver_id, d.justification, d.resolution_action, d.resolved_movement, d.resolved_at,
	d.related_delta_id, d.created_at`

func scanDelta(row pgx.Row) (*delta.Delta, error) {
	var (
		d                                       delta.Delta
		change, movement, action, status        string
		resolver, justification, resAction, mov pgtype.Text
		resolvedAt                              pgtype.Timestamptz
		related                                 pgtype.UUID
	)
	err := row.Scan(
		&d.ID, &d.ImportID, &d.RegistryID, &d.SubjectName, &d.DivisionLabel,
		&change, &movement, &d.Observation, &action, &status,
		&resolver, &justification, &resAction, &mov, &resolvedAt,
		&related, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Change = delta.Change(change)
	d.Movement = delta.MovementType(movement)
	d.ActionCode = delta.ActionCode(action)
	d.Status = delta.Status(status)
	d.CreatedAt = d.CreatedAt.UTC()
	d.RelatedDeltaID = asUUIDPtr(related)
	if d.Status == delta.StatusResolved {
		res := delta.Resolution{
			ResolverID:    resolver.String,
			Justification: justification.String,
			ActionCode:    delta.ActionCode(resAction.String),
			Movement:      delta.MovementType(mov.String),
		}
		if resolvedAt.Valid {
			res.ResolvedAt = resolvedAt.Time.UTC()
		}
		d.Resolution = &res
	}
	return &d, nil
}

func collectDeltas(rows pgx.Rows, op string) ([]delta.Delta, error) {
	defer rows.Close()
	out := []delta.Delta{}
	for rows.Next() {
		d, err := scanDelta(rows)
		if err != nil {
			return nil, errors.Wrap(err, op)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, op)
	}
	return out, nil
}

func (r *DeltaRepository) Create(ctx context.Context, d *delta.Delta) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	var (
		resolver, justification, resAction, mov pgtype.Text
		resolvedAt                              pgtype.Timestamptz
	)
	if d.Resolution != nil {
		resolver = pgText(d.Resolution.ResolverID, true)
		justification = pgText(d.Resolution.Justification, true)
		resAction = pgText(string(d.Resolution.ActionCode), true)
		mov = pgText(string(d.Resolution.Movement), true)
		resolvedAt = pgTime(&d.Resolution.ResolvedAt)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO roster_deltas (
			id, import_id, registry_id, subject_name, division_label,
			change, movement, observation, action_code, status,
			resolver_id, justification, resolution_action, resolved_movement, resolved_at,
			related_delta_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		d.ID, d.ImportID, d.RegistryID, d.SubjectName, d.DivisionLabel,
		string(d.Change), string(d.Movement), d.Observation, string(d.ActionCode), string(d.Status),
		resolver, justification, resAction, mov, resolvedAt,
		pgUUID(d.RelatedDeltaID), d.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "roster_deltas: insert")
	}
	return nil
}

func (r *DeltaRepository) get(ctx context.Context, id uuid.UUID, suffix string) (*delta.Delta, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	d, err := scanDelta(tx.QueryRow(ctx, `SELECT `+deltaColumns+` FROM roster_deltas d WHERE d.id = $1`+suffix, id))
	if err != nil {
		return nil, notFound(err, delta.ErrNotFound, "roster_deltas: get")
	}
	return d, nil
}

func (r *DeltaRepository) Get(ctx context.Context, id uuid.UUID) (*delta.Delta, error) {
	return r.get(ctx, id, "")
}

func (r *DeltaRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*delta.Delta, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *DeltaRepository) MarkResolved(ctx context.Context, id uuid.UUID, res delta.Resolution, related *uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE roster_deltas SET
			status = 'RESOLVED',
			resolver_id = $2,
			justification = $3,
			resolution_action = $4,
			resolved_movement = $5,
			resolved_at = $6,
			related_delta_id = COALESCE($7, related_delta_id)
		WHERE id = $1 AND status = 'PENDING'
	`, id, res.ResolverID, res.Justification, string(res.ActionCode), string(res.Movement), res.ResolvedAt, pgUUID(related))
	if err != nil {
		return errors.Wrap(err, "roster_deltas: mark resolved")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roster_deltas WHERE id = $1)`, id).Scan(&exists); err != nil {
		return errors.Wrap(err, "roster_deltas: mark resolved")
	}
	if !exists {
		return delta.ErrNotFound
	}
	return delta.ErrAlreadyResolved
}

func (r *DeltaRepository) ListPendingFor(ctx context.Context, registryIDs []int64) ([]delta.Delta, error) {
	if len(registryIDs) == 0 {
		return nil, nil
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
		SELECT `+deltaColumns+`
		FROM roster_deltas d
		WHERE d.status = 'PENDING' AND d.registry_id = ANY($1)
		ORDER BY d.created_at, d.id
		FOR UPDATE
	`, registryIDs)
	if err != nil {
		return nil, errors.Wrap(err, "roster_deltas: list pending for")
	}
	return collectDeltas(rows, "roster_deltas: list pending for")
}

func (r *DeltaRepository) List(ctx context.Context, params delta.FindParams) ([]delta.Delta, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if params.Status != "" {
		where = append(where, "d.status = "+arg(string(params.Status)))
	}
	if params.RegistryID > 0 {
		where = append(where, "d.registry_id = "+arg(params.RegistryID))
	}
	if params.ImportID != nil {
		where = append(where, "d.import_id = "+arg(*params.ImportID))
	}
	if params.RegionalID != nil {
		where = append(where, "m.regional_id = "+arg(*params.RegionalID))
	}
	if params.DivisionID != nil {
		where = append(where, "m.division_id = "+arg(*params.DivisionID))
	}
	if params.CreatedFrom != nil {
		where = append(where, "d.created_at >= "+arg(*params.CreatedFrom))
	}
	if params.CreatedTo != nil {
		where = append(where, "d.created_at < "+arg(*params.CreatedTo))
	}

	sql := `SELECT ` + deltaColumns + ` FROM roster_deltas d LEFT JOIN roster_members m ON m.registry_id = d.registry_id`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY d.created_at DESC, d.id"
	if params.Limit > 0 {
		sql += " LIMIT " + arg(params.Limit) + " OFFSET " + arg(params.Offset)
	}

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "roster_deltas: list")
	}
	return collectDeltas(rows, "roster_deltas: list")
}

func (r *DeltaRepository) CountPendingBetween(ctx context.Context, from, to time.Time) (int, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	err = tx.QueryRow(ctx, `
		SELECT count(*) FROM roster_deltas
		WHERE status = 'PENDING' AND created_at >= $1 AND created_at < $2
	`, from, to).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "roster_deltas: count pending")
	}
	return n, nil
}

func (r *DeltaRepository) ListPendingIDsBetween(ctx context.Context, from, to time.Time) ([]uuid.UUID, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
		SELECT id FROM roster_deltas
		WHERE status = 'PENDING' AND created_at >= $1 AND created_at < $2
		ORDER BY created_at, id
		FOR UPDATE
	`, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "roster_deltas: pending ids")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, errors.Wrap(err, "roster_deltas: pending ids")
	}
	return ids, nil
}

func (r *DeltaRepository) CreatePreview(ctx context.Context, p *delta.BulkPreview) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO roster_bulk_previews (id, from_at, to_at, count, requested_by, created_at, consumed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.From, p.To, p.Count, p.RequestedBy, p.CreatedAt, pgTime(p.ConsumedAt))
	if err != nil {
		return errors.Wrap(err, "roster_bulk_previews: insert")
	}
	return nil
}

func (r *DeltaRepository) GetPreviewForUpdate(ctx context.Context, id uuid.UUID) (*delta.BulkPreview, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	var (
		p        delta.BulkPreview
		consumed pgtype.Timestamptz
	)
	err = tx.QueryRow(ctx, `
		SELECT id, from_at, to_at, count, requested_by, created_at, consumed_at
		FROM roster_bulk_previews WHERE id = $1
		FOR UPDATE
	`, id).Scan(&p.ID, &p.From, &p.To, &p.Count, &p.RequestedBy, &p.CreatedAt, &consumed)
	if err != nil {
		return nil, notFound(err, delta.ErrPreviewNotFound, "roster_bulk_previews: get")
	}
	p.From, p.To, p.CreatedAt = p.From.UTC(), p.To.UTC(), p.CreatedAt.UTC()
	p.ConsumedAt = asTimePtr(consumed)
	return &p, nil
}

func (r *DeltaRepository) ConsumePreview(ctx context.Context, id uuid.UUID, at time.Time) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `UPDATE roster_bulk_previews SET consumed_at = $2 WHERE id = $1 AND consumed_at IS NULL`, id, at)
	if err != nil {
		return errors.Wrap(err, "roster_bulk_previews: consume")
	}
	if tag.RowsAffected() == 0 {
		return delta.ErrPreviewConsumed
	}
	return nil
}
