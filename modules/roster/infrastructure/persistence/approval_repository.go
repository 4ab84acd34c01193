package persistence

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iota-uz/roster/modules/roster/domain/approval"
	"github.com/iota-uz/roster/pkg/composables"
)

// ApprovalRepository stores requests and their steps. Steps are written
// alongside the request on Create and Update.
type ApprovalRepository struct{}

func NewApprovalRepository() approval.Repository {
	return &ApprovalRepository{}
}

const requestColumns = `r.id, r.registry_id, r.kind, r.placement_ref, r.status, r.proposed_by, r.cancel_reason, r.created_at, r.updated_at, r.closed_at`

func scanRequest(row pgx.Row) (*approval.Request, error) {
	var (
		req          approval.Request
		kind, status string
		closedAt     pgtype.Timestamptz
	)
	err := row.Scan(&req.ID, &req.RegistryID, &kind, &req.PlacementRef, &status, &req.ProposedBy, &req.CancelReason, &req.CreatedAt, &req.UpdatedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	req.Kind = approval.Kind(kind)
	req.Status = approval.Status(status)
	req.CreatedAt, req.UpdatedAt = req.CreatedAt.UTC(), req.UpdatedAt.UTC()
	req.ClosedAt = asTimePtr(closedAt)
	return &req, nil
}

func (r *ApprovalRepository) loadSteps(ctx context.Context, tx composables.Tx, req *approval.Request) error {
	rows, err := tx.Query(ctx, `
		SELECT id, level, approver_id, approver_role, status, decided_at, reason
		FROM roster_approval_steps WHERE request_id = $1
		ORDER BY level
	`, req.ID)
	if err != nil {
		return errors.Wrap(err, "roster_approval_steps: list")
	}
	steps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (approval.Step, error) {
		var (
			s         approval.Step
			status    string
			decidedAt pgtype.Timestamptz
		)
		err := row.Scan(&s.ID, &s.Level, &s.ApproverID, &s.ApproverRole, &status, &decidedAt, &s.Reason)
		s.Status = approval.StepStatus(status)
		s.DecidedAt = asTimePtr(decidedAt)
		return s, err
	})
	if err != nil {
		return errors.Wrap(err, "roster_approval_steps: scan")
	}
	req.Steps = steps
	return nil
}

func (r *ApprovalRepository) getWhere(ctx context.Context, where string, arg any, op string) (*approval.Request, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	req, err := scanRequest(tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM roster_approval_requests r WHERE `+where, arg))
	if err != nil {
		return nil, notFound(err, approval.ErrNotFound, op)
	}
	if err := r.loadSteps(ctx, tx, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (r *ApprovalRepository) Get(ctx context.Context, id uuid.UUID) (*approval.Request, error) {
	return r.getWhere(ctx, "r.id = $1", id, "roster_approval_requests: get")
}

func (r *ApprovalRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*approval.Request, error) {
	return r.getWhere(ctx, "r.id = $1 FOR UPDATE", id, "roster_approval_requests: get for update")
}

func (r *ApprovalRepository) ActiveForMember(ctx context.Context, registryID int64) (*approval.Request, error) {
	return r.getWhere(ctx, "r.registry_id = $1 AND r.status = 'in_progress'", registryID, "roster_approval_requests: active for member")
}

func (r *ApprovalRepository) Create(ctx context.Context, req *approval.Request) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO roster_approval_requests (id, registry_id, kind, placement_ref, status, proposed_by, cancel_reason, created_at, updated_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, req.ID, req.RegistryID, string(req.Kind), req.PlacementRef, string(req.Status), req.ProposedBy, req.CancelReason, req.CreatedAt, req.UpdatedAt, pgTime(req.ClosedAt))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.ConstraintName == "roster_approval_requests_one_open_per_member" {
		return approval.ErrActiveRequestExists
	}
	if err != nil {
		return errors.Wrap(err, "roster_approval_requests: insert")
	}

	batch := &pgx.Batch{}
	for _, s := range req.Steps {
		batch.Queue(`
			INSERT INTO roster_approval_steps (id, request_id, level, approver_id, approver_role, status, decided_at, reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, s.ID, req.ID, s.Level, s.ApproverID, s.ApproverRole, string(s.Status), pgTime(s.DecidedAt), s.Reason)
	}
	return r.sendBatch(ctx, tx, batch, "roster_approval_steps: insert")
}

func (r *ApprovalRepository) Update(ctx context.Context, req *approval.Request) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE roster_approval_requests
		SET status = $2, cancel_reason = $3, updated_at = $4, closed_at = $5
		WHERE id = $1
	`, req.ID, string(req.Status), req.CancelReason, req.UpdatedAt, pgTime(req.ClosedAt))
	if err != nil {
		return errors.Wrap(err, "roster_approval_requests: update")
	}
	if tag.RowsAffected() == 0 {
		return approval.ErrNotFound
	}

	batch := &pgx.Batch{}
	for _, s := range req.Steps {
		batch.Queue(`
			UPDATE roster_approval_steps SET status = $2, decided_at = $3, reason = $4
			WHERE id = $1
		`, s.ID, string(s.Status), pgTime(s.DecidedAt), s.Reason)
	}
	return r.sendBatch(ctx, tx, batch, "roster_approval_steps: update")
}

// sendBatch falls back to sequential Exec for handles without SendBatch.
func (r *ApprovalRepository) sendBatch(ctx context.Context, tx composables.Tx, batch *pgx.Batch, op string) error {
	if sender, ok := tx.(interface {
		SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
	}); ok {
		if err := sender.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrap(err, op)
		}
		return nil
	}
	for _, q := range batch.QueuedQueries {
		if _, err := tx.Exec(ctx, q.SQL, q.Arguments...); err != nil {
			return errors.Wrap(err, op)
		}
	}
	return nil
}

func (r *ApprovalRepository) PendingFor(ctx context.Context, approverID string) ([]approval.Request, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
		SELECT DISTINCT `+requestColumns+`
		FROM roster_approval_requests r
		JOIN roster_approval_steps s ON s.request_id = r.id
		WHERE r.status = 'in_progress' AND s.status = 'pending' AND s.approver_id = $1
		ORDER BY r.created_at
	`, approverID)
	if err != nil {
		return nil, errors.Wrap(err, "roster_approval_requests: pending for")
	}
	var out []approval.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "roster_approval_requests: scan")
		}
		out = append(out, *req)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "roster_approval_requests: pending for")
	}
	for i := range out {
		if err := r.loadSteps(ctx, tx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}
