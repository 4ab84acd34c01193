package persistence

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iota-uz/roster/modules/roster/domain/member"
	"github.com/iota-uz/roster/pkg/composables"
)

type MemberRepository struct{}

func NewMemberRepository() member.Repository {
	return &MemberRepository{}
}

const memberColumns = `
	registry_id, name, rank,
	role_id, role_label, command_id, command_label,
	regional_id, regional_label, division_id, division_label,
	active, on_leave,
	placement_request_id, placement_kind, placement_ref, placement_status,
	import_scope, deactivated_at, deactivation_reason,
	created_at, updated_at`

func scanMember(row pgx.Row) (*member.Member, error) {
	var (
		m                                         member.Member
		roleID, commandID, regionalID, divisionID pgtype.UUID
		placementID                               pgtype.UUID
		placementStatus                           string
		deactivatedAt                             pgtype.Timestamptz
	)
	err := row.Scan(
		&m.RegistryID, &m.Name, &m.Rank,
		&roleID, &m.RoleLabel, &commandID, &m.CommandLabel,
		&regionalID, &m.RegionalLabel, &divisionID, &m.DivisionLabel,
		&m.Active, &m.OnLeave,
		&placementID, &m.Placement.Kind, &m.Placement.Ref, &placementStatus,
		&m.ImportScope, &deactivatedAt, &m.DeactivationReason,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.RoleID = asUUIDPtr(roleID)
	m.CommandID = asUUIDPtr(commandID)
	m.RegionalID = asUUIDPtr(regionalID)
	m.DivisionID = asUUIDPtr(divisionID)
	m.Placement.RequestID = asUUIDPtr(placementID)
	m.Placement.Status = member.PlacementStatus(placementStatus)
	m.DeactivatedAt = asTimePtr(deactivatedAt)
	return &m, nil
}

func (r *MemberRepository) get(ctx context.Context, registryID int64, suffix string) (*member.Member, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	m, err := scanMember(tx.QueryRow(ctx, `SELECT `+memberColumns+` FROM roster_members WHERE registry_id = $1`+suffix, registryID))
	if err != nil {
		return nil, notFound(err, member.ErrNotFound, "roster_members: get")
	}
	return m, nil
}

func (r *MemberRepository) Get(ctx context.Context, registryID int64) (*member.Member, error) {
	return r.get(ctx, registryID, "")
}

func (r *MemberRepository) GetForUpdate(ctx context.Context, registryID int64) (*member.Member, error) {
	return r.get(ctx, registryID, " FOR UPDATE")
}

func (r *MemberRepository) List(ctx context.Context, params member.FindParams) ([]member.Member, error) {
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
	if params.RegionalID != nil {
		where = append(where, "regional_id = "+arg(*params.RegionalID))
	}
	if params.DivisionID != nil {
		where = append(where, "division_id = "+arg(*params.DivisionID))
	}
	if params.Active != nil {
		where = append(where, "active = "+arg(*params.Active))
	}
	if params.OnLeave != nil {
		where = append(where, "on_leave = "+arg(*params.OnLeave))
	}
	if q := strings.TrimSpace(params.Query); q != "" {
		if id, err := strconv.ParseInt(q, 10, 64); err == nil {
			where = append(where, "registry_id = "+arg(id))
		} else {
			where = append(where, "name ILIKE "+arg("%"+q+"%"))
		}
	}

	sql := `SELECT ` + memberColumns + ` FROM roster_members`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY registry_id LIMIT " + arg(params.Limit) + " OFFSET " + arg(params.Offset)

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "roster_members: list")
	}
	defer rows.Close()

	out := []member.Member{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, errors.Wrap(err, "roster_members: scan")
		}
		out = append(out, *m)
	}
	return out, errors.Wrap(rows.Err(), "roster_members: rows")
}

func (r *MemberRepository) PresentIDs(ctx context.Context, scope string, onLeave bool) ([]int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	flag := "active"
	if onLeave {
		flag = "on_leave"
	}
	rows, err := tx.Query(ctx, `SELECT registry_id FROM roster_members WHERE import_scope = $1 AND `+flag+` ORDER BY registry_id`, scope)
	if err != nil {
		return nil, errors.Wrap(err, "roster_members: present ids")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, errors.Wrap(err, "roster_members: present ids")
	}
	return ids, nil
}

func memberArgs(m *member.Member) []any {
	return []any{
		m.RegistryID, m.Name, int(m.Rank),
		pgUUID(m.RoleID), m.RoleLabel, pgUUID(m.CommandID), m.CommandLabel,
		pgUUID(m.RegionalID), m.RegionalLabel, pgUUID(m.DivisionID), m.DivisionLabel,
		m.Active, m.OnLeave,
		pgUUID(m.Placement.RequestID), m.Placement.Kind, m.Placement.Ref, string(m.Placement.Status),
		m.ImportScope, pgTime(m.DeactivatedAt), m.DeactivationReason,
		m.CreatedAt, m.UpdatedAt,
	}
}

func (r *MemberRepository) Create(ctx context.Context, m *member.Member) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO roster_members (`+memberColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`, memberArgs(m)...)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "roster_members_pkey" {
		return member.ErrAlreadyExists
	}
	if err != nil {
		return errors.Wrap(err, "roster_members: insert")
	}
	return nil
}

func (r *MemberRepository) Update(ctx context.Context, m *member.Member) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE roster_members SET
			name = $2, rank = $3,
			role_id = $4, role_label = $5, command_id = $6, command_label = $7,
			regional_id = $8, regional_label = $9, division_id = $10, division_label = $11,
			active = $12, on_leave = $13,
			placement_request_id = $14, placement_kind = $15, placement_ref = $16, placement_status = $17,
			import_scope = $18, deactivated_at = $19, deactivation_reason = $20,
			updated_at = $22
		WHERE registry_id = $1
	`, memberArgs(m)...)
	if err != nil {
		return errors.Wrap(err, "roster_members: update")
	}
	if tag.RowsAffected() == 0 {
		return member.ErrNotFound
	}
	return nil
}
