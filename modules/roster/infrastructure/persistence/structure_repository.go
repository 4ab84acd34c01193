package persistence

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iota-uz/roster/modules/roster/domain/member"
	"github.com/iota-uz/roster/modules/roster/domain/structure"
	"github.com/iota-uz/roster/pkg/composables"
)

// StructureRepository reads the command tree and role catalog. The Upsert
// methods back `roster-data structure load`.
type StructureRepository struct{}

func NewStructureRepository() *StructureRepository {
	return &StructureRepository{}
}

func (r *StructureRepository) ListCommands(ctx context.Context) ([]structure.Command, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `SELECT id, name FROM roster_commands ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "roster_commands: list")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (structure.Command, error) {
		var c structure.Command
		err := row.Scan(&c.ID, &c.Name)
		return c, err
	})
	return out, errors.Wrap(err, "roster_commands: scan")
}

func (r *StructureRepository) ListRegionals(ctx context.Context, commandID uuid.UUID) ([]structure.Regional, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `SELECT id, command_id, name FROM roster_regionals WHERE command_id = $1 ORDER BY name`, commandID)
	if err != nil {
		return nil, errors.Wrap(err, "roster_regionals: list")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (structure.Regional, error) {
		var g structure.Regional
		err := row.Scan(&g.ID, &g.CommandID, &g.Name)
		return g, err
	})
	return out, errors.Wrap(err, "roster_regionals: scan")
}

func (r *StructureRepository) ListDivisions(ctx context.Context, regionalID uuid.UUID) ([]structure.Division, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `SELECT id, regional_id, name FROM roster_divisions WHERE regional_id = $1 ORDER BY name`, regionalID)
	if err != nil {
		return nil, errors.Wrap(err, "roster_divisions: list")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (structure.Division, error) {
		var d structure.Division
		err := row.Scan(&d.ID, &d.RegionalID, &d.Name)
		return d, err
	})
	return out, errors.Wrap(err, "roster_divisions: scan")
}

func (r *StructureRepository) ListRoles(ctx context.Context) ([]structure.Role, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `SELECT id, name, min_rank, max_rank FROM roster_roles ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "roster_roles: list")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (structure.Role, error) {
		var (
			role   structure.Role
			lo, hi int
		)
		err := row.Scan(&role.ID, &role.Name, &lo, &hi)
		role.MinRank = member.Rank(lo)
		role.MaxRank = member.Rank(hi)
		return role, err
	})
	return out, errors.Wrap(err, "roster_roles: scan")
}

// UpsertCommand returns the id of the command named name, creating it when
// missing.
func (r *StructureRepository) UpsertCommand(ctx context.Context, name string) (uuid.UUID, error) {
	return r.upsert(ctx, "roster_commands", `
		INSERT INTO roster_commands (id, name) VALUES ($1, $2)
		ON CONFLICT ON CONSTRAINT roster_commands_name_key DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, uuid.New(), name)
}

func (r *StructureRepository) UpsertRegional(ctx context.Context, commandID uuid.UUID, name string) (uuid.UUID, error) {
	return r.upsert(ctx, "roster_regionals", `
		INSERT INTO roster_regionals (id, command_id, name) VALUES ($1, $2, $3)
		ON CONFLICT ON CONSTRAINT roster_regionals_command_name_key DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, uuid.New(), commandID, name)
}

func (r *StructureRepository) UpsertDivision(ctx context.Context, regionalID uuid.UUID, name string) (uuid.UUID, error) {
	return r.upsert(ctx, "roster_divisions", `
		INSERT INTO roster_divisions (id, regional_id, name) VALUES ($1, $2, $3)
		ON CONFLICT ON CONSTRAINT roster_divisions_regional_name_key DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, uuid.New(), regionalID, name)
}

func (r *StructureRepository) UpsertRole(ctx context.Context, role structure.Role) (uuid.UUID, error) {
	return r.upsert(ctx, "roster_roles", `
		INSERT INTO roster_roles (id, name, min_rank, max_rank) VALUES ($1, $2, $3, $4)
		ON CONFLICT ON CONSTRAINT roster_roles_name_key DO UPDATE
			SET min_rank = EXCLUDED.min_rank, max_rank = EXCLUDED.max_rank
		RETURNING id
	`, uuid.New(), role.Name, int(role.MinRank), int(role.MaxRank))
}

func (r *StructureRepository) upsert(ctx context.Context, table, sql string, args ...any) (uuid.UUID, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	if err := tx.QueryRow(ctx, sql, args...).Scan(&id); err != nil {
		return uuid.Nil, errors.Wrapf(err, "%s: upsert", table)
	}
	return id, nil
}
