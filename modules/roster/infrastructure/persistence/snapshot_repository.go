package persistence

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/iota-uz/roster/modules/roster/domain/snapshot"
	"github.com/iota-uz/roster/pkg/composables"
)

type SnapshotRepository struct{}

func NewSnapshotRepository() snapshot.Repository {
	return &SnapshotRepository{}
}

const importColumns = `id, COALESCE(request_id, ''), category, scope_key, imported_by, imported_at, rows, summary`

func scanImport(row pgx.Row) (*snapshot.Import, error) {
	var (
		imp           snapshot.Import
		category      string
		rows, summary []byte
	)
	if err := row.Scan(&imp.ID, &imp.RequestID, &category, &imp.ScopeKey, &imp.ImportedBy, &imp.ImportedAt, &rows, &summary); err != nil {
		return nil, err
	}
	imp.Category = snapshot.Category(category)
	imp.ImportedAt = imp.ImportedAt.UTC()
	if err := json.Unmarshal(rows, &imp.Rows); err != nil {
		return nil, errors.Wrap(err, "roster_imports: decode rows")
	}
	if err := json.Unmarshal(summary, &imp.Summary); err != nil {
		return nil, errors.Wrap(err, "roster_imports: decode summary")
	}
	return &imp, nil
}

func (r *SnapshotRepository) GetByRequestID(ctx context.Context, requestID string) (*snapshot.Import, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	imp, err := scanImport(tx.QueryRow(ctx, `SELECT `+importColumns+` FROM roster_imports WHERE request_id = $1`, requestID))
	if err != nil {
		return nil, notFound(err, snapshot.ErrNotFound, "roster_imports: get by request id")
	}
	return imp, nil
}

func (r *SnapshotRepository) Latest(ctx context.Context, category snapshot.Category, scopeKey string) (*snapshot.Import, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	imp, err := scanImport(tx.QueryRow(ctx, `
		SELECT `+importColumns+`
		FROM roster_imports
		WHERE category = $1 AND scope_key = $2
		ORDER BY imported_at DESC, id DESC
		LIMIT 1
	`, string(category), scopeKey))
	if err != nil {
		return nil, notFound(err, snapshot.ErrNotFound, "roster_imports: latest")
	}
	return imp, nil
}

func (r *SnapshotRepository) Create(ctx context.Context, imp *snapshot.Import) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	rows, err := marshalJSON(imp.Rows, "roster_imports: encode rows")
	if err != nil {
		return err
	}
	summary, err := marshalJSON(imp.Summary, "roster_imports: encode summary")
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO roster_imports (id, request_id, category, scope_key, imported_by, imported_at, rows, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, imp.ID, pgText(imp.RequestID, imp.RequestID != ""), string(imp.Category), imp.ScopeKey, imp.ImportedBy, imp.ImportedAt, rows, summary)
	if err != nil {
		return errors.Wrap(err, "roster_imports: insert")
	}
	return nil
}
