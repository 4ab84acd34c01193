package persistence

import (
	"context"
	"embed"
	"io/fs"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed schema/migrations/*.sql
var migrationsFS embed.FS

// MigrationStatus is one row of `roster-data migrate status`.
type MigrationStatus struct {
	Version int64  `json:"version"`
	Path    string `json:"path"`
	Applied bool   `json:"applied"`
}

func newProvider(pool *pgxpool.Pool) (*goose.Provider, func() error, error) {
	sub, err := fs.Sub(migrationsFS, "schema/migrations")
	if err != nil {
		return nil, nil, errors.Wrap(err, "migrations: sub fs")
	}
	db := stdlib.OpenDBFromPool(pool)
	p, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		_ = db.Close()
		return nil, nil, errors.Wrap(err, "migrations: provider")
	}
	closeFn := func() error {
		pErr := p.Close()
		if err := db.Close(); err != nil {
			return err
		}
		return pErr
	}
	return p, closeFn, nil
}

// Migrate applies every pending migration and returns the versions applied.
func Migrate(ctx context.Context, pool *pgxpool.Pool) ([]int64, error) {
	p, closeFn, err := newProvider(pool)
	if err != nil {
		return nil, err
	}
	defer func() { _ = closeFn() }()

	results, err := p.Up(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "migrations: up")
	}
	applied := make([]int64, 0, len(results))
	for _, r := range results {
		if r.Source != nil {
			applied = append(applied, r.Source.Version)
		}
	}
	return applied, nil
}

func Status(ctx context.Context, pool *pgxpool.Pool) ([]MigrationStatus, error) {
	p, closeFn, err := newProvider(pool)
	if err != nil {
		return nil, err
	}
	defer func() { _ = closeFn() }()

	rows, err := p.Status(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "migrations: status")
	}
	out := make([]MigrationStatus, 0, len(rows))
	for _, r := range rows {
		s := MigrationStatus{Applied: r.State == goose.StateApplied}
		if r.Source != nil {
			s.Version = r.Source.Version
			s.Path = r.Source.Path
		}
		out = append(out, s)
	}
	return out, nil
}
