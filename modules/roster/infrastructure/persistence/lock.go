package persistence

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/iota-uz/roster/pkg/composables"
)

// AdvisoryLocker serializes imports with a transaction-scoped advisory lock.
// The lock is released when the surrounding transaction ends, so the release
// func is a no-op.
type AdvisoryLocker struct{}

func NewAdvisoryLocker() *AdvisoryLocker {
	return &AdvisoryLocker{}
}

func (l *AdvisoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	if !composables.InTxContext(ctx) {
		return nil, errors.New("advisory lock: no transaction in context")
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return nil, errors.Wrap(err, "advisory lock")
	}
	return func() {}, nil
}
