package services

import (
	"context"
)

// Transactor runs fn as one unit of work. Repositories pick the transaction
// up from the context handed to fn.
type Transactor interface {
	InTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

func inTx[T any](ctx context.Context, tx Transactor, fn func(txCtx context.Context) (T, error)) (T, error) {
	var out T
	err := tx.InTx(ctx, func(txCtx context.Context) error {
		var innerErr error
		out, innerErr = fn(txCtx)
		return innerErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
