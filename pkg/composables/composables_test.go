package composables

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestInTx_NoPool(t *testing.T) {
	t.Parallel()

	called := false
	err := InTx(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrNoPool)
	require.False(t, called)

	_, err = UseTx(context.Background())
	require.ErrorIs(t, err, ErrNoPool)
}

func TestIdentity(t *testing.T) {
	t.Parallel()

	_, ok := UseIdentity(context.Background())
	require.False(t, ok)

	ctx := WithIdentity(context.Background(), Identity{UserID: "u1", Roles: []string{"Command"}})
	id, ok := UseIdentity(ctx)
	require.True(t, ok)
	require.Equal(t, "u1", id.UserID)
	require.True(t, id.HasRole("command"))
	require.False(t, id.HasRole("super_admin"))
}

func TestUseLogger(t *testing.T) {
	t.Parallel()

	require.NotNil(t, UseLogger(context.Background()))

	entry := logrus.New().WithField("request-id", "abc")
	ctx := WithLogger(context.Background(), entry)
	require.Same(t, entry, UseLogger(ctx))
}
