package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iota-uz/roster/pkg/configuration"
)

func TestSetup_Disabled(t *testing.T) {
	t.Parallel()

	shutdown, err := Setup(context.Background(), configuration.OpenTelemetryOptions{Enabled: false}, nil)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
