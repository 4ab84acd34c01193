package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	t.Parallel()

	require.Equal(t, exitOK, exitCode(nil))
	require.Equal(t, 1, exitCode(errors.New("boom")))
	require.Nil(t, withCode(exitDB, nil))

	wrapped := fmt.Errorf("outer: %w", withCode(exitSafetyNet, errors.New("inner")))
	require.Equal(t, exitSafetyNet, exitCode(wrapped))
	require.Equal(t, "outer: inner", wrapped.Error())
}

func TestParseTimeField(t *testing.T) {
	t.Parallel()

	for _, v := range []string{"2025-03-05", "05/03/2025", "2025-03-05T00:00:00Z"} {
		got, err := parseTimeField(v)
		require.NoError(t, err, v)
		require.Equal(t, 2025, got.Year())
		require.Equal(t, 5, got.Day(), v)
	}
	_, err := parseTimeField("")
	require.Error(t, err)
}

func TestReadStructureFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "structure.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
commands:
  - name: Comando Leste
    regionals:
      - name: Regional Norte
        divisions: [Div 1, Div 2]
roles:
  - name: Instrutor
    min_rank: I
    max_rank: V
  - name: Auxiliar
`), 0o600))

	f, roles, err := readStructureFile(good)
	require.NoError(t, err)
	require.Len(t, f.Commands, 1)
	require.Equal(t, []string{"Div 1", "Div 2"}, f.Commands[0].Regionals[0].Divisions)
	require.Len(t, roles, 2)
	require.EqualValues(t, 1, roles[0].MinRank)
	require.EqualValues(t, 5, roles[0].MaxRank)
	require.False(t, roles[1].MinRank.Known())

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("roles:\n  - name: X\n    min_rank: V\n    max_rank: II\n"), 0o600))
	_, _, err = readStructureFile(bad)
	require.Equal(t, exitValidation, exitCode(err))

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("divisions: []\n"), 0o600))
	_, _, err = readStructureFile(unknown)
	require.Equal(t, exitValidation, exitCode(err))
}
