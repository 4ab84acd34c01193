package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestToRows_PortugueseHeaders(t *testing.T) {
	t.Parallel()

	records := [][]string{
		{"Matrícula", "Nome", "Comando", "Regional", "Divisão", "Função", "Grau", "Observação", "Ação", "Início Afastamento"},
		{"123.456-7", "Ana Souza", "CL", "Norte", "Div 1", "Instrutor", "III", "", "", ""},
		{"", "", "", "", "", "", "", "", "", ""},
		{"abc", "Sem Matricula"},
		{"200", "Bruno Lima", "", "", "", "", "", "licença médica", "leave", "05/03/2025"},
		{"300", "Carla", "", "", "", "", "", "", "", "31/31/2025"},
	}

	rows, errs, err := toRows(records)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Equal(t, int64(1234567), rows[0].RegistryID)
	require.Equal(t, "Ana Souza", rows[0].Name)
	require.Equal(t, "Div 1", rows[0].Division)
	require.Equal(t, "Instrutor", rows[0].Role)
	require.Equal(t, "III", rows[0].Rank)
	require.Equal(t, 2, rows[0].Line)

	require.Equal(t, int64(200), rows[1].RegistryID)
	require.Equal(t, "leave", rows[1].ActionCode)
	require.NotNil(t, rows[1].LeaveStart)
	require.Equal(t, time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC), *rows[1].LeaveStart)

	require.Len(t, errs, 2)
	require.Equal(t, 4, errs[0].Line)
	require.Equal(t, 6, errs[1].Line)
	require.Contains(t, errs[1].Message, "leave_start")
}

func TestToRows_HeaderErrors(t *testing.T) {
	t.Parallel()

	_, _, err := toRows(nil)
	require.Error(t, err)

	_, _, err = toRows([][]string{{"Nome", "Grau"}})
	require.ErrorContains(t, err, "registry_id")

	_, _, err = toRows([][]string{{"matricula", "RE", "nome"}})
	require.ErrorContains(t, err, "twice")
}

func TestParseRegistryID(t *testing.T) {
	t.Parallel()

	id, err := parseRegistryID(" 98 765 ")
	require.NoError(t, err)
	require.Equal(t, int64(98765), id)

	_, err = parseRegistryID("---")
	require.Error(t, err)
	_, err = parseRegistryID("0")
	require.Error(t, err)
}
