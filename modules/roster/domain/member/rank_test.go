package member

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestParseRank(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    Rank
		wantErr bool
	}{
		{in: "I", want: 1},
		{in: " iv ", want: 4},
		{in: "V", want: 5},
		{in: "IX", want: 9},
		{in: "XIV", want: 14},
		{in: "Grau III", want: 3},
		{in: "7", want: 7},
		{in: "", want: RankUnknown},
		{in: "IIII", wantErr: true},
		{in: "VX", wantErr: true},
		{in: "ABC", wantErr: true},
		{in: "0", wantErr: true},
		{in: "-2", wantErr: true},
	}

	for _, tc := range cases {
		got, err := ParseRank(tc.in)
		if tc.wantErr {
			require.ErrorIs(t, err, ErrInvalidRank, "input %q", tc.in)
			require.Equal(t, RankUnknown, got)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		require.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestRankString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "III", Rank(3).String())
	require.Equal(t, "XIX", Rank(19).String())
	require.Equal(t, "", RankUnknown.String())
	for r := Rank(1); r <= maxRank; r++ {
		parsed, err := ParseRank(r.String())
		require.NoError(t, err)
		require.Equal(t, r, parsed)
	}
}

func TestRankSenior(t *testing.T) {
	t.Parallel()

	require.True(t, Rank(2).Senior(5))
	require.False(t, Rank(5).Senior(2))
	require.True(t, Rank(5).Senior(RankUnknown))
	require.False(t, RankUnknown.Senior(1))
}

func TestMemberDeactivateAndClone(t *testing.T) {
	t.Parallel()

	div := uuid.New()
	want := div
	m := Member{RegistryID: 10, Active: true, OnLeave: true, DivisionID: &div}
	snapshot := m.Clone()

	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	m.Deactivate(ReasonExpelled, at)
	*m.DivisionID = uuid.Nil

	require.False(t, m.Active)
	require.False(t, m.OnLeave)
	require.Equal(t, ReasonExpelled, m.DeactivationReason)
	require.Equal(t, at, *m.DeactivatedAt)

	require.True(t, snapshot.Active)
	require.Equal(t, uuid.Nil, div)
	require.Equal(t, want, *snapshot.DivisionID, "clone must not share pointers")
}
