package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/roster/modules/roster/domain/scope"
	"github.com/iota-uz/roster/pkg/composables"
	"github.com/iota-uz/roster/pkg/configuration"
)

func TestScopeService_Resolve(t *testing.T) {
	t.Parallel()

	svc := NewScopeService(scope.DefaultLadder())
	home := uuid.New()
	div := uuid.New()

	cases := []struct {
		name string
		id   composables.Identity
		want scope.Scope
	}{
		{
			name: "super admin bound to home regional",
			id:   composables.Identity{UserID: "u", Rank: 1, SuperAdmin: true, HomeRegionalID: home.String()},
			want: scope.Scope{Level: scope.LevelRegional, RegionalID: &home, Mandatory: true},
		},
		{
			name: "senior rank sees everything",
			id:   composables.Identity{UserID: "u", Rank: 4},
			want: scope.Scope{Level: scope.LevelOrganization},
		},
		{
			name: "command role",
			id:   composables.Identity{UserID: "u", Rank: 9, Roles: []string{"Command"}},
			want: scope.Scope{Level: scope.LevelOrganization},
		},
		{
			name: "rank five is regional",
			id:   composables.Identity{UserID: "u", Rank: 5, HomeRegionalID: home.String()},
			want: scope.Scope{Level: scope.LevelRegional, RegionalID: &home, Mandatory: true},
		},
		{
			name: "junior rank is division",
			id:   composables.Identity{UserID: "u", Rank: 8, HomeRegionalID: home.String(), HomeDivisionID: div.String()},
			want: scope.Scope{Level: scope.LevelDivision, RegionalID: &home, DivisionID: &div, Mandatory: true},
		},
		{
			name: "unknown rank and bad ids",
			id:   composables.Identity{UserID: "u", Rank: 0, HomeRegionalID: "not-a-uuid"},
			want: scope.Scope{Level: scope.LevelDivision, Mandatory: true},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := composables.WithIdentity(context.Background(), tc.id)
			require.Equal(t, tc.want, svc.Resolve(ctx))
		})
	}

	anon := svc.Resolve(context.Background())
	require.True(t, anon.Mandatory)
	require.False(t, anon.Permits(&home, &div))
}

func TestLadderFromPolicy(t *testing.T) {
	t.Parallel()

	l, err := LadderFromPolicy(nil)
	require.NoError(t, err)
	require.Equal(t, scope.DefaultLadder(), l)

	p := &configuration.Policy{}
	p.Scope.Tiers = []configuration.PolicyTier{{MaxRank: 3, Level: "organization"}, {MaxRank: 6, Level: "regional"}}
	p.Scope.CommandRoles = []string{"comando"}
	l, err = LadderFromPolicy(p)
	require.NoError(t, err)
	require.Len(t, l.Tiers, 2)
	require.Equal(t, []string{"comando"}, l.CommandRoles)
	require.Equal(t, scope.DefaultLadder().SuperAdminRoles, l.SuperAdminRoles)

	p.Scope.Tiers = []configuration.PolicyTier{{MaxRank: 3, Level: "galaxy"}}
	_, err = LadderFromPolicy(p)
	require.Error(t, err)
}
