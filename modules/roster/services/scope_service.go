package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/iota-uz/roster/modules/roster/domain/member"
	"github.com/iota-uz/roster/modules/roster/domain/scope"
	"github.com/iota-uz/roster/pkg/composables"
	"github.com/iota-uz/roster/pkg/configuration"
)

type ScopeService struct {
	ladder scope.Ladder
}

func NewScopeService(ladder scope.Ladder) *ScopeService {
	return &ScopeService{ladder: ladder}
}

// LadderFromPolicy builds the rank ladder from the policy file. An empty
// policy yields DefaultLadder.
func LadderFromPolicy(p *configuration.Policy) (scope.Ladder, error) {
	l := scope.DefaultLadder()
	if p == nil {
		return l, nil
	}
	if len(p.Scope.Tiers) > 0 {
		l.Tiers = make([]scope.Tier, 0, len(p.Scope.Tiers))
		for _, t := range p.Scope.Tiers {
			l.Tiers = append(l.Tiers, scope.Tier{MaxRank: member.Rank(t.MaxRank), Level: scope.Level(t.Level)})
		}
	}
	if p.Scope.Fallback != "" {
		l.Fallback = scope.Level(p.Scope.Fallback)
	}
	if len(p.Scope.CommandRoles) > 0 {
		l.CommandRoles = p.Scope.CommandRoles
	}
	if len(p.Scope.SuperAdminRoles) > 0 {
		l.SuperAdminRoles = p.Scope.SuperAdminRoles
	}
	if err := l.Validate(); err != nil {
		return scope.Ladder{}, err
	}
	return l, nil
}

func (s *ScopeService) Ladder() scope.Ladder { return s.ladder }

// Resolve computes the scope of the caller stored in ctx. A context without
// an identity gets the narrowest scope with no home unit, which permits
// nothing.
func (s *ScopeService) Resolve(ctx context.Context) scope.Scope {
	id, ok := composables.UseIdentity(ctx)
	if !ok {
		return scope.Scope{Level: scope.LevelDivision, Mandatory: true}
	}
	return scope.Resolve(s.ladder, SubjectFor(id))
}

// SubjectFor converts a caller identity into a scope subject. Malformed
// home unit ids are treated as absent.
func SubjectFor(id composables.Identity) scope.Subject {
	sub := scope.Subject{
		Rank:       member.Rank(id.Rank),
		Roles:      id.Roles,
		SuperAdmin: id.SuperAdmin,
	}
	if !sub.Rank.Known() {
		sub.Rank = member.RankUnknown
	}
	if u, err := uuid.Parse(id.HomeRegionalID); err == nil {
		sub.HomeRegionalID = &u
	}
	if u, err := uuid.Parse(id.HomeDivisionID); err == nil {
		sub.HomeDivisionID = &u
	}
	return sub
}
