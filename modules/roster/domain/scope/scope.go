// Package scope resolves which slice of the roster a caller may see or act
// on.
package scope

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/iota-uz/roster/modules/roster/domain/member"
)

type Level string

const (
	LevelOrganization Level = "organization"
	LevelRegional     Level = "regional"
	LevelDivision     Level = "division"
)

// Scope is a visibility restriction. Mandatory scopes cannot be widened by
// the caller through query filters.
type Scope struct {
	Level      Level      `json:"level"`
	RegionalID *uuid.UUID `json:"regional_id,omitempty"`
	DivisionID *uuid.UUID `json:"division_id,omitempty"`
	Mandatory  bool       `json:"mandatory"`
}

// Permits reports whether a record placed at (regionalID, divisionID) is
// visible. Records with no placement are visible only at organization level.
func (s Scope) Permits(regionalID, divisionID *uuid.UUID) bool {
	switch s.Level {
	case LevelOrganization:
		return true
	case LevelRegional:
		return s.RegionalID != nil && regionalID != nil && *s.RegionalID == *regionalID
	case LevelDivision:
		return s.DivisionID != nil && divisionID != nil && *s.DivisionID == *divisionID
	default:
		return false
	}
}

// Empty reports whether the scope cannot permit any placed record, as with
// a mandatory scope whose home unit is unknown.
func (s Scope) Empty() bool {
	switch s.Level {
	case LevelOrganization:
		return false
	case LevelRegional:
		return s.RegionalID == nil
	case LevelDivision:
		return s.DivisionID == nil
	default:
		return true
	}
}

// Filter narrows requested regional/division filters to what the scope
// allows. A mandatory scope overrides whatever the caller asked for.
func (s Scope) Filter(regionalID, divisionID *uuid.UUID) (*uuid.UUID, *uuid.UUID) {
	switch s.Level {
	case LevelRegional:
		return s.RegionalID, divisionID
	case LevelDivision:
		return s.RegionalID, s.DivisionID
	default:
		return regionalID, divisionID
	}
}

// Tier maps every rank up to MaxRank (inclusive) onto a level. Lower ranks
// carry more authority.
type Tier struct {
	MaxRank member.Rank `yaml:"max_rank" json:"max_rank"`
	Level   Level       `yaml:"level" json:"level"`
}

// Ladder is the rank policy. Tiers are evaluated in ascending MaxRank order;
// ranks beyond every tier, and unknown ranks, get Fallback.
type Ladder struct {
	Tiers           []Tier   `yaml:"tiers" json:"tiers"`
	Fallback        Level    `yaml:"fallback" json:"fallback"`
	CommandRoles    []string `yaml:"command_roles" json:"command_roles"`
	SuperAdminRoles []string `yaml:"super_admin_roles" json:"super_admin_roles"`
}

func DefaultLadder() Ladder {
	return Ladder{
		Tiers: []Tier{
			{MaxRank: 4, Level: LevelOrganization},
			{MaxRank: 5, Level: LevelRegional},
		},
		Fallback:        LevelDivision,
		CommandRoles:    []string{"command"},
		SuperAdminRoles: []string{"super_admin"},
	}
}

type Subject struct {
	Rank           member.Rank
	Roles          []string
	HomeRegionalID *uuid.UUID
	HomeDivisionID *uuid.UUID
	SuperAdmin     bool
}

// Resolve applies, in order: super-admin, command role, rank tiers,
// fallback. The super-admin rule must precede the rank ladder: admin
// visibility is bound to the home regional whatever rank the account holds.
func Resolve(l Ladder, s Subject) Scope {
	if s.SuperAdmin || hasRole(s.Roles, l.SuperAdminRoles) {
		return Scope{Level: LevelRegional, RegionalID: s.HomeRegionalID, Mandatory: true}
	}
	if hasRole(s.Roles, l.CommandRoles) {
		return Scope{Level: LevelOrganization}
	}

	level := l.fallback()
	if s.Rank.Known() {
		tiers := append([]Tier(nil), l.Tiers...)
		sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].MaxRank < tiers[j].MaxRank })
		for _, t := range tiers {
			if s.Rank <= t.MaxRank {
				level = t.Level
				break
			}
		}
	}
	return bind(level, s)
}

func (l Ladder) fallback() Level {
	if l.Fallback == "" {
		return LevelDivision
	}
	return l.Fallback
}

func bind(level Level, s Subject) Scope {
	switch level {
	case LevelOrganization:
		return Scope{Level: LevelOrganization}
	case LevelRegional:
		return Scope{Level: LevelRegional, RegionalID: s.HomeRegionalID, Mandatory: true}
	default:
		return Scope{Level: LevelDivision, RegionalID: s.HomeRegionalID, DivisionID: s.HomeDivisionID, Mandatory: true}
	}
}

func hasRole(roles, wanted []string) bool {
	for _, r := range roles {
		r = strings.ToLower(strings.TrimSpace(r))
		for _, w := range wanted {
			if r != "" && r == strings.ToLower(strings.TrimSpace(w)) {
				return true
			}
		}
	}
	return false
}

// Validate checks a ladder loaded from configuration.
func (l Ladder) Validate() error {
	for _, t := range l.Tiers {
		if !t.MaxRank.Known() {
			return fmt.Errorf("scope tier: max_rank %d out of range", int(t.MaxRank))
		}
		switch t.Level {
		case LevelOrganization, LevelRegional, LevelDivision:
		default:
			return fmt.Errorf("scope tier: unknown level %q", t.Level)
		}
	}
	switch l.fallback() {
	case LevelOrganization, LevelRegional, LevelDivision:
		return nil
	default:
		return fmt.Errorf("scope ladder: unknown fallback level %q", l.Fallback)
	}
}
