// Package structure holds the command → regional → division tree and the
// role catalog that imported rows are matched against.
package structure

import (
	"context"

	"github.com/google/uuid"

	"github.com/iota-uz/roster/modules/roster/domain/member"
)

type Command struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type Regional struct {
	ID        uuid.UUID `json:"id"`
	CommandID uuid.UUID `json:"command_id"`
	Name      string    `json:"name"`
}

type Division struct {
	ID         uuid.UUID `json:"id"`
	RegionalID uuid.UUID `json:"regional_id"`
	Name       string    `json:"name"`
}

// Role is a function a member may hold. MinRank/MaxRank bound the ranks
// eligible for the role; an unknown bound leaves that side open.
type Role struct {
	ID      uuid.UUID   `json:"id"`
	Name    string      `json:"name"`
	MinRank member.Rank `json:"min_rank"`
	MaxRank member.Rank `json:"max_rank"`
}

// Admits reports whether rank falls inside the role's eligibility window.
// Ranks are compared numerically, so MinRank is the most senior rank allowed.
func (r Role) Admits(rank member.Rank) bool {
	if !rank.Known() {
		return false
	}
	if r.MinRank.Known() && rank < r.MinRank {
		return false
	}
	if r.MaxRank.Known() && rank > r.MaxRank {
		return false
	}
	return true
}

type Repository interface {
	ListCommands(ctx context.Context) ([]Command, error)
	ListRegionals(ctx context.Context, commandID uuid.UUID) ([]Regional, error)
	ListDivisions(ctx context.Context, regionalID uuid.UUID) ([]Division, error)
	ListRoles(ctx context.Context) ([]Role, error)
}
