package delta

import (
	"time"
)

// DefaultRelationWindow bounds how far apart two complementary deltas may
// be created and still collapse into one event.
const DefaultRelationWindow = 24 * time.Hour

// Relation is a pending delta that complements a candidate, together with
// the single logical event the pair resolves to.
type Relation struct {
	Partner  Delta
	Action   ActionCode
	Movement MovementType
}

type changePair struct{ a, b Change }

type relationOutcome struct {
	action   ActionCode
	movement MovementType
}

var changeRelations = map[changePair]relationOutcome{
	// Disappeared and reappeared on the same roster: a glitch in the source.
	{ActiveDisappeared, ActiveAppeared}: {action: ActionFalsePositive, movement: Unclassified},
	{LeaveDisappeared, ActiveAppeared}:  {action: ActionReturn, movement: LeaveEnd},
	{ActiveDisappeared, LeaveAppeared}:  {action: ActionLeave, movement: LeaveStart},
}

func relate(x, y Delta) (relationOutcome, bool) {
	if out, ok := changeRelations[changePair{x.Change, y.Change}]; ok {
		return out, true
	}
	if out, ok := changeRelations[changePair{y.Change, x.Change}]; ok {
		return out, true
	}
	if (x.Movement == LeaveStart && y.Movement == LeaveEnd) || (x.Movement == LeaveEnd && y.Movement == LeaveStart) {
		return relationOutcome{action: ActionFalsePositive, movement: Unclassified}, true
	}
	return relationOutcome{}, false
}

// InferRelation searches pending for a delta of the same subject that
// complements candidate and was created within window of it. The closest
// match in time wins. It is a pure function of its inputs and returns nil
// when nothing qualifies.
func InferRelation(candidate Delta, pending []Delta, window time.Duration) *Relation {
	if window <= 0 || !candidate.Pending() {
		return nil
	}
	var (
		best    *Relation
		bestGap time.Duration
	)
	for _, p := range pending {
		if p.ID == candidate.ID || p.RegistryID != candidate.RegistryID || !p.Pending() {
			continue
		}
		gap := candidate.CreatedAt.Sub(p.CreatedAt)
		if gap < 0 {
			gap = -gap
		}
		if gap > window {
			continue
		}
		out, ok := relate(candidate, p)
		if !ok {
			continue
		}
		if best != nil && !closer(p, gap, best.Partner, bestGap) {
			continue
		}
		best = &Relation{Partner: p, Action: out.action, Movement: out.movement}
		bestGap = gap
	}
	return best
}

func closer(p Delta, gap time.Duration, cur Delta, curGap time.Duration) bool {
	if gap != curGap {
		return gap < curGap
	}
	if !p.CreatedAt.Equal(cur.CreatedAt) {
		return p.CreatedAt.After(cur.CreatedAt)
	}
	return p.ID.String() < cur.ID.String()
}

// RelationResolution builds the resolution applied to both sides of a
// relation.
func RelationResolution(rel *Relation, at time.Time) Resolution {
	return Resolution{
		ResolverID:    SystemResolver,
		Justification: "complementary change for the same member within the relation window",
		ActionCode:    rel.Action,
		Movement:      rel.Movement,
		ResolvedAt:    at,
	}
}
