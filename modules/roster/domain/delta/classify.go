package delta

import (
	"strings"

	"github.com/iota-uz/roster/modules/roster/domain/normalize"
)

type actionKey struct {
	change Change
	action ActionCode
}

// Explicit decisions. A pair missing from the table classifies as
// Unclassified; ACKNOWLEDGE defers to the observation heuristics.
var actionTable = map[actionKey]MovementType{
	{ActiveDisappeared, ActionTransfer}:      TransferOut,
	{ActiveDisappeared, ActionExpel}:         DepartureExpelled,
	{ActiveDisappeared, ActionLeave}:         LeaveStart,
	{ActiveDisappeared, ActionVoluntaryExit}: DepartureVoluntary,
	{ActiveDisappeared, ActionPromote}:       TransferOut,

	{ActiveAppeared, ActionTransfer}: TransferIn,
	{ActiveAppeared, ActionReturn}:   LeaveEnd,
	{ActiveAppeared, ActionNewEntry}: NewEntrant,
	{ActiveAppeared, ActionPromote}:  TransferIn,

	{LeaveAppeared, ActionLeave}: LeaveStart,

	{LeaveDisappeared, ActionReturn}:        LeaveEnd,
	{LeaveDisappeared, ActionExpel}:         DepartureExpelled,
	{LeaveDisappeared, ActionVoluntaryExit}: DepartureVoluntary,
	{LeaveDisappeared, ActionTransfer}:      TransferOut,
}

type keywordGroup struct {
	stems    []string
	movement MovementType
}

type keywordPolicy struct {
	groups   []keywordGroup
	fallback MovementType
}

// Groups are evaluated in order; the first group with a matching stem wins.
var keywordPolicies = map[Change]keywordPolicy{
	ActiveDisappeared: {
		groups: []keywordGroup{
			{stems: []string{"TRANSFERID", "TRANSFERENCIA"}, movement: TransferOut},
			{stems: []string{"EXPULS"}, movement: DepartureExpelled},
			{stems: []string{"AFASTAD", "LICENC"}, movement: LeaveStart},
		},
		fallback: DepartureVoluntary,
	},
	ActiveAppeared: {
		groups: []keywordGroup{
			{stems: []string{"TRANSFERID", "TRANSFERENCIA"}, movement: TransferIn},
			{stems: []string{"RETORN", "VOLTOU", "REINTEGR"}, movement: LeaveEnd},
		},
		fallback: NewEntrant,
	},
	LeaveAppeared: {
		groups: []keywordGroup{
			{stems: []string{"EXPULS"}, movement: DepartureExpelled},
		},
		fallback: LeaveStart,
	},
	LeaveDisappeared: {
		groups: []keywordGroup{
			{stems: []string{"EXPULS"}, movement: DepartureExpelled},
			{stems: []string{"DESLIG", "PEDIU", "SAIU"}, movement: DepartureVoluntary},
			{stems: []string{"TRANSFERID", "TRANSFERENCIA"}, movement: TransferOut},
		},
		fallback: LeaveEnd,
	},
}

// Classify labels a change. An explicit action code wins; otherwise the
// observation text is scanned for keyword stems. It never fails: anything
// it cannot place is Unclassified.
func Classify(change Change, action ActionCode, observation string) MovementType {
	if action != ActionNone && action != ActionAcknowledge {
		if m, ok := actionTable[actionKey{change: change, action: action}]; ok {
			return m
		}
		return Unclassified
	}
	return classifyObservation(change, observation)
}

func classifyObservation(change Change, observation string) MovementType {
	policy, ok := keywordPolicies[change]
	if !ok {
		return Unclassified
	}
	text := normalize.Person(observation)
	if text == "" {
		return policy.fallback
	}
	for _, g := range policy.groups {
		for _, stem := range g.stems {
			if strings.Contains(text, stem) {
				return g.movement
			}
		}
	}
	return policy.fallback
}
