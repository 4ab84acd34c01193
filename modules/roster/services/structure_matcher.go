package services

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/iota-uz/roster/modules/roster/domain/member"
	"github.com/iota-uz/roster/modules/roster/domain/normalize"
	"github.com/iota-uz/roster/modules/roster/domain/structure"
)

type MatchField string

const (
	FieldCommand  MatchField = "command"
	FieldRegional MatchField = "regional"
	FieldDivision MatchField = "division"
	FieldRole     MatchField = "role"
)

const maxSuggestions = 3

type StructureQuery struct {
	Command  string      `json:"command"`
	Regional string      `json:"regional"`
	Division string      `json:"division"`
	Role     string      `json:"role"`
	Rank     member.Rank `json:"rank"`
}

// MatchResult reports every field as matched, failed or skipped (no input
// text and nothing depending on it).
type MatchResult struct {
	CommandID   *uuid.UUID              `json:"command_id,omitempty"`
	RegionalID  *uuid.UUID              `json:"regional_id,omitempty"`
	DivisionID  *uuid.UUID              `json:"division_id,omitempty"`
	RoleID      *uuid.UUID              `json:"role_id,omitempty"`
	Matched     []MatchField            `json:"matched"`
	Failed      []MatchField            `json:"failed"`
	Skipped     []MatchField            `json:"skipped,omitempty"`
	Suggestions map[MatchField][]string `json:"suggestions,omitempty"`
}

func (r *MatchResult) Complete() bool { return len(r.Failed) == 0 }

func (r *MatchResult) matched(f MatchField) {
	r.Matched = append(r.Matched, f)
	recordMatchField(string(f), true)
}

func (r *MatchResult) failed(f MatchField, suggestions []string) {
	r.Failed = append(r.Failed, f)
	recordMatchField(string(f), false)
	if len(suggestions) > 0 {
		if r.Suggestions == nil {
			r.Suggestions = make(map[MatchField][]string)
		}
		r.Suggestions[f] = suggestions
	}
}

type StructureMatcher struct {
	repo structure.Repository
	norm *normalize.Normalizer
}

func NewStructureMatcher(repo structure.Repository, norm *normalize.Normalizer) *StructureMatcher {
	if norm == nil {
		norm = normalize.New(nil)
	}
	return &StructureMatcher{repo: repo, norm: norm}
}

// Match resolves one query with a fresh session.
func (m *StructureMatcher) Match(ctx context.Context, q StructureQuery) (*MatchResult, error) {
	return m.Session().Match(ctx, q)
}

// Session returns a matcher that caches the structure catalog for its
// lifetime. An import run uses one session for all of its rows.
func (m *StructureMatcher) Session() *MatchSession {
	return &MatchSession{
		m:         m,
		regionals: make(map[uuid.UUID][]candidate),
		divisions: make(map[uuid.UUID][]candidate),
	}
}

type candidate struct {
	id   uuid.UUID
	name string
	key  string
	role structure.Role
}

type MatchSession struct {
	m         *StructureMatcher
	commands  []candidate
	roles     []candidate
	loaded    bool
	regionals map[uuid.UUID][]candidate
	divisions map[uuid.UUID][]candidate
}

func (s *MatchSession) load(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	commands, err := s.m.repo.ListCommands(ctx)
	if err != nil {
		return err
	}
	roles, err := s.m.repo.ListRoles(ctx)
	if err != nil {
		return err
	}
	s.commands = make([]candidate, 0, len(commands))
	for _, c := range commands {
		s.commands = append(s.commands, candidate{id: c.ID, name: c.Name, key: s.m.norm.Key(normalize.KindCommand, c.Name)})
	}
	s.roles = make([]candidate, 0, len(roles))
	for _, r := range roles {
		s.roles = append(s.roles, candidate{id: r.ID, name: r.Name, key: s.m.norm.Key(normalize.KindRole, r.Name), role: r})
	}
	s.loaded = true
	return nil
}

func (s *MatchSession) regionalsOf(ctx context.Context, commandID uuid.UUID) ([]candidate, error) {
	if c, ok := s.regionals[commandID]; ok {
		return c, nil
	}
	rows, err := s.m.repo.ListRegionals(ctx, commandID)
	if err != nil {
		return nil, err
	}
	out := make([]candidate, 0, len(rows))
	for _, r := range rows {
		out = append(out, candidate{id: r.ID, name: r.Name, key: s.m.norm.Key(normalize.KindRegional, r.Name)})
	}
	s.regionals[commandID] = out
	return out, nil
}

func (s *MatchSession) divisionsOf(ctx context.Context, regionalID uuid.UUID) ([]candidate, error) {
	if c, ok := s.divisions[regionalID]; ok {
		return c, nil
	}
	rows, err := s.m.repo.ListDivisions(ctx, regionalID)
	if err != nil {
		return nil, err
	}
	out := make([]candidate, 0, len(rows))
	for _, d := range rows {
		out = append(out, candidate{id: d.ID, name: d.Name, key: s.m.norm.Key(normalize.KindDivision, d.Name)})
	}
	s.divisions[regionalID] = out
	return out, nil
}

// Match walks command → regional → division. A stage that cannot run
// because its parent failed is reported failed without being attempted.
// The role is matched independently, restricted to roles admitting the
// rank. Only repository faults produce an error.
func (s *MatchSession) Match(ctx context.Context, q StructureQuery) (*MatchResult, error) {
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	res := &MatchResult{Matched: []MatchField{}, Failed: []MatchField{}}
	norm := s.m.norm

	commandKey := norm.Key(normalize.KindCommand, q.Command)
	regionalKey := norm.Key(normalize.KindRegional, q.Regional)
	divisionKey := norm.Key(normalize.KindDivision, q.Division)

	parentOK := true
	if commandKey == "" {
		if regionalKey == "" && divisionKey == "" {
			res.Skipped = append(res.Skipped, FieldCommand)
		} else {
			res.failed(FieldCommand, nil)
		}
		parentOK = false
	} else if id, ok := containmentMatch(commandKey, s.commands); ok {
		res.CommandID = &id
		res.matched(FieldCommand)
	} else {
		res.failed(FieldCommand, suggest(commandKey, s.commands))
		parentOK = false
	}

	switch {
	case regionalKey == "" && divisionKey == "":
		res.Skipped = append(res.Skipped, FieldRegional)
		parentOK = false
	case !parentOK || regionalKey == "":
		res.failed(FieldRegional, nil)
		parentOK = false
	default:
		regionals, err := s.regionalsOf(ctx, *res.CommandID)
		if err != nil {
			return nil, err
		}
		if id, ok := exactMatch(regionalKey, regionals); ok {
			res.RegionalID = &id
			res.matched(FieldRegional)
		} else {
			res.failed(FieldRegional, suggest(regionalKey, regionals))
			parentOK = false
		}
	}

	switch {
	case divisionKey == "":
		res.Skipped = append(res.Skipped, FieldDivision)
	case !parentOK:
		res.failed(FieldDivision, nil)
	default:
		divisions, err := s.divisionsOf(ctx, *res.RegionalID)
		if err != nil {
			return nil, err
		}
		if id, ok := containmentMatch(divisionKey, divisions); ok {
			res.DivisionID = &id
			res.matched(FieldDivision)
		} else {
			res.failed(FieldDivision, suggest(divisionKey, divisions))
		}
	}

	roleKey := norm.Key(normalize.KindRole, q.Role)
	if roleKey == "" {
		res.Skipped = append(res.Skipped, FieldRole)
	} else {
		eligible := make([]candidate, 0, len(s.roles))
		for _, c := range s.roles {
			if c.role.Admits(q.Rank) {
				eligible = append(eligible, c)
			}
		}
		if id, ok := containmentMatch(roleKey, eligible); ok {
			res.RoleID = &id
			res.matched(FieldRole)
		} else {
			res.failed(FieldRole, suggest(roleKey, eligible))
		}
	}
	return res, nil
}

// exactMatch compares normalized keys for equality only. Regional names
// collide under containment ("VP 1" within "VP 1 NORTE").
func exactMatch(key string, cands []candidate) (uuid.UUID, bool) {
	best := -1
	for i, c := range cands {
		if c.key != key {
			continue
		}
		if best < 0 || c.id.String() < cands[best].id.String() {
			best = i
		}
	}
	if best < 0 {
		return uuid.Nil, false
	}
	return cands[best].id, true
}

// containmentMatch prefers an exact key, then any candidate whose key
// contains or is contained by key on word boundaries. Among containment hits
// the longest key wins; ties go to the lowest id.
func containmentMatch(key string, cands []candidate) (uuid.UUID, bool) {
	if key == "" {
		return uuid.Nil, false
	}
	if id, ok := exactMatch(key, cands); ok {
		return id, true
	}
	best := -1
	for i, c := range cands {
		if !normalize.Contains(c.key, key) && !normalize.Contains(key, c.key) {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		b := cands[best]
		if len(c.key) > len(b.key) || (len(c.key) == len(b.key) && c.id.String() < b.id.String()) {
			best = i
		}
	}
	if best < 0 {
		return uuid.Nil, false
	}
	return cands[best].id, true
}

func suggest(key string, cands []candidate) []string {
	if key == "" || len(cands) == 0 {
		return nil
	}
	keys := make([]string, len(cands))
	for i, c := range cands {
		keys[i] = c.key
	}
	ranks := fuzzy.RankFindNormalizedFold(key, keys)
	if len(ranks) == 0 {
		// Fall back to the reverse direction: the typed text may carry
		// extra words the catalog name lacks.
		for i, k := range keys {
			if fuzzy.MatchNormalizedFold(k, key) {
				ranks = append(ranks, fuzzy.Rank{Source: k, Target: key, Distance: fuzzy.LevenshteinDistance(k, key), OriginalIndex: i})
			}
		}
	}
	sort.Sort(ranks)
	out := make([]string, 0, maxSuggestions)
	seen := make(map[string]struct{})
	for _, r := range ranks {
		name := cands[r.OriginalIndex].name
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}
