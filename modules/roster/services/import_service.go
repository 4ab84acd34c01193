package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/iota-uz/roster/modules/roster/domain/delta"
	"github.com/iota-uz/roster/modules/roster/domain/member"
	"github.com/iota-uz/roster/modules/roster/domain/normalize"
	"github.com/iota-uz/roster/modules/roster/domain/snapshot"
)

var tracer = otel.Tracer("github.com/iota-uz/roster/modules/roster/services")

// ErrImportLocked is returned by lockers that give up waiting.
var ErrImportLocked = errors.New("another import is running for this scope")

var errDryRunRollback = errors.New("dry run rollback")

// ImportLocker serializes imports of the same category and scope. Lock is
// called inside the import transaction; release runs after it has ended.
type ImportLocker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// Row issue codes.
const (
	IssueMissingRegistryID = "missing_registry_id"
	IssueDuplicateID       = "duplicate_registry_id"
	IssueMissingName       = "missing_name"
	IssueInvalidRank       = "invalid_rank"
	IssueInvalidAction     = "invalid_action_code"
	IssueStructureUnmatch  = "structure_unmatched"
	IssueNameDrift         = "name_drift"
)

type RowIssue struct {
	Line        int                     `json:"line,omitempty"`
	RegistryID  int64                   `json:"registry_id,omitempty"`
	Code        string                  `json:"code"`
	Message     string                  `json:"message"`
	Fields      []MatchField            `json:"fields,omitempty"`
	Suggestions map[MatchField][]string `json:"suggestions,omitempty"`
}

type ImportInput struct {
	// RequestID makes the import replayable; a retried request returns the
	// stored result and writes nothing.
	RequestID  string
	Category   snapshot.Category
	ScopeKey   string
	ImportedBy string
	Rows       []snapshot.Row
	DryRun     bool
}

type ImportResult struct {
	ImportID  uuid.UUID         `json:"import_id"`
	RequestID string            `json:"request_id,omitempty"`
	Category  snapshot.Category `json:"category"`
	ScopeKey  string            `json:"scope_key"`
	Summary   snapshot.Summary  `json:"summary"`
	Deltas    []delta.Delta     `json:"deltas"`
	Issues    []RowIssue        `json:"issues"`
	Replayed  bool              `json:"replayed"`
	DryRun    bool              `json:"dry_run"`
}

type ImportOptions struct {
	RelationWindow time.Duration
	MaxRows        int
	DefaultScope   string
}

type ImportDeps struct {
	Tx        Transactor
	Locker    ImportLocker
	Members   member.Repository
	Snapshots snapshot.Repository
	Deltas    delta.Repository
	Matcher   *StructureMatcher
	Notifier  Notifier
}

type ImportService struct {
	deps ImportDeps
	opts ImportOptions
	now  func() time.Time
}

func NewImportService(deps ImportDeps, opts ImportOptions) *ImportService {
	if opts.RelationWindow <= 0 {
		opts.RelationWindow = delta.DefaultRelationWindow
	}
	if opts.DefaultScope == "" {
		opts.DefaultScope = member.DefaultScope
	}
	return &ImportService{deps: deps, opts: opts, now: time.Now}
}

// importLockKey is shared by every category: an active and a leave import
// of the same scope relate each other's deltas and must not interleave.
func importLockKey(scope string) string {
	return "roster-import:" + scope
}

// Import reconciles one snapshot against the previous one of the same
// category and scope. Matching, diffing, classification and persistence
// commit together or not at all.
func (s *ImportService) Import(ctx context.Context, in ImportInput) (*ImportResult, error) {
	ctx, span := tracer.Start(ctx, "roster.import", trace.WithAttributes(
		attribute.String("roster.category", string(in.Category)),
		attribute.Int("roster.rows", len(in.Rows)),
		attribute.Bool("roster.dry_run", in.DryRun),
	))
	defer span.End()

	started := s.now()
	if err := s.validate(&in); err != nil {
		recordImport(string(in.Category), "invalid", 0)
		return nil, err
	}

	var release func()
	defer func() {
		if release != nil {
			release()
		}
	}()

	var result *ImportResult
	_, err := inTx(ctx, s.deps.Tx, func(txCtx context.Context) (struct{}, error) {
		r, err := s.deps.Locker.Lock(txCtx, importLockKey(in.ScopeKey))
		if err != nil {
			return struct{}{}, err
		}
		release = r

		res, err := s.run(txCtx, in, started)
		if err != nil {
			return struct{}{}, err
		}
		result = res
		if in.DryRun && !res.Replayed {
			return struct{}{}, errDryRunRollback
		}
		return struct{}{}, nil
	})
	elapsed := s.now().Sub(started).Seconds()
	switch {
	case errors.Is(err, errDryRunRollback):
		recordImport(string(in.Category), "dry_run", elapsed)
		return result, nil
	case errors.Is(err, ErrImportLocked):
		recordImport(string(in.Category), "locked", elapsed)
		return nil, conflictError("ROSTER_IMPORT_LOCKED", "an import for this scope is already running", nil, err)
	case err != nil:
		recordImport(string(in.Category), "error", elapsed)
		span.RecordError(err)
		logWithFields(ctx, logrus.ErrorLevel, "roster.import.failed", logrus.Fields{
			"category": in.Category,
			"scope":    in.ScopeKey,
			"error":    err.Error(),
		})
		return nil, asServiceError(err)
	}

	if result.Replayed {
		recordImport(string(in.Category), "replayed", elapsed)
		return result, nil
	}
	recordImport(string(in.Category), "ok", elapsed)
	for _, d := range result.Deltas {
		recordDeltaDetected(string(d.Change), string(d.Movement))
	}
	logWithFields(ctx, logrus.InfoLevel, "roster.import.completed", logrus.Fields{
		"import_id":      result.ImportID,
		"category":       result.Category,
		"scope":          result.ScopeKey,
		"entered":        len(result.Summary.Entered),
		"left":           len(result.Summary.Left),
		"deltas":         result.Summary.Deltas,
		"auto_resolved":  result.Summary.AutoResolved,
		"row_issues":     result.Summary.RowIssues,
		"match_failures": result.Summary.MatchFailures,
	})
	notify(ctx, s.deps.Notifier, &ImportCompletedEvent{
		ImportID:   result.ImportID.String(),
		Category:   result.Category,
		ScopeKey:   result.ScopeKey,
		ImportedBy: in.ImportedBy,
		Summary:    result.Summary,
	})
	return result, nil
}

func (s *ImportService) validate(in *ImportInput) error {
	if _, err := snapshot.ParseCategory(string(in.Category)); err != nil {
		return validationError("ROSTER_INVALID_CATEGORY", err.Error())
	}
	in.ImportedBy = strings.TrimSpace(in.ImportedBy)
	if in.ImportedBy == "" {
		return validationError("ROSTER_INVALID_IMPORT", "imported_by is required")
	}
	// An empty snapshot would mark every member as departed.
	if len(in.Rows) == 0 {
		return validationError("ROSTER_EMPTY_SNAPSHOT", "snapshot has no rows")
	}
	if s.opts.MaxRows > 0 && len(in.Rows) > s.opts.MaxRows {
		return validationError("ROSTER_SNAPSHOT_TOO_LARGE", fmt.Sprintf("snapshot has %d rows, limit is %d", len(in.Rows), s.opts.MaxRows))
	}
	in.ScopeKey = strings.TrimSpace(in.ScopeKey)
	if in.ScopeKey == "" {
		in.ScopeKey = s.opts.DefaultScope
	}
	in.RequestID = strings.TrimSpace(in.RequestID)
	return nil
}

type parsedRow struct {
	snapshot.Row
	rank   member.Rank
	action delta.ActionCode
}

func (s *ImportService) run(ctx context.Context, in ImportInput, now time.Time) (*ImportResult, error) {
	now = now.UTC()
	if in.RequestID != "" {
		prev, err := s.deps.Snapshots.GetByRequestID(ctx, in.RequestID)
		switch {
		case err == nil:
			return s.replay(ctx, prev)
		case !errors.Is(err, snapshot.ErrNotFound):
			return nil, err
		}
	}

	rows, issues := parseRows(in.Rows)
	next := snapshot.NewKeySet()
	for _, r := range rows {
		next.Add(r.RegistryID)
	}

	prevKeys, prevRows, err := s.baseline(ctx, in.Category, in.ScopeKey)
	if err != nil {
		return nil, err
	}
	diff := snapshot.Diff(prevKeys, next)

	matchIssues, matchFailures, err := s.syncMembers(ctx, in, rows, diff, now)
	if err != nil {
		return nil, err
	}
	issues = append(issues, matchIssues...)

	byID := make(map[int64]parsedRow, len(rows))
	for _, r := range rows {
		byID[r.RegistryID] = r
	}
	importID := uuid.New()
	created := make([]delta.Delta, 0, len(diff.Entered)+len(diff.Left))
	for _, id := range diff.Left {
		d, err := s.disappearance(ctx, importID, in.Category, id, prevRows, now)
		if err != nil {
			return nil, err
		}
		created = append(created, d)
	}
	for _, id := range diff.Entered {
		r := byID[id]
		change := delta.ChangeFor(in.Category, true)
		created = append(created, delta.Delta{
			ID:            uuid.New(),
			ImportID:      importID,
			RegistryID:    id,
			SubjectName:   r.Name,
			DivisionLabel: r.Division,
			Change:        change,
			Movement:      delta.Classify(change, r.action, r.Observation),
			Observation:   r.Observation,
			ActionCode:    r.action,
			Status:        delta.StatusPending,
			CreatedAt:     now,
		})
	}

	autoResolved, err := s.relate(ctx, created, diff, now)
	if err != nil {
		return nil, err
	}

	stored := make([]snapshot.Row, 0, len(rows))
	for _, r := range rows {
		stored = append(stored, r.Row)
	}
	imp := &snapshot.Import{
		ID:         importID,
		RequestID:  in.RequestID,
		Category:   in.Category,
		ScopeKey:   in.ScopeKey,
		ImportedBy: in.ImportedBy,
		ImportedAt: now,
		Rows:       stored,
		Summary: snapshot.Summary{
			Entered:       diff.Entered,
			Left:          diff.Left,
			Deltas:        len(created),
			AutoResolved:  autoResolved,
			RowIssues:     len(issues),
			MatchFailures: matchFailures,
		},
	}
	if err := s.deps.Snapshots.Create(ctx, imp); err != nil {
		return nil, err
	}
	for i := range created {
		if err := s.deps.Deltas.Create(ctx, &created[i]); err != nil {
			return nil, err
		}
	}

	return &ImportResult{
		ImportID:  imp.ID,
		RequestID: imp.RequestID,
		Category:  imp.Category,
		ScopeKey:  imp.ScopeKey,
		Summary:   imp.Summary,
		Deltas:    created,
		Issues:    issues,
		DryRun:    in.DryRun,
	}, nil
}

func (s *ImportService) replay(ctx context.Context, prev *snapshot.Import) (*ImportResult, error) {
	id := prev.ID
	deltas, err := s.deps.Deltas.List(ctx, delta.FindParams{ImportID: &id})
	if err != nil {
		return nil, err
	}
	return &ImportResult{
		ImportID:  prev.ID,
		RequestID: prev.RequestID,
		Category:  prev.Category,
		ScopeKey:  prev.ScopeKey,
		Summary:   prev.Summary,
		Deltas:    deltas,
		Issues:    []RowIssue{},
		Replayed:  true,
	}, nil
}

// parseRows drops rows without a usable registry id and keeps the first of
// any duplicates. Other problems are reported and the row is kept.
func parseRows(in []snapshot.Row) ([]parsedRow, []RowIssue) {
	out := make([]parsedRow, 0, len(in))
	issues := []RowIssue{}
	seen := make(map[int64]int, len(in))
	for i, r := range in {
		if r.Line == 0 {
			r.Line = i + 1
		}
		r.Name = strings.TrimSpace(r.Name)
		if r.RegistryID <= 0 {
			issues = append(issues, RowIssue{Line: r.Line, Code: IssueMissingRegistryID, Message: "row has no registry id and was skipped"})
			continue
		}
		if first, dup := seen[r.RegistryID]; dup {
			issues = append(issues, RowIssue{Line: r.Line, RegistryID: r.RegistryID, Code: IssueDuplicateID, Message: fmt.Sprintf("registry id already present on line %d; row skipped", first)})
			continue
		}
		seen[r.RegistryID] = r.Line

		p := parsedRow{Row: r}
		if r.Name == "" {
			issues = append(issues, RowIssue{Line: r.Line, RegistryID: r.RegistryID, Code: IssueMissingName, Message: "name is empty"})
		}
		rank, err := member.ParseRank(r.Rank)
		if err != nil {
			issues = append(issues, RowIssue{Line: r.Line, RegistryID: r.RegistryID, Code: IssueInvalidRank, Message: err.Error()})
		}
		p.rank = rank
		action, err := delta.ParseActionCode(r.ActionCode)
		if err != nil {
			issues = append(issues, RowIssue{Line: r.Line, RegistryID: r.RegistryID, Code: IssueInvalidAction, Message: err.Error()})
		}
		p.action = action
		out = append(out, p)
	}
	return out, issues
}

// baseline is the previous import of the same category and scope, or the
// member store when this is the first one.
func (s *ImportService) baseline(ctx context.Context, category snapshot.Category, scope string) (snapshot.KeySet, map[int64]snapshot.Row, error) {
	prev, err := s.deps.Snapshots.Latest(ctx, category, scope)
	if err == nil {
		return prev.Keys(), prev.RowsByID(), nil
	}
	if !errors.Is(err, snapshot.ErrNotFound) {
		return nil, nil, err
	}
	ids, err := s.deps.Members.PresentIDs(ctx, scope, category == snapshot.CategoryLeave)
	if err != nil {
		return nil, nil, err
	}
	return snapshot.NewKeySet(ids...), map[int64]snapshot.Row{}, nil
}

// syncMembers upserts every present row and clears the presence flag of
// every departed one.
func (s *ImportService) syncMembers(ctx context.Context, in ImportInput, rows []parsedRow, diff snapshot.Result, now time.Time) ([]RowIssue, int, error) {
	session := s.deps.Matcher.Session()
	issues := []RowIssue{}
	failures := 0
	leave := in.Category == snapshot.CategoryLeave

	for _, r := range rows {
		m, err := s.deps.Members.GetForUpdate(ctx, r.RegistryID)
		isNew := errors.Is(err, member.ErrNotFound)
		if err != nil && !isNew {
			return nil, 0, err
		}
		if isNew {
			m = &member.Member{RegistryID: r.RegistryID, Name: r.Name, ImportScope: in.ScopeKey, CreatedAt: now}
		}

		if !isNew && r.Name != "" && normalize.Person(m.Name) != normalize.Person(r.Name) {
			issues = append(issues, RowIssue{Line: r.Line, RegistryID: r.RegistryID, Code: IssueNameDrift,
				Message: fmt.Sprintf("stored name %q differs from %q", m.Name, r.Name)})
		}

		if isNew || structureChanged(m, r) {
			res, err := session.Match(ctx, StructureQuery{Command: r.Command, Regional: r.Regional, Division: r.Division, Role: r.Role, Rank: r.rank})
			if err != nil {
				return nil, 0, err
			}
			if !res.Complete() {
				failures++
				issues = append(issues, RowIssue{Line: r.Line, RegistryID: r.RegistryID, Code: IssueStructureUnmatch,
					Message: "some structure fields could not be matched", Fields: res.Failed, Suggestions: res.Suggestions})
			}
			applyMatch(m, r, res)
		}

		if leave {
			m.OnLeave = true
		} else {
			m.Active = true
		}
		if m.DeactivatedAt != nil {
			m.Reactivate()
		}
		m.UpdatedAt = now
		if isNew {
			if leave {
				m.Active = false
			}
			err = s.deps.Members.Create(ctx, m)
		} else {
			err = s.deps.Members.Update(ctx, m)
		}
		if err != nil {
			return nil, 0, err
		}
	}

	for _, id := range diff.Left {
		m, err := s.deps.Members.GetForUpdate(ctx, id)
		if errors.Is(err, member.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		if leave {
			m.OnLeave = false
		} else {
			m.Active = false
		}
		m.UpdatedAt = now
		if err := s.deps.Members.Update(ctx, m); err != nil {
			return nil, 0, err
		}
	}
	return issues, failures, nil
}

func structureChanged(m *member.Member, r parsedRow) bool {
	if r.rank.Known() && r.rank != m.Rank {
		return true
	}
	return labelChanged(normalize.KindCommand, m.CommandLabel, r.Command) ||
		labelChanged(normalize.KindRegional, m.RegionalLabel, r.Regional) ||
		labelChanged(normalize.KindDivision, m.DivisionLabel, r.Division) ||
		labelChanged(normalize.KindRole, m.RoleLabel, r.Role)
}

func labelChanged(kind normalize.Kind, stored, incoming string) bool {
	return normalize.Key(kind, stored) != normalize.Key(kind, incoming)
}

// applyMatch stores the raw labels and every id that resolved. Fields that
// failed keep their previous id.
func applyMatch(m *member.Member, r parsedRow, res *MatchResult) {
	if r.rank.Known() {
		m.Rank = r.rank
	}
	m.CommandLabel = r.Command
	m.RegionalLabel = r.Regional
	m.DivisionLabel = r.Division
	m.RoleLabel = r.Role
	if res.CommandID != nil {
		m.CommandID = res.CommandID
	}
	if res.RegionalID != nil {
		m.RegionalID = res.RegionalID
	}
	if res.DivisionID != nil {
		m.DivisionID = res.DivisionID
	}
	if res.RoleID != nil {
		m.RoleID = res.RoleID
	}
}

func (s *ImportService) disappearance(ctx context.Context, importID uuid.UUID, category snapshot.Category, id int64, prevRows map[int64]snapshot.Row, now time.Time) (delta.Delta, error) {
	change := delta.ChangeFor(category, false)
	d := delta.Delta{
		ID:         uuid.New(),
		ImportID:   importID,
		RegistryID: id,
		Change:     change,
		Movement:   delta.Classify(change, delta.ActionNone, ""),
		Status:     delta.StatusPending,
		CreatedAt:  now,
	}
	if r, ok := prevRows[id]; ok {
		d.SubjectName = r.Name
		d.DivisionLabel = r.Division
		return d, nil
	}
	m, err := s.deps.Members.Get(ctx, id)
	switch {
	case err == nil:
		d.SubjectName = m.Name
		d.DivisionLabel = m.DivisionLabel
	case !errors.Is(err, member.ErrNotFound):
		return delta.Delta{}, err
	}
	return d, nil
}

// relate pairs each new delta with a complementary pending one for the same
// member. Both sides of a pair are resolved by the system; created deltas are
// updated in place.
func (s *ImportService) relate(ctx context.Context, created []delta.Delta, diff snapshot.Result, now time.Time) (int, error) {
	ids := append(append([]int64(nil), diff.Entered...), diff.Left...)
	if len(ids) == 0 {
		return 0, nil
	}
	pending, err := s.deps.Deltas.ListPendingFor(ctx, ids)
	if err != nil {
		return 0, err
	}
	stored := make(map[uuid.UUID]bool, len(pending))
	for _, p := range pending {
		stored[p.ID] = true
	}
	working := append([]delta.Delta(nil), pending...)

	resolved := 0
	for i := range created {
		d := &created[i]
		rel := delta.InferRelation(*d, working, s.opts.RelationWindow)
		if rel == nil {
			working = append(working, *d)
			continue
		}
		res := delta.RelationResolution(rel, now)
		partnerID := rel.Partner.ID
		if stored[partnerID] {
			err := s.deps.Deltas.MarkResolved(ctx, partnerID, res, &d.ID)
			if errors.Is(err, delta.ErrAlreadyResolved) {
				// Resolved by someone else since it was listed.
				markResolvedIn(working, partnerID)
				working = append(working, *d)
				continue
			}
			if err != nil {
				return 0, err
			}
		} else {
			for j := range created[:i] {
				if created[j].ID == partnerID {
					_ = created[j].Resolve(res, &d.ID)
				}
			}
		}
		if err := d.Resolve(res, &partnerID); err != nil {
			return 0, err
		}
		markResolvedIn(working, partnerID)
		recordRelationResolved(string(rel.Action))
		resolved += 2
	}
	return resolved, nil
}

func markResolvedIn(list []delta.Delta, id uuid.UUID) {
	for i := range list {
		if list[i].ID == id {
			list[i].Status = delta.StatusResolved
		}
	}
}
