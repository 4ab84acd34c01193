package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/roster/modules/roster/domain/adjustment"
	"github.com/iota-uz/roster/modules/roster/domain/approval"
	"github.com/iota-uz/roster/modules/roster/domain/delta"
	"github.com/iota-uz/roster/modules/roster/domain/member"
	"github.com/iota-uz/roster/modules/roster/domain/snapshot"
	"github.com/iota-uz/roster/modules/roster/domain/structure"
)

// memStore backs every fake repository. fakeTx snapshots it before a
// transaction and restores the snapshot when the transaction fails.
type memStore struct {
	mu          sync.Mutex
	members     map[int64]member.Member
	imports     []snapshot.Import
	deltas      map[uuid.UUID]delta.Delta
	previews    map[uuid.UUID]delta.BulkPreview
	approvals   map[uuid.UUID]approval.Request
	adjustments []adjustment.Item
	audit       []AuditRecord

	commands  []structure.Command
	regionals []structure.Regional
	divisions []structure.Division
	roles     []structure.Role

	auditErr   error
	enqueueErr error
	locks      []string
}

func newMemStore() *memStore {
	return &memStore{
		members:   map[int64]member.Member{},
		deltas:    map[uuid.UUID]delta.Delta{},
		previews:  map[uuid.UUID]delta.BulkPreview{},
		approvals: map[uuid.UUID]approval.Request{},
	}
}

type memState struct {
	members     map[int64]member.Member
	imports     []snapshot.Import
	deltas      map[uuid.UUID]delta.Delta
	previews    map[uuid.UUID]delta.BulkPreview
	approvals   map[uuid.UUID]approval.Request
	adjustments []adjustment.Item
}

func (s *memStore) save() memState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := memState{
		members:     make(map[int64]member.Member, len(s.members)),
		imports:     append([]snapshot.Import(nil), s.imports...),
		deltas:      make(map[uuid.UUID]delta.Delta, len(s.deltas)),
		previews:    make(map[uuid.UUID]delta.BulkPreview, len(s.previews)),
		approvals:   make(map[uuid.UUID]approval.Request, len(s.approvals)),
		adjustments: append([]adjustment.Item(nil), s.adjustments...),
	}
	for k, v := range s.members {
		st.members[k] = v
	}
	for k, v := range s.deltas {
		st.deltas[k] = v
	}
	for k, v := range s.previews {
		st.previews[k] = v
	}
	for k, v := range s.approvals {
		st.approvals[k] = copyRequest(v)
	}
	return st
}

func (s *memStore) restore(st memState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members = st.members
	s.imports = st.imports
	s.deltas = st.deltas
	s.previews = st.previews
	s.approvals = st.approvals
	s.adjustments = st.adjustments
}

type fakeTx struct{ s *memStore }

func (t fakeTx) InTx(ctx context.Context, fn func(context.Context) error) error {
	st := t.s.save()
	if err := fn(ctx); err != nil {
		t.s.restore(st)
		return err
	}
	return nil
}

type fakeLocker struct{ s *memStore }

func (l fakeLocker) Lock(_ context.Context, key string) (func(), error) {
	l.s.mu.Lock()
	l.s.locks = append(l.s.locks, key)
	l.s.mu.Unlock()
	return func() {}, nil
}

// members

type memMembers struct{ s *memStore }

func (r memMembers) Get(_ context.Context, id int64) (*member.Member, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.members[id]
	if !ok {
		return nil, member.ErrNotFound
	}
	out := m.Clone()
	return &out, nil
}

func (r memMembers) GetForUpdate(ctx context.Context, id int64) (*member.Member, error) {
	return r.Get(ctx, id)
}

func (r memMembers) List(_ context.Context, p member.FindParams) ([]member.Member, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []member.Member{}
	for _, m := range r.s.members {
		if p.RegionalID != nil && (m.RegionalID == nil || *m.RegionalID != *p.RegionalID) {
			continue
		}
		if p.DivisionID != nil && (m.DivisionID == nil || *m.DivisionID != *p.DivisionID) {
			continue
		}
		if p.Active != nil && m.Active != *p.Active {
			continue
		}
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegistryID < out[j].RegistryID })
	return page(out, p.Limit, p.Offset), nil
}

func (r memMembers) PresentIDs(_ context.Context, scope string, onLeave bool) ([]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []int64
	for id, m := range r.s.members {
		if m.ImportScope != scope {
			continue
		}
		if (onLeave && m.OnLeave) || (!onLeave && m.Active) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r memMembers) Create(_ context.Context, m *member.Member) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.members[m.RegistryID]; ok {
		return member.ErrAlreadyExists
	}
	r.s.members[m.RegistryID] = m.Clone()
	return nil
}

func (r memMembers) Update(_ context.Context, m *member.Member) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.members[m.RegistryID]; !ok {
		return member.ErrNotFound
	}
	r.s.members[m.RegistryID] = m.Clone()
	return nil
}

func page[T any](in []T, limit, offset int) []T {
	if offset > len(in) {
		return []T{}
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

// snapshots

type memSnapshots struct{ s *memStore }

func (r memSnapshots) GetByRequestID(_ context.Context, requestID string) (*snapshot.Import, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.imports {
		if r.s.imports[i].RequestID == requestID {
			imp := r.s.imports[i]
			return &imp, nil
		}
	}
	return nil, snapshot.ErrNotFound
}

func (r memSnapshots) Latest(_ context.Context, category snapshot.Category, scopeKey string) (*snapshot.Import, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := len(r.s.imports) - 1; i >= 0; i-- {
		imp := r.s.imports[i]
		if imp.Category == category && imp.ScopeKey == scopeKey {
			return &imp, nil
		}
	}
	return nil, snapshot.ErrNotFound
}

func (r memSnapshots) Create(_ context.Context, imp *snapshot.Import) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.imports = append(r.s.imports, *imp)
	return nil
}

// deltas

type memDeltas struct{ s *memStore }

func (r memDeltas) Create(_ context.Context, d *delta.Delta) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.deltas[d.ID] = *d
	return nil
}

func (r memDeltas) Get(_ context.Context, id uuid.UUID) (*delta.Delta, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.deltas[id]
	if !ok {
		return nil, delta.ErrNotFound
	}
	return &d, nil
}

func (r memDeltas) GetForUpdate(ctx context.Context, id uuid.UUID) (*delta.Delta, error) {
	return r.Get(ctx, id)
}

func (r memDeltas) MarkResolved(_ context.Context, id uuid.UUID, res delta.Resolution, related *uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.deltas[id]
	if !ok {
		return delta.ErrNotFound
	}
	if err := d.Resolve(res, related); err != nil {
		return err
	}
	r.s.deltas[id] = d
	return nil
}

func (r memDeltas) sorted(keep func(delta.Delta) bool) []delta.Delta {
	out := []delta.Delta{}
	for _, d := range r.s.deltas {
		if keep(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].RegistryID < out[j].RegistryID
	})
	return out
}

func (r memDeltas) ListPendingFor(_ context.Context, ids []int64) ([]delta.Delta, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	want := snapshot.NewKeySet(ids...)
	return r.sorted(func(d delta.Delta) bool { return d.Pending() && want.Has(d.RegistryID) }), nil
}

func (r memDeltas) List(_ context.Context, p delta.FindParams) ([]delta.Delta, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := r.sorted(func(d delta.Delta) bool {
		if p.Status != "" && d.Status != p.Status {
			return false
		}
		if p.RegistryID != 0 && d.RegistryID != p.RegistryID {
			return false
		}
		if p.ImportID != nil && d.ImportID != *p.ImportID {
			return false
		}
		if p.RegionalID != nil || p.DivisionID != nil {
			m, ok := r.s.members[d.RegistryID]
			if !ok {
				return false
			}
			if p.RegionalID != nil && (m.RegionalID == nil || *m.RegionalID != *p.RegionalID) {
				return false
			}
			if p.DivisionID != nil && (m.DivisionID == nil || *m.DivisionID != *p.DivisionID) {
				return false
			}
		}
		return true
	})
	return page(out, p.Limit, p.Offset), nil
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

func (r memDeltas) CountPendingBetween(ctx context.Context, from, to time.Time) (int, error) {
	ids, err := r.ListPendingIDsBetween(ctx, from, to)
	return len(ids), err
}

func (r memDeltas) ListPendingIDsBetween(_ context.Context, from, to time.Time) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []uuid.UUID
	for _, d := range r.sorted(func(d delta.Delta) bool { return d.Pending() && inRange(d.CreatedAt, from, to) }) {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func (r memDeltas) CreatePreview(_ context.Context, p *delta.BulkPreview) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.previews[p.ID] = *p
	return nil
}

func (r memDeltas) GetPreviewForUpdate(_ context.Context, id uuid.UUID) (*delta.BulkPreview, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.previews[id]
	if !ok {
		return nil, delta.ErrPreviewNotFound
	}
	return &p, nil
}

func (r memDeltas) ConsumePreview(_ context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.previews[id]
	if !ok {
		return delta.ErrPreviewNotFound
	}
	if p.ConsumedAt != nil {
		return delta.ErrPreviewConsumed
	}
	p.ConsumedAt = &at
	r.s.previews[id] = p
	return nil
}

// approvals

type memApprovals struct{ s *memStore }

func copyRequest(r approval.Request) approval.Request {
	r.Steps = append([]approval.Step(nil), r.Steps...)
	return r
}

func (r memApprovals) Create(_ context.Context, req *approval.Request) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.approvals[req.ID] = copyRequest(*req)
	return nil
}

func (r memApprovals) Get(_ context.Context, id uuid.UUID) (*approval.Request, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.approvals[id]
	if !ok {
		return nil, approval.ErrNotFound
	}
	out := copyRequest(req)
	return &out, nil
}

func (r memApprovals) GetForUpdate(ctx context.Context, id uuid.UUID) (*approval.Request, error) {
	return r.Get(ctx, id)
}

func (r memApprovals) ActiveForMember(_ context.Context, registryID int64) (*approval.Request, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, req := range r.s.approvals {
		if req.RegistryID == registryID && !req.Status.Terminal() {
			out := copyRequest(req)
			return &out, nil
		}
	}
	return nil, approval.ErrNotFound
}

func (r memApprovals) Update(_ context.Context, req *approval.Request) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.approvals[req.ID]; !ok {
		return approval.ErrNotFound
	}
	r.s.approvals[req.ID] = copyRequest(*req)
	return nil
}

func (r memApprovals) PendingFor(_ context.Context, approverID string) ([]approval.Request, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []approval.Request{}
	for _, req := range r.s.approvals {
		if req.Status.Terminal() {
			continue
		}
		for _, st := range req.Steps {
			if st.ApproverID == approverID && st.Status == approval.StepPending {
				out = append(out, copyRequest(req))
				break
			}
		}
	}
	return out, nil
}

// adjustments, audit, structure

type memAdjustments struct{ s *memStore }

func (r memAdjustments) Enqueue(_ context.Context, item *adjustment.Item) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.enqueueErr != nil {
		return r.s.enqueueErr
	}
	r.s.adjustments = append(r.s.adjustments, *item)
	return nil
}

func (r memAdjustments) ListPending(_ context.Context, limit, offset int) ([]adjustment.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []adjustment.Item{}
	for _, it := range r.s.adjustments {
		if it.Status == adjustment.StatusPending {
			out = append(out, it)
		}
	}
	return page(out, limit, offset), nil
}

func (r memAdjustments) Complete(_ context.Context, id uuid.UUID, by string, at time.Time) (*adjustment.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.adjustments {
		if r.s.adjustments[i].ID != id {
			continue
		}
		it := r.s.adjustments[i]
		if err := it.Complete(by, at); err != nil {
			return &it, err
		}
		r.s.adjustments[i] = it
		return &it, nil
	}
	return nil, adjustment.ErrNotFound
}

type memAudit struct{ s *memStore }

func (r memAudit) Append(_ context.Context, rec *AuditRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.auditErr != nil {
		return r.s.auditErr
	}
	r.s.audit = append(r.s.audit, *rec)
	return nil
}

func (r memAudit) ListFor(_ context.Context, entity, entityID string, limit int) ([]AuditRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []AuditRecord{}
	for i := len(r.s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		if rec := r.s.audit[i]; rec.Entity == entity && rec.EntityID == entityID {
			out = append(out, rec)
		}
	}
	return out, nil
}

type memStructure struct{ s *memStore }

func (r memStructure) ListCommands(context.Context) ([]structure.Command, error) {
	return r.s.commands, nil
}

func (r memStructure) ListRegionals(_ context.Context, commandID uuid.UUID) ([]structure.Regional, error) {
	var out []structure.Regional
	for _, x := range r.s.regionals {
		if x.CommandID == commandID {
			out = append(out, x)
		}
	}
	return out, nil
}

func (r memStructure) ListDivisions(_ context.Context, regionalID uuid.UUID) ([]structure.Division, error) {
	var out []structure.Division
	for _, x := range r.s.divisions {
		if x.RegionalID == regionalID {
			out = append(out, x)
		}
	}
	return out, nil
}

func (r memStructure) ListRoles(context.Context) ([]structure.Role, error) {
	return r.s.roles, nil
}

type fakeAuthz struct{ admins map[string]bool }

func (a fakeAuthz) HasFullAdmin(_ context.Context, userID string, _ []string) bool {
	return a.admins[userID]
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []any
}

func (n *recordingNotifier) PublishE(args ...any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(args) == 2 {
		n.events = append(n.events, args[1])
	}
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

var errStoreDown = errors.New("store down")
