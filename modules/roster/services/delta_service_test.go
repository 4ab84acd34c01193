package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/roster/modules/roster/domain/adjustment"
	"github.com/iota-uz/roster/modules/roster/domain/delta"
	"github.com/iota-uz/roster/modules/roster/domain/member"
	"github.com/iota-uz/roster/modules/roster/domain/scope"
)

var deltaT0 = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

type deltaFixture struct {
	store *memStore
	svc   *DeltaService
	notes *recordingNotifier
	now   time.Time
}

func newDeltaFixture(t *testing.T) *deltaFixture {
	t.Helper()
	s := newMemStore()
	f := &deltaFixture{store: s, notes: &recordingNotifier{}, now: deltaT0}
	f.svc = NewDeltaService(DeltaDeps{
		Tx:          fakeTx{s},
		Deltas:      memDeltas{s},
		Members:     memMembers{s},
		Adjustments: memAdjustments{s},
		Audit:       memAudit{s},
		Authz:       fakeAuthz{admins: map[string]bool{"root": true}},
		Notifier:    f.notes,
	}, DeltaOptions{PreviewTTL: 15 * time.Minute})
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *deltaFixture) seedMember(id int64, rank member.Rank, regionalID *uuid.UUID) {
	f.store.members[id] = member.Member{
		RegistryID:  id,
		Name:        "Membro",
		Rank:        rank,
		RegionalID:  regionalID,
		Active:      true,
		ImportScope: member.DefaultScope,
	}
}

func (f *deltaFixture) seedDelta(id int64, change delta.Change, at time.Time) delta.Delta {
	d := delta.Delta{
		ID:         uuid.New(),
		ImportID:   uuid.New(),
		RegistryID: id,
		Change:     change,
		Movement:   delta.Classify(change, delta.ActionNone, ""),
		Status:     delta.StatusPending,
		CreatedAt:  at,
	}
	f.store.deltas[d.ID] = d
	return d
}

func resolveInput(id uuid.UUID, action delta.ActionCode) ResolveInput {
	return ResolveInput{DeltaID: id, ResolverID: "alice", Justification: "checked with HR", ActionCode: action}
}

func TestResolve_RequiresJustification(t *testing.T) {
	t.Parallel()

	f := newDeltaFixture(t)
	d := f.seedDelta(1, delta.ActiveDisappeared, deltaT0)

	in := resolveInput(d.ID, delta.ActionExpel)
	in.Justification = "   "
	_, err := f.svc.Resolve(context.Background(), in)
	require.True(t, IsKind(err, KindValidation))
	require.True(t, f.store.deltas[d.ID].Pending())
}

func TestResolve_WithoutActionCodeFallsBackToObservation(t *testing.T) {
	t.Parallel()

	f := newDeltaFixture(t)
	d := f.seedDelta(1, delta.ActiveDisappeared, deltaT0)
	d.Observation = "Transferido para Campinas"
	f.store.deltas[d.ID] = d

	res, err := f.svc.Resolve(context.Background(), resolveInput(d.ID, delta.ActionNone))
	require.NoError(t, err)
	require.Equal(t, delta.StatusResolved, res.Delta.Status)
	require.Equal(t, delta.ActionAcknowledge, res.Delta.Resolution.ActionCode)
	require.Equal(t, delta.TransferOut, res.Delta.Resolution.Movement)
	require.False(t, f.store.deltas[d.ID].Pending())
}

func TestResolve_NotFound(t *testing.T) {
	t.Parallel()

	f := newDeltaFixture(t)
	_, err := f.svc.Resolve(context.Background(), resolveInput(uuid.New(), delta.ActionAcknowledge))
	require.True(t, IsKind(err, KindNotFound))
}

func TestResolve_SecondResolutionConflictsAndKeepsMetadata(t *testing.T) {
	t.Parallel()

	f := newDeltaFixture(t)
	d := f.seedDelta(1, delta.ActiveAppeared, deltaT0)
	ctx := context.Background()

	_, err := f.svc.Resolve(ctx, resolveInput(d.ID, delta.ActionNewEntry))
	require.NoError(t, err)

	second := resolveInput(d.ID, delta.ActionTransfer)
	second.ResolverID = "bob"
	second.Justification = "different reading"
	_, err = f.svc.Resolve(ctx, second)
	require.True(t, IsKind(err, KindConflict))

	var svcErr *ServiceError
	require.True(t, errors.As(err, &svcErr))
	require.Equal(t, "ROSTER_DELTA_ALREADY_RESOLVED", svcErr.Code)
	current, ok := svcErr.Current.(*delta.Delta)
	require.True(t, ok)
	require.Equal(t, "alice", current.Resolution.ResolverID)

	stored := f.store.deltas[d.ID]
	require.Equal(t, "alice", stored.Resolution.ResolverID)
	require.Equal(t, delta.ActionNewEntry, stored.Resolution.ActionCode)
	require.Equal(t, delta.NewEntrant, stored.Resolution.Movement)
}

func TestResolve_ExpelDeactivatesMemberAndAudits(t *testing.T) {
	t.Parallel()

	f := newDeltaFixture(t)
	f.seedMember(7, 6, nil)
	d := f.seedDelta(7, delta.ActiveDisappeared, deltaT0)

	res, err := f.svc.Resolve(context.Background(), resolveInput(d.ID, delta.ActionExpel))
	require.NoError(t, err)
	require.Empty(t, res.Warnings)
	require.Equal(t, delta.DepartureExpelled, res.Delta.Resolution.Movement)

	m := f.store.members[7]
	require.False(t, m.Active)
	require.Equal(t, member.ReasonExpelled, m.DeactivationReason)
	require.NotNil(t, m.DeactivatedAt)

	require.Len(t, f.store.audit, 1)
	rec := f.store.audit[0]
	require.Equal(t, AuditEntityMember, rec.Entity)
	require.Equal(t, "7", rec.EntityID)
	require.Contains(t, string(rec.Patch), "/deactivation_reason")
	require.Equal(t, 1, f.notes.count())
}

func TestResolve_DepartureActionOnAppearanceLeavesMember(t *testing.T) {
	t.Parallel()

	f := newDeltaFixture(t)
	f.seedMember(7, 6, nil)
	d := f.seedDelta(7, delta.ActiveAppeared, deltaT0)

	res, err := f.svc.Resolve(context.Background(), resolveInput(d.ID, delta.ActionTransfer))
	require.NoError(t, err)
	require.Nil(t, res.Member)
	require.Equal(t, delta.TransferIn, res.Delta.Resolution.Movement)
	require.True(t, f.store.members[7].Active)
	require.Empty(t, f.store.audit)
}

func TestResolve_PromotionByNonAdminQueuesAdjustment(t *testing.T) {
	t.Parallel()

	f := newDeltaFixture(t)
	f.seedMember(9, 6, nil)
	d := f.seedDelta(9, delta.ActiveAppeared, deltaT0)
	role := uuid.New()

	in := resolveInput(d.ID, delta.ActionPromote)
	in.Promotion = &PromotionPayload{Rank: 4, RoleID: &role}
	res, err := f.svc.Resolve(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, member.Rank(4), res.Member.Rank)
	require.Equal(t, member.Rank(4), f.store.members[9].Rank)

	require.Len(t, f.store.adjustments, 1)
	item := f.store.adjustments[0]
	require.Equal(t, adjustment.StatusPending, item.Status)
	require.Equal(t, member.Rank(6), item.FromRank)
	require.Equal(t, member.Rank(4), item.ToRank)
	require.Equal(t, d.ID, *item.DeltaID)
	require.Equal(t, "alice", item.RequestedBy)
}

func TestResolve_PromotionByFullAdminSkipsQueue(t *testing.T) {
	t.Parallel()

	f := newDeltaFixture(t)
	f.seedMember(9, 6, nil)
	d := f.seedDelta(9, delta.ActiveAppeared, deltaT0)

	in := resolveInput(d.ID, delta.ActionPromote)
	in.ResolverID = "root"
	in.Promotion = &PromotionPayload{Rank: 5}
	_, err := f.svc.Resolve(context.Background(), in)
	require.NoError(t, err)
	require.Empty(t, f.store.adjustments)
}

func TestResolve_PromotionNeedsPayload(t *testing.T) {
	t.Parallel()

	f := newDeltaFixture(t)
	d := f.seedDelta(9, delta.ActiveAppeared, deltaT0)
	_, err := f.svc.Resolve(context.Background(), resolveInput(d.ID, delta.ActionPromote))
	require.True(t, IsKind(err, KindValidation))
}

func TestResolve_SideWriteFailureIsPartialSuccess(t *testing.T) {
	t.Parallel()

	f := newDeltaFixture(t)
	f.seedMember(9, 6, nil)
	d := f.seedDelta(9, delta.ActiveAppeared, deltaT0)
	f.store.auditErr = errStoreDown
	f.store.enqueueErr = errStoreDown

	in := resolveInput(d.ID, delta.ActionPromote)
	in.Promotion = &PromotionPayload{Rank: 4}
	res, err := f.svc.Resolve(context.Background(), in)
	require.True(t, IsPartialSuccess(err))
	require.NotNil(t, res)
	require.Len(t, res.Warnings, 2)

	var svcErr *ServiceError
	require.True(t, errors.As(err, &svcErr))
	require.Equal(t, res.Warnings, svcErr.Warnings)

	require.False(t, f.store.deltas[d.ID].Pending(), "primary mutation is kept")
	require.Equal(t, member.Rank(4), f.store.members[9].Rank)
}

func TestResolve_ReturnAndLeaveToggleOnLeave(t *testing.T) {
	t.Parallel()

	f := newDeltaFixture(t)
	f.seedMember(3, 8, nil)
	leave := f.seedDelta(3, delta.ActiveDisappeared, deltaT0)
	_, err := f.svc.Resolve(context.Background(), resolveInput(leave.ID, delta.ActionLeave))
	require.NoError(t, err)
	require.True(t, f.store.members[3].OnLeave)

	back := f.seedDelta(3, delta.LeaveDisappeared, deltaT0.Add(time.Hour))
	_, err = f.svc.Resolve(context.Background(), resolveInput(back.ID, delta.ActionReturn))
	require.NoError(t, err)
	require.False(t, f.store.members[3].OnLeave)
	require.True(t, f.store.members[3].Active)
}

func TestResolveMany_ContinuesPastFailures(t *testing.T) {
	t.Parallel()

	f := newDeltaFixture(t)
	a := f.seedDelta(1, delta.ActiveAppeared, deltaT0)
	b := f.seedDelta(2, delta.ActiveAppeared, deltaT0)
	missing := uuid.New()

	report := f.svc.ResolveMany(context.Background(), []ResolveInput{
		resolveInput(a.ID, delta.ActionNewEntry),
		resolveInput(missing, delta.ActionNewEntry),
		resolveInput(b.ID, delta.ActionNewEntry),
		resolveInput(a.ID, delta.ActionNewEntry),
	})
	require.Len(t, report.Resolved, 2)
	require.Len(t, report.Failed, 2)
	require.Equal(t, missing, report.Failed[0].DeltaID)
	require.Equal(t, "ROSTER_DELTA_NOT_FOUND", report.Failed[0].Code)
	require.Equal(t, "ROSTER_DELTA_ALREADY_RESOLVED", report.Failed[1].Code)
}

func TestBulkResolveFalsePositives(t *testing.T) {
	t.Parallel()

	f := newDeltaFixture(t)
	ctx := context.Background()
	from, to := deltaT0, deltaT0.Add(24*time.Hour)
	f.seedDelta(1, delta.ActiveDisappeared, deltaT0.Add(time.Hour))
	f.seedDelta(2, delta.ActiveAppeared, deltaT0.Add(2*time.Hour))
	outside := f.seedDelta(3, delta.ActiveAppeared, deltaT0.Add(30*time.Hour))

	p, err := f.svc.PreviewFalsePositives(ctx, from, to, "alice")
	require.NoError(t, err)
	require.Equal(t, 2, p.Count)

	in := BulkResolveInput{PreviewID: p.ID, From: from, To: to, ResolverID: "alice"}
	_, err = f.svc.BulkResolveFalsePositives(ctx, in)
	require.True(t, IsKind(err, KindValidation), "justification is mandatory")

	in.Justification = "source system outage on 2025-07-01"
	wrong := in
	wrong.To = to.Add(time.Hour)
	_, err = f.svc.BulkResolveFalsePositives(ctx, wrong)
	require.True(t, IsKind(err, KindValidation))

	n, err := f.svc.BulkResolveFalsePositives(ctx, in)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.True(t, f.store.deltas[outside.ID].Pending())
	for id, d := range f.store.deltas {
		if id == outside.ID {
			continue
		}
		require.Equal(t, delta.ActionFalsePositive, d.Resolution.ActionCode)
	}

	_, err = f.svc.BulkResolveFalsePositives(ctx, in)
	require.True(t, IsKind(err, KindConflict), "a preview authorizes one run")
}

func TestBulkResolveFalsePositives_RefusesEmptyOrStalePreview(t *testing.T) {
	t.Parallel()

	f := newDeltaFixture(t)
	ctx := context.Background()
	from, to := deltaT0, deltaT0.Add(time.Hour)

	empty, err := f.svc.PreviewFalsePositives(ctx, from, to, "alice")
	require.NoError(t, err)
	require.Zero(t, empty.Count)
	_, err = f.svc.BulkResolveFalsePositives(ctx, BulkResolveInput{PreviewID: empty.ID, From: from, To: to, Justification: "x", ResolverID: "alice"})
	require.True(t, IsKind(err, KindValidation))

	f.seedDelta(1, delta.ActiveAppeared, deltaT0.Add(time.Minute))
	p, err := f.svc.PreviewFalsePositives(ctx, from, to, "alice")
	require.NoError(t, err)
	f.now = deltaT0.Add(time.Hour)
	_, err = f.svc.BulkResolveFalsePositives(ctx, BulkResolveInput{PreviewID: p.ID, From: from, To: to, Justification: "x", ResolverID: "alice"})
	require.True(t, IsKind(err, KindConflict), "expired preview")

	_, err = f.svc.BulkResolveFalsePositives(ctx, BulkResolveInput{From: from, To: to, Justification: "x", ResolverID: "alice"})
	require.True(t, IsKind(err, KindValidation), "preview id is required")
}

func TestDeltaList_MandatoryScopeOverridesFilter(t *testing.T) {
	t.Parallel()

	f := newDeltaFixture(t)
	home, other := uuid.New(), uuid.New()
	f.seedMember(1, 6, &home)
	f.seedMember(2, 6, &other)
	f.seedDelta(1, delta.ActiveAppeared, deltaT0)
	f.seedDelta(2, delta.ActiveAppeared, deltaT0)

	sc := scope.Scope{Level: scope.LevelRegional, RegionalID: &home, Mandatory: true}
	out, err := f.svc.List(context.Background(), sc, delta.FindParams{RegionalID: &other})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, int64(1), out[0].RegistryID)

	all, err := f.svc.List(context.Background(), scope.Scope{Level: scope.LevelOrganization}, delta.FindParams{})
	require.NoError(t, err)
	require.Len(t, all, 2)
}
