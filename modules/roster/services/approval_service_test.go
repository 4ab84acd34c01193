package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iota-uz/roster/modules/roster/domain/approval"
	"github.com/iota-uz/roster/modules/roster/domain/member"
)

func newApprovalFixture(t *testing.T) (*ApprovalService, *memStore, *recordingNotifier) {
	t.Helper()
	s := newMemStore()
	s.members[42] = member.Member{RegistryID: 42, Name: "Membro", Rank: 7, Active: true, ImportScope: member.DefaultScope}
	n := &recordingNotifier{}
	svc := NewApprovalService(ApprovalDeps{
		Tx:        fakeTx{s},
		Approvals: memApprovals{s},
		Members:   memMembers{s},
		Audit:     memAudit{s},
		Notifier:  n,
	})
	svc.now = func() time.Time { return time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC) }
	return svc, s, n
}

func proposeChain(t *testing.T, svc *ApprovalService) *approval.Request {
	t.Helper()
	req, err := svc.Propose(context.Background(), ProposeInput{
		RegistryID:   42,
		Kind:         approval.KindTraining,
		PlacementRef: "turma-2025-2",
		ProposedBy:   "coord",
		Steps: []approval.StepSpec{
			{Level: 1, ApproverID: "A"},
			{Level: 2, ApproverID: "B"},
			{Level: 3, ApproverID: "C"},
		},
	})
	require.NoError(t, err)
	return req
}

func TestApprovalService_ProposeSetsPlacement(t *testing.T) {
	t.Parallel()

	svc, s, _ := newApprovalFixture(t)
	req := proposeChain(t, svc)

	m := s.members[42]
	require.Equal(t, member.PlacementProposed, m.Placement.Status)
	require.Equal(t, req.ID, *m.Placement.RequestID)
	require.Equal(t, "training", m.Placement.Kind)

	_, err := svc.Propose(context.Background(), ProposeInput{
		RegistryID: 42, Kind: approval.KindProbation, ProposedBy: "coord",
		Steps: []approval.StepSpec{{Level: 1, ApproverID: "A"}},
	})
	require.True(t, IsKind(err, KindConflict), "one open request per member")
}

func TestApprovalService_ProposeValidation(t *testing.T) {
	t.Parallel()

	svc, _, _ := newApprovalFixture(t)
	ctx := context.Background()

	_, err := svc.Propose(ctx, ProposeInput{RegistryID: 42, Kind: approval.KindTraining, ProposedBy: "coord"})
	require.True(t, IsKind(err, KindValidation))

	_, err = svc.Propose(ctx, ProposeInput{RegistryID: 42, Kind: "internship", ProposedBy: "coord", Steps: []approval.StepSpec{{Level: 1, ApproverID: "A"}}})
	require.True(t, IsKind(err, KindValidation))

	_, err = svc.Propose(ctx, ProposeInput{RegistryID: 99, Kind: approval.KindTraining, ProposedBy: "coord", Steps: []approval.StepSpec{{Level: 1, ApproverID: "A"}}})
	require.True(t, IsKind(err, KindNotFound))
}

func TestApprovalService_RejectShortCircuits(t *testing.T) {
	t.Parallel()

	svc, s, n := newApprovalFixture(t)
	ctx := context.Background()
	req := proposeChain(t, svc)
	l1, l2, l3 := req.Steps[0], req.Steps[1], req.Steps[2]

	_, _, err := svc.Decide(ctx, DecideInput{RequestID: req.ID, StepID: l2.ID, Actor: "B", Outcome: approval.OutcomeApprove})
	require.True(t, IsKind(err, KindConflict), "L2 before L1")

	_, _, err = svc.Decide(ctx, DecideInput{RequestID: req.ID, StepID: l1.ID, Actor: "B", Outcome: approval.OutcomeApprove})
	require.True(t, IsKind(err, KindForbidden))

	_, tr, err := svc.Decide(ctx, DecideInput{RequestID: req.ID, StepID: l1.ID, Actor: "A", Outcome: approval.OutcomeApprove})
	require.NoError(t, err)
	require.False(t, tr.Completed())

	_, _, err = svc.Decide(ctx, DecideInput{RequestID: req.ID, StepID: l2.ID, Actor: "B", Outcome: approval.OutcomeReject})
	require.True(t, IsKind(err, KindValidation), "a rejection needs a reason")

	got, tr, err := svc.Decide(ctx, DecideInput{RequestID: req.ID, StepID: l2.ID, Actor: "B", Outcome: approval.OutcomeReject, Reason: "incomplete file"})
	require.NoError(t, err)
	require.True(t, tr.Rejected())
	require.Equal(t, approval.StatusRejected, got.Status)
	require.Equal(t, approval.StepPending, got.Steps[2].Status)
	require.Equal(t, member.PlacementRejected, s.members[42].Placement.Status)

	_, _, err = svc.Decide(ctx, DecideInput{RequestID: req.ID, StepID: l3.ID, Actor: "C", Outcome: approval.OutcomeApprove})
	require.True(t, IsKind(err, KindConflict))
	require.Equal(t, approval.StepPending, s.approvals[req.ID].Steps[2].Status)

	require.Equal(t, 2, n.count())
}

func TestApprovalService_FinalApprovalStartsPlacement(t *testing.T) {
	t.Parallel()

	svc, s, _ := newApprovalFixture(t)
	ctx := context.Background()
	req := proposeChain(t, svc)

	for i, actor := range []string{"A", "B", "C"} {
		pending, err := svc.PendingFor(ctx, actor)
		require.NoError(t, err)
		require.Len(t, pending, 1, "approver %s", actor)

		_, tr, err := svc.Decide(ctx, DecideInput{RequestID: req.ID, StepID: req.Steps[i].ID, Actor: actor, Outcome: approval.OutcomeApprove})
		require.NoError(t, err)
		require.Equal(t, i == 2, tr.Completed())
	}
	require.Equal(t, approval.StatusApproved, s.approvals[req.ID].Status)
	require.Equal(t, member.PlacementInProgress, s.members[42].Placement.Status)

	_, err := svc.Cancel(ctx, req.ID, "coord", "too late")
	require.True(t, IsKind(err, KindConflict))
}

func TestApprovalService_PendingForOnlyListsCurrentStep(t *testing.T) {
	t.Parallel()

	svc, _, _ := newApprovalFixture(t)
	proposeChain(t, svc)

	pending, err := svc.PendingFor(context.Background(), "B")
	require.NoError(t, err)
	require.Empty(t, pending, "B acts after A")
}

func TestApprovalService_CancelClearsPlacement(t *testing.T) {
	t.Parallel()

	svc, s, _ := newApprovalFixture(t)
	ctx := context.Background()
	req := proposeChain(t, svc)

	_, _, err := svc.Decide(ctx, DecideInput{RequestID: req.ID, StepID: req.Steps[0].ID, Actor: "A", Outcome: approval.OutcomeApprove})
	require.NoError(t, err)

	got, err := svc.Cancel(ctx, req.ID, "coord", "member withdrew")
	require.NoError(t, err)
	require.Equal(t, approval.StatusCancelled, got.Status)
	require.True(t, s.members[42].Placement.Empty())

	again := proposeChain(t, svc)
	require.NotEqual(t, req.ID, again.ID, "a closed request frees the member")
}

func TestApprovalService_AuditFailureIsPartialSuccess(t *testing.T) {
	t.Parallel()

	svc, s, n := newApprovalFixture(t)
	ctx := context.Background()
	s.auditErr = errStoreDown

	req, err := svc.Propose(ctx, ProposeInput{
		RegistryID: 42, Kind: approval.KindTraining, ProposedBy: "coord",
		Steps: []approval.StepSpec{{Level: 1, ApproverID: "A"}, {Level: 2, ApproverID: "B"}},
	})
	require.True(t, IsPartialSuccess(err))
	require.NotNil(t, req)
	require.Equal(t, member.PlacementProposed, s.members[42].Placement.Status)

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Len(t, svcErr.Warnings, 1)

	got, tr, err := svc.Decide(ctx, DecideInput{RequestID: req.ID, StepID: req.Steps[0].ID, Actor: "A", Outcome: approval.OutcomeApprove})
	require.True(t, IsPartialSuccess(err))
	require.NotNil(t, got)
	require.Equal(t, approval.OutcomeApprove, tr.Outcome)

	got, err = svc.Cancel(ctx, req.ID, "coord", "member withdrew")
	require.True(t, IsPartialSuccess(err))
	require.Equal(t, approval.StatusCancelled, got.Status)
	require.True(t, s.members[42].Placement.Empty())
	require.Empty(t, s.audit)

	n.mu.Lock()
	defer n.mu.Unlock()
	require.Len(t, n.events, 2, "notifications still go out")
}
