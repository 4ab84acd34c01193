package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func threeLevelChain(t *testing.T) *Request {
	t.Helper()
	r, err := NewRequest(100, KindTraining, "turma-7", "proposer", []StepSpec{
		{Level: 3, ApproverID: "C"},
		{Level: 1, ApproverID: "A"},
		{Level: 2, ApproverID: "B"},
	}, t0)
	require.NoError(t, err)
	return r
}

func TestNewRequest_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewRequest(1, KindTraining, "", "p", nil, t0)
	require.ErrorIs(t, err, ErrInvalidChain)

	_, err = NewRequest(1, KindTraining, "", "p", []StepSpec{{Level: 1, ApproverID: "A"}, {Level: 1, ApproverID: "B"}}, t0)
	require.ErrorIs(t, err, ErrInvalidChain)

	_, err = NewRequest(1, KindTraining, "", "p", []StepSpec{{Level: 1, ApproverID: " "}}, t0)
	require.ErrorIs(t, err, ErrInvalidChain)

	_, err = NewRequest(0, KindTraining, "", "p", []StepSpec{{Level: 1, ApproverID: "A"}}, t0)
	require.ErrorIs(t, err, ErrInvalidChain)

	r := threeLevelChain(t)
	require.Equal(t, StatusInProgress, r.Status)
	require.Equal(t, []int{1, 2, 3}, []int{r.Steps[0].Level, r.Steps[1].Level, r.Steps[2].Level})
}

func TestChain_RejectShortCircuits(t *testing.T) {
	t.Parallel()

	r := threeLevelChain(t)
	l1, l2, l3 := r.Steps[0], r.Steps[1], r.Steps[2]

	require.Equal(t, l1.ID, CurrentStep(r).ID)

	_, err := r.Decide(l2.ID, "B", OutcomeApprove, "", t0)
	require.ErrorIs(t, err, ErrNotActionable, "L2 is not actionable before L1")

	_, err = r.Decide(l1.ID, "B", OutcomeApprove, "", t0)
	require.ErrorIs(t, err, ErrNotAuthorizedApprover)

	tr, err := r.Decide(l1.ID, "A", OutcomeApprove, "", t0.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, tr.Completed())
	require.Equal(t, l2.ID, CurrentStep(r).ID)

	tr, err = r.Decide(l2.ID, "B", OutcomeReject, "missing documents", t0.Add(2*time.Minute))
	require.NoError(t, err)
	require.True(t, tr.Rejected())
	require.Equal(t, StatusRejected, r.Status)
	require.NotNil(t, r.ClosedAt)

	require.Nil(t, CurrentStep(r))
	require.Equal(t, StepPending, r.Steps[2].Status, "L3 is never evaluated")

	_, err = r.Decide(l3.ID, "C", OutcomeApprove, "", t0.Add(3*time.Minute))
	require.ErrorIs(t, err, ErrTerminal)
}

func TestChain_FullApproval(t *testing.T) {
	t.Parallel()

	r := threeLevelChain(t)
	var last Transition
	for _, approver := range []string{"A", "B", "C"} {
		cur := CurrentStep(r)
		require.NotNil(t, cur)
		require.Equal(t, approver, cur.ApproverID)

		var err error
		last, err = r.Decide(cur.ID, approver, OutcomeApprove, "", t0)
		require.NoError(t, err)
	}
	require.True(t, last.Completed())
	require.Equal(t, StatusApproved, r.Status)
	require.Nil(t, CurrentStep(r))

	require.ErrorIs(t, r.Cancel("late", t0), ErrTerminal)
}

func TestChain_Cancel(t *testing.T) {
	t.Parallel()

	r := threeLevelChain(t)
	_, err := r.Decide(r.Steps[0].ID, "A", OutcomeApprove, "", t0)
	require.NoError(t, err)

	require.NoError(t, r.Cancel(" withdrawn ", t0.Add(time.Hour)))
	require.Equal(t, StatusCancelled, r.Status)
	require.Equal(t, "withdrawn", r.CancelReason)
	require.Nil(t, CurrentStep(r))
	require.ErrorIs(t, r.Cancel("again", t0), ErrTerminal)
}

func TestDecide_UnknownStep(t *testing.T) {
	t.Parallel()

	r := threeLevelChain(t)
	other := threeLevelChain(t)
	_, err := r.Decide(other.Steps[0].ID, "A", OutcomeApprove, "", t0)
	require.ErrorIs(t, err, ErrStepNotFound)
}

func TestDeriveStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, StatusInProgress, DeriveStatus(nil))
	require.Equal(t, StatusApproved, DeriveStatus([]Step{{Status: StepApproved}, {Status: StepApproved}}))
	require.Equal(t, StatusRejected, DeriveStatus([]Step{{Status: StepApproved}, {Status: StepRejected}, {Status: StepPending}}))
	require.Equal(t, StatusInProgress, DeriveStatus([]Step{{Status: StepApproved}, {Status: StepPending}}))
}

func TestParseKindAndOutcome(t *testing.T) {
	t.Parallel()

	k, err := ParseKind(" Probation ")
	require.NoError(t, err)
	require.Equal(t, KindProbation, k)
	_, err = ParseKind("internship")
	require.Error(t, err)

	o, err := ParseOutcome("REJECT")
	require.NoError(t, err)
	require.Equal(t, OutcomeReject, o)
	_, err = ParseOutcome("maybe")
	require.Error(t, err)
}
