// Package approval implements the ordered, multi-level sign-off chain that
// gates staged placements (training, probation).
package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound              = errors.New("approval request not found")
	ErrStepNotFound          = errors.New("approval step not found")
	ErrNotActionable         = errors.New("approval step is not actionable")
	ErrNotAuthorizedApprover = errors.New("actor is not the designated approver")
	ErrTerminal              = errors.New("approval request is closed")
	ErrInvalidChain          = errors.New("invalid approval chain")
	ErrActiveRequestExists   = errors.New("member already has an open approval request")
)

type Kind string

const (
	KindTraining  Kind = "training"
	KindProbation Kind = "probation"
)

func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindTraining:
		return KindTraining, nil
	case KindProbation:
		return KindProbation, nil
	default:
		return "", fmt.Errorf("unknown approval kind %q", raw)
	}
}

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepApproved StepStatus = "approved"
	StepRejected StepStatus = "rejected"
)

type Outcome string

const (
	OutcomeApprove Outcome = "approve"
	OutcomeReject  Outcome = "reject"
)

func ParseOutcome(raw string) (Outcome, error) {
	switch Outcome(strings.ToLower(strings.TrimSpace(raw))) {
	case OutcomeApprove:
		return OutcomeApprove, nil
	case OutcomeReject:
		return OutcomeReject, nil
	default:
		return "", fmt.Errorf("unknown outcome %q", raw)
	}
}

type Step struct {
	ID           uuid.UUID  `json:"id"`
	Level        int        `json:"level"`
	ApproverID   string     `json:"approver_id"`
	ApproverRole string     `json:"approver_role,omitempty"`
	Status       StepStatus `json:"status"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
	Reason       string     `json:"reason,omitempty"`
}

type Request struct {
	ID           uuid.UUID  `json:"id"`
	RegistryID   int64      `json:"registry_id"`
	Kind         Kind       `json:"kind"`
	PlacementRef string     `json:"placement_ref"`
	Status       Status     `json:"status"`
	Steps        []Step     `json:"steps"`
	ProposedBy   string     `json:"proposed_by"`
	CancelReason string     `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
}

// StepSpec describes one level of a chain to be created.
type StepSpec struct {
	Level        int
	ApproverID   string
	ApproverRole string
}

// NewRequest builds an in-progress request. Levels must be positive and
// unique; steps are stored in ascending level order.
func NewRequest(registryID int64, kind Kind, placementRef, proposedBy string, specs []StepSpec, now time.Time) (*Request, error) {
	if registryID <= 0 {
		return nil, fmt.Errorf("%w: registry id is required", ErrInvalidChain)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: at least one step is required", ErrInvalidChain)
	}
	seen := make(map[int]struct{}, len(specs))
	steps := make([]Step, 0, len(specs))
	for _, s := range specs {
		if s.Level <= 0 {
			return nil, fmt.Errorf("%w: level must be positive", ErrInvalidChain)
		}
		if _, dup := seen[s.Level]; dup {
			return nil, fmt.Errorf("%w: duplicate level %d", ErrInvalidChain, s.Level)
		}
		seen[s.Level] = struct{}{}
		approver := strings.TrimSpace(s.ApproverID)
		if approver == "" {
			return nil, fmt.Errorf("%w: level %d has no approver", ErrInvalidChain, s.Level)
		}
		steps = append(steps, Step{
			ID:           uuid.New(),
			Level:        s.Level,
			ApproverID:   approver,
			ApproverRole: strings.TrimSpace(s.ApproverRole),
			Status:       StepPending,
		})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Level < steps[j].Level })

	now = now.UTC()
	return &Request{
		ID:           uuid.New(),
		RegistryID:   registryID,
		Kind:         kind,
		PlacementRef: strings.TrimSpace(placementRef),
		Status:       StatusInProgress,
		Steps:        steps,
		ProposedBy:   proposedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// DeriveStatus: rejected if any step is rejected, approved if all are
// approved, in progress otherwise.
func DeriveStatus(steps []Step) Status {
	if len(steps) == 0 {
		return StatusInProgress
	}
	approved := 0
	for _, s := range steps {
		switch s.Status {
		case StepRejected:
			return StatusRejected
		case StepApproved:
			approved++
		}
	}
	if approved == len(steps) {
		return StatusApproved
	}
	return StatusInProgress
}

// CurrentStep returns the first pending step whose lower levels are all
// approved, or nil when nothing is actionable.
func CurrentStep(r *Request) *Step {
	if r == nil || r.Status.Terminal() {
		return nil
	}
	for i := range r.Steps {
		switch r.Steps[i].Status {
		case StepApproved:
			continue
		case StepPending:
			return &r.Steps[i]
		default:
			return nil
		}
	}
	return nil
}

// Transition is the observable effect of a decision.
type Transition struct {
	StepID  uuid.UUID
	Level   int
	Outcome Outcome
	From    Status
	To      Status
}

// Completed reports whether the decision approved the final step.
func (t Transition) Completed() bool { return t.To == StatusApproved }

func (t Transition) Rejected() bool { return t.To == StatusRejected }

// Decide applies outcome to stepID on behalf of actor. A rejection closes the
// request immediately; later steps stay pending and are never evaluated.
func (r *Request) Decide(stepID uuid.UUID, actor string, outcome Outcome, reason string, now time.Time) (Transition, error) {
	if r.Status.Terminal() {
		return Transition{}, ErrTerminal
	}
	idx := -1
	for i := range r.Steps {
		if r.Steps[i].ID == stepID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Transition{}, ErrStepNotFound
	}
	current := CurrentStep(r)
	if current == nil || current.ID != stepID {
		return Transition{}, ErrNotActionable
	}
	if strings.TrimSpace(actor) == "" || actor != current.ApproverID {
		return Transition{}, ErrNotAuthorizedApprover
	}

	now = now.UTC()
	step := &r.Steps[idx]
	switch outcome {
	case OutcomeApprove:
		step.Status = StepApproved
	case OutcomeReject:
		step.Status = StepRejected
	default:
		return Transition{}, fmt.Errorf("unknown outcome %q", outcome)
	}
	step.DecidedAt = &now
	step.Reason = strings.TrimSpace(reason)

	from := r.Status
	r.Status = DeriveStatus(r.Steps)
	r.UpdatedAt = now
	if r.Status.Terminal() {
		r.ClosedAt = &now
	}
	return Transition{StepID: step.ID, Level: step.Level, Outcome: outcome, From: from, To: r.Status}, nil
}

// Cancel closes a request that has not been fully approved yet.
func (r *Request) Cancel(reason string, now time.Time) error {
	if r.Status.Terminal() {
		return ErrTerminal
	}
	now = now.UTC()
	r.Status = StatusCancelled
	r.CancelReason = strings.TrimSpace(reason)
	r.UpdatedAt = now
	r.ClosedAt = &now
	return nil
}

type Repository interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id uuid.UUID) (*Request, error)
	// GetForUpdate locks the request row for the rest of the transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Request, error)
	// ActiveForMember returns ErrNotFound when the member has no open request.
	ActiveForMember(ctx context.Context, registryID int64) (*Request, error)
	Update(ctx context.Context, r *Request) error
	PendingFor(ctx context.Context, approverID string) ([]Request, error)
}
