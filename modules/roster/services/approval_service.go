package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/roster/modules/roster/domain/approval"
	"github.com/iota-uz/roster/modules/roster/domain/member"
)

type ProposeInput struct {
	RegistryID   int64
	Kind         approval.Kind
	PlacementRef string
	ProposedBy   string
	Steps        []approval.StepSpec
}

type DecideInput struct {
	RequestID uuid.UUID
	StepID    uuid.UUID
	Actor     string
	Outcome   approval.Outcome
	Reason    string
}

type ApprovalDeps struct {
	Tx        Transactor
	Approvals approval.Repository
	Members   member.Repository
	Audit     AuditRepository
	Notifier  Notifier
}

type ApprovalService struct {
	deps ApprovalDeps
	now  func() time.Time
}

func NewApprovalService(deps ApprovalDeps) *ApprovalService {
	return &ApprovalService{deps: deps, now: time.Now}
}

func approvalNotFound(err error) error {
	return notFoundError("ROSTER_APPROVAL_NOT_FOUND", "approval request not found", err)
}

// Propose opens a chain for a member and marks the member's placement as
// proposed. A member may have at most one open request.
func (s *ApprovalService) Propose(ctx context.Context, in ProposeInput) (*approval.Request, error) {
	in.ProposedBy = strings.TrimSpace(in.ProposedBy)
	if in.ProposedBy == "" {
		return nil, validationError("ROSTER_PROPOSER_REQUIRED", "proposed_by is required")
	}
	if _, err := approval.ParseKind(string(in.Kind)); err != nil {
		return nil, validationError("ROSTER_INVALID_APPROVAL_KIND", err.Error())
	}
	now := s.now().UTC()
	req, err := approval.NewRequest(in.RegistryID, in.Kind, in.PlacementRef, in.ProposedBy, in.Steps, now)
	if err != nil {
		return nil, validationError("ROSTER_INVALID_APPROVAL_CHAIN", err.Error())
	}

	_, err = inTx(ctx, s.deps.Tx, func(txCtx context.Context) (struct{}, error) {
		m, err := s.deps.Members.GetForUpdate(txCtx, in.RegistryID)
		if errors.Is(err, member.ErrNotFound) {
			return struct{}{}, memberNotFound(err)
		}
		if err != nil {
			return struct{}{}, err
		}
		open, err := s.deps.Approvals.ActiveForMember(txCtx, in.RegistryID)
		switch {
		case err == nil:
			return struct{}{}, conflictError("ROSTER_APPROVAL_ALREADY_OPEN", "member already has an open approval request", open, approval.ErrActiveRequestExists)
		case !errors.Is(err, approval.ErrNotFound):
			return struct{}{}, err
		}
		if err := s.deps.Approvals.Create(txCtx, req); err != nil {
			return struct{}{}, err
		}
		id := req.ID
		m.Placement = member.Placement{RequestID: &id, Kind: string(req.Kind), Ref: req.PlacementRef, Status: member.PlacementProposed}
		m.UpdatedAt = now
		return struct{}{}, s.deps.Members.Update(txCtx, m)
	})
	if err != nil {
		return nil, asServiceError(err)
	}

	logWithFields(ctx, logrus.InfoLevel, "roster.approval.proposed", logrus.Fields{
		"request_id":  req.ID,
		"registry_id": req.RegistryID,
		"kind":        req.Kind,
		"levels":      len(req.Steps),
	})
	if w := appendAudit(ctx, s.deps.Audit, AuditEntityApproval, req.ID.String(), "approval.propose", in.ProposedBy, nil, req, nil, now); w != "" {
		return req, partialSuccess([]string{w})
	}
	return req, nil
}

func (s *ApprovalService) Get(ctx context.Context, id uuid.UUID) (*approval.Request, error) {
	req, err := s.deps.Approvals.Get(ctx, id)
	if errors.Is(err, approval.ErrNotFound) {
		return nil, approvalNotFound(err)
	}
	if err != nil {
		return nil, asServiceError(err)
	}
	return req, nil
}

func decideError(err error, current *approval.Request) error {
	switch {
	case errors.Is(err, approval.ErrStepNotFound):
		return notFoundError("ROSTER_APPROVAL_STEP_NOT_FOUND", "approval step not found", err)
	case errors.Is(err, approval.ErrNotAuthorizedApprover):
		return forbiddenError("ROSTER_NOT_APPROVER", "actor is not the designated approver for this step", err)
	case errors.Is(err, approval.ErrNotActionable):
		return conflictError("ROSTER_STEP_NOT_ACTIONABLE", "step is not the current step of the chain", current, err)
	case errors.Is(err, approval.ErrTerminal):
		return conflictError("ROSTER_APPROVAL_CLOSED", "approval request is already closed", current, err)
	default:
		return err
	}
}

// Decide records one approver's decision. The request row is locked so
// concurrent decisions on the same request apply one after another.
func (s *ApprovalService) Decide(ctx context.Context, in DecideInput) (*approval.Request, approval.Transition, error) {
	in.Actor = strings.TrimSpace(in.Actor)
	if in.Actor == "" {
		return nil, approval.Transition{}, validationError("ROSTER_ACTOR_REQUIRED", "actor is required")
	}
	if _, err := approval.ParseOutcome(string(in.Outcome)); err != nil {
		return nil, approval.Transition{}, validationError("ROSTER_INVALID_OUTCOME", err.Error())
	}
	if in.Outcome == approval.OutcomeReject && strings.TrimSpace(in.Reason) == "" {
		return nil, approval.Transition{}, validationError("ROSTER_REASON_REQUIRED", "a reason is required to reject")
	}
	now := s.now().UTC()

	type decided struct {
		req *approval.Request
		tr  approval.Transition
	}
	out, err := inTx(ctx, s.deps.Tx, func(txCtx context.Context) (decided, error) {
		req, err := s.deps.Approvals.GetForUpdate(txCtx, in.RequestID)
		if errors.Is(err, approval.ErrNotFound) {
			return decided{}, approvalNotFound(err)
		}
		if err != nil {
			return decided{}, err
		}
		tr, err := req.Decide(in.StepID, in.Actor, in.Outcome, in.Reason, now)
		if err != nil {
			return decided{}, decideError(err, req)
		}
		if err := s.deps.Approvals.Update(txCtx, req); err != nil {
			return decided{}, err
		}
		switch {
		case tr.Completed():
			err = s.setPlacement(txCtx, req, member.PlacementInProgress, now)
		case tr.Rejected():
			err = s.setPlacement(txCtx, req, member.PlacementRejected, now)
		}
		if err != nil {
			return decided{}, err
		}
		return decided{req: req, tr: tr}, nil
	})
	if err != nil {
		recordApprovalDecision(string(in.Outcome), string(KindOf(asServiceError(err))))
		return nil, approval.Transition{}, asServiceError(err)
	}

	recordApprovalDecision(string(in.Outcome), "ok")
	event := "roster.approval.step_decided"
	switch {
	case out.tr.Rejected():
		event = "roster.approval.rejected"
	case out.tr.Completed():
		event = "roster.approval.approved"
	}
	logWithFields(ctx, logrus.InfoLevel, event, logrus.Fields{
		"request_id": out.req.ID,
		"level":      out.tr.Level,
		"outcome":    out.tr.Outcome,
		"actor":      in.Actor,
	})
	w := appendAudit(ctx, s.deps.Audit, AuditEntityApproval, out.req.ID.String(), "approval."+string(in.Outcome), in.Actor, nil, out.req,
		map[string]any{"step_id": in.StepID.String(), "reason": strings.TrimSpace(in.Reason)}, now)
	notify(ctx, s.deps.Notifier, &ApprovalDecidedEvent{Request: *out.req, Transition: out.tr, Actor: in.Actor})
	if w != "" {
		return out.req, out.tr, partialSuccess([]string{w})
	}
	return out.req, out.tr, nil
}

// Cancel withdraws a request that is not yet fully approved and clears the
// tentative placement it created.
func (s *ApprovalService) Cancel(ctx context.Context, id uuid.UUID, actor, reason string) (*approval.Request, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, validationError("ROSTER_ACTOR_REQUIRED", "actor is required")
	}
	now := s.now().UTC()
	req, err := inTx(ctx, s.deps.Tx, func(txCtx context.Context) (*approval.Request, error) {
		req, err := s.deps.Approvals.GetForUpdate(txCtx, id)
		if errors.Is(err, approval.ErrNotFound) {
			return nil, approvalNotFound(err)
		}
		if err != nil {
			return nil, err
		}
		if err := req.Cancel(reason, now); err != nil {
			return nil, decideError(err, req)
		}
		if err := s.deps.Approvals.Update(txCtx, req); err != nil {
			return nil, err
		}
		if err := s.setPlacement(txCtx, req, member.PlacementNone, now); err != nil {
			return nil, err
		}
		return req, nil
	})
	if err != nil {
		return nil, asServiceError(err)
	}

	logWithFields(ctx, logrus.InfoLevel, "roster.approval.cancelled", logrus.Fields{
		"request_id": req.ID,
		"actor":      actor,
	})
	w := appendAudit(ctx, s.deps.Audit, AuditEntityApproval, req.ID.String(), "approval.cancel", actor, nil, req, map[string]any{"reason": req.CancelReason}, now)
	notify(ctx, s.deps.Notifier, &ApprovalCancelledEvent{Request: *req, Actor: actor})
	if w != "" {
		return req, partialSuccess([]string{w})
	}
	return req, nil
}

// setPlacement updates the member's placement when it still belongs to req.
// PlacementNone clears it.
func (s *ApprovalService) setPlacement(ctx context.Context, req *approval.Request, status member.PlacementStatus, now time.Time) error {
	m, err := s.deps.Members.GetForUpdate(ctx, req.RegistryID)
	if errors.Is(err, member.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if m.Placement.RequestID == nil || *m.Placement.RequestID != req.ID {
		return nil
	}
	if status == member.PlacementNone {
		m.ClearPlacement()
	} else {
		m.Placement.Status = status
	}
	m.UpdatedAt = now
	return s.deps.Members.Update(ctx, m)
}

// PendingFor lists open requests whose current step belongs to approverID.
func (s *ApprovalService) PendingFor(ctx context.Context, approverID string) ([]approval.Request, error) {
	approverID = strings.TrimSpace(approverID)
	if approverID == "" {
		return nil, validationError("ROSTER_ACTOR_REQUIRED", "approver is required")
	}
	reqs, err := s.deps.Approvals.PendingFor(ctx, approverID)
	if err != nil {
		return nil, asServiceError(err)
	}
	out := make([]approval.Request, 0, len(reqs))
	for i := range reqs {
		if cur := approval.CurrentStep(&reqs[i]); cur != nil && cur.ApproverID == approverID {
			out = append(out, reqs[i])
		}
	}
	return out, nil
}
