package controllers

import (
	"net/http"

	"github.com/iota-uz/roster/modules/roster/domain/adjustment"
	"github.com/iota-uz/roster/modules/roster/domain/approval"
	"github.com/iota-uz/roster/modules/roster/services"
	"github.com/iota-uz/roster/pkg/authz"
)

func (c *RosterAPIController) ProposeApproval(w http.ResponseWriter, r *http.Request) {
	caller, ok := c.begin(w, r, authz.ObjectApprovals, authz.ActionPropose)
	if !ok {
		return
	}
	var req proposeRequest
	if !c.decode(w, r, &req) {
		return
	}
	if _, err := c.members.Get(r.Context(), c.scopeOf(r), req.RegistryID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	res, err := c.approvals.Propose(r.Context(), req.toInput(caller.UserID))
	writeResult(w, r, http.StatusCreated, writeResponse[*approval.Request]{Data: res, Warnings: warningsOf(err)}, err)
}

func (c *RosterAPIController) GetApproval(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.begin(w, r, authz.ObjectApprovals, authz.ActionRead); !ok {
		return
	}
	id, ok := uuidVar(w, r, "id")
	if !ok {
		return
	}
	req, err := c.approvals.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// PendingApprovals lists requests whose current step awaits the caller.
func (c *RosterAPIController) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	caller, ok := c.begin(w, r, authz.ObjectApprovals, authz.ActionRead)
	if !ok {
		return
	}
	items, err := c.approvals.PendingFor(r.Context(), caller.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[approval.Request]{Items: items})
}

func (c *RosterAPIController) DecideApproval(w http.ResponseWriter, r *http.Request) {
	caller, ok := c.begin(w, r, authz.ObjectApprovals, authz.ActionDecide)
	if !ok {
		return
	}
	requestID, ok := uuidVar(w, r, "id")
	if !ok {
		return
	}
	stepID, ok := uuidVar(w, r, "step")
	if !ok {
		return
	}
	var req decideRequest
	if !c.decode(w, r, &req) {
		return
	}
	outcome, err := approval.ParseOutcome(req.Outcome)
	if err != nil {
		writeAPIError(w, r, http.StatusUnprocessableEntity, "ROSTER_INVALID_OUTCOME", err.Error())
		return
	}
	res, tr, err := c.approvals.Decide(r.Context(), services.DecideInput{
		RequestID: requestID,
		StepID:    stepID,
		Actor:     caller.UserID,
		Outcome:   outcome,
		Reason:    req.Reason,
	})
	if err != nil && !services.IsPartialSuccess(err) {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decideResponse{Request: res, From: tr.From, To: tr.To, Warnings: warningsOf(err)})
}

func (c *RosterAPIController) CancelApproval(w http.ResponseWriter, r *http.Request) {
	caller, ok := c.begin(w, r, authz.ObjectApprovals, authz.ActionPropose)
	if !ok {
		return
	}
	id, ok := uuidVar(w, r, "id")
	if !ok {
		return
	}
	var req cancelRequest
	if !c.decode(w, r, &req) {
		return
	}
	res, err := c.approvals.Cancel(r.Context(), id, caller.UserID, req.Reason)
	writeResult(w, r, http.StatusOK, writeResponse[*approval.Request]{Data: res, Warnings: warningsOf(err)}, err)
}

// Permission adjustments are gated by the service on full-admin rights.

func (c *RosterAPIController) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	limit, offset, ok := pageParams(w, r)
	if !ok {
		return
	}
	items, err := c.adjustments.ListPending(r.Context(), caller.UserID, caller.Roles, limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[adjustment.Item]{Items: items, Limit: limit, Offset: offset})
}

func (c *RosterAPIController) CompleteAdjustment(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	id, ok := uuidVar(w, r, "id")
	if !ok {
		return
	}
	item, err := c.adjustments.Complete(r.Context(), id, caller.UserID, caller.Roles)
	writeResult(w, r, http.StatusOK, writeResponse[*adjustment.Item]{Data: item, Warnings: warningsOf(err)}, err)
}
