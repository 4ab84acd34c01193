package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/iota-uz/roster/modules/roster/domain/member"
	"github.com/iota-uz/roster/modules/roster/domain/snapshot"
	"github.com/iota-uz/roster/modules/roster/services"
	"github.com/iota-uz/roster/pkg/authz"
)

func registryIDVar(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeAPIError(w, r, http.StatusBadRequest, "ROSTER_INVALID_REGISTRY_ID", "registry id must be a positive integer")
		return 0, false
	}
	return id, true
}

func uuidQuery(r *http.Request, name string) (*uuid.UUID, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func boolQuery(r *http.Request, name string) (*bool, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *RosterAPIController) Import(w http.ResponseWriter, r *http.Request) {
	id, ok := c.begin(w, r, authz.ObjectImports, authz.ActionRun)
	if !ok {
		return
	}
	var req importRequest
	if !c.decode(w, r, &req) {
		return
	}
	category, err := snapshot.ParseCategory(req.Category)
	if err != nil {
		writeAPIError(w, r, http.StatusUnprocessableEntity, "ROSTER_INVALID_CATEGORY", err.Error())
		return
	}
	requestID := strings.TrimSpace(req.RequestID)
	if requestID == "" {
		requestID = r.Header.Get("Idempotency-Key")
	}
	res, err := c.imports.Import(r.Context(), services.ImportInput{
		RequestID:  requestID,
		Category:   category,
		ScopeKey:   req.Scope,
		ImportedBy: id.UserID,
		Rows:       req.Rows,
		DryRun:     req.DryRun,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed || res.DryRun {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (c *RosterAPIController) MatchStructure(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.begin(w, r, authz.ObjectStructure, authz.ActionRead); !ok {
		return
	}
	var req structureMatchRequest
	if !c.decode(w, r, &req) {
		return
	}
	q, err := req.toQuery()
	if err != nil {
		writeAPIError(w, r, http.StatusUnprocessableEntity, "ROSTER_INVALID_RANK", err.Error())
		return
	}
	res, err := c.matcher.Match(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (c *RosterAPIController) GetScope(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireIdentity(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.scopeOf(r))
}

func (c *RosterAPIController) ListMembers(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.begin(w, r, authz.ObjectMembers, authz.ActionRead); !ok {
		return
	}
	limit, offset, ok := pageParams(w, r)
	if !ok {
		return
	}
	params := member.FindParams{Query: r.URL.Query().Get("q"), Limit: limit, Offset: offset}
	var err error
	if params.RegionalID, err = uuidQuery(r, "regional_id"); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "ROSTER_INVALID_QUERY", "regional_id: "+err.Error())
		return
	}
	if params.DivisionID, err = uuidQuery(r, "division_id"); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "ROSTER_INVALID_QUERY", "division_id: "+err.Error())
		return
	}
	if params.Active, err = boolQuery(r, "active"); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "ROSTER_INVALID_QUERY", "active: "+err.Error())
		return
	}
	if params.OnLeave, err = boolQuery(r, "on_leave"); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "ROSTER_INVALID_QUERY", "on_leave: "+err.Error())
		return
	}
	items, err := c.members.List(r.Context(), c.scopeOf(r), params)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[member.Member]{Items: items, Limit: limit, Offset: offset})
}

func (c *RosterAPIController) GetMember(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.begin(w, r, authz.ObjectMembers, authz.ActionRead); !ok {
		return
	}
	registryID, ok := registryIDVar(w, r)
	if !ok {
		return
	}
	m, err := c.members.Get(r.Context(), c.scopeOf(r), registryID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (c *RosterAPIController) CreateMember(w http.ResponseWriter, r *http.Request) {
	id, ok := c.begin(w, r, authz.ObjectMembers, authz.ActionEdit)
	if !ok {
		return
	}
	var req createMemberRequest
	if !c.decode(w, r, &req) {
		return
	}
	m, err := req.toMember()
	if err != nil {
		writeAPIError(w, r, http.StatusUnprocessableEntity, "ROSTER_INVALID_RANK", err.Error())
		return
	}
	if !c.scopeOf(r).Permits(m.RegionalID, m.DivisionID) {
		writeAPIError(w, r, http.StatusForbidden, "ROSTER_OUT_OF_SCOPE", "placement is outside the caller's scope")
		return
	}
	created, warnings, err := c.members.Create(r.Context(), m, id.UserID)
	writeResult(w, r, http.StatusCreated, writeResponse[*member.Member]{Data: created, Warnings: warnings}, err)
}

func (c *RosterAPIController) UpdateMember(w http.ResponseWriter, r *http.Request) {
	id, ok := c.begin(w, r, authz.ObjectMembers, authz.ActionEdit)
	if !ok {
		return
	}
	registryID, ok := registryIDVar(w, r)
	if !ok {
		return
	}
	var req updateMemberRequest
	if !c.decode(w, r, &req) {
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		writeAPIError(w, r, http.StatusUnprocessableEntity, "ROSTER_INVALID_RANK", err.Error())
		return
	}
	sc := c.scopeOf(r)
	if (patch.RegionalID != nil || patch.DivisionID != nil) && sc.Mandatory {
		// A scoped admin may not move a member out of their own unit.
		regional, division := patch.RegionalID, patch.DivisionID
		if regional == nil {
			regional = sc.RegionalID
		}
		if division == nil {
			division = sc.DivisionID
		}
		if !sc.Permits(regional, division) {
			writeAPIError(w, r, http.StatusForbidden, "ROSTER_OUT_OF_SCOPE", "placement is outside the caller's scope")
			return
		}
	}
	m, warnings, err := c.members.Update(r.Context(), sc, registryID, patch, id.UserID)
	writeResult(w, r, http.StatusOK, writeResponse[*member.Member]{Data: m, Warnings: warnings}, err)
}

func (c *RosterAPIController) DeactivateMember(w http.ResponseWriter, r *http.Request) {
	id, ok := c.begin(w, r, authz.ObjectMembers, authz.ActionEdit)
	if !ok {
		return
	}
	registryID, ok := registryIDVar(w, r)
	if !ok {
		return
	}
	var req deactivateRequest
	if !c.decode(w, r, &req) {
		return
	}
	m, warnings, err := c.members.Deactivate(r.Context(), c.scopeOf(r), registryID, req.Reason, id.UserID)
	writeResult(w, r, http.StatusOK, writeResponse[*member.Member]{Data: m, Warnings: warnings}, err)
}

func (c *RosterAPIController) MemberHistory(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.begin(w, r, authz.ObjectMembers, authz.ActionRead); !ok {
		return
	}
	registryID, ok := registryIDVar(w, r)
	if !ok {
		return
	}
	limit, _, ok := pageParams(w, r)
	if !ok {
		return
	}
	if _, err := c.members.Get(r.Context(), c.scopeOf(r), registryID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	records, err := c.members.History(r.Context(), registryID, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[services.AuditRecord]{Items: records, Limit: limit})
}
