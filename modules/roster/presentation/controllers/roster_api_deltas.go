package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/iota-uz/roster/modules/roster/domain/delta"
	"github.com/iota-uz/roster/modules/roster/domain/scope"
	"github.com/iota-uz/roster/modules/roster/services"
	"github.com/iota-uz/roster/pkg/authz"
)

func uuidVar(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "ROSTER_INVALID_ID", name+" must be a uuid")
		return uuid.Nil, false
	}
	return id, true
}

var errDeltaHidden = &services.ServiceError{
	Status:  http.StatusNotFound,
	Code:    "ROSTER_DELTA_NOT_FOUND",
	Kind:    services.KindNotFound,
	Message: "delta not found",
}

// visibleDelta loads a delta and hides it when its member is outside sc.
func (c *RosterAPIController) visibleDelta(ctx context.Context, sc scope.Scope, id uuid.UUID) (*delta.Delta, error) {
	d, err := c.deltas.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sc.Level == scope.LevelOrganization {
		return d, nil
	}
	if _, err := c.members.Get(ctx, sc, d.RegistryID); err != nil {
		if services.IsKind(err, services.KindNotFound) {
			return nil, errDeltaHidden
		}
		return nil, err
	}
	return d, nil
}

func (c *RosterAPIController) ListDeltas(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.begin(w, r, authz.ObjectDeltas, authz.ActionRead); !ok {
		return
	}
	limit, offset, ok := pageParams(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	params := delta.FindParams{Limit: limit, Offset: offset}
	if s := strings.ToUpper(strings.TrimSpace(q.Get("status"))); s != "" {
		switch delta.Status(s) {
		case delta.StatusPending, delta.StatusResolved:
			params.Status = delta.Status(s)
		default:
			writeAPIError(w, r, http.StatusBadRequest, "ROSTER_INVALID_QUERY", "status must be PENDING or RESOLVED")
			return
		}
	}
	if v := strings.TrimSpace(q.Get("registry_id")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			writeAPIError(w, r, http.StatusBadRequest, "ROSTER_INVALID_QUERY", "registry_id must be a positive integer")
			return
		}
		params.RegistryID = id
	}
	var err error
	for name, dst := range map[string]**uuid.UUID{
		"import_id":   &params.ImportID,
		"regional_id": &params.RegionalID,
		"division_id": &params.DivisionID,
	} {
		if *dst, err = uuidQuery(r, name); err != nil {
			writeAPIError(w, r, http.StatusBadRequest, "ROSTER_INVALID_QUERY", name+": "+err.Error())
			return
		}
	}
	for name, dst := range map[string]**time.Time{"from": &params.CreatedFrom, "to": &params.CreatedTo} {
		t, err := parseTime(q.Get(name))
		if err != nil {
			writeAPIError(w, r, http.StatusBadRequest, "ROSTER_INVALID_QUERY", name+": "+err.Error())
			return
		}
		if !t.IsZero() {
			*dst = &t
		}
	}
	items, err := c.deltas.List(r.Context(), c.scopeOf(r), params)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[delta.Delta]{Items: items, Limit: limit, Offset: offset})
}

func (c *RosterAPIController) GetDelta(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.begin(w, r, authz.ObjectDeltas, authz.ActionRead); !ok {
		return
	}
	id, ok := uuidVar(w, r, "id")
	if !ok {
		return
	}
	d, err := c.visibleDelta(r.Context(), c.scopeOf(r), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (c *RosterAPIController) ResolveDelta(w http.ResponseWriter, r *http.Request) {
	caller, ok := c.begin(w, r, authz.ObjectDeltas, authz.ActionResolve)
	if !ok {
		return
	}
	id, ok := uuidVar(w, r, "id")
	if !ok {
		return
	}
	var req resolveRequest
	if !c.decode(w, r, &req) {
		return
	}
	in, err := req.toInput(id, caller.UserID, caller.Roles)
	if err != nil {
		writeAPIError(w, r, http.StatusUnprocessableEntity, "ROSTER_INVALID_RESOLUTION", err.Error())
		return
	}
	if _, err := c.visibleDelta(r.Context(), c.scopeOf(r), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	res, err := c.deltas.Resolve(r.Context(), in)
	writeResult(w, r, http.StatusOK, res, err)
}

func (c *RosterAPIController) BatchResolve(w http.ResponseWriter, r *http.Request) {
	caller, ok := c.begin(w, r, authz.ObjectDeltas, authz.ActionResolve)
	if !ok {
		return
	}
	var req batchResolveRequest
	if !c.decode(w, r, &req) {
		return
	}
	sc := c.scopeOf(r)
	report := services.BatchReport{Resolved: []services.ResolveResult{}, Failed: []services.BatchItemError{}}
	inputs := make([]services.ResolveInput, 0, len(req.Items))
	for _, item := range req.Items {
		in, err := item.toInput(item.DeltaID, caller.UserID, caller.Roles)
		if err != nil {
			report.Failed = append(report.Failed, services.BatchItemError{DeltaID: item.DeltaID, Code: "ROSTER_INVALID_RESOLUTION", Message: err.Error()})
			continue
		}
		if _, err := c.visibleDelta(r.Context(), sc, item.DeltaID); err != nil {
			report.Failed = append(report.Failed, batchItemError(item.DeltaID, err))
			continue
		}
		inputs = append(inputs, in)
	}
	if len(inputs) > 0 {
		out := c.deltas.ResolveMany(r.Context(), inputs)
		report.Resolved = append(report.Resolved, out.Resolved...)
		report.Failed = append(report.Failed, out.Failed...)
	}
	writeJSON(w, http.StatusOK, report)
}

func batchItemError(id uuid.UUID, err error) services.BatchItemError {
	var se *services.ServiceError
	if errors.As(err, &se) {
		return services.BatchItemError{DeltaID: id, Code: se.Code, Message: se.Message}
	}
	return services.BatchItemError{DeltaID: id, Code: "ROSTER_INTERNAL", Message: err.Error()}
}

func (c *RosterAPIController) PreviewFalsePositives(w http.ResponseWriter, r *http.Request) {
	caller, ok := c.begin(w, r, authz.ObjectDeltas, authz.ActionBulkResolve)
	if !ok {
		return
	}
	var req rangeRequest
	if !c.decode(w, r, &req) {
		return
	}
	from, to, err := req.bounds()
	if err != nil {
		writeAPIError(w, r, http.StatusUnprocessableEntity, "ROSTER_INVALID_RANGE", err.Error())
		return
	}
	p, err := c.deltas.PreviewFalsePositives(r.Context(), from, to, caller.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (c *RosterAPIController) ResolveFalsePositives(w http.ResponseWriter, r *http.Request) {
	caller, ok := c.begin(w, r, authz.ObjectDeltas, authz.ActionBulkResolve)
	if !ok {
		return
	}
	var req bulkResolveRequest
	if !c.decode(w, r, &req) {
		return
	}
	from, to, err := rangeRequest{From: req.From, To: req.To}.bounds()
	if err != nil {
		writeAPIError(w, r, http.StatusUnprocessableEntity, "ROSTER_INVALID_RANGE", err.Error())
		return
	}
	n, err := c.deltas.BulkResolveFalsePositives(r.Context(), services.BulkResolveInput{
		PreviewID:     req.PreviewID,
		From:          from,
		To:            to,
		Justification: req.Justification,
		ResolverID:    caller.UserID,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkResolveResponse{Resolved: n})
}
