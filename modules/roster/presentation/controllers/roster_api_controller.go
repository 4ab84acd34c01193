package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/iota-uz/roster/modules/roster/domain/scope"
	"github.com/iota-uz/roster/modules/roster/services"
	"github.com/iota-uz/roster/pkg/application"
	"github.com/iota-uz/roster/pkg/authz"
	"github.com/iota-uz/roster/pkg/composables"
	"github.com/iota-uz/roster/pkg/httpapi"
	"github.com/iota-uz/roster/pkg/middleware"
)

const maxBodyBytes = 32 << 20

// Authorizer is satisfied by *authz.Service.
type Authorizer interface {
	AuthorizeCaller(ctx context.Context, userID string, roles []string, object, action string) error
}

type RosterAPIController struct {
	imports     *services.ImportService
	deltas      *services.DeltaService
	members     *services.MemberService
	approvals   *services.ApprovalService
	adjustments *services.AdjustmentService
	scopes      *services.ScopeService
	matcher     *services.StructureMatcher
	authz       Authorizer
	validate    *validator.Validate
	apiPrefix   string
}

func NewRosterAPIController(app application.Application, authorizer Authorizer, apiPrefix string) application.Controller {
	if apiPrefix == "" {
		apiPrefix = "/roster/api"
	}
	return &RosterAPIController{
		imports:     app.Service(services.ImportService{}).(*services.ImportService),
		deltas:      app.Service(services.DeltaService{}).(*services.DeltaService),
		members:     app.Service(services.MemberService{}).(*services.MemberService),
		approvals:   app.Service(services.ApprovalService{}).(*services.ApprovalService),
		adjustments: app.Service(services.AdjustmentService{}).(*services.AdjustmentService),
		scopes:      app.Service(services.ScopeService{}).(*services.ScopeService),
		matcher:     app.Service(services.StructureMatcher{}).(*services.StructureMatcher),
		authz:       authorizer,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		apiPrefix:   apiPrefix,
	}
}

func (c *RosterAPIController) Key() string {
	return c.apiPrefix
}

func (c *RosterAPIController) Register(r *mux.Router) {
	api := r.PathPrefix(c.apiPrefix).Subrouter()
	api.Use(middleware.ProvideIdentity())

	api.HandleFunc("/imports", c.Import).Methods(http.MethodPost)
	api.HandleFunc("/structure:match", c.MatchStructure).Methods(http.MethodPost)
	api.HandleFunc("/scope", c.GetScope).Methods(http.MethodGet)

	api.HandleFunc("/members", c.ListMembers).Methods(http.MethodGet)
	api.HandleFunc("/members", c.CreateMember).Methods(http.MethodPost)
	api.HandleFunc("/members/{id:[0-9]+}", c.GetMember).Methods(http.MethodGet)
	api.HandleFunc("/members/{id:[0-9]+}", c.UpdateMember).Methods(http.MethodPatch)
	api.HandleFunc("/members/{id:[0-9]+}:deactivate", c.DeactivateMember).Methods(http.MethodPost)
	api.HandleFunc("/members/{id:[0-9]+}/history", c.MemberHistory).Methods(http.MethodGet)

	api.HandleFunc("/deltas", c.ListDeltas).Methods(http.MethodGet)
	api.HandleFunc("/deltas:batch-resolve", c.BatchResolve).Methods(http.MethodPost)
	api.HandleFunc("/deltas:preview-false-positives", c.PreviewFalsePositives).Methods(http.MethodPost)
	api.HandleFunc("/deltas:resolve-false-positives", c.ResolveFalsePositives).Methods(http.MethodPost)
	api.HandleFunc("/deltas/{id}", c.GetDelta).Methods(http.MethodGet)
	api.HandleFunc("/deltas/{id}:resolve", c.ResolveDelta).Methods(http.MethodPost)

	api.HandleFunc("/approvals", c.ProposeApproval).Methods(http.MethodPost)
	api.HandleFunc("/approvals/pending", c.PendingApprovals).Methods(http.MethodGet)
	api.HandleFunc("/approvals/{id}", c.GetApproval).Methods(http.MethodGet)
	api.HandleFunc("/approvals/{id}/steps/{step}:decide", c.DecideApproval).Methods(http.MethodPost)
	api.HandleFunc("/approvals/{id}:cancel", c.CancelApproval).Methods(http.MethodPost)

	api.HandleFunc("/permission-adjustments", c.ListAdjustments).Methods(http.MethodGet)
	api.HandleFunc("/permission-adjustments/{id}:complete", c.CompleteAdjustment).Methods(http.MethodPost)
}

// requireIdentity writes 401 when the gateway did not assert a caller.
func requireIdentity(w http.ResponseWriter, r *http.Request) (composables.Identity, bool) {
	id, ok := composables.UseIdentity(r.Context())
	if !ok || strings.TrimSpace(id.UserID) == "" {
		writeAPIError(w, r, http.StatusUnauthorized, "ROSTER_UNAUTHENTICATED", "caller identity missing")
		return composables.Identity{}, false
	}
	return id, true
}

// ensureAuthz checks the caller against the policy. It writes the response
// and returns false on denial.
func (c *RosterAPIController) ensureAuthz(w http.ResponseWriter, r *http.Request, id composables.Identity, object, action string) bool {
	if c.authz == nil {
		return true
	}
	err := c.authz.AuthorizeCaller(r.Context(), id.UserID, id.Roles, object, action)
	if err == nil {
		return true
	}
	if errors.Is(err, authz.ErrForbidden) {
		writeAPIError(w, r, http.StatusForbidden, "ROSTER_FORBIDDEN", err.Error())
		return false
	}
	writeAPIError(w, r, http.StatusInternalServerError, "ROSTER_INTERNAL", err.Error())
	return false
}

// begin combines the identity and authorization checks every handler opens
// with.
func (c *RosterAPIController) begin(w http.ResponseWriter, r *http.Request, object, action string) (composables.Identity, bool) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return id, false
	}
	if !c.ensureAuthz(w, r, id, object, action) {
		return id, false
	}
	return id, true
}

func (c *RosterAPIController) scopeOf(r *http.Request) scope.Scope {
	return c.scopes.Resolve(r.Context())
}

// decode reads a JSON body into out and runs struct validation.
func (c *RosterAPIController) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := decodeJSON(http.MaxBytesReader(w, r.Body, maxBodyBytes), out); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "ROSTER_INVALID_BODY", "invalid json body: "+err.Error())
		return false
	}
	if err := c.validate.Struct(out); err != nil {
		writeAPIError(w, r, http.StatusUnprocessableEntity, "ROSTER_INVALID_BODY", validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func decodeJSON(body io.ReadCloser, out any) error {
	defer func() { _ = body.Close() }()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func parseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func queryInt(r *http.Request, name string) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func pageParams(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "ROSTER_INVALID_QUERY", err.Error())
		return 0, 0, false
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "ROSTER_INVALID_QUERY", err.Error())
		return 0, 0, false
	}
	return limit, offset, true
}

// writeResult answers 200 with payload when err is nil or only a partial
// success; the warnings then ride along in the payload.
func writeResult[T any](w http.ResponseWriter, r *http.Request, status int, payload T, err error) {
	if err != nil && !services.IsPartialSuccess(err) {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, status, payload)
}

func warningsOf(err error) []string {
	var svcErr *services.ServiceError
	if services.IsPartialSuccess(err) && errors.As(err, &svcErr) {
		return svcErr.Warnings
	}
	return nil
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var svcErr *services.ServiceError
	if errors.As(err, &svcErr) {
		composables.UseLogger(r.Context()).WithError(err).WithField("code", svcErr.Code).Debug("roster.api.service_error")
		writeJSON(w, svcErr.Status, httpapi.ErrorEnvelope{
			Code:     svcErr.Code,
			Message:  svcErr.Message,
			Meta:     httpapi.RequestMeta(composables.UseRequestID(r.Context())),
			Current:  svcErr.Current,
			Warnings: svcErr.Warnings,
		})
		return
	}
	composables.UseLogger(r.Context()).WithError(err).Error("roster.api.unhandled_error")
	writeAPIError(w, r, http.StatusInternalServerError, "ROSTER_INTERNAL", "internal error")
}

func writeAPIError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	_ = httpapi.WriteError(w, status, code, message, httpapi.RequestMeta(composables.UseRequestID(r.Context())))
}

func writeJSON[T any](w http.ResponseWriter, status int, payload T) {
	_ = httpapi.WriteJSON(w, status, payload)
}
