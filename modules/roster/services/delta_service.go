package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/iota-uz/roster/modules/roster/domain/adjustment"
	"github.com/iota-uz/roster/modules/roster/domain/delta"
	"github.com/iota-uz/roster/modules/roster/domain/member"
	"github.com/iota-uz/roster/modules/roster/domain/scope"
)

// Authorizer answers whether a caller holds full administrative privilege.
// *authz.Service satisfies it.
type Authorizer interface {
	HasFullAdmin(ctx context.Context, userID string, roles []string) bool
}

// PromotionPayload carries the new placement of a promoted member. Nil ids
// keep the member's current value.
type PromotionPayload struct {
	Rank       member.Rank       `json:"rank"`
	RoleID     *uuid.UUID        `json:"role_id,omitempty"`
	CommandID  *uuid.UUID        `json:"command_id,omitempty"`
	RegionalID *uuid.UUID        `json:"regional_id,omitempty"`
	DivisionID *uuid.UUID        `json:"division_id,omitempty"`
	Placement  *member.Placement `json:"placement,omitempty"`
}

type ResolveInput struct {
	DeltaID       uuid.UUID
	ResolverID    string
	ResolverRoles []string
	Justification string
	ActionCode    delta.ActionCode
	Promotion     *PromotionPayload
}

type ResolveResult struct {
	Delta    delta.Delta    `json:"delta"`
	Member   *member.Member `json:"member,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
}

type BatchItemError struct {
	DeltaID uuid.UUID `json:"delta_id"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

// BatchReport aggregates a ResolveMany run. Resolved includes items that
// finished with warnings.
type BatchReport struct {
	Resolved []ResolveResult `json:"resolved"`
	Failed   []BatchItemError `json:"failed"`
}

type BulkResolveInput struct {
	PreviewID     uuid.UUID
	From          time.Time
	To            time.Time
	Justification string
	ResolverID    string
}

type DeltaOptions struct {
	PreviewTTL time.Duration
}

type DeltaDeps struct {
	Tx          Transactor
	Deltas      delta.Repository
	Members     member.Repository
	Adjustments adjustment.Queue
	Audit       AuditRepository
	Authz       Authorizer
	Notifier    Notifier
}

type DeltaService struct {
	deps DeltaDeps
	opts DeltaOptions
	now  func() time.Time
}

func NewDeltaService(deps DeltaDeps, opts DeltaOptions) *DeltaService {
	return &DeltaService{deps: deps, opts: opts, now: time.Now}
}

func (in *ResolveInput) normalize() error {
	in.ResolverID = strings.TrimSpace(in.ResolverID)
	in.Justification = strings.TrimSpace(in.Justification)
	if in.DeltaID == uuid.Nil {
		return validationError("ROSTER_INVALID_DELTA_ID", "delta id is required")
	}
	if in.ResolverID == "" {
		return validationError("ROSTER_RESOLVER_REQUIRED", "resolver is required")
	}
	if in.Justification == "" {
		return validationError("ROSTER_JUSTIFICATION_REQUIRED", "a justification is required to resolve a delta")
	}
	if in.ActionCode == delta.ActionNone {
		in.ActionCode = delta.ActionAcknowledge
	}
	if in.ActionCode == delta.ActionPromote {
		if in.Promotion == nil {
			return validationError("ROSTER_PROMOTION_PAYLOAD_REQUIRED", "PROMOTE requires the new rank and placement")
		}
		if !in.Promotion.Rank.Known() {
			return validationError("ROSTER_INVALID_RANK", "promotion rank is out of range")
		}
	}
	return nil
}

// Resolve applies an administrator decision to one pending delta. The
// status change and the member mutation commit together; audit, permission
// adjustment and notification are written afterwards and only degrade the
// result to partial success when they fail.
func (s *DeltaService) Resolve(ctx context.Context, in ResolveInput) (*ResolveResult, error) {
	ctx, span := tracer.Start(ctx, "roster.delta.resolve", trace.WithAttributes(
		attribute.String("roster.delta_id", in.DeltaID.String()),
		attribute.String("roster.action", string(in.ActionCode)),
	))
	defer span.End()

	if err := in.normalize(); err != nil {
		recordResolution(string(in.ActionCode), "invalid")
		return nil, err
	}
	now := s.now().UTC()

	type outcome struct {
		delta  *delta.Delta
		before *member.Member
		after  *member.Member
	}
	out, err := inTx(ctx, s.deps.Tx, func(txCtx context.Context) (outcome, error) {
		d, err := s.deps.Deltas.GetForUpdate(txCtx, in.DeltaID)
		if errors.Is(err, delta.ErrNotFound) {
			return outcome{}, notFoundError("ROSTER_DELTA_NOT_FOUND", "delta not found", err)
		}
		if err != nil {
			return outcome{}, err
		}
		if !d.Pending() {
			return outcome{}, conflictError("ROSTER_DELTA_ALREADY_RESOLVED", "delta was already resolved", d, delta.ErrAlreadyResolved)
		}

		res := delta.Resolution{
			ResolverID:    in.ResolverID,
			Justification: in.Justification,
			ActionCode:    in.ActionCode,
			Movement:      delta.Classify(d.Change, in.ActionCode, d.Observation),
			ResolvedAt:    now,
		}
		before, after, err := s.applyMemberEffect(txCtx, d, in, now)
		if err != nil {
			return outcome{}, err
		}

		if err := s.deps.Deltas.MarkResolved(txCtx, d.ID, res, d.RelatedDeltaID); err != nil {
			if errors.Is(err, delta.ErrAlreadyResolved) {
				recordWriteConflict("delta_resolve")
				current, getErr := s.deps.Deltas.Get(txCtx, d.ID)
				if getErr != nil {
					current = d
				}
				return outcome{}, conflictError("ROSTER_DELTA_ALREADY_RESOLVED", "delta was already resolved", current, err)
			}
			return outcome{}, err
		}
		if err := d.Resolve(res, d.RelatedDeltaID); err != nil {
			return outcome{}, err
		}
		return outcome{delta: d, before: before, after: after}, nil
	})
	if err != nil {
		recordResolution(string(in.ActionCode), string(KindOf(asServiceError(err))))
		return nil, asServiceError(err)
	}

	result := &ResolveResult{Delta: *out.delta, Member: out.after}
	result.Warnings = s.sideEffects(ctx, in, out.delta, out.before, out.after, now)

	logWithFields(ctx, logrus.InfoLevel, "roster.delta.resolved", logrus.Fields{
		"delta_id":    out.delta.ID,
		"registry_id": out.delta.RegistryID,
		"action":      in.ActionCode,
		"movement":    out.delta.Resolution.Movement,
		"resolver":    in.ResolverID,
		"warnings":    len(result.Warnings),
	})
	if len(result.Warnings) > 0 {
		recordResolution(string(in.ActionCode), string(KindPartialSuccess))
		return result, partialSuccess(result.Warnings)
	}
	recordResolution(string(in.ActionCode), "ok")
	return result, nil
}

// applyMemberEffect mutates the member row according to the action. It
// returns nil snapshots when the action does not touch the member.
func (s *DeltaService) applyMemberEffect(ctx context.Context, d *delta.Delta, in ResolveInput, now time.Time) (*member.Member, *member.Member, error) {
	var reason string
	switch in.ActionCode {
	case delta.ActionPromote, delta.ActionReturn, delta.ActionLeave:
	case delta.ActionExpel:
		reason = member.ReasonExpelled
	case delta.ActionVoluntaryExit:
		reason = member.ReasonVoluntaryExit
	case delta.ActionTransfer:
		reason = member.ReasonTransferred
	default:
		return nil, nil, nil
	}
	if reason != "" && d.Change.Appeared() {
		return nil, nil, nil
	}

	m, err := s.deps.Members.GetForUpdate(ctx, d.RegistryID)
	if errors.Is(err, member.ErrNotFound) {
		if in.ActionCode == delta.ActionPromote {
			return nil, nil, notFoundError("ROSTER_MEMBER_NOT_FOUND", "member to promote does not exist", err)
		}
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	before := m.Clone()

	switch in.ActionCode {
	case delta.ActionPromote:
		p := in.Promotion
		m.Rank = p.Rank
		if p.RoleID != nil {
			m.RoleID = p.RoleID
		}
		if p.CommandID != nil {
			m.CommandID = p.CommandID
		}
		if p.RegionalID != nil {
			m.RegionalID = p.RegionalID
		}
		if p.DivisionID != nil {
			m.DivisionID = p.DivisionID
		}
		if p.Placement != nil {
			m.Placement = *p.Placement
		}
	case delta.ActionReturn:
		m.OnLeave = false
		m.Active = true
	case delta.ActionLeave:
		m.OnLeave = true
	default:
		m.Deactivate(reason, now)
	}
	m.UpdatedAt = now
	if err := s.deps.Members.Update(ctx, m); err != nil {
		return nil, nil, err
	}
	return &before, m, nil
}

func (s *DeltaService) sideEffects(ctx context.Context, in ResolveInput, d *delta.Delta, before, after *member.Member, now time.Time) []string {
	var warnings []string
	meta := map[string]any{
		"delta_id":      d.ID.String(),
		"action":        string(in.ActionCode),
		"justification": in.Justification,
	}
	if after != nil {
		if w := appendAudit(ctx, s.deps.Audit, AuditEntityMember, formatRegistryID(d.RegistryID), "delta."+strings.ToLower(string(in.ActionCode)), in.ResolverID, before, after, meta, now); w != "" {
			warnings = append(warnings, w)
		}
	}

	if in.ActionCode == delta.ActionPromote && after != nil && !s.fullAdmin(ctx, in) {
		if w := s.enqueueAdjustment(ctx, in, d, before, after, now); w != "" {
			warnings = append(warnings, w)
		}
	}

	notify(ctx, s.deps.Notifier, &DeltaResolvedEvent{Delta: *d, Resolver: in.ResolverID, Warnings: warnings})
	return warnings
}

func (s *DeltaService) fullAdmin(ctx context.Context, in ResolveInput) bool {
	if s.deps.Authz == nil {
		return false
	}
	return s.deps.Authz.HasFullAdmin(ctx, in.ResolverID, in.ResolverRoles)
}

func (s *DeltaService) enqueueAdjustment(ctx context.Context, in ResolveInput, d *delta.Delta, before, after *member.Member, now time.Time) string {
	if s.deps.Adjustments == nil {
		return ""
	}
	deltaID := d.ID
	item := &adjustment.Item{
		ID:          uuid.New(),
		RegistryID:  d.RegistryID,
		DeltaID:     &deltaID,
		RequestedBy: in.ResolverID,
		Reason:      in.Justification,
		FromRank:    before.Rank,
		ToRank:      after.Rank,
		RoleID:      after.RoleID,
		Status:      adjustment.StatusPending,
		CreatedAt:   now,
	}
	if err := s.deps.Adjustments.Enqueue(ctx, item); err != nil {
		recordSideEffectFailure("permission_adjustment")
		logWithFields(ctx, logrus.WarnLevel, "roster.delta.side_effect_failed", logrus.Fields{
			"effect":   "permission_adjustment",
			"delta_id": d.ID,
			"error":    err.Error(),
		})
		return "permission adjustment not queued: " + err.Error()
	}
	return ""
}

// ResolveMany resolves each input independently and keeps going after
// failures. Partial-success items count as resolved.
func (s *DeltaService) ResolveMany(ctx context.Context, inputs []ResolveInput) BatchReport {
	report := BatchReport{Resolved: []ResolveResult{}, Failed: []BatchItemError{}}
	for _, in := range inputs {
		res, err := s.Resolve(ctx, in)
		if err != nil && !IsPartialSuccess(err) {
			item := BatchItemError{DeltaID: in.DeltaID, Message: err.Error()}
			var svcErr *ServiceError
			if errors.As(err, &svcErr) {
				item.Code = svcErr.Code
				item.Message = svcErr.Message
			}
			report.Failed = append(report.Failed, item)
			continue
		}
		report.Resolved = append(report.Resolved, *res)
	}
	return report
}

func validRange(from, to time.Time) error {
	if from.IsZero() || to.IsZero() {
		return validationError("ROSTER_INVALID_RANGE", "from and to are required")
	}
	if !from.Before(to) {
		return validationError("ROSTER_INVALID_RANGE", "from must be before to")
	}
	return nil
}

// storedInstant drops precision below what timestamptz keeps so a stored
// preview range compares equal to the one a client sends back.
func storedInstant(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// PreviewFalsePositives counts pending deltas created in [from, to) and
// stores the count so a later bulk resolution can be checked against it.
func (s *DeltaService) PreviewFalsePositives(ctx context.Context, from, to time.Time, requestedBy string) (*delta.BulkPreview, error) {
	if err := validRange(from, to); err != nil {
		return nil, err
	}
	from, to = storedInstant(from), storedInstant(to)
	requestedBy = strings.TrimSpace(requestedBy)
	if requestedBy == "" {
		return nil, validationError("ROSTER_RESOLVER_REQUIRED", "requested_by is required")
	}
	p, err := inTx(ctx, s.deps.Tx, func(txCtx context.Context) (*delta.BulkPreview, error) {
		n, err := s.deps.Deltas.CountPendingBetween(txCtx, from.UTC(), to.UTC())
		if err != nil {
			return nil, err
		}
		p := &delta.BulkPreview{
			ID:          uuid.New(),
			From:        from.UTC(),
			To:          to.UTC(),
			Count:       n,
			RequestedBy: requestedBy,
			CreatedAt:   s.now().UTC(),
		}
		if err := s.deps.Deltas.CreatePreview(txCtx, p); err != nil {
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		return nil, asServiceError(err)
	}
	return p, nil
}

// BulkResolveFalsePositives resolves every pending delta in the previewed
// range as FALSE_POSITIVE. The preview is consumed in the same transaction.
func (s *DeltaService) BulkResolveFalsePositives(ctx context.Context, in BulkResolveInput) (int, error) {
	ctx, span := tracer.Start(ctx, "roster.delta.bulk_resolve")
	defer span.End()

	in.Justification = strings.TrimSpace(in.Justification)
	in.ResolverID = strings.TrimSpace(in.ResolverID)
	if in.Justification == "" {
		return 0, validationError("ROSTER_JUSTIFICATION_REQUIRED", "a justification is required for bulk resolution")
	}
	if in.ResolverID == "" {
		return 0, validationError("ROSTER_RESOLVER_REQUIRED", "resolver is required")
	}
	if in.PreviewID == uuid.Nil {
		return 0, validationError("ROSTER_PREVIEW_REQUIRED", "run a preview before bulk resolution")
	}
	in.From, in.To = storedInstant(in.From), storedInstant(in.To)
	if err := validRange(in.From, in.To); err != nil {
		return 0, err
	}
	from, to := in.From.UTC(), in.To.UTC()
	now := s.now().UTC()

	count, err := inTx(ctx, s.deps.Tx, func(txCtx context.Context) (int, error) {
		p, err := s.deps.Deltas.GetPreviewForUpdate(txCtx, in.PreviewID)
		if errors.Is(err, delta.ErrPreviewNotFound) {
			return 0, notFoundError("ROSTER_PREVIEW_NOT_FOUND", "bulk preview not found", err)
		}
		if err != nil {
			return 0, err
		}
		if err := p.Usable(from, to, now, s.opts.PreviewTTL); err != nil {
			return 0, previewError(err, p)
		}

		ids, err := s.deps.Deltas.ListPendingIDsBetween(txCtx, from, to)
		if err != nil {
			return 0, err
		}
		res := delta.Resolution{
			ResolverID:    in.ResolverID,
			Justification: in.Justification,
			ActionCode:    delta.ActionFalsePositive,
			Movement:      delta.Unclassified,
			ResolvedAt:    now,
		}
		resolved := 0
		for _, id := range ids {
			err := s.deps.Deltas.MarkResolved(txCtx, id, res, nil)
			if errors.Is(err, delta.ErrAlreadyResolved) {
				continue
			}
			if err != nil {
				return 0, err
			}
			resolved++
		}
		if err := s.deps.Deltas.ConsumePreview(txCtx, p.ID, now); err != nil {
			return 0, err
		}
		return resolved, nil
	})
	if err != nil {
		return 0, asServiceError(err)
	}

	recordResolution(string(delta.ActionFalsePositive), "bulk")
	logWithFields(ctx, logrus.InfoLevel, "roster.delta.bulk_resolved", logrus.Fields{
		"preview_id": in.PreviewID,
		"from":       from,
		"to":         to,
		"resolved":   count,
		"resolver":   in.ResolverID,
	})
	notify(ctx, s.deps.Notifier, &BulkResolvedEvent{Count: count, Resolver: in.ResolverID})
	return count, nil
}

func previewError(err error, p *delta.BulkPreview) error {
	switch {
	case errors.Is(err, delta.ErrPreviewEmpty):
		return validationError("ROSTER_PREVIEW_EMPTY", err.Error())
	case errors.Is(err, delta.ErrPreviewMismatch):
		return validationError("ROSTER_PREVIEW_MISMATCH", err.Error())
	case errors.Is(err, delta.ErrPreviewExpired):
		return conflictError("ROSTER_PREVIEW_EXPIRED", err.Error(), p, err)
	default:
		return conflictError("ROSTER_PREVIEW_CONSUMED", err.Error(), p, err)
	}
}

// Get returns one delta.
func (s *DeltaService) Get(ctx context.Context, id uuid.UUID) (*delta.Delta, error) {
	d, err := s.deps.Deltas.Get(ctx, id)
	if errors.Is(err, delta.ErrNotFound) {
		return nil, notFoundError("ROSTER_DELTA_NOT_FOUND", "delta not found", err)
	}
	if err != nil {
		return nil, asServiceError(err)
	}
	return d, nil
}

// List returns deltas visible within sc. Mandatory scopes replace the
// caller's placement filters.
func (s *DeltaService) List(ctx context.Context, sc scope.Scope, params delta.FindParams) ([]delta.Delta, error) {
	if sc.Empty() {
		return []delta.Delta{}, nil
	}
	params.RegionalID, params.DivisionID = sc.Filter(params.RegionalID, params.DivisionID)
	if params.Limit <= 0 || params.Limit > maxPageSize {
		params.Limit = defaultPageSize
	}
	out, err := s.deps.Deltas.List(ctx, params)
	if err != nil {
		return nil, asServiceError(err)
	}
	return out, nil
}
