package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/roster/modules/roster/domain/member"
	"github.com/iota-uz/roster/modules/roster/domain/scope"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func formatRegistryID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// MemberPatch lists the editable fields; nil leaves a field untouched.
type MemberPatch struct {
	Name       *string
	Rank       *member.Rank
	RoleID     *uuid.UUID
	CommandID  *uuid.UUID
	RegionalID *uuid.UUID
	DivisionID *uuid.UUID
	OnLeave    *bool
}

func (p MemberPatch) Empty() bool {
	return p.Name == nil && p.Rank == nil && p.RoleID == nil && p.CommandID == nil &&
		p.RegionalID == nil && p.DivisionID == nil && p.OnLeave == nil
}

type MemberService struct {
	tx      Transactor
	members member.Repository
	audit   AuditRepository
	now     func() time.Time
}

func NewMemberService(tx Transactor, members member.Repository, audit AuditRepository) *MemberService {
	return &MemberService{tx: tx, members: members, audit: audit, now: time.Now}
}

func memberNotFound(err error) error {
	return notFoundError("ROSTER_MEMBER_NOT_FOUND", "member not found", err)
}

// Get returns the member when sc permits its placement. Members outside the
// scope are reported as not found.
func (s *MemberService) Get(ctx context.Context, sc scope.Scope, registryID int64) (*member.Member, error) {
	m, err := s.members.Get(ctx, registryID)
	if errors.Is(err, member.ErrNotFound) {
		return nil, memberNotFound(err)
	}
	if err != nil {
		return nil, asServiceError(err)
	}
	if !sc.Permits(m.RegionalID, m.DivisionID) {
		return nil, memberNotFound(member.ErrNotFound)
	}
	return m, nil
}

func (s *MemberService) List(ctx context.Context, sc scope.Scope, params member.FindParams) ([]member.Member, error) {
	if sc.Empty() {
		return []member.Member{}, nil
	}
	params.RegionalID, params.DivisionID = sc.Filter(params.RegionalID, params.DivisionID)
	params.Query = strings.TrimSpace(params.Query)
	if params.Limit <= 0 || params.Limit > maxPageSize {
		params.Limit = defaultPageSize
	}
	if params.Offset < 0 {
		params.Offset = 0
	}
	out, err := s.members.List(ctx, params)
	if err != nil {
		return nil, asServiceError(err)
	}
	return out, nil
}

// Create registers a member by hand, outside of an import.
func (s *MemberService) Create(ctx context.Context, m *member.Member, actor string) (*member.Member, []string, error) {
	m.Name = strings.TrimSpace(m.Name)
	if m.RegistryID <= 0 {
		return nil, nil, validationError("ROSTER_INVALID_REGISTRY_ID", "registry id must be positive")
	}
	if m.Name == "" {
		return nil, nil, validationError("ROSTER_INVALID_MEMBER", "name is required")
	}
	if m.ImportScope == "" {
		m.ImportScope = member.DefaultScope
	}
	now := s.now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now

	_, err := inTx(ctx, s.tx, func(txCtx context.Context) (struct{}, error) {
		return struct{}{}, s.members.Create(txCtx, m)
	})
	if errors.Is(err, member.ErrAlreadyExists) {
		return nil, nil, conflictError("ROSTER_MEMBER_EXISTS", "member already exists", nil, err)
	}
	if err != nil {
		return nil, nil, asServiceError(err)
	}
	warnings := s.auditChange(ctx, m.RegistryID, "member.create", actor, nil, m, nil)
	return m, warnings, partialIf(warnings)
}

// Update applies patch to a member visible within sc.
func (s *MemberService) Update(ctx context.Context, sc scope.Scope, registryID int64, patch MemberPatch, actor string) (*member.Member, []string, error) {
	if patch.Empty() {
		return nil, nil, validationError("ROSTER_EMPTY_PATCH", "nothing to update")
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, nil, validationError("ROSTER_INVALID_MEMBER", "name cannot be empty")
	}
	if patch.Rank != nil && !patch.Rank.Known() {
		return nil, nil, validationError("ROSTER_INVALID_RANK", "rank is out of range")
	}

	var before member.Member
	m, err := s.mutate(ctx, sc, registryID, func(m *member.Member) {
		before = m.Clone()
		if patch.Name != nil {
			m.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Rank != nil {
			m.Rank = *patch.Rank
		}
		if patch.RoleID != nil {
			m.RoleID = patch.RoleID
		}
		if patch.CommandID != nil {
			m.CommandID = patch.CommandID
		}
		if patch.RegionalID != nil {
			m.RegionalID = patch.RegionalID
		}
		if patch.DivisionID != nil {
			m.DivisionID = patch.DivisionID
		}
		if patch.OnLeave != nil {
			m.OnLeave = *patch.OnLeave
		}
	})
	if err != nil {
		return nil, nil, err
	}
	warnings := s.auditChange(ctx, registryID, "member.update", actor, &before, m, nil)
	return m, warnings, partialIf(warnings)
}

// Deactivate records the departure of a member. Rows are never deleted.
func (s *MemberService) Deactivate(ctx context.Context, sc scope.Scope, registryID int64, reason, actor string) (*member.Member, []string, error) {
	reason = strings.TrimSpace(reason)
	switch reason {
	case member.ReasonVoluntaryExit, member.ReasonExpelled, member.ReasonTransferred, member.ReasonAdministrative:
	default:
		return nil, nil, validationError("ROSTER_INVALID_REASON", "unknown deactivation reason "+strconv.Quote(reason))
	}

	now := s.now().UTC()
	var before member.Member
	m, err := s.mutate(ctx, sc, registryID, func(m *member.Member) {
		before = m.Clone()
		m.Deactivate(reason, now)
	})
	if err != nil {
		return nil, nil, err
	}
	warnings := s.auditChange(ctx, registryID, "member.deactivate", actor, &before, m, map[string]any{"reason": reason})
	return m, warnings, partialIf(warnings)
}

func (s *MemberService) mutate(ctx context.Context, sc scope.Scope, registryID int64, fn func(m *member.Member)) (*member.Member, error) {
	m, err := inTx(ctx, s.tx, func(txCtx context.Context) (*member.Member, error) {
		m, err := s.members.GetForUpdate(txCtx, registryID)
		if errors.Is(err, member.ErrNotFound) {
			return nil, memberNotFound(err)
		}
		if err != nil {
			return nil, err
		}
		if !sc.Permits(m.RegionalID, m.DivisionID) {
			return nil, memberNotFound(member.ErrNotFound)
		}
		fn(m)
		m.UpdatedAt = s.now().UTC()
		if err := s.members.Update(txCtx, m); err != nil {
			return nil, err
		}
		return m, nil
	})
	if err != nil {
		return nil, asServiceError(err)
	}
	return m, nil
}

func (s *MemberService) auditChange(ctx context.Context, registryID int64, action, actor string, before, after *member.Member, meta map[string]any) []string {
	var b any
	if before != nil {
		b = before
	}
	logWithFields(ctx, logrus.InfoLevel, "roster."+action, logrus.Fields{
		"registry_id": registryID,
		"actor":       actor,
	})
	if w := appendAudit(ctx, s.audit, AuditEntityMember, formatRegistryID(registryID), action, actor, b, after, meta, s.now()); w != "" {
		return []string{w}
	}
	return nil
}

// History lists the audit trail of one member, newest first.
func (s *MemberService) History(ctx context.Context, registryID int64, limit int) ([]AuditRecord, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	out, err := s.audit.ListFor(ctx, AuditEntityMember, formatRegistryID(registryID), limit)
	if err != nil {
		return nil, asServiceError(err)
	}
	return out, nil
}

func partialIf(warnings []string) error {
	if len(warnings) == 0 {
		return nil
	}
	return partialSuccess(warnings)
}
