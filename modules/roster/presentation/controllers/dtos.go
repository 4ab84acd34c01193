package controllers

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/roster/modules/roster/domain/approval"
	"github.com/iota-uz/roster/modules/roster/domain/delta"
	"github.com/iota-uz/roster/modules/roster/domain/member"
	"github.com/iota-uz/roster/modules/roster/domain/snapshot"
	"github.com/iota-uz/roster/modules/roster/services"
)

type importRequest struct {
	RequestID string         `json:"request_id" validate:"omitempty,max=128"`
	Category  string         `json:"category" validate:"required,oneof=active leave"`
	Scope     string         `json:"scope" validate:"omitempty,max=64"`
	DryRun    bool           `json:"dry_run"`
	Rows      []snapshot.Row `json:"rows" validate:"required"`
}

type structureMatchRequest struct {
	Command  string `json:"command"`
	Regional string `json:"regional"`
	Division string `json:"division"`
	Role     string `json:"role"`
	Rank     string `json:"rank"`
}

func (r structureMatchRequest) toQuery() (services.StructureQuery, error) {
	q := services.StructureQuery{Command: r.Command, Regional: r.Regional, Division: r.Division, Role: r.Role}
	if strings.TrimSpace(r.Rank) == "" {
		return q, nil
	}
	rank, err := member.ParseRank(r.Rank)
	if err != nil {
		return q, err
	}
	q.Rank = rank
	return q, nil
}

type createMemberRequest struct {
	RegistryID  int64      `json:"registry_id" validate:"required,gt=0"`
	Name        string     `json:"name" validate:"required,max=200"`
	Rank        string     `json:"rank" validate:"omitempty,max=8"`
	RoleID      *uuid.UUID `json:"role_id"`
	CommandID   *uuid.UUID `json:"command_id"`
	RegionalID  *uuid.UUID `json:"regional_id"`
	DivisionID  *uuid.UUID `json:"division_id"`
	OnLeave     bool       `json:"on_leave"`
	ImportScope string     `json:"import_scope" validate:"omitempty,max=64"`
}

func (r createMemberRequest) toMember() (*member.Member, error) {
	m := &member.Member{
		RegistryID:  r.RegistryID,
		Name:        r.Name,
		RoleID:      r.RoleID,
		CommandID:   r.CommandID,
		RegionalID:  r.RegionalID,
		DivisionID:  r.DivisionID,
		Active:      !r.OnLeave,
		OnLeave:     r.OnLeave,
		ImportScope: r.ImportScope,
	}
	if strings.TrimSpace(r.Rank) != "" {
		rank, err := member.ParseRank(r.Rank)
		if err != nil {
			return nil, err
		}
		m.Rank = rank
	}
	return m, nil
}

type updateMemberRequest struct {
	Name       *string    `json:"name" validate:"omitempty,max=200"`
	Rank       *string    `json:"rank" validate:"omitempty,max=8"`
	RoleID     *uuid.UUID `json:"role_id"`
	CommandID  *uuid.UUID `json:"command_id"`
	RegionalID *uuid.UUID `json:"regional_id"`
	DivisionID *uuid.UUID `json:"division_id"`
	OnLeave    *bool      `json:"on_leave"`
}

func (r updateMemberRequest) toPatch() (services.MemberPatch, error) {
	p := services.MemberPatch{
		Name:       r.Name,
		RoleID:     r.RoleID,
		CommandID:  r.CommandID,
		RegionalID: r.RegionalID,
		DivisionID: r.DivisionID,
		OnLeave:    r.OnLeave,
	}
	if r.Rank != nil {
		rank, err := member.ParseRank(*r.Rank)
		if err != nil {
			return p, err
		}
		p.Rank = &rank
	}
	return p, nil
}

type deactivateRequest struct {
	Reason string `json:"reason" validate:"required,oneof=voluntary_exit expelled transferred administrative"`
}

type promotionRequest struct {
	Rank       string            `json:"rank" validate:"required"`
	RoleID     *uuid.UUID        `json:"role_id"`
	CommandID  *uuid.UUID        `json:"command_id"`
	RegionalID *uuid.UUID        `json:"regional_id"`
	DivisionID *uuid.UUID        `json:"division_id"`
	Placement  *member.Placement `json:"placement"`
}

type resolveRequest struct {
	Justification string            `json:"justification" validate:"required,max=2000"`
	ActionCode    string            `json:"action_code"`
	Promotion     *promotionRequest `json:"promotion" validate:"omitempty"`
}

func (r resolveRequest) toInput(deltaID uuid.UUID, resolver string, roles []string) (services.ResolveInput, error) {
	code, err := delta.ParseActionCode(r.ActionCode)
	if err != nil {
		return services.ResolveInput{}, err
	}
	in := services.ResolveInput{
		DeltaID:       deltaID,
		ResolverID:    resolver,
		ResolverRoles: roles,
		Justification: r.Justification,
		ActionCode:    code,
	}
	if p := r.Promotion; p != nil {
		rank, err := member.ParseRank(p.Rank)
		if err != nil {
			return services.ResolveInput{}, err
		}
		in.Promotion = &services.PromotionPayload{
			Rank:       rank,
			RoleID:     p.RoleID,
			CommandID:  p.CommandID,
			RegionalID: p.RegionalID,
			DivisionID: p.DivisionID,
			Placement:  p.Placement,
		}
	}
	return in, nil
}

type batchResolveItem struct {
	DeltaID uuid.UUID `json:"delta_id" validate:"required"`
	resolveRequest
}

type batchResolveRequest struct {
	Items []batchResolveItem `json:"items" validate:"required,min=1,max=500,dive"`
}

type rangeRequest struct {
	From string `json:"from" validate:"required"`
	To   string `json:"to" validate:"required"`
}

func (r rangeRequest) bounds() (time.Time, time.Time, error) {
	from, err := parseTime(r.From)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseTime(r.To)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

type bulkResolveRequest struct {
	PreviewID     uuid.UUID `json:"preview_id" validate:"required"`
	From          string    `json:"from" validate:"required"`
	To            string    `json:"to" validate:"required"`
	Justification string    `json:"justification" validate:"required,max=2000"`
}

type stepRequest struct {
	Level        int    `json:"level" validate:"required,gt=0"`
	ApproverID   string `json:"approver_id" validate:"required"`
	ApproverRole string `json:"approver_role"`
}

type proposeRequest struct {
	RegistryID   int64         `json:"registry_id" validate:"required,gt=0"`
	Kind         string        `json:"kind" validate:"required,oneof=training probation"`
	PlacementRef string        `json:"placement_ref" validate:"max=200"`
	Steps        []stepRequest `json:"steps" validate:"required,min=1,dive"`
}

func (r proposeRequest) toInput(proposer string) services.ProposeInput {
	steps := make([]approval.StepSpec, 0, len(r.Steps))
	for _, s := range r.Steps {
		steps = append(steps, approval.StepSpec{Level: s.Level, ApproverID: s.ApproverID, ApproverRole: s.ApproverRole})
	}
	return services.ProposeInput{
		RegistryID:   r.RegistryID,
		Kind:         approval.Kind(r.Kind),
		PlacementRef: r.PlacementRef,
		ProposedBy:   proposer,
		Steps:        steps,
	}
}

type decideRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=approve reject"`
	Reason  string `json:"reason" validate:"max=2000"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=2000"`
}

type decideResponse struct {
	Request  *approval.Request `json:"request"`
	From     approval.Status   `json:"from"`
	To       approval.Status   `json:"to"`
	Warnings []string          `json:"warnings,omitempty"`
}

type listResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

type writeResponse[T any] struct {
	Data     T        `json:"data"`
	Warnings []string `json:"warnings,omitempty"`
}

type bulkResolveResponse struct {
	Resolved int `json:"resolved"`
}
