package member

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("member not found")
	ErrAlreadyExists = errors.New("member already exists")
)

const DefaultScope = "global"

// Deactivation reason codes.
const (
	ReasonVoluntaryExit  = "voluntary_exit"
	ReasonExpelled       = "expelled"
	ReasonTransferred    = "transferred"
	ReasonAdministrative = "administrative"
)

type PlacementStatus string

const (
	PlacementNone       PlacementStatus = ""
	PlacementProposed   PlacementStatus = "proposed"
	PlacementInProgress PlacementStatus = "in_progress"
	PlacementRejected   PlacementStatus = "rejected"
)

// Placement references a staged training/probation assignment.
type Placement struct {
	RequestID *uuid.UUID      `json:"request_id,omitempty"`
	Kind      string          `json:"kind,omitempty"`
	Ref       string          `json:"ref,omitempty"`
	Status    PlacementStatus `json:"status,omitempty"`
}

func (p Placement) Empty() bool {
	return p.RequestID == nil && p.Status == PlacementNone
}

type Member struct {
	RegistryID    int64      `json:"registry_id"`
	Name          string     `json:"name"`
	Rank          Rank       `json:"rank"`
	RoleID        *uuid.UUID `json:"role_id,omitempty"`
	RoleLabel     string     `json:"role_label,omitempty"`
	CommandID     *uuid.UUID `json:"command_id,omitempty"`
	CommandLabel  string     `json:"command_label,omitempty"`
	RegionalID    *uuid.UUID `json:"regional_id,omitempty"`
	RegionalLabel string     `json:"regional_label,omitempty"`
	DivisionID    *uuid.UUID `json:"division_id,omitempty"`
	DivisionLabel string     `json:"division_label,omitempty"`
	Active        bool       `json:"active"`
	OnLeave       bool       `json:"on_leave"`
	Placement     Placement  `json:"placement"`
	ImportScope   string     `json:"import_scope"`

	DeactivatedAt      *time.Time `json:"deactivated_at,omitempty"`
	DeactivationReason string     `json:"deactivation_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy suitable for before/after comparisons.
func (m Member) Clone() Member {
	out := m
	out.RoleID = cloneID(m.RoleID)
	out.CommandID = cloneID(m.CommandID)
	out.RegionalID = cloneID(m.RegionalID)
	out.DivisionID = cloneID(m.DivisionID)
	out.Placement.RequestID = cloneID(m.Placement.RequestID)
	if m.DeactivatedAt != nil {
		t := *m.DeactivatedAt
		out.DeactivatedAt = &t
	}
	return out
}

// Deactivate removes the member from both rosters. Members are never deleted.
func (m *Member) Deactivate(reason string, at time.Time) {
	m.Active = false
	m.OnLeave = false
	m.DeactivationReason = reason
	t := at.UTC()
	m.DeactivatedAt = &t
}

// Reactivate clears a previous deactivation.
func (m *Member) Reactivate() {
	m.DeactivatedAt = nil
	m.DeactivationReason = ""
}

func (m *Member) ClearPlacement() {
	m.Placement = Placement{}
}

func cloneID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

type FindParams struct {
	RegionalID *uuid.UUID
	DivisionID *uuid.UUID
	Active     *bool
	OnLeave    *bool
	Query      string
	Limit      int
	Offset     int
}

type Repository interface {
	Get(ctx context.Context, registryID int64) (*Member, error)
	GetForUpdate(ctx context.Context, registryID int64) (*Member, error)
	List(ctx context.Context, params FindParams) ([]Member, error)
	// PresentIDs lists members currently flagged on the active (onLeave=false)
	// or leave (onLeave=true) roster for the given import scope.
	PresentIDs(ctx context.Context, scope string, onLeave bool) ([]int64, error)
	Create(ctx context.Context, m *Member) error
	Update(ctx context.Context, m *Member) error
}
