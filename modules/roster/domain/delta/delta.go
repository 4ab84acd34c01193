// Package delta models detected roster changes and their resolution.
package delta

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/roster/modules/roster/domain/snapshot"
)

var (
	ErrNotFound        = errors.New("delta not found")
	ErrAlreadyResolved = errors.New("delta already resolved")
)

// Change is the raw set-difference event the differ observed.
type Change string

const (
	ActiveAppeared    Change = "active_appeared"
	ActiveDisappeared Change = "active_disappeared"
	LeaveAppeared     Change = "leave_appeared"
	LeaveDisappeared  Change = "leave_disappeared"
)

// ChangeFor maps a category and direction to a Change.
func ChangeFor(category snapshot.Category, appeared bool) Change {
	switch {
	case category == snapshot.CategoryLeave && appeared:
		return LeaveAppeared
	case category == snapshot.CategoryLeave:
		return LeaveDisappeared
	case appeared:
		return ActiveAppeared
	default:
		return ActiveDisappeared
	}
}

func (c Change) Appeared() bool {
	return c == ActiveAppeared || c == LeaveAppeared
}

func (c Change) Valid() bool {
	switch c {
	case ActiveAppeared, ActiveDisappeared, LeaveAppeared, LeaveDisappeared:
		return true
	default:
		return false
	}
}

type MovementType string

const (
	NewEntrant         MovementType = "new_entrant"
	TransferIn         MovementType = "transfer_in"
	TransferOut        MovementType = "transfer_out"
	LeaveStart         MovementType = "leave_start"
	LeaveEnd           MovementType = "leave_end"
	DepartureVoluntary MovementType = "departure_voluntary"
	DepartureExpelled  MovementType = "departure_expelled"
	Unclassified       MovementType = "unclassified"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusResolved Status = "RESOLVED"
)

// ActionCode is the closed set of decisions an administrator may attach to
// a delta when resolving it.
type ActionCode string

const (
	ActionNone          ActionCode = ""
	ActionTransfer      ActionCode = "TRANSFER"
	ActionExpel         ActionCode = "EXPEL"
	ActionLeave         ActionCode = "LEAVE"
	ActionReturn        ActionCode = "RETURN"
	ActionVoluntaryExit ActionCode = "VOLUNTARY_EXIT"
	ActionNewEntry      ActionCode = "NEW_ENTRY"
	ActionPromote       ActionCode = "PROMOTE"
	ActionFalsePositive ActionCode = "FALSE_POSITIVE"
	ActionAcknowledge   ActionCode = "ACKNOWLEDGE"
)

var actionCodes = []ActionCode{
	ActionTransfer, ActionExpel, ActionLeave, ActionReturn, ActionVoluntaryExit,
	ActionNewEntry, ActionPromote, ActionFalsePositive, ActionAcknowledge,
}

// ParseActionCode accepts any casing and "-"/" " separators. An empty input
// yields ActionNone.
func ParseActionCode(raw string) (ActionCode, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	if s == "" {
		return ActionNone, nil
	}
	for _, c := range actionCodes {
		if string(c) == s {
			return c, nil
		}
	}
	return ActionNone, fmt.Errorf("unknown action code %q", raw)
}

// SystemResolver identifies resolutions applied by relation inference.
const SystemResolver = "system:relation-inference"

type Resolution struct {
	ResolverID    string       `json:"resolver_id"`
	Justification string       `json:"justification"`
	ActionCode    ActionCode   `json:"action_code,omitempty"`
	Movement      MovementType `json:"movement"`
	ResolvedAt    time.Time    `json:"resolved_at"`
}

// Delta is an immutable detection of change for one subject. Only the
// resolution fields are ever written after creation.
type Delta struct {
	ID             uuid.UUID    `json:"id"`
	ImportID       uuid.UUID    `json:"import_id"`
	RegistryID     int64        `json:"registry_id"`
	SubjectName    string       `json:"subject_name"`
	DivisionLabel  string       `json:"division_label"`
	Change         Change       `json:"change"`
	Movement       MovementType `json:"movement"`
	Observation    string       `json:"observation,omitempty"`
	ActionCode     ActionCode   `json:"action_code,omitempty"`
	Status         Status       `json:"status"`
	Resolution     *Resolution  `json:"resolution,omitempty"`
	RelatedDeltaID *uuid.UUID   `json:"related_delta_id,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

func (d Delta) Pending() bool {
	return d.Status == StatusPending
}

// Resolve moves the delta to RESOLVED. It never reverts.
func (d *Delta) Resolve(res Resolution, related *uuid.UUID) error {
	if d.Status == StatusResolved {
		return ErrAlreadyResolved
	}
	d.Status = StatusResolved
	r := res
	d.Resolution = &r
	d.RelatedDeltaID = related
	return nil
}

type FindParams struct {
	Status      Status
	RegistryID  int64
	ImportID    *uuid.UUID
	RegionalID  *uuid.UUID
	DivisionID  *uuid.UUID
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Offset      int
}

type Repository interface {
	Create(ctx context.Context, d *Delta) error
	Get(ctx context.Context, id uuid.UUID) (*Delta, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Delta, error)
	// MarkResolved is a conditional update; it returns ErrAlreadyResolved
	// when the row is no longer PENDING.
	MarkResolved(ctx context.Context, id uuid.UUID, res Resolution, related *uuid.UUID) error
	ListPendingFor(ctx context.Context, registryIDs []int64) ([]Delta, error)
	List(ctx context.Context, params FindParams) ([]Delta, error)
	CountPendingBetween(ctx context.Context, from, to time.Time) (int, error)
	ListPendingIDsBetween(ctx context.Context, from, to time.Time) ([]uuid.UUID, error)

	CreatePreview(ctx context.Context, p *BulkPreview) error
	GetPreviewForUpdate(ctx context.Context, id uuid.UUID) (*BulkPreview, error)
	ConsumePreview(ctx context.Context, id uuid.UUID, at time.Time) error
}
