// Package adjustment tracks role-grant catch-up work left behind when a
// promotion is applied by someone without full administrative privilege.
package adjustment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/roster/modules/roster/domain/member"
)

var (
	ErrNotFound         = errors.New("permission adjustment not found")
	ErrAlreadyCompleted = errors.New("permission adjustment already completed")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

type Item struct {
	ID          uuid.UUID   `json:"id"`
	RegistryID  int64       `json:"registry_id"`
	DeltaID     *uuid.UUID  `json:"delta_id,omitempty"`
	RequestedBy string      `json:"requested_by"`
	Reason      string      `json:"reason"`
	FromRank    member.Rank `json:"from_rank"`
	ToRank      member.Rank `json:"to_rank"`
	RoleID      *uuid.UUID  `json:"role_id,omitempty"`
	Status      Status      `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	CompletedBy string      `json:"completed_by,omitempty"`
}

func (i *Item) Complete(by string, at time.Time) error {
	if i.Status == StatusCompleted {
		return ErrAlreadyCompleted
	}
	t := at.UTC()
	i.Status = StatusCompleted
	i.CompletedAt = &t
	i.CompletedBy = by
	return nil
}

type Queue interface {
	Enqueue(ctx context.Context, item *Item) error
	ListPending(ctx context.Context, limit, offset int) ([]Item, error)
	// Complete returns ErrNotFound or ErrAlreadyCompleted.
	Complete(ctx context.Context, id uuid.UUID, by string, at time.Time) (*Item, error)
}
