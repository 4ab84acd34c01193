// Package snapshot models point-in-time roster imports and the set algebra
// used to compare them.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("snapshot import not found")

// Category is the roster population a snapshot describes.
type Category string

const (
	CategoryActive Category = "active"
	CategoryLeave  Category = "leave"
)

func ParseCategory(raw string) (Category, error) {
	switch Category(strings.ToLower(strings.TrimSpace(raw))) {
	case CategoryActive:
		return CategoryActive, nil
	case CategoryLeave:
		return CategoryLeave, nil
	default:
		return "", fmt.Errorf("unknown roster category %q (expected active|leave)", raw)
	}
}

// Row is one parsed spreadsheet line. Text fields arrive as typed by the
// source; Rank is kept raw so malformed values can be reported.
type Row struct {
	Line        int        `json:"line,omitempty"`
	RegistryID  int64      `json:"registry_id"`
	Name        string     `json:"name"`
	Command     string     `json:"command,omitempty"`
	Regional    string     `json:"regional,omitempty"`
	Division    string     `json:"division,omitempty"`
	Role        string     `json:"role,omitempty"`
	Rank        string     `json:"rank,omitempty"`
	Observation string     `json:"observation,omitempty"`
	ActionCode  string     `json:"action_code,omitempty"`
	LeaveStart  *time.Time `json:"leave_start,omitempty"`
	LeaveEnd    *time.Time `json:"leave_end,omitempty"`
}

type Summary struct {
	Entered       []int64 `json:"entered"`
	Left          []int64 `json:"left"`
	Deltas        int     `json:"deltas"`
	AutoResolved  int     `json:"auto_resolved"`
	RowIssues     int     `json:"row_issues"`
	MatchFailures int     `json:"match_failures"`
}

// Import is the stored record of one snapshot load. Rows are the baseline
// for the next import of the same category and scope.
type Import struct {
	ID         uuid.UUID `json:"id"`
	RequestID  string    `json:"request_id"`
	Category   Category  `json:"category"`
	ScopeKey   string    `json:"scope_key"`
	ImportedBy string    `json:"imported_by"`
	ImportedAt time.Time `json:"imported_at"`
	Rows       []Row     `json:"rows"`
	Summary    Summary   `json:"summary"`
}

// Keys returns the registry ids present in the import.
func (i *Import) Keys() KeySet {
	s := make(KeySet, len(i.Rows))
	for _, r := range i.Rows {
		s.Add(r.RegistryID)
	}
	return s
}

// RowsByID indexes rows by registry id; later duplicates win.
func (i *Import) RowsByID() map[int64]Row {
	out := make(map[int64]Row, len(i.Rows))
	for _, r := range i.Rows {
		out[r.RegistryID] = r
	}
	return out
}

type Repository interface {
	GetByRequestID(ctx context.Context, requestID string) (*Import, error)
	// Latest returns the most recent import for category and scope, or
	// ErrNotFound when none exists.
	Latest(ctx context.Context, category Category, scopeKey string) (*Import, error)
	Create(ctx context.Context, imp *Import) error
}
