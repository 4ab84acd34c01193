package delta

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPreviewNotFound = errors.New("bulk preview not found")
	ErrPreviewConsumed = errors.New("bulk preview already used")
	ErrPreviewExpired  = errors.New("bulk preview expired")
	ErrPreviewMismatch = errors.New("bulk preview covers a different time range")
	ErrPreviewEmpty    = errors.New("bulk preview matched no pending deltas")
)

// BulkPreview records the dry-run count an operator saw before a bulk
// false-positive resolution.
type BulkPreview struct {
	ID          uuid.UUID  `json:"id"`
	From        time.Time  `json:"from"`
	To          time.Time  `json:"to"`
	Count       int        `json:"count"`
	RequestedBy string     `json:"requested_by"`
	CreatedAt   time.Time  `json:"created_at"`
	ConsumedAt  *time.Time `json:"consumed_at,omitempty"`
}

// Usable checks that the preview may authorize a bulk resolution of
// [from, to) at now.
func (p *BulkPreview) Usable(from, to, now time.Time, ttl time.Duration) error {
	if p.ConsumedAt != nil {
		return ErrPreviewConsumed
	}
	if ttl > 0 && now.Sub(p.CreatedAt) > ttl {
		return ErrPreviewExpired
	}
	if !p.From.Equal(from) || !p.To.Equal(to) {
		return ErrPreviewMismatch
	}
	if p.Count <= 0 {
		return ErrPreviewEmpty
	}
	return nil
}
