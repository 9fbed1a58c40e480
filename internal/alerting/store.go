package alerting

import (
	"context"
	"errors"
	"time"

	"github.com/elderguard/elderguard/internal/pagination"
)

// ErrAlertNotFound is returned when an alert id does not exist.
var ErrAlertNotFound = errors.New("alerting: alert not found")

// ErrAlreadyAcknowledged is returned when acknowledging an alert a care
// team member has already confirmed.
var ErrAlreadyAcknowledged = errors.New("alerting: alert already acknowledged")

// defaultListLimit caps List results when the caller passes no limit.
const defaultListLimit = 50

// ListOption configures optional parameters for list queries.
type ListOption func(*listOpts)

type listOpts struct {
	cursor *pagination.Cursor
}

func applyListOpts(opts []ListOption) listOpts {
	var o listOpts
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithCursor resumes a newest-first listing after the given cursor
// position. Malformed cursors are ignored and the listing starts over.
func WithCursor(cursor string) ListOption {
	return func(o *listOpts) {
		c, err := pagination.Decode(cursor)
		if err == nil {
			o.cursor = c
		}
	}
}

// AlertStore is the durable alert record. The recent buffer is a bounded
// projection on top of it; the store is authoritative.
type AlertStore interface {
	// Insert persists a new alert.
	Insert(ctx context.Context, a *Alert) error

	// Get returns one alert by id, or ErrAlertNotFound.
	Get(ctx context.Context, id string) (*Alert, error)

	// List returns alerts newest first. An empty caregiverID lists across
	// all caregivers. A non-positive limit applies the default.
	List(ctx context.Context, caregiverID string, limit int, opts ...ListOption) ([]*Alert, error)

	// Acknowledge records a care team member's confirmation. Returns
	// ErrAlertNotFound for unknown ids and ErrAlreadyAcknowledged if a
	// confirmation is already recorded.
	Acknowledge(ctx context.Context, id, by string, at time.Time) error
}
