package behavior

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/elderguard/elderguard/internal/logging"
	"github.com/elderguard/elderguard/internal/metrics"
	"github.com/elderguard/elderguard/internal/traces"
)

// Window is the fixed lookback for behavior snapshots.
const Window = 7 * 24 * time.Hour

// CollectionError wraps a source failure during snapshot assembly.
// Analysis aborts on collection failure; rules never see partial data.
type CollectionError struct {
	Source string
	Err    error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("collect %s: %v", e.Source, e.Err)
}

func (e *CollectionError) Unwrap() error { return e.Err }

// ContactAttemptSource reads contact attempts for one caregiver/elder pair.
type ContactAttemptSource interface {
	ContactAttempts(ctx context.Context, caregiverID, userID string, since time.Time) ([]ContactAttempt, error)
}

// PermissionEventSource reads permission events for one caregiver/elder pair.
type PermissionEventSource interface {
	PermissionEvents(ctx context.Context, caregiverID, userID string, since time.Time) ([]PermissionEvent, error)
}

// EmergencyInteractionSource reads emergency-system interactions for one
// caregiver/elder pair.
type EmergencyInteractionSource interface {
	EmergencyInteractions(ctx context.Context, caregiverID, userID string, since time.Time) ([]EmergencyInteraction, error)
}

// Collector assembles behavior snapshots from the event sources.
type Collector struct {
	contacts    ContactAttemptSource
	permissions PermissionEventSource
	emergency   EmergencyInteractionSource

	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithLocation sets the elder-local timezone carried on snapshots.
func WithLocation(loc *time.Location) CollectorOption {
	return func(c *Collector) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithClock overrides the time source (used by tests).
func WithClock(now func() time.Time) CollectorOption {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the collector logger.
func WithLogger(logger *slog.Logger) CollectorOption {
	return func(c *Collector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCollector creates a collector over the three event sources.
func NewCollector(contacts ContactAttemptSource, permissions PermissionEventSource, emergency EmergencyInteractionSource, opts ...CollectorOption) *Collector {
	c := &Collector{
		contacts:    contacts,
		permissions: permissions,
		emergency:   emergency,
		loc:         time.Local,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect assembles a snapshot of the caregiver's activity over the window
// ending now. Any source failure aborts with a *CollectionError; a snapshot
// is either complete or absent.
func (c *Collector) Collect(ctx context.Context, caregiverID, userID string) (*Snapshot, error) {
	ctx, span := traces.StartSpan(ctx, "behavior.collect",
		traces.CaregiverID(caregiverID), traces.UserID(userID))
	defer span.End()

	started := time.Now()
	now := c.now()
	since := now.Add(-Window)

	attempts, err := c.contacts.ContactAttempts(ctx, caregiverID, userID, since)
	if err != nil {
		return nil, &CollectionError{Source: "contact_attempts", Err: err}
	}

	permissions, err := c.permissions.PermissionEvents(ctx, caregiverID, userID, since)
	if err != nil {
		return nil, &CollectionError{Source: "permission_events", Err: err}
	}

	interactions, err := c.emergency.EmergencyInteractions(ctx, caregiverID, userID, since)
	if err != nil {
		return nil, &CollectionError{Source: "emergency_interactions", Err: err}
	}

	metrics.SnapshotDuration.Observe(time.Since(started).Seconds())
	logging.L(ctx).Debug("behavior snapshot collected",
		"caregiver_id", caregiverID,
		"user_id", userID,
		"contact_attempts", len(attempts),
		"permission_events", len(permissions),
		"emergency_interactions", len(interactions),
	)

	return &Snapshot{
		CaregiverID:           caregiverID,
		UserID:                userID,
		WindowStart:           since,
		WindowEnd:             now,
		CollectedAt:           now,
		ContactAttempts:       attempts,
		PermissionEvents:      permissions,
		EmergencyInteractions: interactions,
		location:              c.loc,
	}, nil
}
