package behavior

import (
	"context"
	"time"

	"github.com/elderguard/elderguard/internal/idgen"
)

// Recorder accepts behavior events from device agents.
type Recorder interface {
	RecordContactAttempt(ctx context.Context, a *ContactAttempt) error
	RecordPermissionEvent(ctx context.Context, e *PermissionEvent) error
	RecordEmergencyInteraction(ctx context.Context, i *EmergencyInteraction) error
}

// ActivityLog is the full read/write surface over recorded behavior:
// ingest, windowed reads for the collector, and the active-pair listing
// the periodic monitor sweeps.
type ActivityLog interface {
	Recorder
	ContactAttemptSource
	PermissionEventSource
	EmergencyInteractionSource
	ActiveCaregivers(ctx context.Context, since time.Time) ([]CaregiverUser, error)
}

// Event IDs are always server-assigned; occurrence times default to the
// ingest time when the device did not provide one.

func stampContactAttempt(a *ContactAttempt) {
	if a.ID == "" {
		a.ID = idgen.WithPrefix("evt_")
	}
	if a.OccurredAt.IsZero() {
		a.OccurredAt = time.Now()
	}
}

func stampPermissionEvent(e *PermissionEvent) {
	if e.ID == "" {
		e.ID = idgen.WithPrefix("evt_")
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
}

func stampEmergencyInteraction(i *EmergencyInteraction) {
	if i.ID == "" {
		i.ID = idgen.WithPrefix("evt_")
	}
	if i.OccurredAt.IsZero() {
		i.OccurredAt = time.Now()
	}
}
