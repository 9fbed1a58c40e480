// Package behavior models caregiver activity on a protected elder's device
// and assembles the windowed snapshots the risk engine evaluates.
//
// Three event streams are tracked: contact list changes, app permission
// requests, and interactions with the emergency/safety system. Device agents
// record events as they happen; the collector reads them back over a fixed
// seven-day window.
package behavior

import (
	"time"
)

// Contact attempt actions.
const (
	ActionAddContact    = "add_contact"
	ActionModifyContact = "modify_contact"
	ActionRemoveContact = "remove_contact"
	ActionBlockContact  = "block_contact"
)

// Contact attempt results.
const (
	ResultAllowed             = "allowed"
	ResultBlockedByProtection = "blocked_by_protection"
	ResultFailed              = "failed"
)

// Permission event actions.
const (
	ActionRequestPermission = "request_permission"
	ActionGrantPermission   = "grant_permission"
	ActionRevokePermission  = "revoke_permission"
)

// Permission event results.
const (
	PermissionGranted = "granted"
	PermissionDenied  = "denied"
	PermissionPending = "pending"
)

// Emergency interaction kinds.
const (
	EmergencyDisableButton  = "disable_emergency_button"
	EmergencyModifyContacts = "modify_emergency_contacts"
	EmergencyQueryStatus    = "query_emergency_status"
	EmergencyTestAlert      = "test_emergency_alert"
)

// ContactAttempt records a caregiver acting on the elder's contact list.
type ContactAttempt struct {
	ID           string    `json:"id"`
	CaregiverID  string    `json:"caregiverId"`
	UserID       string    `json:"userId"`
	ContactID    string    `json:"contactId,omitempty"`
	Relationship string    `json:"relationship,omitempty"` // e.g. "daughter", "emergency contact"
	Action       string    `json:"action"`
	Result       string    `json:"result"`
	OccurredAt   time.Time `json:"occurredAt"`
}

// PermissionEvent records a caregiver requesting or changing an app permission.
type PermissionEvent struct {
	ID          string    `json:"id"`
	CaregiverID string    `json:"caregiverId"`
	UserID      string    `json:"userId"`
	Action      string    `json:"action"`
	Permission  string    `json:"permission"` // e.g. "access_location"
	Result      string    `json:"result"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// EmergencyInteraction records a caregiver touching the elder's
// emergency/safety system.
type EmergencyInteraction struct {
	ID          string    `json:"id"`
	CaregiverID string    `json:"caregiverId"`
	UserID      string    `json:"userId"`
	Kind        string    `json:"kind"`
	Detail      string    `json:"detail,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// Snapshot is a consistent view of one caregiver's activity toward one elder
// over the collection window. Rules never query stores directly; they see
// only what the snapshot carries.
type Snapshot struct {
	CaregiverID string    `json:"caregiverId"`
	UserID      string    `json:"userId"`
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
	CollectedAt time.Time `json:"collectedAt"`

	ContactAttempts       []ContactAttempt       `json:"contactAttempts"`
	PermissionEvents      []PermissionEvent      `json:"permissionEvents"`
	EmergencyInteractions []EmergencyInteraction `json:"emergencyInteractions"`

	// location is the elder's timezone; night/weekend classification
	// happens in the elder's local time, wherever the caregiver is.
	location *time.Location
}

// NewSnapshot builds an empty snapshot for the given pair and window in
// the elder's timezone. Callers append events afterward; the collector is
// the usual producer.
func NewSnapshot(caregiverID, userID string, windowStart, windowEnd time.Time, loc *time.Location) *Snapshot {
	return &Snapshot{
		CaregiverID: caregiverID,
		UserID:      userID,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		CollectedAt: windowEnd,
		location:    loc,
	}
}

// In converts t to the snapshot's elder-local time.
func (s *Snapshot) In(t time.Time) time.Time {
	if s.location == nil {
		return t.In(time.Local)
	}
	return t.In(s.location)
}

// Location returns the elder-local timezone used for temporal rules.
func (s *Snapshot) Location() *time.Location {
	if s.location == nil {
		return time.Local
	}
	return s.location
}

// CaregiverUser identifies one caregiver/elder pair with recorded activity.
type CaregiverUser struct {
	CaregiverID string `json:"caregiverId"`
	UserID      string `json:"userId"`
}
