// Package api implements the ElderGuard wire types and HTTP client
// This is the foundation for device and care-team integrations
package api

import (
	"fmt"
	"time"
)

// Contact attempt actions a device agent may report.
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

// Trigger types accepted on reactive analyses.
const (
	TriggerMultipleBlockedAttempts   = "MULTIPLE_BLOCKED_ATTEMPTS"
	TriggerEmergencyContactTampering = "EMERGENCY_CONTACT_TAMPERING"
	TriggerPanicModeActivation       = "PANIC_MODE_ACTIVATION"
	TriggerManual                    = "MANUAL_TRIGGER"
)

// Risk levels, lowest to highest.
const (
	LevelMinimal  = "MINIMAL"
	LevelLow      = "LOW"
	LevelMedium   = "MEDIUM"
	LevelHigh     = "HIGH"
	LevelCritical = "CRITICAL"
)

// ContactAttempt is one action on the protected elder's contact list.
// ID and, when zero, OccurredAt are assigned by the server.
type ContactAttempt struct {
	ID           string    `json:"id,omitempty"`
	CaregiverID  string    `json:"caregiverId"`
	UserID       string    `json:"userId"`
	ContactID    string    `json:"contactId,omitempty"`
	Relationship string    `json:"relationship,omitempty"`
	Action       string    `json:"action"`
	Result       string    `json:"result"`
	OccurredAt   time.Time `json:"occurredAt,omitempty"`
}

// PermissionEvent is one app permission request or change.
type PermissionEvent struct {
	ID          string    `json:"id,omitempty"`
	CaregiverID string    `json:"caregiverId"`
	UserID      string    `json:"userId"`
	Action      string    `json:"action"`
	Permission  string    `json:"permission"`
	Result      string    `json:"result"`
	OccurredAt  time.Time `json:"occurredAt,omitempty"`
}

// EmergencyInteraction is one interaction with the elder's emergency
// system.
type EmergencyInteraction struct {
	ID          string    `json:"id,omitempty"`
	CaregiverID string    `json:"caregiverId"`
	UserID      string    `json:"userId"`
	Kind        string    `json:"kind"`
	Detail      string    `json:"detail,omitempty"`
	OccurredAt  time.Time `json:"occurredAt,omitempty"`
}

// RiskFactor is one behavior pattern that contributed to a score.
type RiskFactor struct {
	Type        string         `json:"type"`
	Score       float64        `json:"score"`
	Severity    string         `json:"severity"`
	Description string         `json:"description"`
	Evidence    map[string]any `json:"evidence,omitempty"`
}

// TriggerEvent names the observation that prompted an analysis.
type TriggerEvent struct {
	Type       string    `json:"type"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurredAt,omitempty"`
}

// Assessment is one scored evaluation of a caregiver's recent behavior
// toward a protected user.
type Assessment struct {
	ID          string        `json:"id"`
	CaregiverID string        `json:"caregiverId"`
	UserID      string        `json:"userId"`
	Score       float64       `json:"score"`
	Level       string        `json:"level"`
	Factors     []RiskFactor  `json:"factors"`
	Trigger     *TriggerEvent `json:"trigger,omitempty"`
	WindowStart time.Time     `json:"windowStart"`
	WindowEnd   time.Time     `json:"windowEnd"`
	AssessedAt  time.Time     `json:"assessedAt"`
}

// Alert is a raised risk alert awaiting care-team review.
type Alert struct {
	ID                      string       `json:"id"`
	AssessmentID            string       `json:"assessmentId"`
	CaregiverID             string       `json:"caregiverId"`
	UserID                  string       `json:"userId"`
	Type                    string       `json:"type"`
	Level                   string       `json:"level"`
	Score                   float64      `json:"score"`
	Message                 string       `json:"message"`
	Factors                 []RiskFactor `json:"factors"`
	RecommendedActions      []string     `json:"recommendedActions"`
	RequiresImmediateAction bool         `json:"requiresImmediateAction"`
	CreatedAt               time.Time    `json:"createdAt"`
	AcknowledgedAt          *time.Time   `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy          string       `json:"acknowledgedBy,omitempty"`
}

// AlertPage is one page of stored alerts, newest first.
type AlertPage struct {
	Alerts     []Alert `json:"alerts"`
	Count      int     `json:"count"`
	HasMore    bool    `json:"hasMore"`
	NextCursor string  `json:"nextCursor,omitempty"`
}

// AnalysisResult is the outcome of one requested analysis. Alert is set
// when the assessment raised one; Persisted is false when the assessment
// was computed but could not be stored.
type AnalysisResult struct {
	Assessment *Assessment `json:"assessment"`
	Alert      *Alert      `json:"alert,omitempty"`
	Persisted  *bool       `json:"persisted,omitempty"`
}

// FieldError describes one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is an ElderGuard API error response.
type Error struct {
	StatusCode int          `json:"-"`
	Code       string       `json:"error"`
	Message    string       `json:"message,omitempty"`
	Details    []FieldError `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" && len(e.Details) > 0 {
		return fmt.Sprintf("%s: %s %s", e.Code, e.Details[0].Field, e.Details[0].Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
