// Package abuse implements caregiver abuse risk assessment for elder
// protection.
//
// A seven-day behavior snapshot is evaluated against six detection rules
// covering contact manipulation, permission escalation, timing anomalies,
// emergency system tampering, escalating history, and triggering events.
// Rule scores sum into a total that maps onto five risk levels; assessments
// at MEDIUM or above raise alerts for the elder's care team.
package abuse

import (
	"time"
)

// RiskLevel classifies the total score of an assessment.
type RiskLevel string

const (
	LevelMinimal  RiskLevel = "MINIMAL"
	LevelLow      RiskLevel = "LOW"
	LevelMedium   RiskLevel = "MEDIUM"
	LevelHigh     RiskLevel = "HIGH"
	LevelCritical RiskLevel = "CRITICAL"
)

// Score thresholds for level classification. A total at or above a
// threshold maps to that level.
const (
	ThresholdCritical = 100.0
	ThresholdHigh     = 80.0
	ThresholdMedium   = 50.0
	ThresholdLow      = 25.0
)

// LevelFromScore maps a total risk score onto a level.
func LevelFromScore(score float64) RiskLevel {
	switch {
	case score >= ThresholdCritical:
		return LevelCritical
	case score >= ThresholdHigh:
		return LevelHigh
	case score >= ThresholdMedium:
		return LevelMedium
	case score >= ThresholdLow:
		return LevelLow
	default:
		return LevelMinimal
	}
}

// Severity ranks a level for ordering comparisons. Unknown levels rank
// below MINIMAL.
func (l RiskLevel) Severity() int {
	switch l {
	case LevelMinimal:
		return 1
	case LevelLow:
		return 2
	case LevelMedium:
		return 3
	case LevelHigh:
		return 4
	case LevelCritical:
		return 5
	default:
		return 0
	}
}

// AtLeast reports whether l is at or above other.
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return l.Severity() >= other.Severity()
}

// FactorSeverity grades an individual risk factor.
type FactorSeverity string

const (
	SeverityLow      FactorSeverity = "LOW"
	SeverityMedium   FactorSeverity = "MEDIUM"
	SeverityHigh     FactorSeverity = "HIGH"
	SeverityCritical FactorSeverity = "CRITICAL"
)

// FactorType identifies the behavioral pattern a rule detected.
type FactorType string

const (
	FactorContactManipulation        FactorType = "CONTACT_MANIPULATION"
	FactorEmergencyContactTampering  FactorType = "EMERGENCY_CONTACT_TAMPERING"
	FactorBurstActivity              FactorType = "BURST_ACTIVITY"
	FactorPermissionEscalation       FactorType = "PERMISSION_ESCALATION"
	FactorSensitivePermissionRequest FactorType = "SENSITIVE_PERMISSION_REQUEST"
	FactorSuspiciousTiming           FactorType = "SUSPICIOUS_TIMING"
	FactorSafetySystemTampering      FactorType = "SAFETY_SYSTEM_TAMPERING"
	FactorSurveillancePattern        FactorType = "SURVEILLANCE_PATTERN"
	FactorEscalatingBehavior         FactorType = "ESCALATING_BEHAVIOR"
	FactorMultipleBlockedAttempts    FactorType = "MULTIPLE_BLOCKED_ATTEMPTS"
	FactorPanicModeActivation        FactorType = "PANIC_MODE_ACTIVATION"
)

// RiskFactor is a single contribution to an assessment's total score.
// Evidence carries the counts and samples the rule based its finding on.
type RiskFactor struct {
	Type        FactorType     `json:"type"`
	Score       float64        `json:"score"`
	Severity    FactorSeverity `json:"severity"`
	Description string         `json:"description"`
	Evidence    map[string]any `json:"evidence,omitempty"`
}

// TriggerType identifies what initiated an analysis.
type TriggerType string

const (
	TriggerMultipleBlockedAttempts   TriggerType = "MULTIPLE_BLOCKED_ATTEMPTS"
	TriggerEmergencyContactTampering TriggerType = "EMERGENCY_CONTACT_TAMPERING"
	TriggerPanicModeActivation       TriggerType = "PANIC_MODE_ACTIVATION"
	TriggerManual                    TriggerType = "MANUAL_TRIGGER"
)

// TriggerEvent records the event that initiated an analysis, if any.
// Scheduled sweeps analyze without a trigger.
type TriggerEvent struct {
	Type       TriggerType `json:"type"`
	Detail     string      `json:"detail,omitempty"`
	OccurredAt time.Time   `json:"occurredAt"`
}

// RiskAssessment is the result of one full analysis of a caregiver's
// behavior toward one elder user.
type RiskAssessment struct {
	ID          string        `json:"id"`
	CaregiverID string        `json:"caregiverId"`
	UserID      string        `json:"userId"`
	Score       float64       `json:"score"`
	Level       RiskLevel     `json:"level"`
	Factors     []RiskFactor  `json:"factors"`
	Trigger     *TriggerEvent `json:"trigger,omitempty"`
	WindowStart time.Time     `json:"windowStart"`
	WindowEnd   time.Time     `json:"windowEnd"`
	AssessedAt  time.Time     `json:"assessedAt"`
}

// HistoryPoint is the score trail of a past assessment, used by the
// escalation rule and trend endpoints.
type HistoryPoint struct {
	Score      float64   `json:"score"`
	Level      RiskLevel `json:"level"`
	AssessedAt time.Time `json:"assessedAt"`
}

// TotalScore sums factor scores. Totals are not clamped; the level
// mapping absorbs anything above the CRITICAL threshold.
func TotalScore(factors []RiskFactor) float64 {
	var total float64
	for _, f := range factors {
		total += f.Score
	}
	return total
}
