// Package alerting turns high-risk assessments into alerts and routes
// them to the elder's care team.
//
// The generator classifies an assessment into an alert type, composes a
// message around the strongest risk factor, and attaches a fixed list of
// recommended actions for the level. The escalation dispatcher then
// decides who hears about it and how fast: CRITICAL and HIGH reach the
// elder rights advocate immediately, MEDIUM is scheduled for delayed
// delivery, anything lower is recorded only.
package alerting

import (
	"fmt"
	"time"

	"github.com/elderguard/elderguard/internal/abuse"
	"github.com/elderguard/elderguard/internal/idgen"
)

// AlertType classifies what kind of abuse pattern an alert reports.
type AlertType string

const (
	TypeSafetyCompromise       AlertType = "SAFETY_COMPROMISE"
	TypeEmergencySystemAbuse   AlertType = "EMERGENCY_SYSTEM_ABUSE"
	TypeSocialIsolationAttempt AlertType = "SOCIAL_ISOLATION_ATTEMPT"
	TypeEscalatingAbusePattern AlertType = "ESCALATING_ABUSE_PATTERN"
	TypeGeneralAbuseConcern    AlertType = "GENERAL_ABUSE_CONCERN"
)

// Urgency grades how fast the advocate notification must go out.
type Urgency string

const (
	UrgencyImmediate Urgency = "IMMEDIATE"
	UrgencyHigh      Urgency = "HIGH"
	UrgencyStandard  Urgency = "STANDARD"
)

// Alert is an immutable record derived from exactly one assessment at
// MEDIUM or above. Factors are copied from the assessment so the alert
// stays self-contained even if assessments are pruned.
type Alert struct {
	ID                      string             `json:"id"`
	AssessmentID            string             `json:"assessmentId"`
	CaregiverID             string             `json:"caregiverId"`
	UserID                  string             `json:"userId"`
	Type                    AlertType          `json:"type"`
	Level                   abuse.RiskLevel    `json:"level"`
	Score                   float64            `json:"score"`
	Message                 string             `json:"message"`
	Factors                 []abuse.RiskFactor `json:"factors"`
	RecommendedActions      []string           `json:"recommendedActions"`
	RequiresImmediateAction bool               `json:"requiresImmediateAction"`
	CreatedAt               time.Time          `json:"createdAt"`
	AcknowledgedAt          *time.Time         `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy          string             `json:"acknowledgedBy,omitempty"`
}

// Acknowledged reports whether a care team member has confirmed receipt.
func (a *Alert) Acknowledged() bool { return a.AcknowledgedAt != nil }

// alertTypePriority orders factor types by how specifically they identify
// the abuse pattern. The first factor type present in the assessment
// decides the alert type; assessments matching none are a general concern.
var alertTypePriority = []struct {
	factor abuse.FactorType
	alert  AlertType
}{
	{abuse.FactorSafetySystemTampering, TypeSafetyCompromise},
	{abuse.FactorEmergencyContactTampering, TypeEmergencySystemAbuse},
	{abuse.FactorContactManipulation, TypeSocialIsolationAttempt},
	{abuse.FactorEscalatingBehavior, TypeEscalatingAbusePattern},
}

// recommendedActions are the fixed care-team playbooks per risk level.
// The LOW list exists for completeness; alerts are not generated below
// MEDIUM.
var recommendedActions = map[abuse.RiskLevel][]string{
	abuse.LevelCritical: {
		"Contact the elder rights advocate immediately",
		"Consider restricting the caregiver's permissions",
		"Preserve evidence of the flagged activity",
		"Verify the protected user is safe",
	},
	abuse.LevelHigh: {
		"Notify the elder rights advocate",
		"Increase monitoring of caregiver activity",
		"Review the caregiver's current permissions",
		"Schedule a check-in with the protected user",
	},
	abuse.LevelMedium: {
		"Monitor caregiver activity more closely",
		"Offer the protected user educational resources on caregiver abuse",
		"Review recent permission requests",
		"Schedule a routine check-in",
	},
	abuse.LevelLow: {
		"Continue routine monitoring",
		"Log the risk trend for future reference",
		"Offer educational resources if the pattern continues",
	},
}

// Generator builds alerts from assessments.
type Generator struct{}

// NewGenerator creates an alert generator.
func NewGenerator() *Generator { return &Generator{} }

// Generate builds the alert for an assessment. Callers are expected to
// invoke it only for levels at MEDIUM or above.
func (g *Generator) Generate(a *abuse.RiskAssessment, now time.Time) *Alert {
	factors := make([]abuse.RiskFactor, len(a.Factors))
	copy(factors, a.Factors)

	return &Alert{
		ID:                      idgen.WithPrefix("alert_"),
		AssessmentID:            a.ID,
		CaregiverID:             a.CaregiverID,
		UserID:                  a.UserID,
		Type:                    classify(a.Factors),
		Level:                   a.Level,
		Score:                   a.Score,
		Message:                 message(a),
		Factors:                 factors,
		RecommendedActions:      actionsFor(a.Level),
		RequiresImmediateAction: a.Level.AtLeast(abuse.LevelHigh),
		CreatedAt:               now,
	}
}

// classify picks the alert type from the highest-priority factor type
// present in the assessment.
func classify(factors []abuse.RiskFactor) AlertType {
	present := make(map[abuse.FactorType]bool, len(factors))
	for _, f := range factors {
		present[f.Type] = true
	}
	for _, p := range alertTypePriority {
		if present[p.factor] {
			return p.alert
		}
	}
	return TypeGeneralAbuseConcern
}

// message composes the level-specific alert text around the strongest
// factor. On a score tie the earlier factor wins, matching rule order.
func message(a *abuse.RiskAssessment) string {
	top := topFactor(a.Factors)
	switch a.Level {
	case abuse.LevelCritical:
		return fmt.Sprintf("CRITICAL abuse risk for caregiver %s (score %.0f): %s. Immediate protective action is required.",
			a.CaregiverID, a.Score, top.Description)
	case abuse.LevelHigh:
		return fmt.Sprintf("High abuse risk for caregiver %s (score %.0f): %s. Prompt review by the care team is required.",
			a.CaregiverID, a.Score, top.Description)
	case abuse.LevelMedium:
		return fmt.Sprintf("Elevated abuse risk for caregiver %s (score %.0f): %s. Closer monitoring is recommended.",
			a.CaregiverID, a.Score, top.Description)
	default:
		return fmt.Sprintf("Abuse risk noted for caregiver %s (score %.0f): %s.",
			a.CaregiverID, a.Score, top.Description)
	}
}

// topFactor returns the highest-scoring factor, first-wins on ties.
func topFactor(factors []abuse.RiskFactor) abuse.RiskFactor {
	var top abuse.RiskFactor
	for i, f := range factors {
		if i == 0 || f.Score > top.Score {
			top = f
		}
	}
	return top
}

// actionsFor returns a copy of the level's action list so callers cannot
// mutate the canonical playbook.
func actionsFor(level abuse.RiskLevel) []string {
	src := recommendedActions[level]
	out := make([]string, len(src))
	copy(out, src)
	return out
}
