package abuse

import (
	"context"
	"errors"
)

// ErrNoAssessment is returned by Latest when a caregiver has never been
// assessed.
var ErrNoAssessment = errors.New("abuse: no assessment found")

// AssessmentStore persists assessments and serves the history trail the
// escalation rule and trend endpoints read.
type AssessmentStore interface {
	// Save persists one assessment.
	Save(ctx context.Context, a *RiskAssessment) error

	// History returns the caregiver's most recent score points, at most
	// limit of them, in ascending AssessedAt order.
	History(ctx context.Context, caregiverID string, limit int) ([]HistoryPoint, error)

	// Recent returns the caregiver's most recent full assessments, at
	// most limit of them, newest first.
	Recent(ctx context.Context, caregiverID string, limit int) ([]*RiskAssessment, error)

	// Latest returns the caregiver's newest assessment, or
	// ErrNoAssessment if none exists.
	Latest(ctx context.Context, caregiverID string) (*RiskAssessment, error)
}
