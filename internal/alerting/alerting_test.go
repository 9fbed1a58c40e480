package alerting

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/elderguard/elderguard/internal/abuse"
)

var alertNow = time.Date(2025, 6, 18, 15, 0, 0, 0, time.UTC)

func alertClock() time.Time { return alertNow }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func factor(t abuse.FactorType, score float64, desc string) abuse.RiskFactor {
	return abuse.RiskFactor{Type: t, Score: score, Severity: abuse.SeverityMedium, Description: desc}
}

func testAssessment(level abuse.RiskLevel, score float64, factors ...abuse.RiskFactor) *abuse.RiskAssessment {
	return &abuse.RiskAssessment{
		ID:          "asmt_gen1",
		CaregiverID: "cg-1",
		UserID:      "elder-1",
		Score:       score,
		Level:       level,
		Factors:     factors,
		WindowStart: alertNow.Add(-7 * 24 * time.Hour),
		WindowEnd:   alertNow,
		AssessedAt:  alertNow,
	}
}

func TestGeneratorClassifiesByFactorPriority(t *testing.T) {
	tests := []struct {
		name    string
		factors []abuse.RiskFactor
		want    AlertType
	}{
		{
			name:    "safety tampering alone",
			factors: []abuse.RiskFactor{factor(abuse.FactorSafetySystemTampering, 40, "disabled the emergency button")},
			want:    TypeSafetyCompromise,
		},
		{
			// Priority is over the factor set, not factor order: safety
			// tampering wins even listed last with the lowest score.
			name: "safety tampering outranks everything",
			factors: []abuse.RiskFactor{
				factor(abuse.FactorContactManipulation, 50, "blocked contact removals"),
				factor(abuse.FactorEmergencyContactTampering, 50, "tampered with emergency contacts"),
				factor(abuse.FactorSafetySystemTampering, 40, "disabled the emergency button"),
			},
			want: TypeSafetyCompromise,
		},
		{
			name: "emergency tampering over contact manipulation",
			factors: []abuse.RiskFactor{
				factor(abuse.FactorContactManipulation, 45, "blocked contact removals"),
				factor(abuse.FactorEmergencyContactTampering, 25, "tampered with emergency contacts"),
			},
			want: TypeEmergencySystemAbuse,
		},
		{
			name: "contact manipulation over escalating trend",
			factors: []abuse.RiskFactor{
				factor(abuse.FactorEscalatingBehavior, 25, "risk trend rising"),
				factor(abuse.FactorContactManipulation, 30, "blocked contact removals"),
			},
			want: TypeSocialIsolationAttempt,
		},
		{
			name:    "escalating trend alone",
			factors: []abuse.RiskFactor{factor(abuse.FactorEscalatingBehavior, 25, "risk trend rising")},
			want:    TypeEscalatingAbusePattern,
		},
		{
			name: "no priority factor falls back to general concern",
			factors: []abuse.RiskFactor{
				factor(abuse.FactorPermissionEscalation, 30, "repeated denied permission requests"),
				factor(abuse.FactorSuspiciousTiming, 24, "night-time activity"),
			},
			want: TypeGeneralAbuseConcern,
		},
	}

	g := NewGenerator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := testAssessment(abuse.LevelMedium, abuse.TotalScore(tt.factors), tt.factors...)
			alert := g.Generate(a, alertNow)
			if alert.Type != tt.want {
				t.Errorf("alert type = %s, want %s", alert.Type, tt.want)
			}
		})
	}
}

func TestGeneratorMessageQuotesTopFactor(t *testing.T) {
	g := NewGenerator()

	a := testAssessment(abuse.LevelMedium, 75,
		factor(abuse.FactorPermissionEscalation, 30, "repeated denied permission requests"),
		factor(abuse.FactorContactManipulation, 45, "5 blocked attempts to remove protected contacts"),
	)
	alert := g.Generate(a, alertNow)

	if !strings.Contains(alert.Message, "5 blocked attempts to remove protected contacts") {
		t.Errorf("message should quote the highest-scoring factor, got %q", alert.Message)
	}
	if !strings.Contains(alert.Message, "Closer monitoring") {
		t.Errorf("medium message should recommend closer monitoring, got %q", alert.Message)
	}
}

func TestGeneratorMessagePerLevel(t *testing.T) {
	g := NewGenerator()
	f := factor(abuse.FactorSafetySystemTampering, 120, "disabled the emergency button")

	tests := []struct {
		level abuse.RiskLevel
		want  string
	}{
		{abuse.LevelCritical, "Immediate protective action"},
		{abuse.LevelHigh, "Prompt review"},
		{abuse.LevelMedium, "Closer monitoring"},
	}
	for _, tt := range tests {
		alert := g.Generate(testAssessment(tt.level, f.Score, f), alertNow)
		if !strings.Contains(alert.Message, tt.want) {
			t.Errorf("%s message = %q, want it to contain %q", tt.level, alert.Message, tt.want)
		}
		if !strings.Contains(alert.Message, "cg-1") {
			t.Errorf("%s message should name the caregiver, got %q", tt.level, alert.Message)
		}
	}
}

func TestGeneratorMessageTieKeepsFirstFactor(t *testing.T) {
	g := NewGenerator()

	a := testAssessment(abuse.LevelMedium, 80,
		factor(abuse.FactorContactManipulation, 40, "first finding"),
		factor(abuse.FactorPermissionEscalation, 40, "second finding"),
	)
	alert := g.Generate(a, alertNow)

	if !strings.Contains(alert.Message, "first finding") {
		t.Errorf("tie should keep the earlier factor, got %q", alert.Message)
	}
}

func TestGeneratorImmediateActionBoundary(t *testing.T) {
	g := NewGenerator()
	f := factor(abuse.FactorContactManipulation, 50, "blocked contact removals")

	if g.Generate(testAssessment(abuse.LevelMedium, 50, f), alertNow).RequiresImmediateAction {
		t.Error("MEDIUM should not require immediate action")
	}
	if !g.Generate(testAssessment(abuse.LevelHigh, 80, f), alertNow).RequiresImmediateAction {
		t.Error("HIGH should require immediate action")
	}
	if !g.Generate(testAssessment(abuse.LevelCritical, 120, f), alertNow).RequiresImmediateAction {
		t.Error("CRITICAL should require immediate action")
	}
}

func TestGeneratorActionsPerLevel(t *testing.T) {
	g := NewGenerator()
	f := factor(abuse.FactorContactManipulation, 50, "blocked contact removals")

	critical := g.Generate(testAssessment(abuse.LevelCritical, 120, f), alertNow)
	if len(critical.RecommendedActions) != 4 {
		t.Fatalf("CRITICAL actions = %d, want 4", len(critical.RecommendedActions))
	}
	if !strings.Contains(critical.RecommendedActions[0], "immediately") {
		t.Errorf("first CRITICAL action should be the immediate advocate contact, got %q", critical.RecommendedActions[0])
	}

	medium := g.Generate(testAssessment(abuse.LevelMedium, 50, f), alertNow)
	if len(medium.RecommendedActions) != 4 {
		t.Fatalf("MEDIUM actions = %d, want 4", len(medium.RecommendedActions))
	}
	if !strings.Contains(medium.RecommendedActions[0], "closely") {
		t.Errorf("first MEDIUM action should be closer monitoring, got %q", medium.RecommendedActions[0])
	}

	// The returned list is a copy; mutating it must not poison later alerts.
	medium.RecommendedActions[0] = "mutated"
	again := g.Generate(testAssessment(abuse.LevelMedium, 50, f), alertNow)
	if again.RecommendedActions[0] == "mutated" {
		t.Error("recommended actions should be copied per alert")
	}
}

func TestGeneratorCopiesFactors(t *testing.T) {
	g := NewGenerator()
	a := testAssessment(abuse.LevelMedium, 50, factor(abuse.FactorContactManipulation, 50, "original"))

	alert := g.Generate(a, alertNow)
	a.Factors[0].Description = "mutated"

	if alert.Factors[0].Description != "original" {
		t.Error("alert factors should be a copy of the assessment's")
	}
}

func TestGeneratorAlertFields(t *testing.T) {
	g := NewGenerator()
	a := testAssessment(abuse.LevelHigh, 85,
		factor(abuse.FactorContactManipulation, 50, "blocked contact removals"),
		factor(abuse.FactorPermissionEscalation, 35, "repeated denied permission requests"),
	)

	alert := g.Generate(a, alertNow)

	if !strings.HasPrefix(alert.ID, "alert_") {
		t.Errorf("alert id = %q, want alert_ prefix", alert.ID)
	}
	if alert.AssessmentID != a.ID {
		t.Errorf("assessment id = %q, want %q", alert.AssessmentID, a.ID)
	}
	if alert.CaregiverID != "cg-1" || alert.UserID != "elder-1" {
		t.Errorf("identity = %s/%s, want cg-1/elder-1", alert.CaregiverID, alert.UserID)
	}
	if alert.Level != abuse.LevelHigh || alert.Score != 85 {
		t.Errorf("level/score = %s/%.0f, want HIGH/85", alert.Level, alert.Score)
	}
	if len(alert.Factors) != 2 {
		t.Errorf("factors = %d, want 2", len(alert.Factors))
	}
	if !alert.CreatedAt.Equal(alertNow) {
		t.Errorf("created at = %v, want %v", alert.CreatedAt, alertNow)
	}
	if alert.Acknowledged() {
		t.Error("new alert should not be acknowledged")
	}
}
