package abuse

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/elderguard/elderguard/internal/behavior"
)

// Behavioral thresholds. Values are load-bearing: level classification and
// alert routing downstream assume these exact scores.
const (
	maxBlockedAttemptsPerHour        = 3
	maxPermissionEscalationsPerDay   = 2
	suspiciousNightActivityThreshold = 5
)

// Input carries everything a rule may inspect. Snapshot is the 7-day
// behavior window, History the caregiver's prior assessment scores, and
// Trigger the event that initiated the analysis (nil for scheduled sweeps).
type Input struct {
	Snapshot *behavior.Snapshot
	History  []HistoryPoint
	Trigger  *TriggerEvent
	Now      time.Time
}

// Rule detects one family of abuse patterns. Implementations are pure:
// no I/O, no stored state, factors derived from Input alone.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, in *Input) []RiskFactor
}

// DefaultRules returns the built-in detection rules in evaluation order.
// Factor order in an assessment follows rule order.
func DefaultRules() []Rule {
	return []Rule{
		&contactManipulationRule{},
		&permissionEscalationRule{},
		&temporalPatternRule{},
		&emergencySystemAbuseRule{},
		&escalatingBehaviorRule{},
		&triggerEventRule{},
	}
}

// ---------------------------------------------------------------------------
// contactManipulationRule: blocked removals, emergency contact tampering,
// burst activity
// ---------------------------------------------------------------------------

type contactManipulationRule struct{}

func (r *contactManipulationRule) Name() string { return "contact_manipulation" }

func (r *contactManipulationRule) Evaluate(_ context.Context, in *Input) []RiskFactor {
	var (
		blockedRemovals int
		tamperAttempts  int
		recentAttempts  int
	)
	lastHour := in.Now.Add(-time.Hour)
	for _, a := range in.Snapshot.ContactAttempts {
		if a.Action == behavior.ActionRemoveContact && a.Result == behavior.ResultBlockedByProtection {
			blockedRemovals++
		}
		if a.Result == behavior.ResultBlockedByProtection &&
			strings.Contains(strings.ToLower(a.Relationship), "emergency") {
			tamperAttempts++
		}
		if a.OccurredAt.After(lastHour) {
			recentAttempts++
		}
	}

	var factors []RiskFactor
	if blockedRemovals >= 3 {
		severity := SeverityMedium
		if blockedRemovals >= 5 {
			severity = SeverityHigh
		}
		factors = append(factors, RiskFactor{
			Type:        FactorContactManipulation,
			Score:       min(float64(blockedRemovals)*15, 50),
			Severity:    severity,
			Description: fmt.Sprintf("%d contact removal attempts blocked by protection in the last 7 days", blockedRemovals),
			Evidence:    map[string]any{"blockedRemovalAttempts": blockedRemovals},
		})
	}
	if tamperAttempts > 0 {
		factors = append(factors, RiskFactor{
			Type:        FactorEmergencyContactTampering,
			Score:       float64(tamperAttempts) * 25,
			Severity:    SeverityHigh,
			Description: fmt.Sprintf("%d blocked attempts to alter emergency contacts", tamperAttempts),
			Evidence:    map[string]any{"emergencyContactTamperAttempts": tamperAttempts},
		})
	}
	if recentAttempts >= maxBlockedAttemptsPerHour {
		factors = append(factors, RiskFactor{
			Type:        FactorBurstActivity,
			Score:       30,
			Severity:    SeverityMedium,
			Description: fmt.Sprintf("%d contact modification attempts within the last hour", recentAttempts),
			Evidence:    map[string]any{"recentAttempts": recentAttempts},
		})
	}
	return factors
}

// ---------------------------------------------------------------------------
// permissionEscalationRule: denied requests, sensitive permission grabs
// ---------------------------------------------------------------------------

// sensitivePermissions are the permissions whose mere request is a signal,
// granted or not.
var sensitivePermissions = map[string]bool{
	"access_location":           true,
	"access_contacts":           true,
	"modify_emergency_settings": true,
	"disable_panic_mode":        true,
	"access_call_logs":          true,
}

type permissionEscalationRule struct{}

func (r *permissionEscalationRule) Name() string { return "permission_escalation" }

func (r *permissionEscalationRule) Evaluate(_ context.Context, in *Input) []RiskFactor {
	var (
		denied    int
		sensitive []string
	)
	for _, e := range in.Snapshot.PermissionEvents {
		if e.Action == behavior.ActionRequestPermission && e.Result == behavior.PermissionDenied {
			denied++
		}
		if sensitivePermissions[e.Permission] {
			sensitive = append(sensitive, e.Permission)
		}
	}

	var factors []RiskFactor
	if denied >= maxPermissionEscalationsPerDay {
		severity := SeverityMedium
		if denied >= 5 {
			severity = SeverityHigh
		}
		factors = append(factors, RiskFactor{
			Type:        FactorPermissionEscalation,
			Score:       float64(denied) * 10,
			Severity:    severity,
			Description: fmt.Sprintf("%d denied permission requests in the last 7 days", denied),
			Evidence:    map[string]any{"escalationAttempts": denied},
		})
	}
	if len(sensitive) > 0 {
		factors = append(factors, RiskFactor{
			Type:        FactorSensitivePermissionRequest,
			Score:       float64(len(sensitive)) * 20,
			Severity:    SeverityHigh,
			Description: fmt.Sprintf("%d requests for sensitive permissions such as location or call logs", len(sensitive)),
			Evidence:    map[string]any{"sensitivePermissions": sensitive},
		})
	}
	return factors
}

// ---------------------------------------------------------------------------
// temporalPatternRule: night activity, weekend concentration
// ---------------------------------------------------------------------------

type temporalPatternRule struct{}

func (r *temporalPatternRule) Name() string { return "temporal_pattern" }

func (r *temporalPatternRule) Evaluate(_ context.Context, in *Input) []RiskFactor {
	var night, weekend int
	total := len(in.Snapshot.ContactAttempts)
	for _, a := range in.Snapshot.ContactAttempts {
		// Hours are judged in the elder's timezone, not server time.
		local := in.Snapshot.In(a.OccurredAt)
		if h := local.Hour(); h >= 23 || h <= 6 {
			night++
		}
		if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
			weekend++
		}
	}

	var factors []RiskFactor
	if night >= suspiciousNightActivityThreshold {
		factors = append(factors, RiskFactor{
			Type:        FactorSuspiciousTiming,
			Score:       float64(night) * 8,
			Severity:    SeverityMedium,
			Description: fmt.Sprintf("%d contact modification attempts during night hours", night),
			Evidence:    map[string]any{"nightTimeAttempts": night},
		})
	}
	if total > 0 {
		if frac := float64(weekend) / float64(total); frac > 0.6 {
			factors = append(factors, RiskFactor{
				Type:        FactorSuspiciousTiming,
				Score:       20,
				Severity:    SeverityLow,
				Description: fmt.Sprintf("%.0f%% of contact activity concentrated on weekends", frac*100),
				Evidence:    map[string]any{"weekendAttempts": weekend, "totalAttempts": total},
			})
		}
	}
	return factors
}

// ---------------------------------------------------------------------------
// emergencySystemAbuseRule: safety system tampering, status surveillance
// ---------------------------------------------------------------------------

type emergencySystemAbuseRule struct{}

func (r *emergencySystemAbuseRule) Name() string { return "emergency_system_abuse" }

func (r *emergencySystemAbuseRule) Evaluate(_ context.Context, in *Input) []RiskFactor {
	var disable, queries int
	for _, it := range in.Snapshot.EmergencyInteractions {
		switch it.Kind {
		case behavior.EmergencyDisableButton, behavior.EmergencyModifyContacts:
			disable++
		case behavior.EmergencyQueryStatus:
			queries++
		}
	}

	var factors []RiskFactor
	if disable > 0 {
		factors = append(factors, RiskFactor{
			Type:        FactorSafetySystemTampering,
			Score:       float64(disable) * 40,
			Severity:    SeverityCritical,
			Description: fmt.Sprintf("%d attempts to disable or modify emergency safety systems", disable),
			Evidence:    map[string]any{"emergencyDisableAttempts": disable},
		})
	}
	if queries > 20 {
		factors = append(factors, RiskFactor{
			Type:        FactorSurveillancePattern,
			Score:       15,
			Severity:    SeverityLow,
			Description: fmt.Sprintf("%d emergency status queries in the last 7 days", queries),
			Evidence:    map[string]any{"emergencyQueries": queries},
		})
	}
	return factors
}

// ---------------------------------------------------------------------------
// escalatingBehaviorRule: risk scores rising across recent assessments
// ---------------------------------------------------------------------------

type escalatingBehaviorRule struct{}

func (r *escalatingBehaviorRule) Name() string { return "escalating_behavior" }

func (r *escalatingBehaviorRule) Evaluate(_ context.Context, in *Input) []RiskFactor {
	if len(in.History) < 2 {
		return nil
	}

	history := make([]HistoryPoint, len(in.History))
	copy(history, in.History)
	sort.Slice(history, func(i, j int) bool {
		return history[i].AssessedAt.Before(history[j].AssessedAt)
	})

	recent := history[len(history)-min(3, len(history)):]
	for i := 1; i < len(recent); i++ {
		if recent[i].Score <= recent[i-1].Score {
			return nil
		}
	}
	delta := recent[len(recent)-1].Score - recent[0].Score
	if delta <= 20 {
		return nil
	}

	scores := make([]float64, len(recent))
	for i, p := range recent {
		scores[i] = p.Score
	}
	return []RiskFactor{{
		Type:        FactorEscalatingBehavior,
		Score:       25,
		Severity:    SeverityHigh,
		Description: fmt.Sprintf("risk scores rising across recent assessments, up %.0f points", delta),
		Evidence:    map[string]any{"recentScores": scores, "delta": delta},
	}}
}

// ---------------------------------------------------------------------------
// triggerEventRule: fixed factor per triggering event type
// ---------------------------------------------------------------------------

// triggerFactors maps a trigger type to the fixed factor it contributes.
// Manual triggers run the analysis but add no factor of their own.
var triggerFactors = map[TriggerType]RiskFactor{
	TriggerMultipleBlockedAttempts: {
		Type:        FactorMultipleBlockedAttempts,
		Score:       20,
		Severity:    SeverityMedium,
		Description: "analysis triggered by repeated blocked attempts",
	},
	TriggerEmergencyContactTampering: {
		Type:        FactorEmergencyContactTampering,
		Score:       40,
		Severity:    SeverityHigh,
		Description: "analysis triggered by emergency contact tampering",
	},
	TriggerPanicModeActivation: {
		Type:        FactorPanicModeActivation,
		Score:       30,
		Severity:    SeverityHigh,
		Description: "analysis triggered by panic mode activation",
	},
}

type triggerEventRule struct{}

func (r *triggerEventRule) Name() string { return "trigger_event" }

func (r *triggerEventRule) Evaluate(_ context.Context, in *Input) []RiskFactor {
	if in.Trigger == nil {
		return nil
	}
	f, ok := triggerFactors[in.Trigger.Type]
	if !ok {
		return nil
	}
	if in.Trigger.Detail != "" {
		f.Evidence = map[string]any{"detail": in.Trigger.Detail}
	}
	return []RiskFactor{f}
}
