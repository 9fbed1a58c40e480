package abuse

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/elderguard/elderguard/internal/behavior"
	"github.com/elderguard/elderguard/internal/idgen"
	"github.com/elderguard/elderguard/internal/metrics"
	"github.com/elderguard/elderguard/internal/syncutil"
	"github.com/elderguard/elderguard/internal/traces"
)

// historyLimit is how many prior assessments feed the escalation rule.
const historyLimit = 10

// SnapshotCollector assembles a caregiver's behavior window.
type SnapshotCollector interface {
	Collect(ctx context.Context, caregiverID, userID string) (*behavior.Snapshot, error)
}

// AlertSink receives assessments at MEDIUM or above. Implemented by the
// alerting service. Failures surface as PersistenceErrors or
// NotificationErrors and never roll back the assessment.
type AlertSink interface {
	RaiseAlert(ctx context.Context, a *RiskAssessment) error
}

// EventSink receives every completed assessment, for realtime streams and
// dashboards. Delivery is best-effort.
type EventSink interface {
	AssessmentUpdated(ctx context.Context, a *RiskAssessment)
}

// Detector runs the analysis pipeline: collect, evaluate, aggregate,
// persist, cache, notify. One Detector serves all caregivers; analyses of
// the same caregiver are serialized while different caregivers proceed
// concurrently.
type Detector struct {
	collector SnapshotCollector
	store     AssessmentStore
	rules     []Rule
	alerts    AlertSink
	events    EventSink

	locks *syncutil.KeyedMutex

	mu      sync.RWMutex
	current map[string]*RiskAssessment

	now    func() time.Time
	logger *slog.Logger
}

// Option configures the Detector.
type Option func(*Detector)

// WithRules overrides the default rule set.
func WithRules(rules ...Rule) Option {
	return func(d *Detector) { d.rules = rules }
}

// WithAlertSink wires the alerting service.
func WithAlertSink(s AlertSink) Option {
	return func(d *Detector) { d.alerts = s }
}

// WithEventSink wires the realtime event sink.
func WithEventSink(s EventSink) Option {
	return func(d *Detector) { d.events = s }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) { d.logger = l }
}

// NewDetector creates a Detector with the default rules.
func NewDetector(collector SnapshotCollector, store AssessmentStore, opts ...Option) *Detector {
	d := &Detector{
		collector: collector,
		store:     store,
		rules:     DefaultRules(),
		locks:     syncutil.NewKeyedMutex(),
		current:   make(map[string]*RiskAssessment),
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Analyze runs one full assessment of a caregiver's behavior toward an
// elder user. A non-nil assessment is always valid: persistence and
// notification failures are reported through the error alongside it
// (as *PersistenceError / *NotificationError, possibly joined) without
// withholding the result. A *behavior.CollectionError aborts the analysis
// and returns no assessment.
func (d *Detector) Analyze(ctx context.Context, caregiverID, userID string, trigger *TriggerEvent) (*RiskAssessment, error) {
	triggerLabel := "scheduled"
	if trigger != nil {
		triggerLabel = string(trigger.Type)
	}

	ctx, span := traces.StartSpan(ctx, "abuse.analyze",
		traces.CaregiverID(caregiverID),
		traces.UserID(userID),
		traces.TriggerType(triggerLabel),
	)
	defer span.End()

	unlock, err := d.locks.Lock(ctx, caregiverID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := time.Now()
	defer func() { metrics.AnalysisDuration.Observe(time.Since(start).Seconds()) }()

	snap, err := d.collector.Collect(ctx, caregiverID, userID)
	if err != nil {
		metrics.AnalysisErrorsTotal.WithLabelValues("collection").Inc()
		span.RecordError(err)
		return nil, err
	}

	history, err := d.store.History(ctx, caregiverID, historyLimit)
	if err != nil {
		// Prior scores only sharpen the escalation rule; a read failure
		// must not block a fresh assessment.
		d.logger.Warn("assessment history unavailable",
			"caregiver_id", caregiverID,
			"error", err)
		metrics.StoreErrorsTotal.WithLabelValues("assessments", "history").Inc()
		history = nil
	}

	now := d.now()
	in := &Input{Snapshot: snap, History: history, Trigger: trigger, Now: now}

	var factors []RiskFactor
	for _, rule := range d.rules {
		ruleStart := time.Now()
		found := rule.Evaluate(ctx, in)
		metrics.RuleEvalDuration.WithLabelValues(rule.Name()).Observe(time.Since(ruleStart).Seconds())
		for _, f := range found {
			metrics.RiskFactorsTotal.WithLabelValues(string(f.Type)).Inc()
		}
		factors = append(factors, found...)
	}

	score := TotalScore(factors)
	level := LevelFromScore(score)

	assessment := &RiskAssessment{
		ID:          idgen.WithPrefix("asmt_"),
		CaregiverID: caregiverID,
		UserID:      userID,
		Score:       score,
		Level:       level,
		Factors:     factors,
		Trigger:     trigger,
		WindowStart: snap.WindowStart,
		WindowEnd:   snap.WindowEnd,
		AssessedAt:  now,
	}
	span.SetAttributes(traces.AssessmentID(assessment.ID), traces.RiskLevel(string(level)))

	var errs []error
	if err := d.store.Save(ctx, assessment); err != nil {
		metrics.AnalysisErrorsTotal.WithLabelValues("persistence").Inc()
		metrics.StoreErrorsTotal.WithLabelValues("assessments", "save").Inc()
		d.logger.Error("assessment not persisted",
			"assessment_id", assessment.ID,
			"caregiver_id", caregiverID,
			"error", err)
		errs = append(errs, &PersistenceError{Op: "save assessment", Err: err})
	}

	d.replaceCurrent(assessment)

	if d.events != nil {
		d.events.AssessmentUpdated(ctx, assessment)
	}

	if d.alerts != nil && level.AtLeast(LevelMedium) {
		if err := d.alerts.RaiseAlert(ctx, assessment); err != nil {
			metrics.AnalysisErrorsTotal.WithLabelValues("notification").Inc()
			d.logger.Error("alert delivery failed",
				"assessment_id", assessment.ID,
				"caregiver_id", caregiverID,
				"error", err)
			var ne *NotificationError
			var pe *PersistenceError
			if !errors.As(err, &ne) && !errors.As(err, &pe) {
				err = &NotificationError{Channel: "alerting", Err: err}
			}
			errs = append(errs, err)
		}
	}

	metrics.AnalysesTotal.WithLabelValues(triggerLabel, string(level)).Inc()
	d.logger.Info("risk assessment complete",
		"assessment_id", assessment.ID,
		"caregiver_id", caregiverID,
		"user_id", userID,
		"score", score,
		"level", string(level),
		"factors", len(factors),
		"trigger", triggerLabel)

	return assessment, errors.Join(errs...)
}

// TriggerManual runs an analysis on behalf of a care team member. The
// reason rides on the trigger event for the audit trail; manual triggers
// contribute no factor of their own.
func (d *Detector) TriggerManual(ctx context.Context, caregiverID, userID, reason string) (*RiskAssessment, error) {
	return d.Analyze(ctx, caregiverID, userID, &TriggerEvent{
		Type:       TriggerManual,
		Detail:     reason,
		OccurredAt: d.now(),
	})
}

// Current returns the caregiver's cached current assessment. It never
// consults the store, so a caregiver assessed only before the last process
// start has no current assessment until re-analyzed.
func (d *Detector) Current(caregiverID string) (*RiskAssessment, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.current[caregiverID]
	return a, ok
}

// CurrentAll returns every cached assessment, highest score first.
func (d *Detector) CurrentAll() []*RiskAssessment {
	d.mu.RLock()
	out := make([]*RiskAssessment, 0, len(d.current))
	for _, a := range d.current {
		out = append(out, a)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// replaceCurrent swaps the caregiver's cache entry and recounts the
// per-level gauge.
func (d *Detector) replaceCurrent(a *RiskAssessment) {
	d.mu.Lock()
	d.current[a.CaregiverID] = a
	counts := make(map[RiskLevel]int, 5)
	for _, cur := range d.current {
		counts[cur.Level]++
	}
	d.mu.Unlock()

	for _, lvl := range []RiskLevel{LevelMinimal, LevelLow, LevelMedium, LevelHigh, LevelCritical} {
		metrics.CurrentAssessments.WithLabelValues(string(lvl)).Set(float64(counts[lvl]))
	}
}
