package alerting

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/elderguard/elderguard/internal/abuse"
	"github.com/elderguard/elderguard/internal/metrics"
	"github.com/elderguard/elderguard/internal/traces"
)

// EventSink receives every raised alert, for realtime streams and
// dashboards. Delivery is best-effort.
type EventSink interface {
	AlertRaised(ctx context.Context, a *Alert)
}

// Service is the alerting pipeline: generate, persist, buffer, dispatch.
// It implements abuse.AlertSink so the detector can hand over any
// assessment at MEDIUM or above.
type Service struct {
	gen        *Generator
	store      AlertStore
	recent     *RecentBuffer
	dispatcher *Dispatcher
	events     EventSink
	logger     *slog.Logger
	now        func() time.Time
}

var _ abuse.AlertSink = (*Service)(nil)

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithEventSink wires the realtime event sink.
func WithEventSink(sink EventSink) ServiceOption {
	return func(s *Service) { s.events = sink }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithRecentCap overrides the recent-alerts buffer capacity.
func WithRecentCap(n int) ServiceOption {
	return func(s *Service) { s.recent = NewRecentBuffer(n) }
}

// NewService creates the alerting service. A nil dispatcher records
// alerts without notifying anyone.
func NewService(store AlertStore, dispatcher *Dispatcher, opts ...ServiceOption) *Service {
	s := &Service{
		gen:        NewGenerator(),
		store:      store,
		recent:     NewRecentBuffer(DefaultRecentCap),
		dispatcher: dispatcher,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RaiseAlert builds and routes the alert for one assessment. A persist
// failure surfaces as *abuse.PersistenceError but never stops the alert
// from reaching the buffer, the event sink, and the dispatcher; dispatch
// failures join it as *abuse.NotificationError per channel.
func (s *Service) RaiseAlert(ctx context.Context, a *abuse.RiskAssessment) error {
	ctx, span := traces.StartSpan(ctx, "alerting.raise",
		traces.CaregiverID(a.CaregiverID),
		traces.AssessmentID(a.ID),
		traces.RiskLevel(string(a.Level)),
	)
	defer span.End()

	alert := s.gen.Generate(a, s.now())
	span.SetAttributes(traces.AlertID(alert.ID))

	var errs []error
	if err := s.store.Insert(ctx, alert); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("alerts", "insert").Inc()
		s.logger.Error("alert not persisted",
			"alert_id", alert.ID,
			"caregiver_id", alert.CaregiverID,
			"error", err)
		errs = append(errs, &abuse.PersistenceError{Op: "insert alert", Err: err})
	}

	s.recent.Add(alert)
	metrics.AlertsTotal.WithLabelValues(string(alert.Type), string(alert.Level)).Inc()

	if s.events != nil {
		s.events.AlertRaised(ctx, alert)
	}

	s.logger.Warn("abuse alert raised",
		"alert_id", alert.ID,
		"assessment_id", alert.AssessmentID,
		"caregiver_id", alert.CaregiverID,
		"user_id", alert.UserID,
		"type", string(alert.Type),
		"level", string(alert.Level),
		"immediate", alert.RequiresImmediateAction)

	if s.dispatcher != nil {
		if err := s.dispatcher.Dispatch(ctx, alert); err != nil {
			span.RecordError(err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Recent returns the buffered alerts, most recent first.
func (s *Service) Recent() []*Alert {
	return s.recent.List()
}

// List returns stored alerts newest first, optionally filtered by
// caregiver and resumed from a cursor.
func (s *Service) List(ctx context.Context, caregiverID string, limit int, opts ...ListOption) ([]*Alert, error) {
	return s.store.List(ctx, caregiverID, limit, opts...)
}

// Get returns one stored alert.
func (s *Service) Get(ctx context.Context, id string) (*Alert, error) {
	return s.store.Get(ctx, id)
}

// Acknowledge records a care team member's confirmation and returns the
// updated alert.
func (s *Service) Acknowledge(ctx context.Context, id, by string) (*Alert, error) {
	if err := s.store.Acknowledge(ctx, id, by, s.now()); err != nil {
		return nil, err
	}
	s.logger.Info("alert acknowledged", "alert_id", id, "by", by)
	return s.store.Get(ctx, id)
}
