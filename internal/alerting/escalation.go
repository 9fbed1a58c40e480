package alerting

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/elderguard/elderguard/internal/abuse"
	"github.com/elderguard/elderguard/internal/idgen"
	"github.com/elderguard/elderguard/internal/metrics"
)

// DefaultEscalationDelay is how long a MEDIUM alert waits before the
// advocate is notified.
const DefaultEscalationDelay = 24 * time.Hour

// Notification channels.
const (
	ChannelAdvocate = "advocate"
	ChannelUser     = "user"
)

// userNotice is deliberately calm. It never names the caregiver or the
// suspected behavior; the elder's device may be in the caregiver's hands.
const userNotice = "We noticed some unusual activity on your account and want to make sure everything is okay. " +
	"A member of your support team may reach out to check in. You can contact them anytime if something feels wrong."

// Notification is one outbound message to an advocate or to the
// protected user.
type Notification struct {
	AlertID     string    `json:"alertId"`
	CaregiverID string    `json:"caregiverId"`
	UserID      string    `json:"userId"`
	AlertType   AlertType `json:"alertType"`
	Urgency     Urgency   `json:"urgency"`
	Message     string    `json:"message"`
}

// Notifier delivers notifications. Implementations must be safe for
// concurrent use.
type Notifier interface {
	NotifyAdvocate(ctx context.Context, n *Notification) error
	NotifyUser(ctx context.Context, n *Notification) error
}

// NotificationScheduler accepts delayed notifications for later delivery.
// Implemented by the Scheduler's store.
type NotificationScheduler interface {
	Schedule(ctx context.Context, n *ScheduledNotification) error
}

// Dispatcher routes alerts to the notification policy for their level:
// CRITICAL and HIGH go to the advocate immediately, MEDIUM is scheduled
// for delayed delivery, everything else is recorded only.
type Dispatcher struct {
	notifier  Notifier
	scheduler NotificationScheduler
	delay     time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewDispatcher creates a dispatcher. A non-positive delay applies
// DefaultEscalationDelay; a nil scheduler downgrades MEDIUM alerts to
// record-only.
func NewDispatcher(notifier Notifier, scheduler NotificationScheduler, delay time.Duration, logger *slog.Logger) *Dispatcher {
	if delay <= 0 {
		delay = DefaultEscalationDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		notifier:  notifier,
		scheduler: scheduler,
		delay:     delay,
		logger:    logger,
		now:       time.Now,
	}
}

// Dispatch applies the escalation policy to one alert. Failures are
// reported as *abuse.NotificationError per channel, joined; a failure on
// one channel never prevents attempts on the others.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *Alert) error {
	switch alert.Level {
	case abuse.LevelCritical:
		return d.escalate(ctx, alert, UrgencyImmediate)
	case abuse.LevelHigh:
		return d.escalate(ctx, alert, UrgencyHigh)
	case abuse.LevelMedium:
		return d.scheduleDelayed(ctx, alert)
	default:
		d.logger.Info("alert recorded without notification",
			"alert_id", alert.ID,
			"level", string(alert.Level))
		metrics.EscalationsTotal.WithLabelValues("none", "recorded").Inc()
		return nil
	}
}

// escalate notifies the advocate now and, unless the safety system itself
// was tampered with, sends the protected user a supportive notice. A
// SAFETY_COMPROMISE alert stays advocate-only so a tampering caregiver
// gets no tip-off through the elder's device.
func (d *Dispatcher) escalate(ctx context.Context, alert *Alert, urgency Urgency) error {
	var errs []error

	advocate := &Notification{
		AlertID:     alert.ID,
		CaregiverID: alert.CaregiverID,
		UserID:      alert.UserID,
		AlertType:   alert.Type,
		Urgency:     urgency,
		Message:     alert.Message,
	}
	if err := d.notifier.NotifyAdvocate(ctx, advocate); err != nil {
		metrics.EscalationsTotal.WithLabelValues(string(urgency), "failed").Inc()
		metrics.NotificationFailuresTotal.WithLabelValues(ChannelAdvocate).Inc()
		d.logger.Error("advocate notification failed",
			"alert_id", alert.ID,
			"urgency", string(urgency),
			"error", err)
		errs = append(errs, &abuse.NotificationError{Channel: ChannelAdvocate, Err: err})
	} else {
		metrics.EscalationsTotal.WithLabelValues(string(urgency), "delivered").Inc()
		d.logger.Info("advocate notified",
			"alert_id", alert.ID,
			"type", string(alert.Type),
			"urgency", string(urgency))
	}

	if alert.Type != TypeSafetyCompromise {
		user := &Notification{
			AlertID: alert.ID,
			UserID:  alert.UserID,
			Urgency: urgency,
			Message: userNotice,
		}
		if err := d.notifier.NotifyUser(ctx, user); err != nil {
			metrics.NotificationFailuresTotal.WithLabelValues(ChannelUser).Inc()
			d.logger.Error("user notice failed",
				"alert_id", alert.ID,
				"error", err)
			errs = append(errs, &abuse.NotificationError{Channel: ChannelUser, Err: err})
		}
	}

	return errors.Join(errs...)
}

// scheduleDelayed queues an advocate notification for delivery after the
// escalation delay. No immediate notification goes out for MEDIUM alerts.
func (d *Dispatcher) scheduleDelayed(ctx context.Context, alert *Alert) error {
	if d.scheduler == nil {
		d.logger.Warn("no scheduler configured, alert recorded only",
			"alert_id", alert.ID)
		metrics.EscalationsTotal.WithLabelValues(string(UrgencyStandard), "recorded").Inc()
		return nil
	}

	now := d.now()
	n := &ScheduledNotification{
		ID:          idgen.WithPrefix("note_"),
		AlertID:     alert.ID,
		CaregiverID: alert.CaregiverID,
		UserID:      alert.UserID,
		AlertType:   alert.Type,
		Urgency:     UrgencyStandard,
		Channel:     ChannelAdvocate,
		Message:     alert.Message,
		NotBefore:   now.Add(d.delay),
		CreatedAt:   now,
	}
	if err := d.scheduler.Schedule(ctx, n); err != nil {
		metrics.EscalationsTotal.WithLabelValues(string(UrgencyStandard), "failed").Inc()
		d.logger.Error("notification scheduling failed",
			"alert_id", alert.ID,
			"error", err)
		return &abuse.NotificationError{Channel: "scheduler", Err: err}
	}

	metrics.EscalationsTotal.WithLabelValues(string(UrgencyStandard), "scheduled").Inc()
	d.logger.Info("advocate notification scheduled",
		"alert_id", alert.ID,
		"notification_id", n.ID,
		"deliver_after", n.NotBefore)
	return nil
}
