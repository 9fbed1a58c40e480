package alerting

import (
	"context"
	"log/slog"
)

// LogNotifier writes notifications to the structured log. It is the
// default sink when no webhook endpoints are configured, so deployments
// without an external paging system still leave an operator-visible trail.
type LogNotifier struct {
	logger *slog.Logger
}

var _ Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) NotifyAdvocate(ctx context.Context, n *Notification) error {
	l.logger.Warn("ADVOCATE NOTIFICATION",
		"alert_id", n.AlertID,
		"caregiver_id", n.CaregiverID,
		"user_id", n.UserID,
		"type", string(n.AlertType),
		"urgency", string(n.Urgency),
		"message", n.Message)
	return nil
}

func (l *LogNotifier) NotifyUser(ctx context.Context, n *Notification) error {
	l.logger.Info("user notice",
		"alert_id", n.AlertID,
		"user_id", n.UserID,
		"message", n.Message)
	return nil
}
