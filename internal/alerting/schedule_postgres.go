package alerting

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresScheduleStore persists scheduled notifications in PostgreSQL,
// so delayed advocate notifications survive restarts.
type PostgresScheduleStore struct {
	db *sql.DB
}

var _ ScheduleStore = (*PostgresScheduleStore)(nil)

// NewPostgresScheduleStore creates a PostgreSQL-backed schedule store.
func NewPostgresScheduleStore(db *sql.DB) *PostgresScheduleStore {
	return &PostgresScheduleStore{db: db}
}

// Migrate creates the scheduled_notifications table if it doesn't exist.
func (s *PostgresScheduleStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS scheduled_notifications (
			id           VARCHAR(64) PRIMARY KEY,
			alert_id     VARCHAR(64) NOT NULL,
			caregiver_id VARCHAR(128) NOT NULL,
			user_id      VARCHAR(128) NOT NULL,
			alert_type   VARCHAR(32) NOT NULL,
			urgency      VARCHAR(16) NOT NULL,
			channel      VARCHAR(16) NOT NULL,
			message      TEXT NOT NULL,
			not_before   TIMESTAMPTZ NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			attempts     INT NOT NULL DEFAULT 0,
			last_error   TEXT,
			delivered_at TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS idx_scheduled_notifications_due
			ON scheduled_notifications (not_before)
			WHERE delivered_at IS NULL;
	`)
	return err
}

func (s *PostgresScheduleStore) Schedule(ctx context.Context, n *ScheduledNotification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_notifications (id, alert_id, caregiver_id, user_id, alert_type, urgency, channel, message, not_before, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		n.ID,
		n.AlertID,
		n.CaregiverID,
		n.UserID,
		string(n.AlertType),
		string(n.Urgency),
		n.Channel,
		n.Message,
		n.NotBefore,
		n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to schedule notification: %w", err)
	}
	return nil
}

func (s *PostgresScheduleStore) Due(ctx context.Context, now time.Time, limit int) ([]*ScheduledNotification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, alert_id, caregiver_id, user_id, alert_type, urgency, channel, message, not_before, created_at, attempts, last_error, delivered_at
		FROM scheduled_notifications
		WHERE delivered_at IS NULL AND not_before <= $1 AND attempts < $2
		ORDER BY not_before ASC
		LIMIT $3
	`, now, maxDeliveryAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load due notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*ScheduledNotification
	for rows.Next() {
		var (
			n         ScheduledNotification
			lastErr   sql.NullString
			delivered sql.NullTime
		)
		err := rows.Scan(&n.ID, &n.AlertID, &n.CaregiverID, &n.UserID, &n.AlertType,
			&n.Urgency, &n.Channel, &n.Message, &n.NotBefore, &n.CreatedAt,
			&n.Attempts, &lastErr, &delivered)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if lastErr.Valid {
			n.LastError = lastErr.String
		}
		if delivered.Valid {
			t := delivered.Time
			n.DeliveredAt = &t
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load due notifications: %w", err)
	}
	return out, nil
}

func (s *PostgresScheduleStore) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_notifications
		SET delivered_at = $2
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark delivered: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark delivered: %w", err)
	}
	if n == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (s *PostgresScheduleStore) MarkFailed(ctx context.Context, id, deliveryErr string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_notifications
		SET attempts = attempts + 1, last_error = $2
		WHERE id = $1
	`, id, deliveryErr)
	if err != nil {
		return fmt.Errorf("failed to mark failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark failed: %w", err)
	}
	if n == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (s *PostgresScheduleStore) Pending(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM scheduled_notifications WHERE delivered_at IS NULL
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending: %w", err)
	}
	return count, nil
}
