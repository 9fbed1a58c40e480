package behavior

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresActivityLog persists behavior events in PostgreSQL.
type PostgresActivityLog struct {
	db *sql.DB
}

// Compile-time check.
var _ ActivityLog = (*PostgresActivityLog)(nil)

// NewPostgresActivityLog creates a PostgreSQL-backed activity log.
func NewPostgresActivityLog(db *sql.DB) *PostgresActivityLog {
	return &PostgresActivityLog{db: db}
}

// Migrate creates the behavior event tables if they don't exist.
func (l *PostgresActivityLog) Migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS behavior_contact_attempts (
			id            VARCHAR(64) PRIMARY KEY,
			caregiver_id  VARCHAR(128) NOT NULL,
			user_id       VARCHAR(128) NOT NULL,
			contact_id    VARCHAR(128),
			relationship  TEXT,
			action        VARCHAR(32) NOT NULL,
			result        VARCHAR(32) NOT NULL,
			occurred_at   TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_contact_attempts_pair
			ON behavior_contact_attempts (caregiver_id, user_id, occurred_at);

		CREATE TABLE IF NOT EXISTS behavior_permission_events (
			id            VARCHAR(64) PRIMARY KEY,
			caregiver_id  VARCHAR(128) NOT NULL,
			user_id       VARCHAR(128) NOT NULL,
			action        VARCHAR(32) NOT NULL,
			permission    VARCHAR(64) NOT NULL,
			result        VARCHAR(32) NOT NULL,
			occurred_at   TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_permission_events_pair
			ON behavior_permission_events (caregiver_id, user_id, occurred_at);

		CREATE TABLE IF NOT EXISTS behavior_emergency_interactions (
			id            VARCHAR(64) PRIMARY KEY,
			caregiver_id  VARCHAR(128) NOT NULL,
			user_id       VARCHAR(128) NOT NULL,
			kind          VARCHAR(40) NOT NULL,
			detail        TEXT,
			occurred_at   TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_emergency_interactions_pair
			ON behavior_emergency_interactions (caregiver_id, user_id, occurred_at);
	`)
	return err
}

func (l *PostgresActivityLog) RecordContactAttempt(ctx context.Context, a *ContactAttempt) error {
	stampContactAttempt(a)
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO behavior_contact_attempts
			(id, caregiver_id, user_id, contact_id, relationship, action, result, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.CaregiverID, a.UserID, nullable(a.ContactID), nullable(a.Relationship), a.Action, a.Result, a.OccurredAt)
	if err != nil {
		return fmt.Errorf("record contact attempt: %w", err)
	}
	return nil
}

func (l *PostgresActivityLog) RecordPermissionEvent(ctx context.Context, e *PermissionEvent) error {
	stampPermissionEvent(e)
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO behavior_permission_events
			(id, caregiver_id, user_id, action, permission, result, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.CaregiverID, e.UserID, e.Action, e.Permission, e.Result, e.OccurredAt)
	if err != nil {
		return fmt.Errorf("record permission event: %w", err)
	}
	return nil
}

func (l *PostgresActivityLog) RecordEmergencyInteraction(ctx context.Context, i *EmergencyInteraction) error {
	stampEmergencyInteraction(i)
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO behavior_emergency_interactions
			(id, caregiver_id, user_id, kind, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, i.ID, i.CaregiverID, i.UserID, i.Kind, nullable(i.Detail), i.OccurredAt)
	if err != nil {
		return fmt.Errorf("record emergency interaction: %w", err)
	}
	return nil
}

func (l *PostgresActivityLog) ContactAttempts(ctx context.Context, caregiverID, userID string, since time.Time) ([]ContactAttempt, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, caregiver_id, user_id, contact_id, relationship, action, result, occurred_at
		FROM behavior_contact_attempts
		WHERE caregiver_id = $1 AND user_id = $2 AND occurred_at >= $3
		ORDER BY occurred_at ASC
	`, caregiverID, userID, since)
	if err != nil {
		return nil, fmt.Errorf("list contact attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ContactAttempt
	for rows.Next() {
		var a ContactAttempt
		var contactID, relationship sql.NullString
		if err := rows.Scan(&a.ID, &a.CaregiverID, &a.UserID, &contactID, &relationship, &a.Action, &a.Result, &a.OccurredAt); err != nil {
			return nil, err
		}
		a.ContactID = contactID.String
		a.Relationship = relationship.String
		out = append(out, a)
	}
	return out, rows.Err()
}

func (l *PostgresActivityLog) PermissionEvents(ctx context.Context, caregiverID, userID string, since time.Time) ([]PermissionEvent, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, caregiver_id, user_id, action, permission, result, occurred_at
		FROM behavior_permission_events
		WHERE caregiver_id = $1 AND user_id = $2 AND occurred_at >= $3
		ORDER BY occurred_at ASC
	`, caregiverID, userID, since)
	if err != nil {
		return nil, fmt.Errorf("list permission events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []PermissionEvent
	for rows.Next() {
		var e PermissionEvent
		if err := rows.Scan(&e.ID, &e.CaregiverID, &e.UserID, &e.Action, &e.Permission, &e.Result, &e.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (l *PostgresActivityLog) EmergencyInteractions(ctx context.Context, caregiverID, userID string, since time.Time) ([]EmergencyInteraction, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, caregiver_id, user_id, kind, detail, occurred_at
		FROM behavior_emergency_interactions
		WHERE caregiver_id = $1 AND user_id = $2 AND occurred_at >= $3
		ORDER BY occurred_at ASC
	`, caregiverID, userID, since)
	if err != nil {
		return nil, fmt.Errorf("list emergency interactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []EmergencyInteraction
	for rows.Next() {
		var i EmergencyInteraction
		var detail sql.NullString
		if err := rows.Scan(&i.ID, &i.CaregiverID, &i.UserID, &i.Kind, &detail, &i.OccurredAt); err != nil {
			return nil, err
		}
		i.Detail = detail.String
		out = append(out, i)
	}
	return out, rows.Err()
}

func (l *PostgresActivityLog) ActiveCaregivers(ctx context.Context, since time.Time) ([]CaregiverUser, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT DISTINCT caregiver_id, user_id FROM behavior_contact_attempts WHERE occurred_at >= $1
		UNION
		SELECT DISTINCT caregiver_id, user_id FROM behavior_permission_events WHERE occurred_at >= $1
		UNION
		SELECT DISTINCT caregiver_id, user_id FROM behavior_emergency_interactions WHERE occurred_at >= $1
	`, since)
	if err != nil {
		return nil, fmt.Errorf("list active caregivers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []CaregiverUser
	for rows.Next() {
		var pair CaregiverUser
		if err := rows.Scan(&pair.CaregiverID, &pair.UserID); err != nil {
			return nil, err
		}
		out = append(out, pair)
	}
	return out, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
