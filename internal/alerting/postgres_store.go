package alerting

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PostgresAlertStore persists alerts in PostgreSQL. Factors and the
// recommended actions are stored as JSONB so alerts stay self-contained.
type PostgresAlertStore struct {
	db *sql.DB
}

var _ AlertStore = (*PostgresAlertStore)(nil)

// NewPostgresAlertStore creates a PostgreSQL-backed alert store.
func NewPostgresAlertStore(db *sql.DB) *PostgresAlertStore {
	return &PostgresAlertStore{db: db}
}

// Migrate creates the abuse_alerts table if it doesn't exist.
func (s *PostgresAlertStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS abuse_alerts (
			id                        VARCHAR(64) PRIMARY KEY,
			assessment_id             VARCHAR(64) NOT NULL,
			caregiver_id              VARCHAR(128) NOT NULL,
			user_id                   VARCHAR(128) NOT NULL,
			alert_type                VARCHAR(32) NOT NULL,
			level                     VARCHAR(16) NOT NULL CHECK (level IN ('MINIMAL', 'LOW', 'MEDIUM', 'HIGH', 'CRITICAL')),
			score                     DOUBLE PRECISION NOT NULL,
			message                   TEXT NOT NULL,
			factors                   JSONB NOT NULL DEFAULT '[]',
			recommended_actions       JSONB NOT NULL DEFAULT '[]',
			requires_immediate_action BOOLEAN NOT NULL DEFAULT FALSE,
			created_at                TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			acknowledged_at           TIMESTAMPTZ,
			acknowledged_by           VARCHAR(128)
		);

		CREATE INDEX IF NOT EXISTS idx_abuse_alerts_caregiver
			ON abuse_alerts (caregiver_id, created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_abuse_alerts_created
			ON abuse_alerts (created_at DESC);
	`)
	return err
}

func (s *PostgresAlertStore) Insert(ctx context.Context, a *Alert) error {
	factorsJSON, err := json.Marshal(a.Factors)
	if err != nil {
		return fmt.Errorf("failed to marshal factors: %w", err)
	}
	actionsJSON, err := json.Marshal(a.RecommendedActions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO abuse_alerts (id, assessment_id, caregiver_id, user_id, alert_type, level, score, message, factors, recommended_actions, requires_immediate_action, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		a.ID,
		a.AssessmentID,
		a.CaregiverID,
		a.UserID,
		string(a.Type),
		string(a.Level),
		a.Score,
		a.Message,
		factorsJSON,
		actionsJSON,
		a.RequiresImmediateAction,
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

func (s *PostgresAlertStore) Get(ctx context.Context, id string) (*Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, assessment_id, caregiver_id, user_id, alert_type, level, score, message, factors, recommended_actions, requires_immediate_action, created_at, acknowledged_at, acknowledged_by
		FROM abuse_alerts
		WHERE id = $1
	`, id)

	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *PostgresAlertStore) List(ctx context.Context, caregiverID string, limit int, opts ...ListOption) ([]*Alert, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	o := applyListOpts(opts)

	query := `SELECT id, assessment_id, caregiver_id, user_id, alert_type, level, score, message, factors, recommended_actions, requires_immediate_action, created_at, acknowledged_at, acknowledged_by FROM abuse_alerts`
	var args []interface{}
	var conditions []string

	if caregiverID != "" {
		args = append(args, caregiverID)
		conditions = append(conditions, fmt.Sprintf("caregiver_id = $%d", len(args))) //nolint:gosec // placeholder index, not user input
	}
	if o.cursor != nil {
		args = append(args, o.cursor.CreatedAt, o.cursor.ID)
		conditions = append(conditions, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args))) //nolint:gosec // placeholder index, not user input
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args)) //nolint:gosec // placeholder index, not user input

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return out, nil
}

func (s *PostgresAlertStore) Acknowledge(ctx context.Context, id, by string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE abuse_alerts
		SET acknowledged_at = $2, acknowledged_by = $3
		WHERE id = $1 AND acknowledged_at IS NULL
	`, id, at, by)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	if n == 0 {
		// Unmatched update: either the alert is missing or already confirmed.
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM abuse_alerts WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to acknowledge alert: %w", err)
		}
		if !exists {
			return ErrAlertNotFound
		}
		return ErrAlreadyAcknowledged
	}
	return nil
}

// alertScanner covers both *sql.Row and *sql.Rows.
type alertScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row alertScanner) (*Alert, error) {
	var (
		a           Alert
		factorsJSON []byte
		actionsJSON []byte
		ackAt       sql.NullTime
		ackBy       sql.NullString
	)
	err := row.Scan(&a.ID, &a.AssessmentID, &a.CaregiverID, &a.UserID, &a.Type, &a.Level,
		&a.Score, &a.Message, &factorsJSON, &actionsJSON, &a.RequiresImmediateAction,
		&a.CreatedAt, &ackAt, &ackBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}
	if err := json.Unmarshal(factorsJSON, &a.Factors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal factors: %w", err)
	}
	if err := json.Unmarshal(actionsJSON, &a.RecommendedActions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
	}
	if ackAt.Valid {
		t := ackAt.Time
		a.AcknowledgedAt = &t
	}
	if ackBy.Valid {
		a.AcknowledgedBy = ackBy.String
	}
	return &a, nil
}
