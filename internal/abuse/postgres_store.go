package abuse

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresAssessmentStore persists assessments in PostgreSQL. Factors and
// the trigger event are stored as JSONB so rule evidence survives intact.
type PostgresAssessmentStore struct {
	db *sql.DB
}

var _ AssessmentStore = (*PostgresAssessmentStore)(nil)

// NewPostgresAssessmentStore creates a PostgreSQL-backed assessment store.
func NewPostgresAssessmentStore(db *sql.DB) *PostgresAssessmentStore {
	return &PostgresAssessmentStore{db: db}
}

// Migrate creates the risk_assessments table if it doesn't exist.
func (s *PostgresAssessmentStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS risk_assessments (
			id            VARCHAR(64) PRIMARY KEY,
			caregiver_id  VARCHAR(128) NOT NULL,
			user_id       VARCHAR(128) NOT NULL,
			score         DOUBLE PRECISION NOT NULL CHECK (score >= 0),
			level         VARCHAR(16) NOT NULL CHECK (level IN ('MINIMAL', 'LOW', 'MEDIUM', 'HIGH', 'CRITICAL')),
			factors       JSONB NOT NULL DEFAULT '[]',
			trigger_event JSONB,
			window_start  TIMESTAMPTZ NOT NULL,
			window_end    TIMESTAMPTZ NOT NULL,
			assessed_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_risk_assessments_caregiver
			ON risk_assessments (caregiver_id, assessed_at DESC);
	`)
	return err
}

func (s *PostgresAssessmentStore) Save(ctx context.Context, a *RiskAssessment) error {
	factorsJSON, err := json.Marshal(a.Factors)
	if err != nil {
		return fmt.Errorf("failed to marshal factors: %w", err)
	}
	var triggerJSON any
	if a.Trigger != nil {
		b, err := json.Marshal(a.Trigger)
		if err != nil {
			return fmt.Errorf("failed to marshal trigger: %w", err)
		}
		triggerJSON = b
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_assessments (id, caregiver_id, user_id, score, level, factors, trigger_event, window_start, window_end, assessed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		a.ID,
		a.CaregiverID,
		a.UserID,
		a.Score,
		string(a.Level),
		factorsJSON,
		triggerJSON,
		a.WindowStart,
		a.WindowEnd,
		a.AssessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save assessment: %w", err)
	}
	return nil
}

func (s *PostgresAssessmentStore) History(ctx context.Context, caregiverID string, limit int) ([]HistoryPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT score, level, assessed_at
		FROM risk_assessments
		WHERE caregiver_id = $1
		ORDER BY assessed_at DESC
		LIMIT $2
	`, caregiverID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var points []HistoryPoint
	for rows.Next() {
		var p HistoryPoint
		if err := rows.Scan(&p.Score, &p.Level, &p.AssessedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history point: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	// Query is newest-first for the LIMIT; callers want ascending.
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

func (s *PostgresAssessmentStore) Recent(ctx context.Context, caregiverID string, limit int) ([]*RiskAssessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, caregiver_id, user_id, score, level, factors, trigger_event, window_start, window_end, assessed_at
		FROM risk_assessments
		WHERE caregiver_id = $1
		ORDER BY assessed_at DESC
		LIMIT $2
	`, caregiverID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*RiskAssessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	return out, nil
}

func (s *PostgresAssessmentStore) Latest(ctx context.Context, caregiverID string) (*RiskAssessment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, caregiver_id, user_id, score, level, factors, trigger_event, window_start, window_end, assessed_at
		FROM risk_assessments
		WHERE caregiver_id = $1
		ORDER BY assessed_at DESC
		LIMIT 1
	`, caregiverID)

	a, err := scanAssessment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoAssessment
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAssessment(row scanner) (*RiskAssessment, error) {
	var (
		a           RiskAssessment
		factorsJSON []byte
		triggerJSON []byte
	)
	err := row.Scan(&a.ID, &a.CaregiverID, &a.UserID, &a.Score, &a.Level,
		&factorsJSON, &triggerJSON, &a.WindowStart, &a.WindowEnd, &a.AssessedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan assessment: %w", err)
	}
	if err := json.Unmarshal(factorsJSON, &a.Factors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal factors: %w", err)
	}
	if len(triggerJSON) > 0 {
		var t TriggerEvent
		if err := json.Unmarshal(triggerJSON, &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger: %w", err)
		}
		a.Trigger = &t
	}
	return &a, nil
}
