//go:build integration

package alerting

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/elderguard/elderguard/internal/abuse"
	"github.com/elderguard/elderguard/internal/pagination"
	"github.com/elderguard/elderguard/internal/testutil"
)

func TestPostgresAlertStoreRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresAlertStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	a := &Alert{
		ID:           "alert_pg_1",
		AssessmentID: "asmt_pg_1",
		CaregiverID:  "cg-pg-1",
		UserID:       "elder-pg-1",
		Type:         TypeSafetyCompromise,
		Level:        abuse.LevelCritical,
		Score:        120,
		Message:      "CRITICAL abuse risk for caregiver cg-pg-1 (score 120): 3 attempts to disable or modify emergency safety systems. Immediate protective action is required.",
		Factors: []abuse.RiskFactor{
			{
				Type:        abuse.FactorSafetySystemTampering,
				Score:       120,
				Severity:    abuse.SeverityCritical,
				Description: "3 attempts to disable or modify emergency safety systems",
				Evidence:    map[string]any{"emergencyDisableAttempts": 3},
			},
		},
		RecommendedActions: []string{
			"Contact the elder rights advocate immediately",
			"Consider restricting the caregiver's permissions",
		},
		RequiresImmediateAction: true,
		CreatedAt:               now,
	}
	if err := store.Insert(ctx, a); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.Get(ctx, "alert_pg_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Type != TypeSafetyCompromise || got.Level != abuse.LevelCritical || got.Score != 120 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if len(got.Factors) != 1 || got.Factors[0].Type != abuse.FactorSafetySystemTampering {
		t.Errorf("factors not preserved: %+v", got.Factors)
	}
	if len(got.RecommendedActions) != 2 || got.RecommendedActions[0] != a.RecommendedActions[0] {
		t.Errorf("actions not preserved: %+v", got.RecommendedActions)
	}
	if !got.RequiresImmediateAction {
		t.Error("immediate action flag not preserved")
	}
	if got.Acknowledged() {
		t.Error("new alert should not be acknowledged")
	}
}

func TestPostgresAlertStoreGetUnknown(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresAlertStore(db)
	if _, err := store.Get(context.Background(), "alert_missing"); !errors.Is(err, ErrAlertNotFound) {
		t.Fatalf("expected ErrAlertNotFound, got %v", err)
	}
}

func TestPostgresAlertStoreListAndFilter(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresAlertStore(db)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)

	for i := 0; i < 4; i++ {
		cg := "cg-pg-list-1"
		if i%2 == 1 {
			cg = "cg-pg-list-2"
		}
		err := store.Insert(ctx, &Alert{
			ID:                 fmt.Sprintf("alert_pg_l%d", i),
			AssessmentID:       fmt.Sprintf("asmt_pg_l%d", i),
			CaregiverID:        cg,
			UserID:             "elder-pg-1",
			Type:               TypeGeneralAbuseConcern,
			Level:              abuse.LevelMedium,
			Score:              55,
			Message:            "Elevated abuse risk.",
			Factors:            []abuse.RiskFactor{},
			RecommendedActions: []string{"Monitor caregiver activity more closely"},
			CreatedAt:          base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	all, err := store.List(ctx, "", 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 alerts, got %d", len(all))
	}
	if all[0].ID != "alert_pg_l3" {
		t.Errorf("newest first expected, got %s", all[0].ID)
	}

	cg1, err := store.List(ctx, "cg-pg-list-1", 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(cg1) != 2 || cg1[0].ID != "alert_pg_l2" || cg1[1].ID != "alert_pg_l0" {
		t.Errorf("filtered list = %+v", cg1)
	}

	limited, err := store.List(ctx, "", 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limit not applied, got %d", len(limited))
	}

	cursor := pagination.Encode(limited[1].CreatedAt, limited[1].ID)
	page2, err := store.List(ctx, "", 2, WithCursor(cursor))
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(page2) != 2 || page2[0].ID != "alert_pg_l1" || page2[1].ID != "alert_pg_l0" {
		t.Errorf("cursor page = %v", alertIDs(page2))
	}
}

func TestPostgresAlertStoreAcknowledge(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresAlertStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	err := store.Insert(ctx, &Alert{
		ID:                 "alert_pg_ack",
		AssessmentID:       "asmt_pg_ack",
		CaregiverID:        "cg-pg-ack",
		UserID:             "elder-pg-1",
		Type:               TypeGeneralAbuseConcern,
		Level:              abuse.LevelMedium,
		Score:              55,
		Message:            "Elevated abuse risk.",
		Factors:            []abuse.RiskFactor{},
		RecommendedActions: []string{},
		CreatedAt:          now,
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if err := store.Acknowledge(ctx, "alert_pg_ack", "care-team-ann", now); err != nil {
		t.Fatalf("Acknowledge failed: %v", err)
	}

	got, err := store.Get(ctx, "alert_pg_ack")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Acknowledged() || got.AcknowledgedBy != "care-team-ann" {
		t.Errorf("acknowledgement not persisted: %+v", got)
	}

	if err := store.Acknowledge(ctx, "alert_pg_ack", "care-team-bob", now); !errors.Is(err, ErrAlreadyAcknowledged) {
		t.Errorf("second acknowledge = %v, want ErrAlreadyAcknowledged", err)
	}
	if err := store.Acknowledge(ctx, "alert_missing", "care-team-ann", now); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("unknown id = %v, want ErrAlertNotFound", err)
	}
}

func TestPostgresScheduleStoreLifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresScheduleStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	due := &ScheduledNotification{
		ID:          "note_pg_due",
		AlertID:     "alert_pg_1",
		CaregiverID: "cg-pg-1",
		UserID:      "elder-pg-1",
		AlertType:   TypeGeneralAbuseConcern,
		Urgency:     UrgencyStandard,
		Channel:     ChannelAdvocate,
		Message:     "Elevated abuse risk.",
		NotBefore:   now.Add(-time.Hour),
		CreatedAt:   now.Add(-25 * time.Hour),
	}
	future := &ScheduledNotification{
		ID:          "note_pg_future",
		AlertID:     "alert_pg_2",
		CaregiverID: "cg-pg-1",
		UserID:      "elder-pg-1",
		AlertType:   TypeGeneralAbuseConcern,
		Urgency:     UrgencyStandard,
		Channel:     ChannelAdvocate,
		Message:     "Elevated abuse risk.",
		NotBefore:   now.Add(time.Hour),
		CreatedAt:   now,
	}
	for _, n := range []*ScheduledNotification{due, future} {
		if err := store.Schedule(ctx, n); err != nil {
			t.Fatalf("Schedule failed: %v", err)
		}
	}

	got, err := store.Due(ctx, now, 10)
	if err != nil {
		t.Fatalf("Due failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "note_pg_due" {
		t.Fatalf("due = %+v, want only note_pg_due", got)
	}
	if got[0].Urgency != UrgencyStandard || got[0].Channel != ChannelAdvocate {
		t.Errorf("round trip mismatch: %+v", got[0])
	}

	if err := store.MarkFailed(ctx, "note_pg_due", "endpoint 500"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	got, err = store.Due(ctx, now, 10)
	if err != nil {
		t.Fatalf("Due failed: %v", err)
	}
	if len(got) != 1 || got[0].Attempts != 1 || got[0].LastError != "endpoint 500" {
		t.Errorf("failure not recorded: %+v", got)
	}

	if err := store.MarkDelivered(ctx, "note_pg_due", now); err != nil {
		t.Fatalf("MarkDelivered failed: %v", err)
	}
	got, err = store.Due(ctx, now, 10)
	if err != nil {
		t.Fatalf("Due failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("delivered notification still due: %+v", got)
	}

	pending, err := store.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if pending != 1 {
		t.Errorf("pending = %d, want 1 (the future notification)", pending)
	}

	if err := store.MarkDelivered(ctx, "note_missing", now); !errors.Is(err, ErrNotificationNotFound) {
		t.Errorf("unknown id = %v, want ErrNotificationNotFound", err)
	}
}
