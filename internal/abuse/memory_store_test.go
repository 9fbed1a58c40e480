package abuse

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedAssessment(t *testing.T, store AssessmentStore, id string, score float64, at time.Time) {
	t.Helper()
	err := store.Save(context.Background(), &RiskAssessment{
		ID:          id,
		CaregiverID: "cg-1",
		UserID:      "elder-1",
		Score:       score,
		Level:       LevelFromScore(score),
		AssessedAt:  at,
	})
	if err != nil {
		t.Fatalf("save %s: %v", id, err)
	}
}

func TestMemoryStoreHistoryAscending(t *testing.T) {
	store := NewMemoryAssessmentStore()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	// Saved out of order on purpose.
	seedAssessment(t, store, "asmt_b", 30, base.Add(24*time.Hour))
	seedAssessment(t, store, "asmt_c", 55, base.Add(48*time.Hour))
	seedAssessment(t, store, "asmt_a", 10, base)

	points, err := store.History(context.Background(), "cg-1", 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
	want := []float64{10, 30, 55}
	for i, w := range want {
		if points[i].Score != w {
			t.Errorf("points[%d].Score = %v, want %v", i, points[i].Score, w)
		}
	}
}

func TestMemoryStoreHistoryLimitKeepsNewest(t *testing.T) {
	store := NewMemoryAssessmentStore()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seedAssessment(t, store, "asmt_"+string(rune('a'+i)), float64(i*10), base.Add(time.Duration(i)*24*time.Hour))
	}

	points, err := store.History(context.Background(), "cg-1", 3)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
	// The newest three, still ascending.
	if points[0].Score != 20 || points[2].Score != 40 {
		t.Errorf("points = %+v, want scores 20..40", points)
	}
}

func TestMemoryStoreRecentDescending(t *testing.T) {
	store := NewMemoryAssessmentStore()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	seedAssessment(t, store, "asmt_old", 10, base)
	seedAssessment(t, store, "asmt_mid", 30, base.Add(24*time.Hour))
	seedAssessment(t, store, "asmt_new", 55, base.Add(48*time.Hour))

	recent, err := store.Recent(context.Background(), "cg-1", 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 assessments, got %d", len(recent))
	}
	if recent[0].ID != "asmt_new" || recent[1].ID != "asmt_mid" {
		t.Errorf("order = %s, %s; want asmt_new, asmt_mid", recent[0].ID, recent[1].ID)
	}
}

func TestMemoryStoreLatest(t *testing.T) {
	store := NewMemoryAssessmentStore()

	if _, err := store.Latest(context.Background(), "cg-1"); !errors.Is(err, ErrNoAssessment) {
		t.Fatalf("expected ErrNoAssessment, got %v", err)
	}

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	seedAssessment(t, store, "asmt_old", 10, base)
	seedAssessment(t, store, "asmt_new", 30, base.Add(24*time.Hour))

	latest, err := store.Latest(context.Background(), "cg-1")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.ID != "asmt_new" {
		t.Errorf("latest = %s, want asmt_new", latest.ID)
	}
}

func TestMemoryStoreIsolatesCaregivers(t *testing.T) {
	store := NewMemoryAssessmentStore()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	seedAssessment(t, store, "asmt_1", 10, base)

	err := store.Save(context.Background(), &RiskAssessment{
		ID: "asmt_2", CaregiverID: "cg-other", UserID: "elder-1",
		Score: 90, Level: LevelHigh, AssessedAt: base,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	points, err := store.History(context.Background(), "cg-1", 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(points) != 1 || points[0].Score != 10 {
		t.Errorf("cg-1 history = %+v, want only its own point", points)
	}
}
