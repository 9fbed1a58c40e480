package abuse

import (
	"context"
	"sort"
	"sync"
)

// MemoryAssessmentStore keeps assessments in memory, newest last. Suitable
// for tests and single-node deployments without Postgres.
type MemoryAssessmentStore struct {
	mu          sync.RWMutex
	byCaregiver map[string][]*RiskAssessment
}

var _ AssessmentStore = (*MemoryAssessmentStore)(nil)

// NewMemoryAssessmentStore creates an empty in-memory store.
func NewMemoryAssessmentStore() *MemoryAssessmentStore {
	return &MemoryAssessmentStore{
		byCaregiver: make(map[string][]*RiskAssessment),
	}
}

func (s *MemoryAssessmentStore) Save(_ context.Context, a *RiskAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.byCaregiver[a.CaregiverID] = append(s.byCaregiver[a.CaregiverID], &cp)
	return nil
}

func (s *MemoryAssessmentStore) History(_ context.Context, caregiverID string, limit int) ([]HistoryPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sorted := s.sortedLocked(caregiverID)
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}
	points := make([]HistoryPoint, len(sorted))
	for i, a := range sorted {
		points[i] = HistoryPoint{Score: a.Score, Level: a.Level, AssessedAt: a.AssessedAt}
	}
	return points, nil
}

func (s *MemoryAssessmentStore) Recent(_ context.Context, caregiverID string, limit int) ([]*RiskAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sorted := s.sortedLocked(caregiverID)
	out := make([]*RiskAssessment, 0, len(sorted))
	for i := len(sorted) - 1; i >= 0; i-- {
		out = append(out, sorted[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryAssessmentStore) Latest(_ context.Context, caregiverID string) (*RiskAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sorted := s.sortedLocked(caregiverID)
	if len(sorted) == 0 {
		return nil, ErrNoAssessment
	}
	return sorted[len(sorted)-1], nil
}

// sortedLocked returns the caregiver's assessments ascending by AssessedAt.
// Caller holds at least a read lock.
func (s *MemoryAssessmentStore) sortedLocked(caregiverID string) []*RiskAssessment {
	list := s.byCaregiver[caregiverID]
	sorted := make([]*RiskAssessment, len(list))
	copy(sorted, list)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].AssessedAt.Before(sorted[j].AssessedAt)
	})
	return sorted
}
