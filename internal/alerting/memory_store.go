package alerting

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryAlertStore keeps alerts in memory. Used in tests and when the
// service runs without a database.
type MemoryAlertStore struct {
	mu     sync.RWMutex
	alerts []*Alert
	byID   map[string]*Alert
}

var _ AlertStore = (*MemoryAlertStore)(nil)

// NewMemoryAlertStore creates an empty in-memory alert store.
func NewMemoryAlertStore() *MemoryAlertStore {
	return &MemoryAlertStore{byID: make(map[string]*Alert)}
}

// Insert stores a copy of the alert.
func (m *MemoryAlertStore) Insert(ctx context.Context, a *Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.alerts = append(m.alerts, &cp)
	m.byID[cp.ID] = &cp
	return nil
}

// Get returns a copy of the alert with the given id.
func (m *MemoryAlertStore) Get(ctx context.Context, id string) (*Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	cp := *a
	return &cp, nil
}

// List returns alerts newest first, optionally filtered by caregiver
// and resumed from a cursor.
func (m *MemoryAlertStore) List(ctx context.Context, caregiverID string, limit int, opts ...ListOption) ([]*Alert, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	o := applyListOpts(opts)

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Alert, 0, len(m.alerts))
	for i := len(m.alerts) - 1; i >= 0; i-- {
		a := m.alerts[i]
		if caregiverID != "" && a.CaregiverID != caregiverID {
			continue
		}
		if o.cursor != nil && !o.cursor.Admits(a.CreatedAt, a.ID) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Acknowledge marks the alert confirmed by a care team member.
func (m *MemoryAlertStore) Acknowledge(ctx context.Context, id, by string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return ErrAlertNotFound
	}
	if a.AcknowledgedAt != nil {
		return ErrAlreadyAcknowledged
	}
	ack := at
	a.AcknowledgedAt = &ack
	a.AcknowledgedBy = by
	return nil
}
