package behavior

import (
	"context"
	"sync"
	"time"
)

// MemoryActivityLog is an in-memory ActivityLog for tests and demo mode.
type MemoryActivityLog struct {
	mu           sync.RWMutex
	attempts     []ContactAttempt
	permissions  []PermissionEvent
	interactions []EmergencyInteraction
}

// Compile-time check.
var _ ActivityLog = (*MemoryActivityLog)(nil)

// NewMemoryActivityLog creates an empty in-memory activity log.
func NewMemoryActivityLog() *MemoryActivityLog {
	return &MemoryActivityLog{}
}

func (l *MemoryActivityLog) RecordContactAttempt(_ context.Context, a *ContactAttempt) error {
	stampContactAttempt(a)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = append(l.attempts, *a)
	return nil
}

func (l *MemoryActivityLog) RecordPermissionEvent(_ context.Context, e *PermissionEvent) error {
	stampPermissionEvent(e)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.permissions = append(l.permissions, *e)
	return nil
}

func (l *MemoryActivityLog) RecordEmergencyInteraction(_ context.Context, i *EmergencyInteraction) error {
	stampEmergencyInteraction(i)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.interactions = append(l.interactions, *i)
	return nil
}

func (l *MemoryActivityLog) ContactAttempts(_ context.Context, caregiverID, userID string, since time.Time) ([]ContactAttempt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []ContactAttempt
	for _, a := range l.attempts {
		if a.CaregiverID == caregiverID && a.UserID == userID && !a.OccurredAt.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (l *MemoryActivityLog) PermissionEvents(_ context.Context, caregiverID, userID string, since time.Time) ([]PermissionEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []PermissionEvent
	for _, e := range l.permissions {
		if e.CaregiverID == caregiverID && e.UserID == userID && !e.OccurredAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *MemoryActivityLog) EmergencyInteractions(_ context.Context, caregiverID, userID string, since time.Time) ([]EmergencyInteraction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []EmergencyInteraction
	for _, i := range l.interactions {
		if i.CaregiverID == caregiverID && i.UserID == userID && !i.OccurredAt.Before(since) {
			out = append(out, i)
		}
	}
	return out, nil
}

func (l *MemoryActivityLog) ActiveCaregivers(_ context.Context, since time.Time) ([]CaregiverUser, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seen := make(map[CaregiverUser]bool)
	for _, a := range l.attempts {
		if !a.OccurredAt.Before(since) {
			seen[CaregiverUser{a.CaregiverID, a.UserID}] = true
		}
	}
	for _, e := range l.permissions {
		if !e.OccurredAt.Before(since) {
			seen[CaregiverUser{e.CaregiverID, e.UserID}] = true
		}
	}
	for _, i := range l.interactions {
		if !i.OccurredAt.Before(since) {
			seen[CaregiverUser{i.CaregiverID, i.UserID}] = true
		}
	}

	out := make([]CaregiverUser, 0, len(seen))
	for pair := range seen {
		out = append(out, pair)
	}
	return out, nil
}
