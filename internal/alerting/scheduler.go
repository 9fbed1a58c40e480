package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elderguard/elderguard/internal/metrics"
)

// ErrNotificationNotFound is returned when a scheduled notification id
// does not exist.
var ErrNotificationNotFound = errors.New("alerting: scheduled notification not found")

const (
	// DefaultSchedulerInterval is how often the delivery loop polls for
	// due notifications.
	DefaultSchedulerInterval = time.Minute

	// maxDeliveryAttempts bounds redelivery of a failing notification.
	maxDeliveryAttempts = 5

	// deliveryBatchSize caps how many due notifications one tick picks up.
	deliveryBatchSize = 50
)

// ScheduledNotification is an advocate or user notification held back
// until NotBefore. MEDIUM alerts produce these instead of immediate
// notifications.
type ScheduledNotification struct {
	ID          string     `json:"id"`
	AlertID     string     `json:"alertId"`
	CaregiverID string     `json:"caregiverId"`
	UserID      string     `json:"userId"`
	AlertType   AlertType  `json:"alertType"`
	Urgency     Urgency    `json:"urgency"`
	Channel     string     `json:"channel"`
	Message     string     `json:"message"`
	NotBefore   time.Time  `json:"notBefore"`
	CreatedAt   time.Time  `json:"createdAt"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"lastError,omitempty"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
}

// ScheduleStore persists pending notifications so delayed deliveries
// survive restarts.
type ScheduleStore interface {
	// Schedule persists a new pending notification.
	Schedule(ctx context.Context, n *ScheduledNotification) error

	// Due returns undelivered notifications whose NotBefore has passed,
	// oldest first, excluding those out of delivery attempts.
	Due(ctx context.Context, now time.Time, limit int) ([]*ScheduledNotification, error)

	// MarkDelivered records a successful delivery.
	MarkDelivered(ctx context.Context, id string, at time.Time) error

	// MarkFailed increments the attempt count and records the error.
	MarkFailed(ctx context.Context, id, deliveryErr string) error

	// Pending counts undelivered notifications.
	Pending(ctx context.Context) (int, error)
}

// Scheduler delivers due notifications on a polling loop.
type Scheduler struct {
	store    ScheduleStore
	notifier Notifier
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	stop     chan struct{}
	running  atomic.Bool
}

// NewScheduler creates a delivery loop over the schedule store. A
// non-positive interval falls back to DefaultSchedulerInterval.
func NewScheduler(store ScheduleStore, notifier Notifier, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultSchedulerInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    store,
		notifier: notifier,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the delivery loop is actively running.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Start begins the delivery loop. Call in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeDeliver(ctx)
		}
	}
}

// Stop signals the scheduler to stop.
func (s *Scheduler) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Scheduler) safeDeliver(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in notification scheduler", "panic", fmt.Sprint(r))
		}
	}()
	s.deliverDue(ctx)
}

// deliverDue sends every due notification through the notifier, marking
// each delivered or failed. A notification out of attempts is abandoned.
func (s *Scheduler) deliverDue(ctx context.Context) {
	now := s.now()
	due, err := s.store.Due(ctx, now, deliveryBatchSize)
	if err != nil {
		s.logger.Warn("failed to load due notifications", "error", err)
		return
	}

	for _, n := range due {
		if ctx.Err() != nil {
			return
		}
		s.deliverOne(ctx, n)
	}
	if len(due) > 0 {
		s.logger.Debug("delivery sweep complete", "count", len(due))
	}
}

func (s *Scheduler) deliverOne(ctx context.Context, n *ScheduledNotification) {
	out := &Notification{
		AlertID:     n.AlertID,
		CaregiverID: n.CaregiverID,
		UserID:      n.UserID,
		AlertType:   n.AlertType,
		Urgency:     n.Urgency,
		Message:     n.Message,
	}

	var err error
	switch n.Channel {
	case ChannelUser:
		err = s.notifier.NotifyUser(ctx, out)
	default:
		err = s.notifier.NotifyAdvocate(ctx, out)
	}

	if err != nil {
		metrics.ScheduledDeliveriesTotal.WithLabelValues("failed").Inc()
		metrics.NotificationFailuresTotal.WithLabelValues(n.Channel).Inc()
		if markErr := s.store.MarkFailed(ctx, n.ID, err.Error()); markErr != nil {
			s.logger.Error("failed to record delivery failure",
				"notification_id", n.ID,
				"error", markErr)
		}
		if n.Attempts+1 >= maxDeliveryAttempts {
			metrics.ScheduledDeliveriesTotal.WithLabelValues("abandoned").Inc()
			s.logger.Error("notification abandoned after repeated failures",
				"notification_id", n.ID,
				"alert_id", n.AlertID,
				"attempts", n.Attempts+1,
				"error", err)
			return
		}
		s.logger.Warn("scheduled delivery failed",
			"notification_id", n.ID,
			"attempt", n.Attempts+1,
			"error", err)
		return
	}

	if err := s.store.MarkDelivered(ctx, n.ID, s.now()); err != nil {
		s.logger.Error("failed to record delivery",
			"notification_id", n.ID,
			"error", err)
	}
	metrics.ScheduledDeliveriesTotal.WithLabelValues("delivered").Inc()
	s.logger.Info("scheduled notification delivered",
		"notification_id", n.ID,
		"alert_id", n.AlertID,
		"channel", n.Channel,
		"attempts", n.Attempts+1)
}

// MemoryScheduleStore is an in-memory implementation for tests and
// database-less runs.
type MemoryScheduleStore struct {
	mu    sync.Mutex
	notes map[string]*ScheduledNotification
}

var _ ScheduleStore = (*MemoryScheduleStore)(nil)

// NewMemoryScheduleStore creates an empty in-memory schedule store.
func NewMemoryScheduleStore() *MemoryScheduleStore {
	return &MemoryScheduleStore{notes: make(map[string]*ScheduledNotification)}
}

func (m *MemoryScheduleStore) Schedule(ctx context.Context, n *ScheduledNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.notes[cp.ID] = &cp
	return nil
}

func (m *MemoryScheduleStore) Due(ctx context.Context, now time.Time, limit int) ([]*ScheduledNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*ScheduledNotification
	for _, n := range m.notes {
		if n.DeliveredAt != nil || n.Attempts >= maxDeliveryAttempts || n.NotBefore.After(now) {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NotBefore.Before(out[j].NotBefore) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryScheduleStore) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notes[id]
	if !ok {
		return ErrNotificationNotFound
	}
	t := at
	n.DeliveredAt = &t
	return nil
}

func (m *MemoryScheduleStore) MarkFailed(ctx context.Context, id, deliveryErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notes[id]
	if !ok {
		return ErrNotificationNotFound
	}
	n.Attempts++
	n.LastError = deliveryErr
	return nil
}

func (m *MemoryScheduleStore) Pending(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.notes {
		if n.DeliveredAt == nil {
			count++
		}
	}
	return count, nil
}
