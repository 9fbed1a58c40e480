package abuse

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/elderguard/elderguard/internal/behavior"
)

// ActivityLister enumerates caregiver/elder pairs with recent recorded
// activity. Implemented by the behavior activity log.
type ActivityLister interface {
	ActiveCaregivers(ctx context.Context, since time.Time) ([]behavior.CaregiverUser, error)
}

// Monitor periodically re-assesses every caregiver with activity inside
// the behavior window, so risk trends are caught without waiting for a
// triggering event.
type Monitor struct {
	detector *Detector
	activity ActivityLister
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewMonitor creates a sweep monitor. A non-positive interval falls back
// to 6 hours.
func NewMonitor(detector *Detector, activity ActivityLister, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &Monitor{
		detector: detector,
		activity: activity,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is actively running.
func (m *Monitor) Running() bool {
	return m.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (m *Monitor) Start(ctx context.Context) {
	m.running.Store(true)
	defer m.running.Store(false)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.safeSweep(ctx)
		}
	}
}

// Stop signals the monitor to stop.
func (m *Monitor) Stop() {
	select {
	case m.stop <- struct{}{}:
	default:
	}
}

func (m *Monitor) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic in abuse monitor", "panic", fmt.Sprint(r))
		}
	}()
	m.sweep(ctx)
}

func (m *Monitor) sweep(ctx context.Context) {
	pairs, err := m.activity.ActiveCaregivers(ctx, time.Now().Add(-behavior.Window))
	if err != nil {
		m.logger.Warn("failed to list active caregivers", "error", err)
		return
	}

	for _, p := range pairs {
		if ctx.Err() != nil {
			return
		}
		if _, err := m.detector.Analyze(ctx, p.CaregiverID, p.UserID, nil); err != nil {
			m.logger.Warn("scheduled assessment failed",
				"caregiver_id", p.CaregiverID,
				"user_id", p.UserID,
				"error", err)
		}
	}
	if len(pairs) > 0 {
		m.logger.Debug("scheduled sweep complete", "pairs", len(pairs))
	}
}
