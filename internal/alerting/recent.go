package alerting

import "sync"

// DefaultRecentCap bounds the in-memory recent-alerts buffer.
const DefaultRecentCap = 10

// RecentBuffer keeps the newest alerts, most recent first, evicting the
// oldest past capacity. Append and trim happen under one lock so readers
// never observe an oversized or misordered buffer.
type RecentBuffer struct {
	mu    sync.Mutex
	limit int
	items []*Alert
}

// NewRecentBuffer creates a buffer holding at most limit alerts.
func NewRecentBuffer(limit int) *RecentBuffer {
	if limit <= 0 {
		limit = DefaultRecentCap
	}
	return &RecentBuffer{limit: limit}
}

// Add prepends an alert, evicting the oldest if the buffer is full.
func (b *RecentBuffer) Add(a *Alert) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append([]*Alert{a}, b.items...)
	if len(b.items) > b.limit {
		b.items = b.items[:b.limit]
	}
}

// List returns the buffered alerts, most recent first.
func (b *RecentBuffer) List() []*Alert {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Alert, len(b.items))
	copy(out, b.items)
	return out
}

// Len returns the current buffer size.
func (b *RecentBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
