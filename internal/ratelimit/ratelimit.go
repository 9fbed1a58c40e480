// Package ratelimit keeps any single caller from flooding the API.
// Buckets are keyed by bearer token when one is presented and by client
// IP otherwise, so a chatty device agent cannot starve care-team
// requests coming from the same household network.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Config sets the refill rate and burst headroom for each bucket.
type Config struct {
	// RequestsPerMinute is the sustained per-key request budget.
	RequestsPerMinute int
	// BurstSize is how far a key may briefly exceed the sustained rate.
	BurstSize int
	// CleanupInterval is how often idle buckets are discarded.
	CleanupInterval time.Duration
}

// DefaultConfig allows one request per second sustained, in bursts of
// up to ten.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		BurstSize:         10,
		CleanupInterval:   time.Minute,
	}
}

// Limiter hands out tokens from one bucket per caller key.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	buckets map[string]*bucket
	done    chan struct{}
}

type bucket struct {
	tokens   float64
	refilled time.Time
}

// New starts a limiter and its background sweep of idle buckets.
func New(cfg Config) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Stop ends the background sweep.
func (l *Limiter) Stop() {
	close(l.done)
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			idle := time.Now().Add(-2 * time.Minute)
			l.mu.Lock()
			for key, b := range l.buckets {
				if b.refilled.Before(idle) {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		case <-l.done:
			return
		}
	}
}

// Allow takes one token from key's bucket, reporting false when the
// bucket is empty. Tokens refill at RequestsPerMinute and accumulate up
// to BurstSize.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: float64(l.cfg.BurstSize) - 1, refilled: now}
		return true
	}

	perSecond := float64(l.cfg.RequestsPerMinute) / 60
	b.tokens += now.Sub(b.refilled).Seconds() * perSecond
	if limit := float64(l.cfg.BurstSize); b.tokens > limit {
		b.tokens = limit
	}
	b.refilled = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Middleware rejects requests whose caller has drained their bucket.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if auth := c.GetHeader("Authorization"); auth != "" {
			key = "auth:" + auth[:min(20, len(auth))]
		}

		if !l.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": 1,
			})
			return
		}

		c.Next()
	}
}
