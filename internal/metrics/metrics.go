// Package metrics provides Prometheus instrumentation for the ElderGuard service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "elderguard",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "elderguard",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AnalysesTotal counts completed risk analyses by trigger and resulting level.
	AnalysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "elderguard",
			Name:      "analyses_total",
			Help:      "Total risk analyses by trigger type and resulting risk level.",
		},
		[]string{"trigger", "level"},
	)

	// AnalysisDuration observes end-to-end analysis pipeline latency.
	AnalysisDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "elderguard",
		Name:      "analysis_duration_seconds",
		Help:      "End-to-end analysis duration in seconds.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	// AnalysisErrorsTotal counts analysis failures by pipeline stage.
	AnalysisErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "elderguard",
			Name:      "analysis_errors_total",
			Help:      "Total analysis errors by stage (collection, persistence, notification).",
		},
		[]string{"stage"},
	)

	// RuleEvalDuration observes per-rule evaluation latency.
	RuleEvalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "elderguard",
			Name:      "rule_eval_duration_seconds",
			Help:      "Rule evaluation duration in seconds.",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025},
		},
		[]string{"rule"},
	)

	// RiskFactorsTotal counts risk factors emitted by type.
	RiskFactorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "elderguard",
			Name:      "risk_factors_total",
			Help:      "Total risk factors emitted by factor type.",
		},
		[]string{"type"},
	)

	// CurrentAssessments tracks cached current assessments by risk level.
	CurrentAssessments = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "elderguard",
			Name:      "current_assessments",
			Help:      "Number of cached current assessments by risk level.",
		},
		[]string{"level"},
	)

	// AlertsTotal counts generated alerts by type and level.
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "elderguard",
			Name:      "alerts_total",
			Help:      "Total abuse alerts generated by alert type and risk level.",
		},
		[]string{"type", "level"},
	)

	// EscalationsTotal counts escalation outcomes by urgency.
	EscalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "elderguard",
			Name:      "escalations_total",
			Help:      "Total escalation dispatches by urgency and outcome.",
		},
		[]string{"urgency", "outcome"},
	)

	// NotificationFailuresTotal counts failed notification deliveries by channel.
	NotificationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "elderguard",
			Name:      "notification_failures_total",
			Help:      "Total failed notification deliveries by channel.",
		},
		[]string{"channel"},
	)

	// ScheduledDeliveriesTotal counts delayed notification deliveries by result.
	ScheduledDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "elderguard",
			Name:      "scheduled_deliveries_total",
			Help:      "Total scheduled notification deliveries by result.",
		},
		[]string{"result"},
	)

	// BehaviorEventsTotal counts ingested behavior events by kind.
	BehaviorEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "elderguard",
			Name:      "behavior_events_total",
			Help:      "Total behavior events recorded by kind.",
		},
		[]string{"kind"},
	)

	// SnapshotDuration observes behavior snapshot collection latency.
	SnapshotDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "elderguard",
		Name:      "snapshot_duration_seconds",
		Help:      "Behavior snapshot collection duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	// StoreErrorsTotal counts store operation failures.
	StoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "elderguard",
			Name:      "store_errors_total",
			Help:      "Total store operation failures by store and operation.",
		},
		[]string{"store", "op"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "elderguard",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "elderguard", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "elderguard", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "elderguard", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "elderguard", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "elderguard", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "elderguard", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AnalysesTotal,
		AnalysisDuration,
		AnalysisErrorsTotal,
		RuleEvalDuration,
		RiskFactorsTotal,
		CurrentAssessments,
		AlertsTotal,
		EscalationsTotal,
		NotificationFailuresTotal,
		ScheduledDeliveriesTotal,
		BehaviorEventsTotal,
		SnapshotDuration,
		StoreErrorsTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
