// Package server provides the ElderGuard HTTP API: event ingestion for
// device agents, assessment and alert endpoints for care-team tools, and
// the realtime WebSocket stream for dashboards.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"github.com/elderguard/elderguard/internal/abuse"
	"github.com/elderguard/elderguard/internal/alerting"
	"github.com/elderguard/elderguard/internal/auth"
	"github.com/elderguard/elderguard/internal/behavior"
	"github.com/elderguard/elderguard/internal/config"
	"github.com/elderguard/elderguard/internal/health"
	"github.com/elderguard/elderguard/internal/idgen"
	"github.com/elderguard/elderguard/internal/logging"
	"github.com/elderguard/elderguard/internal/metrics"
	"github.com/elderguard/elderguard/internal/ratelimit"
	"github.com/elderguard/elderguard/internal/realtime"
	"github.com/elderguard/elderguard/internal/security"
	"github.com/elderguard/elderguard/internal/validation"
)

// Server wires the risk engine behind HTTP. One Server owns the full
// object graph: activity log, detector, alerting service, background
// monitor and scheduler, and the realtime hub.
type Server struct {
	cfg *config.Config

	activity    behavior.ActivityLog
	assessments abuse.AssessmentStore
	detector    *abuse.Detector
	monitor     *abuse.Monitor
	alerts      *alerting.Service
	scheduler   *alerting.Scheduler
	notifier    alerting.Notifier
	hub         *realtime.Hub
	authn       *auth.Authenticator

	rateLimiter *ratelimit.Limiter
	checks      *health.Registry
	db          *sql.DB
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	cancelRunCtx context.CancelFunc

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithDetector injects a pre-built detector, for tests that need
// custom rules or clocks.
func WithDetector(d *abuse.Detector) Option {
	return func(s *Server) { s.detector = d }
}

// WithActivityLog injects a pre-built activity log.
func WithActivityLog(log behavior.ActivityLog) Option {
	return func(s *Server) { s.activity = log }
}

// WithNotifier overrides the outbound notifier.
func WithNotifier(n alerting.Notifier) Option {
	return func(s *Server) { s.notifier = n }
}

// New creates the server and its full service graph. Postgres backs
// every store when DATABASE_URL is set; otherwise everything runs
// in-memory and state is lost on restart.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.authn = auth.NewAuthenticator(cfg.DeviceToken, cfg.CareTeamToken)
	if !s.authn.Enabled() {
		s.logger.Warn("auth tokens not configured, API is open (development only)")
	}

	s.hub = realtime.NewHub(s.logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var alertStore alerting.AlertStore
	var scheduleStore alerting.ScheduleStore

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("ping database: %w", err)
		}
		s.db = db
		s.logger.Info("using postgres storage", "dsn", maskDSN(cfg.DatabaseURL))

		if s.activity == nil {
			activity := behavior.NewPostgresActivityLog(db)
			if err := activity.Migrate(ctx); err != nil {
				s.logger.Warn("failed to migrate activity log", "error", err)
			}
			s.activity = activity
		}

		assessments := abuse.NewPostgresAssessmentStore(db)
		if err := assessments.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate assessment store", "error", err)
		}
		s.assessments = assessments

		alerts := alerting.NewPostgresAlertStore(db)
		if err := alerts.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate alert store", "error", err)
		}
		alertStore = alerts

		schedules := alerting.NewPostgresScheduleStore(db)
		if err := schedules.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate schedule store", "error", err)
		}
		scheduleStore = schedules
	} else {
		s.logger.Info("using in-memory storage (set DATABASE_URL for durability)")
		if s.activity == nil {
			s.activity = behavior.NewMemoryActivityLog()
		}
		s.assessments = abuse.NewMemoryAssessmentStore()
		alertStore = alerting.NewMemoryAlertStore()
		scheduleStore = alerting.NewMemoryScheduleStore()
	}

	if s.notifier == nil {
		if cfg.AdvocateWebhookURL != "" || cfg.UserWebhookURL != "" {
			notifier, err := alerting.NewWebhookNotifier(cfg.AdvocateWebhookURL, cfg.UserWebhookURL, cfg.WebhookSecret, s.logger)
			if err != nil {
				return nil, fmt.Errorf("webhook notifier: %w", err)
			}
			s.notifier = notifier
		} else {
			s.notifier = alerting.NewLogNotifier(s.logger)
		}
	}

	dispatcher := alerting.NewDispatcher(s.notifier, scheduleStore, cfg.EscalationDelay, s.logger)
	s.alerts = alerting.NewService(alertStore, dispatcher,
		alerting.WithEventSink(s.hub),
		alerting.WithLogger(s.logger),
	)
	s.scheduler = alerting.NewScheduler(scheduleStore, s.notifier, cfg.SchedulerInterval, s.logger)

	if s.detector == nil {
		collector := behavior.NewCollector(s.activity, s.activity, s.activity,
			behavior.WithLocation(cfg.Location()),
			behavior.WithLogger(s.logger),
		)
		s.detector = abuse.NewDetector(collector, s.assessments,
			abuse.WithAlertSink(s.alerts),
			abuse.WithEventSink(s.hub),
			abuse.WithLogger(s.logger),
		)
	}
	s.monitor = abuse.NewMonitor(s.detector, s.activity, cfg.MonitorInterval, s.logger)

	s.checks = health.NewRegistry()
	s.checks.Register("database", s.databaseCheck)
	s.checks.Register("monitor", runningCheck(s.monitor.Running))
	s.checks.Register("scheduler", runningCheck(s.scheduler.Running))

	rlCfg := ratelimit.DefaultConfig()
	if cfg.RateLimitRPS > 0 {
		rlCfg.RequestsPerMinute = cfg.RateLimitRPS * 60
	}
	s.rateLimiter = ratelimit.New(rlCfg)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"panic", fmt.Sprint(recovered),
			"path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An internal error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.allowedOrigins()))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(s.rateLimiter.Middleware())
	s.router.Use(metrics.Middleware())
	s.router.Use(requestIDMiddleware(s.logger))
	s.router.Use(loggingMiddleware())
}

func (s *Server) allowedOrigins() []string {
	if s.cfg.AllowedOrigins == "" {
		return []string{"*"}
	}
	parts := strings.Split(s.cfg.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Browsers cannot set Authorization on WebSocket requests, so the
	// stream accepts the care-team token via ?access_token= as well.
	s.router.GET("/ws", auth.RequireRole(s.authn, auth.RoleCareTeam), func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	v1 := s.router.Group("/v1")

	// Ingest: the device protection agent records caregiver activity.
	ingest := v1.Group("/events", auth.RequireRole(s.authn, auth.RoleDevice, auth.RoleCareTeam))
	{
		ingest.POST("/contact-attempts", s.recordContactAttempt)
		ingest.POST("/permission-events", s.recordPermissionEvent)
		ingest.POST("/emergency-interactions", s.recordEmergencyInteraction)
	}

	// Reactive analyses come from the protection agent when it observes
	// a trigger event, or from care-team tools.
	reactive := v1.Group("", auth.RequireRole(s.authn, auth.RoleDevice, auth.RoleCareTeam))
	reactive.POST("/caregivers/:caregiverId/analyses",
		validation.IDParamMiddleware("caregiverId"), s.analyzeCaregiver)

	// Everything that reads the risk picture is care-team only.
	care := v1.Group("", auth.RequireRole(s.authn, auth.RoleCareTeam))
	{
		caregivers := care.Group("/caregivers/:caregiverId", validation.IDParamMiddleware("caregiverId"))
		caregivers.POST("/analyses/manual", s.manualReview)
		caregivers.GET("/assessment", s.getCurrentAssessment)
		caregivers.GET("/assessments", s.getAssessmentHistory)

		care.GET("/assessments/current", s.getAllCurrentAssessments)
		care.GET("/alerts/recent", s.getRecentAlerts)
		care.GET("/alerts", s.listAlerts)
		care.POST("/alerts/:alertId/ack",
			validation.IDParamMiddleware("alertId"), s.acknowledgeAlert)
	}
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.checks.CheckAll(c.Request.Context())

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		checks[st.Name] = st.Detail
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) databaseCheck(ctx context.Context) health.Status {
	if s.db == nil {
		return health.Status{Healthy: true, Detail: "healthy (in-memory)"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return health.Status{Healthy: false, Detail: "unhealthy: " + err.Error()}
	}
	return health.Status{Healthy: true, Detail: "healthy"}
}

// runningCheck reports a background loop's state. A stopped loop is
// informational, not a failure: the server is healthy before Run and
// during shutdown.
func runningCheck(running func() bool) health.Checker {
	return func(context.Context) health.Status {
		if running() {
			return health.Status{Healthy: true, Detail: "running"}
		}
		return health.Status{Healthy: true, Detail: "stopped"}
	}
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Run starts the HTTP server and all background loops, then blocks until
// a shutdown signal, a server error, or context cancellation.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)
	go s.scheduler.Start(runCtx)
	if s.cfg.MonitorInterval > 0 {
		go s.monitor.Start(runCtx)
	} else {
		s.logger.Info("periodic monitor disabled")
	}
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark ready shortly after start so the listener has had a chance
	// to bind before load balancers route traffic.
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
	}()

	s.logger.Info("server started",
		"port", s.cfg.Port,
		"env", s.cfg.Env,
		"storage", s.storageKind())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		s.healthy.Store(false)
		s.ready.Store(false)
		return err
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
	}

	return s.Shutdown()
}

// Shutdown drains in-flight requests, then stops the background loops
// and closes the database.
func (s *Server) Shutdown() error {
	s.ready.Store(false)

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	if s.cfg.IsProduction() {
		// Drain window so external load balancers notice the failed
		// readiness probe before the listener closes.
		time.Sleep(5 * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("server shutdown error", "error", err)
			return err
		}
	}

	s.monitor.Stop()
	s.logger.Info("monitor stopped")
	s.scheduler.Stop()
	s.logger.Info("scheduler stopped")
	s.rateLimiter.Stop()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) storageKind() string {
	if s.db != nil {
		return "postgres"
	}
	return "memory"
}

// maskDSN hides credentials in a database URL for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "invalid-dsn"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

func requestIDMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.WithPrefix("req_")
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, logger.With("request_id", requestID))
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		log := logging.L(c.Request.Context())
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		switch {
		case status >= 500:
			log.Error("request completed", attrs...)
		case status >= 400:
			log.Warn("request completed", attrs...)
		default:
			log.Info("request completed", attrs...)
		}
	}
}
