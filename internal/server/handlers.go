package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/elderguard/elderguard/internal/abuse"
	"github.com/elderguard/elderguard/internal/alerting"
	"github.com/elderguard/elderguard/internal/behavior"
	"github.com/elderguard/elderguard/internal/logging"
	"github.com/elderguard/elderguard/internal/metrics"
	"github.com/elderguard/elderguard/internal/pagination"
	"github.com/elderguard/elderguard/internal/validation"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100

	maxReasonLength = 500
	maxDetailLength = 500
	maxNameLength   = 200
)

// ---------------------------------------------------------------------------
// Analyses
// ---------------------------------------------------------------------------

type triggerRequest struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

type analyzeRequest struct {
	UserID  string          `json:"user_id"`
	Trigger *triggerRequest `json:"trigger"`
}

type manualReviewRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

var validTriggerTypes = []string{
	string(abuse.TriggerMultipleBlockedAttempts),
	string(abuse.TriggerEmergencyContactTampering),
	string(abuse.TriggerPanicModeActivation),
	string(abuse.TriggerManual),
}

func parseTriggerType(s string) (abuse.TriggerType, bool) {
	switch t := abuse.TriggerType(s); t {
	case abuse.TriggerMultipleBlockedAttempts,
		abuse.TriggerEmergencyContactTampering,
		abuse.TriggerPanicModeActivation,
		abuse.TriggerManual:
		return t, true
	}
	return "", false
}

// analyzeCaregiver runs one risk analysis, optionally seeded with the
// trigger event that prompted it.
// POST /v1/caregivers/:caregiverId/analyses
func (s *Server) analyzeCaregiver(c *gin.Context) {
	caregiverID := c.Param("caregiverId")

	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_json",
			"message": "Request body must be valid JSON",
		})
		return
	}

	if verrs := validation.Validate(validation.ValidID("user_id", req.UserID)); len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": verrs})
		return
	}

	var trigger *abuse.TriggerEvent
	if req.Trigger != nil {
		triggerType, ok := parseTriggerType(req.Trigger.Type)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_trigger_type",
				"message": fmt.Sprintf("Unknown trigger type %q", req.Trigger.Type),
				"valid":   validTriggerTypes,
			})
			return
		}
		trigger = &abuse.TriggerEvent{
			Type:       triggerType,
			Detail:     validation.SanitizeString(req.Trigger.Detail, maxDetailLength),
			OccurredAt: time.Now(),
		}
	}

	assessment, err := s.detector.Analyze(c.Request.Context(), caregiverID, req.UserID, trigger)
	s.writeAnalysisResult(c, assessment, err)
}

// manualReview runs a care-team initiated analysis. The reason lands in
// the audit trail but contributes no risk factor.
// POST /v1/caregivers/:caregiverId/analyses/manual
func (s *Server) manualReview(c *gin.Context) {
	caregiverID := c.Param("caregiverId")

	var req manualReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_json",
			"message": "Request body must be valid JSON",
		})
		return
	}

	verrs := validation.Validate(
		validation.ValidID("user_id", req.UserID),
		validation.Required("reason", req.Reason),
		validation.MaxLength("reason", req.Reason, maxReasonLength),
	)
	if len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": verrs})
		return
	}

	reason := validation.SanitizeString(req.Reason, maxReasonLength)
	assessment, err := s.detector.TriggerManual(c.Request.Context(), caregiverID, req.UserID, reason)
	s.writeAnalysisResult(c, assessment, err)
}

// writeAnalysisResult maps the detector's error taxonomy onto HTTP. A
// collection failure means no assessment exists and aborts with 422;
// persistence and notification failures ride alongside the assessment
// instead of replacing it.
func (s *Server) writeAnalysisResult(c *gin.Context, assessment *abuse.RiskAssessment, err error) {
	if assessment == nil {
		var ce *behavior.CollectionError
		if errors.As(err, &ce) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "collection_failed",
				"message": err.Error(),
			})
			return
		}
		logging.L(c.Request.Context()).Error("analysis failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "analysis_failed",
			"message": "Analysis could not be completed",
		})
		return
	}

	resp := gin.H{"assessment": assessment}

	var pe *abuse.PersistenceError
	if errors.As(err, &pe) {
		resp["persisted"] = false
	}
	if alert := s.alertForAssessment(assessment.ID); alert != nil {
		resp["alert"] = alert
	}

	c.JSON(http.StatusOK, resp)
}

// alertForAssessment returns the alert this assessment raised, if any.
// Alerts raise synchronously inside Analyze and always reach the recent
// buffer, so by the time Analyze returns the alert is visible here.
func (s *Server) alertForAssessment(assessmentID string) *alerting.Alert {
	for _, a := range s.alerts.Recent() {
		if a.AssessmentID == assessmentID {
			return a
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Assessments
// ---------------------------------------------------------------------------

// getCurrentAssessment reads the caregiver's cached current assessment.
// The cache never falls back to the store: a caregiver not assessed
// since the last restart has no current assessment until re-analyzed.
// GET /v1/caregivers/:caregiverId/assessment
func (s *Server) getCurrentAssessment(c *gin.Context) {
	caregiverID := c.Param("caregiverId")

	assessment, ok := s.detector.Current(caregiverID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No current assessment for this caregiver",
		})
		return
	}
	c.JSON(http.StatusOK, assessment)
}

// getAssessmentHistory returns the caregiver's stored assessments,
// newest first.
// GET /v1/caregivers/:caregiverId/assessments?limit=
func (s *Server) getAssessmentHistory(c *gin.Context) {
	caregiverID := c.Param("caregiverId")
	limit := pagination.ClampLimit(intQuery(c, "limit"), defaultListLimit, maxListLimit)

	assessments, err := s.assessments.Recent(c.Request.Context(), caregiverID, limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list assessments",
			"caregiver_id", caregiverID,
			"error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "storage_error",
			"message": "Assessment history is unavailable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"assessments": assessments,
		"count":       len(assessments),
	})
}

// getAllCurrentAssessments returns every cached assessment, highest
// score first, for the care-team overview.
// GET /v1/assessments/current
func (s *Server) getAllCurrentAssessments(c *gin.Context) {
	assessments := s.detector.CurrentAll()
	c.JSON(http.StatusOK, gin.H{
		"assessments": assessments,
		"count":       len(assessments),
	})
}

// ---------------------------------------------------------------------------
// Alerts
// ---------------------------------------------------------------------------

type ackRequest struct {
	AcknowledgedBy string `json:"acknowledged_by"`
}

// getRecentAlerts reads the bounded in-memory buffer, newest first.
// GET /v1/alerts/recent
func (s *Server) getRecentAlerts(c *gin.Context) {
	alerts := s.alerts.Recent()
	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// listAlerts pages through stored alerts, newest first.
// GET /v1/alerts?caregiver_id=&limit=&cursor=
func (s *Server) listAlerts(c *gin.Context) {
	caregiverID := c.Query("caregiver_id")
	if caregiverID != "" && !validation.IsValidID(caregiverID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_caregiver_id",
			"message": "caregiver_id is not a valid identifier",
		})
		return
	}
	limit := pagination.ClampLimit(intQuery(c, "limit"), defaultListLimit, maxListLimit)

	var opts []alerting.ListOption
	if cursor := c.Query("cursor"); cursor != "" {
		opts = append(opts, alerting.WithCursor(cursor))
	}

	// One extra row decides whether another page exists.
	alerts, err := s.alerts.List(c.Request.Context(), caregiverID, limit+1, opts...)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list alerts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "storage_error",
			"message": "Alerts are unavailable",
		})
		return
	}

	page, nextCursor, hasMore := pagination.ComputePage(alerts, limit,
		func(a *alerting.Alert) (time.Time, string) { return a.CreatedAt, a.ID })

	resp := gin.H{
		"alerts":  page,
		"count":   len(page),
		"hasMore": hasMore,
	}
	if nextCursor != "" {
		resp["nextCursor"] = nextCursor
	}
	c.JSON(http.StatusOK, resp)
}

// acknowledgeAlert records a care team member's confirmation. Each alert
// acknowledges at most once.
// POST /v1/alerts/:alertId/ack
func (s *Server) acknowledgeAlert(c *gin.Context) {
	alertID := c.Param("alertId")

	var req ackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_json",
			"message": "Request body must be valid JSON",
		})
		return
	}

	verrs := validation.Validate(
		validation.Required("acknowledged_by", req.AcknowledgedBy),
		validation.MaxLength("acknowledged_by", req.AcknowledgedBy, maxNameLength),
	)
	if len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": verrs})
		return
	}

	by := validation.SanitizeString(req.AcknowledgedBy, maxNameLength)
	alert, err := s.alerts.Acknowledge(c.Request.Context(), alertID, by)
	switch {
	case errors.Is(err, alerting.ErrAlertNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No alert with this ID",
		})
	case errors.Is(err, alerting.ErrAlreadyAcknowledged):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_acknowledged",
			"message": "This alert has already been acknowledged",
		})
	case err != nil:
		logging.L(c.Request.Context()).Error("failed to acknowledge alert",
			"alert_id", alertID,
			"error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "storage_error",
			"message": "Alert could not be acknowledged",
		})
	default:
		c.JSON(http.StatusOK, alert)
	}
}

// ---------------------------------------------------------------------------
// Behavior event ingest
// ---------------------------------------------------------------------------

// recordContactAttempt ingests one contact list action.
// POST /v1/events/contact-attempts
func (s *Server) recordContactAttempt(c *gin.Context) {
	var ev behavior.ContactAttempt
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_json",
			"message": "Request body must be valid JSON",
		})
		return
	}

	verrs := validation.Validate(
		validation.ValidID("caregiverId", ev.CaregiverID),
		validation.ValidID("userId", ev.UserID),
		validation.OneOf("action", ev.Action,
			behavior.ActionAddContact, behavior.ActionModifyContact,
			behavior.ActionRemoveContact, behavior.ActionBlockContact),
		validation.OneOf("result", ev.Result,
			behavior.ResultAllowed, behavior.ResultBlockedByProtection, behavior.ResultFailed),
		validation.MaxLength("relationship", ev.Relationship, maxNameLength),
	)
	if len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": verrs})
		return
	}

	// IDs are always server-assigned.
	ev.ID = ""
	ev.Relationship = validation.SanitizeString(ev.Relationship, maxNameLength)

	if err := s.activity.RecordContactAttempt(c.Request.Context(), &ev); err != nil {
		s.recordFailed(c, "contact attempt", err)
		return
	}
	metrics.BehaviorEventsTotal.WithLabelValues("contact_attempt").Inc()

	c.JSON(http.StatusCreated, ev)
}

// recordPermissionEvent ingests one permission request or change.
// POST /v1/events/permission-events
func (s *Server) recordPermissionEvent(c *gin.Context) {
	var ev behavior.PermissionEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_json",
			"message": "Request body must be valid JSON",
		})
		return
	}

	verrs := validation.Validate(
		validation.ValidID("caregiverId", ev.CaregiverID),
		validation.ValidID("userId", ev.UserID),
		validation.OneOf("action", ev.Action,
			behavior.ActionRequestPermission, behavior.ActionGrantPermission,
			behavior.ActionRevokePermission),
		validation.Required("permission", ev.Permission),
		validation.MaxLength("permission", ev.Permission, maxNameLength),
		validation.OneOf("result", ev.Result,
			behavior.PermissionGranted, behavior.PermissionDenied, behavior.PermissionPending),
	)
	if len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": verrs})
		return
	}

	ev.ID = ""
	ev.Permission = validation.SanitizeString(ev.Permission, maxNameLength)

	if err := s.activity.RecordPermissionEvent(c.Request.Context(), &ev); err != nil {
		s.recordFailed(c, "permission event", err)
		return
	}
	metrics.BehaviorEventsTotal.WithLabelValues("permission_event").Inc()

	c.JSON(http.StatusCreated, ev)
}

// recordEmergencyInteraction ingests one interaction with the elder's
// emergency system. Tampering kinds immediately re-assess the caregiver
// in the background rather than waiting for the next sweep.
// POST /v1/events/emergency-interactions
func (s *Server) recordEmergencyInteraction(c *gin.Context) {
	var ev behavior.EmergencyInteraction
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_json",
			"message": "Request body must be valid JSON",
		})
		return
	}

	verrs := validation.Validate(
		validation.ValidID("caregiverId", ev.CaregiverID),
		validation.ValidID("userId", ev.UserID),
		validation.OneOf("kind", ev.Kind,
			behavior.EmergencyDisableButton, behavior.EmergencyModifyContacts,
			behavior.EmergencyQueryStatus, behavior.EmergencyTestAlert),
		validation.MaxLength("detail", ev.Detail, maxDetailLength),
	)
	if len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": verrs})
		return
	}

	ev.ID = ""
	ev.Detail = validation.SanitizeString(ev.Detail, maxDetailLength)

	if err := s.activity.RecordEmergencyInteraction(c.Request.Context(), &ev); err != nil {
		s.recordFailed(c, "emergency interaction", err)
		return
	}
	metrics.BehaviorEventsTotal.WithLabelValues("emergency_interaction").Inc()

	if triggerType, ok := reactiveTrigger(ev.Kind); ok {
		s.reactiveAnalyze(ev.CaregiverID, ev.UserID, &abuse.TriggerEvent{
			Type:       triggerType,
			Detail:     "device reported " + ev.Kind,
			OccurredAt: ev.OccurredAt,
		})
	}

	c.JSON(http.StatusCreated, ev)
}

func (s *Server) recordFailed(c *gin.Context, kind string, err error) {
	logging.L(c.Request.Context()).Error("failed to record "+kind, "error", err)
	metrics.StoreErrorsTotal.WithLabelValues("behavior", "record").Inc()
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "storage_error",
		"message": "Event could not be recorded",
	})
}

// reactiveTrigger maps ingested emergency interactions onto analysis
// triggers. Tampering with the emergency system is urgent enough to
// re-assess immediately; status queries and test alerts are not.
func reactiveTrigger(kind string) (abuse.TriggerType, bool) {
	switch kind {
	case behavior.EmergencyDisableButton, behavior.EmergencyModifyContacts:
		return abuse.TriggerEmergencyContactTampering, true
	}
	return "", false
}

// reactiveAnalyze re-assesses in the background so ingest latency stays
// flat. The request context is gone by the time the analysis runs.
func (s *Server) reactiveAnalyze(caregiverID, userID string, trigger *abuse.TriggerEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.detector.Analyze(ctx, caregiverID, userID, trigger); err != nil {
			s.logger.Warn("reactive assessment failed",
				"caregiver_id", caregiverID,
				"user_id", userID,
				"error", err)
		}
	}()
}

// intQuery parses an integer query parameter, returning 0 when absent
// or malformed so callers can apply their own default.
func intQuery(c *gin.Context, name string) int {
	v := c.Query(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
