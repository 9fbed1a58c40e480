package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client calls the ElderGuard REST API. One client serves either role:
// device agents ingest events and request reactive analyses, care-team
// tools read the risk picture and acknowledge alerts.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates an API client for the given base URL. The token is
// sent as a bearer credential on every request; pass the device token
// for ingest, a care-team token for reads. An empty token sends no
// Authorization header.
func NewClient(baseURL, token string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
	}
}

// ReportContactAttempt records one contact list action and returns the
// stored event with its server-assigned ID.
func (c *Client) ReportContactAttempt(ctx context.Context, ev *ContactAttempt) (*ContactAttempt, error) {
	var stored ContactAttempt
	if err := c.do(ctx, http.MethodPost, "/v1/events/contact-attempts", nil, ev, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// ReportPermissionEvent records one permission request or change.
func (c *Client) ReportPermissionEvent(ctx context.Context, ev *PermissionEvent) (*PermissionEvent, error) {
	var stored PermissionEvent
	if err := c.do(ctx, http.MethodPost, "/v1/events/permission-events", nil, ev, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// ReportEmergencyInteraction records one interaction with the elder's
// emergency system. Tampering kinds make the server re-assess the
// caregiver on its own; no follow-up call is needed.
func (c *Client) ReportEmergencyInteraction(ctx context.Context, ev *EmergencyInteraction) (*EmergencyInteraction, error) {
	var stored EmergencyInteraction
	if err := c.do(ctx, http.MethodPost, "/v1/events/emergency-interactions", nil, ev, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// Analyze runs one risk analysis of the caregiver's recent behavior,
// optionally seeded with the trigger event that prompted it.
func (c *Client) Analyze(ctx context.Context, caregiverID, userID string, trigger *TriggerEvent) (*AnalysisResult, error) {
	body := map[string]any{"user_id": userID}
	if trigger != nil {
		body["trigger"] = map[string]any{"type": trigger.Type, "detail": trigger.Detail}
	}

	var result AnalysisResult
	path := "/v1/caregivers/" + url.PathEscape(caregiverID) + "/analyses"
	if err := c.do(ctx, http.MethodPost, path, nil, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ManualReview runs a care-team requested analysis. The reason is kept
// on the assessment's trigger.
func (c *Client) ManualReview(ctx context.Context, caregiverID, userID, reason string) (*AnalysisResult, error) {
	body := map[string]any{"user_id": userID, "reason": reason}

	var result AnalysisResult
	path := "/v1/caregivers/" + url.PathEscape(caregiverID) + "/analyses/manual"
	if err := c.do(ctx, http.MethodPost, path, nil, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CurrentAssessment returns the caregiver's current risk assessment.
// A caregiver that has not been analyzed yet yields a not_found Error.
func (c *Client) CurrentAssessment(ctx context.Context, caregiverID string) (*Assessment, error) {
	var assessment Assessment
	path := "/v1/caregivers/" + url.PathEscape(caregiverID) + "/assessment"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &assessment); err != nil {
		return nil, err
	}
	return &assessment, nil
}

// AssessmentHistory returns the caregiver's stored assessments, newest
// first. A limit of 0 uses the server default.
func (c *Client) AssessmentHistory(ctx context.Context, caregiverID string, limit int) ([]Assessment, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp struct {
		Assessments []Assessment `json:"assessments"`
	}
	path := "/v1/caregivers/" + url.PathEscape(caregiverID) + "/assessments"
	if err := c.do(ctx, http.MethodGet, path, query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Assessments, nil
}

// CurrentAssessments returns every caregiver's current assessment,
// highest score first.
func (c *Client) CurrentAssessments(ctx context.Context) ([]Assessment, error) {
	var resp struct {
		Assessments []Assessment `json:"assessments"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/assessments/current", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Assessments, nil
}

// RecentAlerts returns the most recently raised alerts, newest first.
func (c *Client) RecentAlerts(ctx context.Context) ([]Alert, error) {
	var resp struct {
		Alerts []Alert `json:"alerts"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/alerts/recent", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Alerts, nil
}

// AlertListOptions filter and page the stored alert list.
type AlertListOptions struct {
	CaregiverID string
	Limit       int
	Cursor      string
}

// Alerts pages through stored alerts, newest first. Pass the returned
// page's NextCursor back in to continue.
func (c *Client) Alerts(ctx context.Context, opts AlertListOptions) (*AlertPage, error) {
	query := url.Values{}
	if opts.CaregiverID != "" {
		query.Set("caregiver_id", opts.CaregiverID)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		query.Set("cursor", opts.Cursor)
	}

	var page AlertPage
	if err := c.do(ctx, http.MethodGet, "/v1/alerts", query, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// AcknowledgeAlert records a care team member's confirmation that the
// alert was reviewed. Each alert acknowledges at most once.
func (c *Client) AcknowledgeAlert(ctx context.Context, alertID, acknowledgedBy string) (*Alert, error) {
	body := map[string]any{"acknowledged_by": acknowledgedBy}

	var alert Alert
	path := "/v1/alerts/" + url.PathEscape(alertID) + "/ack"
	if err := c.do(ctx, http.MethodPost, path, nil, body, &alert); err != nil {
		return nil, err
	}
	return &alert, nil
}

// do performs one API request. Responses with status 400 and above are
// returned as *Error so callers can inspect the code and status.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Code == "" {
			apiErr.Code = fmt.Sprintf("status_%d", resp.StatusCode)
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
