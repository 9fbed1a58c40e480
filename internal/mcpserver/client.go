// Package mcpserver exposes ElderGuard's risk data to AI assistants over
// the Model Context Protocol. The tools are a thin conversational surface
// on the REST API: the MCP process holds a care-team token and translates
// tool calls into HTTP requests, so every authorization and validation
// rule the API enforces applies here too.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the ElderGuard API.
type Config struct {
	APIURL   string // Base URL, e.g. "http://localhost:8080"
	APIToken string // Care-team bearer token
}

// Client is a pure HTTP client for the ElderGuard API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new client for the ElderGuard API.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// GetCurrentAssessment returns the caregiver's cached current assessment.
func (c *Client) GetCurrentAssessment(ctx context.Context, caregiverID string) (json.RawMessage, error) {
	path := "/v1/caregivers/" + url.PathEscape(caregiverID) + "/assessment"
	return c.doRequest(ctx, http.MethodGet, path, nil, nil)
}

// ListAlerts lists stored alerts, newest first, optionally filtered by caregiver.
func (c *Client) ListAlerts(ctx context.Context, caregiverID string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if caregiverID != "" {
		q.Set("caregiver_id", caregiverID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/alerts", q, nil)
}

// TriggerReview starts a manual review analysis for a caregiver.
func (c *Client) TriggerReview(ctx context.Context, caregiverID, userID, reason string) (json.RawMessage, error) {
	path := "/v1/caregivers/" + url.PathEscape(caregiverID) + "/analyses/manual"
	body := map[string]string{
		"user_id": userID,
		"reason":  reason,
	}
	return c.doRequest(ctx, http.MethodPost, path, nil, body)
}

// RecordEmergencyInteraction ingests an emergency-system interaction event.
func (c *Client) RecordEmergencyInteraction(ctx context.Context, caregiverID, userID, kind, detail string) (json.RawMessage, error) {
	body := map[string]string{
		"caregiverId": caregiverID,
		"userId":      userID,
		"kind":        kind,
	}
	if detail != "" {
		body["detail"] = detail
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/events/emergency-interactions", nil, body)
}

// AnalyzeCaregiver runs a fresh analysis. A non-empty triggerType marks the
// analysis as reactive to that trigger.
func (c *Client) AnalyzeCaregiver(ctx context.Context, caregiverID, userID, triggerType, detail string) (json.RawMessage, error) {
	path := "/v1/caregivers/" + url.PathEscape(caregiverID) + "/analyses"
	body := map[string]any{
		"user_id": userID,
	}
	if triggerType != "" {
		trigger := map[string]string{"type": triggerType}
		if detail != "" {
			trigger["detail"] = detail
		}
		body["trigger"] = trigger
	}
	return c.doRequest(ctx, http.MethodPost, path, nil, body)
}
