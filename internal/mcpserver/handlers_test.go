package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	cfg := Config{
		APIURL:   ts.URL,
		APIToken: "care_test_token",
	}
	client := NewClient(cfg)
	h := NewHandlers(client)
	return h, ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func highAssessment() map[string]any {
	return map[string]any{
		"id":          "asmt_01",
		"caregiverId": "cg-1",
		"userId":      "user-1",
		"score":       80.0,
		"level":       "HIGH",
		"factors": []map[string]any{
			{
				"type": "SAFETY_SYSTEM_TAMPERING", "score": 40.0, "severity": "CRITICAL",
				"description": "Emergency safety systems were modified",
			},
			{
				"type": "EMERGENCY_CONTACT_TAMPERING", "score": 40.0, "severity": "CRITICAL",
				"description": "Tampering with the emergency contact list was reported",
			},
		},
		"trigger": map[string]any{
			"type":       "EMERGENCY_CONTACT_TAMPERING",
			"detail":     "care team observed disable_emergency_button",
			"occurredAt": "2026-02-10T09:00:00Z",
		},
		"windowStart": "2026-02-09T09:00:00Z",
		"windowEnd":   "2026-02-10T09:00:00Z",
		"assessedAt":  "2026-02-10T09:00:01Z",
	}
}

func minimalAssessment(caregiverID string) map[string]any {
	return map[string]any{
		"id":          "asmt_02",
		"caregiverId": caregiverID,
		"userId":      "user-1",
		"score":       0.0,
		"level":       "MINIMAL",
		"factors":     []map[string]any{},
		"windowStart": "2026-02-09T09:00:00Z",
		"windowEnd":   "2026-02-10T09:00:00Z",
		"assessedAt":  "2026-02-10T09:00:01Z",
	}
}

// ============================================================
// Client tests
// ============================================================

func TestClient_DoRequest_AuthHeader(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, APIToken: "care_secret123"})
	_, err := client.GetCurrentAssessment(context.Background(), "cg-1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer care_secret123", gotAuth)
}

func TestClient_DoRequest_NoTokenOmitsAuthHeader(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL})
	_, err := client.GetCurrentAssessment(context.Background(), "cg-1")
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestClient_DoRequest_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "not_found",
			"message": "No current assessment for this caregiver",
		})
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, APIToken: "k"})
	_, err := client.GetCurrentAssessment(context.Background(), "cg-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "No current assessment for this caregiver")
}

func TestClient_DoRequest_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, APIToken: "k"})
	_, err := client.GetCurrentAssessment(context.Background(), "cg-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_DoRequest_ConnectionRefused(t *testing.T) {
	client := NewClient(Config{APIURL: "http://127.0.0.1:1", APIToken: "k"})
	_, err := client.GetCurrentAssessment(context.Background(), "cg-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_DoRequest_CancelledContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, APIToken: "k"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately
	_, err := client.GetCurrentAssessment(ctx, "cg-1")
	require.Error(t, err)
}

func TestClient_GetCurrentAssessment_Path(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/caregivers/cg-9/assessment", r.URL.Path)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, APIToken: "k"})
	_, err := client.GetCurrentAssessment(context.Background(), "cg-9")
	require.NoError(t, err)
}

func TestClient_ListAlerts_QueryParams(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/alerts", r.URL.Path)
		assert.Equal(t, "cg-2", r.URL.Query().Get("caregiver_id"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"alerts":[]}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, APIToken: "k"})
	_, err := client.ListAlerts(context.Background(), "cg-2", 5)
	require.NoError(t, err)
}

func TestClient_ListAlerts_ZeroLimit(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("limit"), "limit=0 should not be sent")
		assert.Empty(t, r.URL.Query().Get("caregiver_id"))
		_, _ = w.Write([]byte(`{"alerts":[]}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, APIToken: "k"})
	_, err := client.ListAlerts(context.Background(), "", 0)
	require.NoError(t, err)
}

func TestClient_TriggerReview_RequestBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/caregivers/cg-1/analyses/manual", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		var m map[string]string
		_ = json.Unmarshal(body, &m)
		assert.Equal(t, "user-1", m["user_id"])
		assert.Equal(t, "family reported missing calls", m["reason"])

		_ = json.NewEncoder(w).Encode(map[string]any{"assessment": minimalAssessment("cg-1")})
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, APIToken: "k"})
	_, err := client.TriggerReview(context.Background(), "cg-1", "user-1", "family reported missing calls")
	require.NoError(t, err)
}

func TestClient_RecordEmergencyInteraction_RequestBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/events/emergency-interactions", r.URL.Path)

		body, _ := io.ReadAll(r.Body)
		var m map[string]string
		_ = json.Unmarshal(body, &m)
		assert.Equal(t, "cg-1", m["caregiverId"])
		assert.Equal(t, "user-1", m["userId"])
		assert.Equal(t, "disable_emergency_button", m["kind"])
		assert.Equal(t, "seen during visit", m["detail"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"evt_1"}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, APIToken: "k"})
	_, err := client.RecordEmergencyInteraction(context.Background(), "cg-1", "user-1",
		"disable_emergency_button", "seen during visit")
	require.NoError(t, err)
}

func TestClient_RecordEmergencyInteraction_OmitsEmptyDetail(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(body, &m)
		_, hasDetail := m["detail"]
		assert.False(t, hasDetail, "empty detail should not be sent")

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"evt_1"}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, APIToken: "k"})
	_, err := client.RecordEmergencyInteraction(context.Background(), "cg-1", "user-1",
		"test_emergency_alert", "")
	require.NoError(t, err)
}

func TestClient_AnalyzeCaregiver_WithTrigger(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/caregivers/cg-1/analyses", r.URL.Path)

		body, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(body, &m)
		assert.Equal(t, "user-1", m["user_id"])
		trigger, ok := m["trigger"].(map[string]any)
		require.True(t, ok, "expected a trigger object")
		assert.Equal(t, "EMERGENCY_CONTACT_TAMPERING", trigger["type"])
		assert.Equal(t, "observed on site", trigger["detail"])

		_ = json.NewEncoder(w).Encode(map[string]any{"assessment": highAssessment()})
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, APIToken: "k"})
	_, err := client.AnalyzeCaregiver(context.Background(), "cg-1", "user-1",
		"EMERGENCY_CONTACT_TAMPERING", "observed on site")
	require.NoError(t, err)
}

func TestClient_AnalyzeCaregiver_NoTrigger(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(body, &m)
		_, hasTrigger := m["trigger"]
		assert.False(t, hasTrigger, "empty trigger type should not produce a trigger object")

		_ = json.NewEncoder(w).Encode(map[string]any{"assessment": minimalAssessment("cg-1")})
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, APIToken: "k"})
	_, err := client.AnalyzeCaregiver(context.Background(), "cg-1", "user-1", "", "")
	require.NoError(t, err)
}

// ============================================================
// Handler: get_risk_assessment
// ============================================================

func TestHandleGetRiskAssessment(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/caregivers/cg-1/assessment", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer care_test_token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(highAssessment())
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleGetRiskAssessment(context.Background(), makeRequest(map[string]any{
		"caregiver_id": "cg-1",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Caregiver cg-1 risk: HIGH (score 80/100)")
	assert.Contains(t, text, "Protected user: user-1")
	assert.Contains(t, text, "SAFETY_SYSTEM_TAMPERING")
	assert.Contains(t, text, "Risk factors (2)")
	assert.Contains(t, text, "Trigger: EMERGENCY_CONTACT_TAMPERING")
	assert.Contains(t, text, "requires immediate attention")
}

func TestHandleGetRiskAssessment_MinimalRisk(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/caregivers/cg-calm/assessment", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(minimalAssessment("cg-calm"))
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleGetRiskAssessment(context.Background(), makeRequest(map[string]any{
		"caregiver_id": "cg-calm",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Caregiver cg-calm risk: MINIMAL (score 0/100)")
	assert.Contains(t, text, "No risk factors in the current window.")
	assert.NotContains(t, text, "immediate attention")
}

func TestHandleGetRiskAssessment_MissingCaregiverID(t *testing.T) {
	h, cleanup := newTestSetup(http.NewServeMux())
	defer cleanup()

	result, err := h.HandleGetRiskAssessment(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "caregiver_id is required")
}

func TestHandleGetRiskAssessment_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/caregivers/cg-unknown/assessment", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "not_found",
			"message": "No current assessment for this caregiver",
		})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleGetRiskAssessment(context.Background(), makeRequest(map[string]any{
		"caregiver_id": "cg-unknown",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "No current assessment for this caregiver")
}

// ============================================================
// Handler: list_recent_alerts
// ============================================================

func TestHandleListRecentAlerts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer care_test_token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"alerts": []map[string]any{
				{
					"id": "alert_2", "assessmentId": "asmt_2",
					"caregiverId": "cg-1", "userId": "user-1",
					"type": "SAFETY_COMPROMISE", "level": "CRITICAL", "score": 120.0,
					"message":                 "Critical abuse risk detected for caregiver cg-1",
					"requiresImmediateAction": true,
					"createdAt":               "2026-02-10T10:00:00Z",
				},
				{
					"id": "alert_1", "assessmentId": "asmt_1",
					"caregiverId": "cg-2", "userId": "user-2",
					"type": "ABUSE_RISK", "level": "MEDIUM", "score": 55.0,
					"message":        "Elevated abuse risk detected for caregiver cg-2",
					"createdAt":      "2026-02-10T09:00:00Z",
					"acknowledgedBy": "advocate_7",
					"acknowledgedAt": "2026-02-10T09:30:00Z",
				},
			},
			"count":   2,
			"hasMore": false,
		})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleListRecentAlerts(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Found 2 alert(s)")
	assert.Contains(t, text, "[CRITICAL] SAFETY_COMPROMISE")
	assert.Contains(t, text, "Caregiver: cg-1 | User: user-1 | Score: 120")
	assert.Contains(t, text, "Requires immediate action")
	assert.Contains(t, text, "Unacknowledged")
	assert.Contains(t, text, "[MEDIUM] ABUSE_RISK")
	assert.Contains(t, text, "Acknowledged by advocate_7")
}

func TestHandleListRecentAlerts_Empty(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"alerts": []map[string]any{}, "count": 0})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleListRecentAlerts(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "No alerts found.")
}

func TestHandleListRecentAlerts_PassesParams(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		assert.Equal(t, "cg-5", r.URL.Query().Get("caregiver_id"))
		_ = json.NewEncoder(w).Encode(map[string]any{"alerts": []map[string]any{}})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	h.HandleListRecentAlerts(context.Background(), makeRequest(map[string]any{
		"limit":        25,
		"caregiver_id": "cg-5",
	}))
}

func TestHandleListRecentAlerts_DefaultLimit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(map[string]any{"alerts": []map[string]any{}})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	h.HandleListRecentAlerts(context.Background(), makeRequest(nil))
}

func TestHandleListRecentAlerts_APIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "storage_error",
			"message": "Alerts are unavailable",
		})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleListRecentAlerts(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Alerts are unavailable")
}

// ============================================================
// Handler: trigger_review
// ============================================================

func TestHandleTriggerReview(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/caregivers/cg-1/analyses/manual", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		body, _ := io.ReadAll(r.Body)
		var m map[string]string
		_ = json.Unmarshal(body, &m)
		assert.Equal(t, "user-1", m["user_id"])
		assert.Equal(t, "daughter reported blocked calls", m["reason"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"assessment": highAssessment(),
			"alert": map[string]any{
				"id": "alert_9", "type": "SAFETY_COMPROMISE", "level": "HIGH",
				"message": "High abuse risk detected for caregiver cg-1",
				"recommendedActions": []string{
					"Verify the emergency button works",
					"Contact the protected user directly",
				},
			},
		})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleTriggerReview(context.Background(), makeRequest(map[string]any{
		"caregiver_id": "cg-1",
		"user_id":      "user-1",
		"reason":       "daughter reported blocked calls",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Manual review of caregiver cg-1 completed.")
	assert.Contains(t, text, "HIGH (score 80/100)")
	assert.Contains(t, text, "Alert raised: [HIGH] SAFETY_COMPROMISE")
	assert.Contains(t, text, "Recommended actions:")
	assert.Contains(t, text, "Verify the emergency button works")
}

func TestHandleTriggerReview_MissingArgs(t *testing.T) {
	h, cleanup := newTestSetup(http.NewServeMux())
	defer cleanup()

	result, _ := h.HandleTriggerReview(context.Background(), makeRequest(map[string]any{
		"user_id": "user-1", "reason": "r",
	}))
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "caregiver_id is required")

	result, _ = h.HandleTriggerReview(context.Background(), makeRequest(map[string]any{
		"caregiver_id": "cg-1", "reason": "r",
	}))
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "user_id is required")

	result, _ = h.HandleTriggerReview(context.Background(), makeRequest(map[string]any{
		"caregiver_id": "cg-1", "user_id": "user-1",
	}))
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "reason is required")
}

func TestHandleTriggerReview_NotPersisted(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/caregivers/cg-1/analyses/manual", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"assessment": minimalAssessment("cg-1"),
			"persisted":  false,
		})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleTriggerReview(context.Background(), makeRequest(map[string]any{
		"caregiver_id": "cg-1",
		"user_id":      "user-1",
		"reason":       "spot check",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "could not be persisted")
}

// ============================================================
// Handler: record_emergency_interaction
// ============================================================

func TestHandleRecordEmergencyInteraction_Tampering(t *testing.T) {
	var ingested, analyzed atomic.Bool

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/events/emergency-interactions", func(w http.ResponseWriter, r *http.Request) {
		ingested.Store(true)

		body, _ := io.ReadAll(r.Body)
		var m map[string]string
		_ = json.Unmarshal(body, &m)
		assert.Equal(t, "cg-1", m["caregiverId"])
		assert.Equal(t, "disable_emergency_button", m["kind"])
		assert.Equal(t, "seen during home visit", m["detail"])

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "evt_1"})
	})
	mux.HandleFunc("/v1/caregivers/cg-1/analyses", func(w http.ResponseWriter, r *http.Request) {
		analyzed.Store(true)

		body, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(body, &m)
		trigger, ok := m["trigger"].(map[string]any)
		require.True(t, ok, "tampering kinds must carry a trigger")
		assert.Equal(t, "EMERGENCY_CONTACT_TAMPERING", trigger["type"])
		assert.Equal(t, "seen during home visit", trigger["detail"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"assessment": highAssessment(),
			"alert": map[string]any{
				"id": "alert_3", "type": "SAFETY_COMPROMISE", "level": "HIGH",
				"message": "High abuse risk detected for caregiver cg-1",
			},
		})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleRecordEmergencyInteraction(context.Background(), makeRequest(map[string]any{
		"caregiver_id": "cg-1",
		"user_id":      "user-1",
		"kind":         "disable_emergency_button",
		"detail":       "seen during home visit",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.True(t, ingested.Load(), "event should be ingested")
	assert.True(t, analyzed.Load(), "analysis should follow the ingest")

	text := resultText(t, result)
	assert.Contains(t, text, "Recorded disable_emergency_button for caregiver cg-1.")
	assert.Contains(t, text, "HIGH (score 80/100)")
	assert.Contains(t, text, "Alert raised: [HIGH] SAFETY_COMPROMISE")
}

func TestHandleRecordEmergencyInteraction_StatusQueryHasNoTrigger(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/events/emergency-interactions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "evt_2"})
	})
	mux.HandleFunc("/v1/caregivers/cg-1/analyses", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(body, &m)
		_, hasTrigger := m["trigger"]
		assert.False(t, hasTrigger, "status queries are not safety triggers")

		_ = json.NewEncoder(w).Encode(map[string]any{"assessment": minimalAssessment("cg-1")})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleRecordEmergencyInteraction(context.Background(), makeRequest(map[string]any{
		"caregiver_id": "cg-1",
		"user_id":      "user-1",
		"kind":         "query_emergency_status",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Recorded query_emergency_status for caregiver cg-1.")
	assert.Contains(t, text, "MINIMAL (score 0/100)")
}

func TestHandleRecordEmergencyInteraction_InvalidKind(t *testing.T) {
	h, cleanup := newTestSetup(http.NewServeMux())
	defer cleanup()

	result, err := h.HandleRecordEmergencyInteraction(context.Background(), makeRequest(map[string]any{
		"caregiver_id": "cg-1",
		"user_id":      "user-1",
		"kind":         "smashed_the_tablet",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, `Unknown kind "smashed_the_tablet"`)
	assert.Contains(t, text, "disable_emergency_button")
	assert.Contains(t, text, "test_emergency_alert")
}

func TestHandleRecordEmergencyInteraction_IngestFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/events/emergency-interactions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "storage_error",
			"message": "The event could not be recorded",
		})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleRecordEmergencyInteraction(context.Background(), makeRequest(map[string]any{
		"caregiver_id": "cg-1",
		"user_id":      "user-1",
		"kind":         "modify_emergency_contacts",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Failed to record interaction")
}

func TestHandleRecordEmergencyInteraction_AnalysisFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/events/emergency-interactions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "evt_3"})
	})
	mux.HandleFunc("/v1/caregivers/cg-1/analyses", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "collection_failed",
			"message": "behavior collection failed",
		})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleRecordEmergencyInteraction(context.Background(), makeRequest(map[string]any{
		"caregiver_id": "cg-1",
		"user_id":      "user-1",
		"kind":         "modify_emergency_contacts",
	}))
	require.NoError(t, err)
	// The event is stored, so a partial result beats an error.
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Recorded modify_emergency_contacts for caregiver cg-1")
	assert.Contains(t, text, "follow-up risk analysis failed")
	assert.Contains(t, text, "trigger_review")
}

func TestHandleRecordEmergencyInteraction_DefaultTriggerDetail(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/events/emergency-interactions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "evt_4"})
	})
	mux.HandleFunc("/v1/caregivers/cg-1/analyses", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(body, &m)
		trigger, ok := m["trigger"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "care team observed disable_emergency_button", trigger["detail"])

		_ = json.NewEncoder(w).Encode(map[string]any{"assessment": highAssessment()})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleRecordEmergencyInteraction(context.Background(), makeRequest(map[string]any{
		"caregiver_id": "cg-1",
		"user_id":      "user-1",
		"kind":         "disable_emergency_button",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

// ============================================================
// Formatting helpers
// ============================================================

func TestValidKind(t *testing.T) {
	for _, kind := range validInteractionKinds {
		assert.True(t, validKind(kind), kind)
	}
	assert.False(t, validKind(""))
	assert.False(t, validKind("DISABLE_EMERGENCY_BUTTON"))
}

func TestFormatAssessment_BadPayload(t *testing.T) {
	_, err := formatAssessment(json.RawMessage(`{"unexpected": true}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected assessment response format")
}

func TestFormatAnalysis_MissingAssessment(t *testing.T) {
	_, err := formatAnalysis(json.RawMessage(`{"alert": {}}`), "header")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected analysis response format")
}

func TestFormatAlertList_DirectArray(t *testing.T) {
	raw := json.RawMessage(`[{"id":"alert_1","caregiverId":"cg-1","userId":"user-1","type":"ABUSE_RISK","level":"MEDIUM","score":55}]`)
	text, err := formatAlertList(raw)
	require.NoError(t, err)
	assert.Contains(t, text, "Found 1 alert(s)")
	assert.Contains(t, text, "[MEDIUM] ABUSE_RISK")
}

func TestTamperingTrigger(t *testing.T) {
	for _, kind := range []string{"disable_emergency_button", "modify_emergency_contacts"} {
		trigger, ok := tamperingTrigger(kind)
		assert.True(t, ok, kind)
		assert.Equal(t, "EMERGENCY_CONTACT_TAMPERING", trigger)
	}
	for _, kind := range []string{"query_emergency_status", "test_emergency_alert", ""} {
		_, ok := tamperingTrigger(kind)
		assert.False(t, ok, kind)
	}
}
