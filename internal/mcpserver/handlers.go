package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

var validInteractionKinds = []string{
	"disable_emergency_button",
	"modify_emergency_contacts",
	"query_emergency_status",
	"test_emergency_alert",
}

// tamperingTrigger maps interaction kinds that compromise the protected
// user's safety net to the trigger type the follow-up analysis carries.
func tamperingTrigger(kind string) (string, bool) {
	switch kind {
	case "disable_emergency_button", "modify_emergency_contacts":
		return "EMERGENCY_CONTACT_TAMPERING", true
	}
	return "", false
}

// HandleGetRiskAssessment returns a caregiver's current risk assessment.
func (h *Handlers) HandleGetRiskAssessment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	caregiverID := req.GetString("caregiver_id", "")
	if caregiverID == "" {
		return mcp.NewToolResultError("caregiver_id is required"), nil
	}

	raw, err := h.client.GetCurrentAssessment(ctx, caregiverID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get assessment: %v", err)), nil
	}

	text, err := formatAssessment(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessment: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleListRecentAlerts lists stored alerts, newest first.
func (h *Handlers) HandleListRecentAlerts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 10)
	caregiverID := req.GetString("caregiver_id", "")

	raw, err := h.client.ListAlerts(ctx, caregiverID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list alerts: %v", err)), nil
	}

	text, err := formatAlertList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse alerts: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleTriggerReview runs a manual review analysis for a caregiver.
func (h *Handlers) HandleTriggerReview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	caregiverID := req.GetString("caregiver_id", "")
	if caregiverID == "" {
		return mcp.NewToolResultError("caregiver_id is required"), nil
	}
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	reason := req.GetString("reason", "")
	if reason == "" {
		return mcp.NewToolResultError("reason is required"), nil
	}

	raw, err := h.client.TriggerReview(ctx, caregiverID, userID, reason)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Review failed: %v", err)), nil
	}

	text, err := formatAnalysis(raw, fmt.Sprintf("Manual review of caregiver %s completed.", caregiverID))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse analysis: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleRecordEmergencyInteraction ingests an observed emergency-system
// interaction and immediately re-assesses the caregiver.
func (h *Handlers) HandleRecordEmergencyInteraction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	caregiverID := req.GetString("caregiver_id", "")
	if caregiverID == "" {
		return mcp.NewToolResultError("caregiver_id is required"), nil
	}
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	kind := req.GetString("kind", "")
	if !validKind(kind) {
		return mcp.NewToolResultError(fmt.Sprintf(
			"Unknown kind %q. Valid kinds: %s", kind, strings.Join(validInteractionKinds, ", "))), nil
	}
	detail := req.GetString("detail", "")

	if _, err := h.client.RecordEmergencyInteraction(ctx, caregiverID, userID, kind, detail); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to record interaction: %v", err)), nil
	}

	triggerDetail := detail
	if triggerDetail == "" {
		triggerDetail = "care team observed " + kind
	}
	triggerType, _ := tamperingTrigger(kind)

	raw, err := h.client.AnalyzeCaregiver(ctx, caregiverID, userID, triggerType, triggerDetail)
	if err != nil {
		// The observation itself is already stored.
		return mcp.NewToolResultText(fmt.Sprintf(
			"Recorded %s for caregiver %s, but the follow-up risk analysis failed: %v\n"+
				"Use trigger_review to re-assess.",
			kind, caregiverID, err)), nil
	}

	text, err := formatAnalysis(raw, fmt.Sprintf("Recorded %s for caregiver %s.", kind, caregiverID))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse analysis: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

func validKind(kind string) bool {
	for _, k := range validInteractionKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// --- Formatting helpers ---

func formatAssessment(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}
	if getString(m, "level") == "" {
		return "", fmt.Errorf("unexpected assessment response format")
	}

	var sb strings.Builder
	writeAssessment(&sb, m)
	return sb.String(), nil
}

func writeAssessment(sb *strings.Builder, m map[string]any) {
	level := getString(m, "level")
	score, _ := getFloat(m, "score")
	fmt.Fprintf(sb, "Caregiver %s risk: %s (score %.0f/100)\n", getString(m, "caregiverId"), level, score)
	if v := getString(m, "userId"); v != "" {
		fmt.Fprintf(sb, "Protected user: %s\n", v)
	}
	if v := getString(m, "assessedAt"); v != "" {
		fmt.Fprintf(sb, "Assessed at: %s\n", v)
	}
	if trig, ok := m["trigger"].(map[string]any); ok {
		line := getString(trig, "type")
		if d := getString(trig, "detail"); d != "" {
			line += " (" + d + ")"
		}
		fmt.Fprintf(sb, "Trigger: %s\n", line)
	}

	factors, _ := m["factors"].([]any)
	if len(factors) == 0 {
		sb.WriteString("No risk factors in the current window.\n")
	} else {
		fmt.Fprintf(sb, "Risk factors (%d):\n", len(factors))
		for _, f := range factors {
			fm, ok := f.(map[string]any)
			if !ok {
				continue
			}
			fscore, _ := getFloat(fm, "score")
			fmt.Fprintf(sb, "  - %s [%s, +%.0f]: %s\n",
				getString(fm, "type"), getString(fm, "severity"), fscore, getString(fm, "description"))
		}
	}

	if level == "HIGH" || level == "CRITICAL" {
		sb.WriteString("This caregiver requires immediate attention.\n")
	}
}

func formatAlertList(raw json.RawMessage) (string, error) {
	var resp struct {
		Alerts []map[string]any `json:"alerts"`
	}
	// Try as {"alerts": [...]}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Alerts == nil {
		// Try as direct array
		if err := json.Unmarshal(raw, &resp.Alerts); err != nil {
			return "", fmt.Errorf("unexpected alerts response format")
		}
	}

	if len(resp.Alerts) == 0 {
		return "No alerts found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d alert(s):\n\n", len(resp.Alerts))
	for i, a := range resp.Alerts {
		score, _ := getFloat(a, "score")
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, getString(a, "level"), getString(a, "type"))
		fmt.Fprintf(&sb, "   Caregiver: %s | User: %s | Score: %.0f\n",
			getString(a, "caregiverId"), getString(a, "userId"), score)
		if v := getString(a, "createdAt"); v != "" {
			fmt.Fprintf(&sb, "   Created: %s\n", v)
		}
		if v := getString(a, "message"); v != "" {
			fmt.Fprintf(&sb, "   %s\n", v)
		}
		if b, ok := a["requiresImmediateAction"].(bool); ok && b {
			sb.WriteString("   Requires immediate action\n")
		}
		if by := getString(a, "acknowledgedBy"); by != "" {
			fmt.Fprintf(&sb, "   Acknowledged by %s\n", by)
		} else {
			sb.WriteString("   Unacknowledged\n")
		}
		if i < len(resp.Alerts)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

func formatAnalysis(raw json.RawMessage, header string) (string, error) {
	var resp struct {
		Assessment map[string]any `json:"assessment"`
		Alert      map[string]any `json:"alert"`
		Persisted  *bool          `json:"persisted"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Assessment == nil {
		return "", fmt.Errorf("unexpected analysis response format")
	}

	var sb strings.Builder
	if header != "" {
		sb.WriteString(header + "\n\n")
	}
	writeAssessment(&sb, resp.Assessment)

	if resp.Alert != nil {
		fmt.Fprintf(&sb, "\nAlert raised: [%s] %s\n",
			getString(resp.Alert, "level"), getString(resp.Alert, "type"))
		if v := getString(resp.Alert, "message"); v != "" {
			fmt.Fprintf(&sb, "%s\n", v)
		}
		if actions, ok := resp.Alert["recommendedActions"].([]any); ok && len(actions) > 0 {
			sb.WriteString("Recommended actions:\n")
			for _, a := range actions {
				if s, ok := a.(string); ok {
					fmt.Fprintf(&sb, "  - %s\n", s)
				}
			}
		}
	}

	if resp.Persisted != nil && !*resp.Persisted {
		sb.WriteString("\nNote: this assessment could not be persisted and will not appear in history.\n")
	}
	return sb.String(), nil
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
