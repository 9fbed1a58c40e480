package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the ElderGuard MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetRiskAssessment = mcp.NewTool("get_risk_assessment",
	mcp.WithDescription(
		"Get the current abuse risk assessment for a caregiver. "+
			"Returns the risk level (MINIMAL/LOW/MEDIUM/HIGH/CRITICAL), the 0-100 score, "+
			"and the behavioral factors that contributed to it. "+
			"Use this to check on a caregiver before escalating or reassuring a family member."),
	mcp.WithString("caregiver_id",
		mcp.Required(),
		mcp.Description("The caregiver's identifier (e.g. 'cg-1234')")),
)

var ToolListRecentAlerts = mcp.NewTool("list_recent_alerts",
	mcp.WithDescription(
		"List recent abuse alerts across all monitored caregivers, newest first. "+
			"Each alert includes its type, risk level, recommended actions, and acknowledgement state. "+
			"Use this to review what needs attention right now."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of alerts to return (default 10, max 100)")),
	mcp.WithString("caregiver_id",
		mcp.Description("Only return alerts for this caregiver")),
)

var ToolTriggerReview = mcp.NewTool("trigger_review",
	mcp.WithDescription(
		"Run a manual abuse risk review of a caregiver right now. "+
			"Collects the caregiver's recent behavior toward the protected user, scores it, "+
			"and raises an alert if the risk is MEDIUM or above. "+
			"Use this when a family member or advocate reports a concern."),
	mcp.WithString("caregiver_id",
		mcp.Required(),
		mcp.Description("The caregiver's identifier")),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The protected user's identifier")),
	mcp.WithString("reason",
		mcp.Required(),
		mcp.Description("Why the review is being requested (recorded with the assessment)")),
)

var ToolRecordEmergencyInteraction = mcp.NewTool("record_emergency_interaction",
	mcp.WithDescription(
		"Record an observed interaction between a caregiver and the protected user's "+
			"emergency safety systems, then immediately re-assess the caregiver's risk. "+
			"Tampering kinds (disabling the emergency button, modifying emergency contacts) "+
			"are treated as safety-compromise triggers and typically raise an alert."),
	mcp.WithString("caregiver_id",
		mcp.Required(),
		mcp.Description("The caregiver's identifier")),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The protected user's identifier")),
	mcp.WithString("kind",
		mcp.Required(),
		mcp.Description("What the caregiver did to the emergency system"),
		mcp.Enum("disable_emergency_button", "modify_emergency_contacts", "query_emergency_status", "test_emergency_alert")),
	mcp.WithString("detail",
		mcp.Description("Free-text detail about the interaction (who observed it, what exactly happened)")),
)
