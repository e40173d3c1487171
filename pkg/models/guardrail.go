package models

import "time"

// GuardrailRule constrains what tools an agent may invoke unattended.
// A rule with RequireApproval set flags any matching tool_call whose
// session has no approval_requested event alongside it.
type GuardrailRule struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenantId"`
	Name            string    `json:"name"`
	ToolName        string    `json:"toolName"`
	RequireApproval bool      `json:"requireApproval"`
	Enabled         bool      `json:"enabled"`
	CreatedAt       time.Time `json:"createdAt"`
}
