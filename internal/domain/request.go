package domain

// AutoTarget is the sentinel target meaning "let the planner decide".
const AutoTarget = "auto"

// AgentRequest is one incoming request to the kernel.
type AgentRequest struct {
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Messages  []Message `json:"messages"`

	// TargetPlugin selects manual routing when it names a registered
	// plugin. AutoTarget (or empty) defers to the planner.
	TargetPlugin string `json:"target_plugin,omitempty"`

	// Language, when set, instructs plugins to answer in that language.
	Language string `json:"language,omitempty"`
}

// Auto reports whether the request defers plugin selection to the planner.
func (r *AgentRequest) Auto() bool {
	return r.TargetPlugin == "" || r.TargetPlugin == AutoTarget
}

// AgentResponse is the kernel's answer to one request.
type AgentResponse struct {
	Content string             `json:"content"`
	Results map[int]TaskResult `json:"results,omitempty"`
	Usage   Usage              `json:"usage,omitzero"`
}
