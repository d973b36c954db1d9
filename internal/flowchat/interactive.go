package flowchat

// InteractiveValue records a run paused inside a node awaiting caller
// input. It is attached to the AI item of the paused turn and consumed
// exactly once by the next request on the same chat.
type InteractiveValue struct {
	NodeID   string   `json:"nodeId"`
	NodeType NodeType `json:"nodeType"`
	// State is the handler's private partial state.
	State map[string]any `json:"state,omitempty"`
	// Prompt is what the caller is asked (options, form fields).
	Prompt map[string]any `json:"prompt,omitempty"`
	// NodeOutputs holds outputs of every node done before the pause.
	NodeOutputs map[string]map[string]any `json:"nodeOutputs,omitempty"`
	EdgeStatus  map[string]EdgeStatus     `json:"edgeStatus,omitempty"`
}

// UsageEntry is one billable record, appended once and never mutated.
type UsageEntry struct {
	NodeID       string  `json:"nodeId,omitempty"`
	ModuleName   string  `json:"moduleName"`
	Model        string  `json:"model,omitempty"`
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	TotalPoints  float64 `json:"totalPoints"`
}
