package flowchat

// Stream event names.
const (
	EventAnswer           = "answer"
	EventFastAnswer       = "fastAnswer"
	EventFlowNodeStatus   = "flowNodeStatus"
	EventFlowResponses    = "flowResponses"
	EventToolCall         = "toolCall"
	EventToolParams       = "toolParams"
	EventToolResponse     = "toolResponse"
	EventInteractive      = "interactive"
	EventUpdateVariables  = "updateVariables"
	EventWorkflowDuration = "workflowDuration"
	EventError            = "error"
)

// StreamEvent is one unit of output pushed to the caller.
type StreamEvent struct {
	Event  string
	NodeID string
	Data   any
}

// Emitter receives stream events from the scheduler and node handlers.
// Implementations must be safe for concurrent use.
type Emitter interface {
	Emit(ev StreamEvent)
}

// AnswerDelta is the payload of answer events.
type AnswerDelta struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// NodeStatusPayload is the payload of flowNodeStatus events.
type NodeStatusPayload struct {
	NodeID string `json:"nodeId"`
	Status string `json:"status"`
	Name   string `json:"name"`
	Error  string `json:"error,omitempty"`
}
