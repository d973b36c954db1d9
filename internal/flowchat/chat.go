package flowchat

import "time"

type Role string

const (
	RoleHuman  Role = "Human"
	RoleAI     Role = "AI"
	RoleSystem Role = "System"
)

// ChatItem is one persisted message of a conversation.
type ChatItem struct {
	DataID      string            `json:"dataId"`
	Role        Role              `json:"obj"`
	Text        string            `json:"text"`
	Interactive *InteractiveValue `json:"interactive,omitempty"`
	// Pending is set while Interactive still awaits a reply.
	Pending   bool           `json:"pending,omitempty"`
	Responses []NodeResponse `json:"responseData,omitempty"`
	// Replies are the user answers given to the interactive prompts of
	// this item, oldest first.
	Replies   []string  `json:"replies,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChatTurn is the unit handed to persistence at the end of a run.
type ChatTurn struct {
	AppID     string         `json:"appId"`
	ChatID    string         `json:"chatId"`
	TeamID    string         `json:"teamId"`
	TmbID     string         `json:"tmbId"`
	User      ChatItem       `json:"user"`
	Assistant ChatItem       `json:"assistant"`
	Variables map[string]any `json:"variables,omitempty"`
	Duration  float64        `json:"durationSeconds"`
}

// NodeResponse is the per-node execution trace attached to an AI item.
type NodeResponse struct {
	NodeID       string     `json:"nodeId"`
	ModuleType   NodeType   `json:"moduleType"`
	ModuleName   string     `json:"moduleName"`
	Status       NodeStatus `json:"status"`
	RunningTime  float64    `json:"runningTime"`
	Model        string     `json:"model,omitempty"`
	InputTokens  int        `json:"inputTokens,omitempty"`
	OutputTokens int        `json:"outputTokens,omitempty"`
	TotalPoints  float64    `json:"totalPoints,omitempty"`
	Query        string     `json:"query,omitempty"`
	TextOutput   string     `json:"textOutput,omitempty"`
	QuoteCount   int        `json:"quoteCount,omitempty"`
	ToolCalls    []string   `json:"toolCalls,omitempty"`
	Error        string     `json:"error,omitempty"`
}
