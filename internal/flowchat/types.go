package flowchat

type NodeType string

const (
	NodeTypeWorkflowStart  NodeType = "workflowStart"
	NodeTypeHistoryLoader  NodeType = "historyLoader"
	NodeTypeChat           NodeType = "chatNode"
	NodeTypeDatasetSearch  NodeType = "datasetSearchNode"
	NodeTypeSwitch         NodeType = "switch"
	NodeTypeAnswer         NodeType = "answerNode"
	NodeTypeTools          NodeType = "tools"
	NodeTypeToolCall       NodeType = "toolCall"
	NodeTypePlugin         NodeType = "pluginModule"
	NodeTypePluginInput    NodeType = "pluginInput"
	NodeTypePluginOutput   NodeType = "pluginOutput"
	NodeTypeUserSelect     NodeType = "userSelect"
	NodeTypeFormInput      NodeType = "formInput"
	NodeTypeVariableUpdate NodeType = "variableUpdate"
)

// Well-known port keys shared by handlers and the normalizer.
const (
	PortUserChatInput  = "userChatInput"
	PortHistory        = "history"
	PortQuoteQA        = "quoteQA"
	PortAnswerText     = "answerText"
	PortSelectedTools  = "selectedTools"
	PortTrue           = "true"
	PortFalse          = "false"
	PortIsEmpty        = "isEmpty"
	PortUnEmpty        = "unEmpty"
	PortFormResult     = "formInputResult"
	PortSelectedOption = "selectResult"
)

// App is a persisted graph definition.
type App struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	TeamID string `json:"teamId" yaml:"teamId"`
	Intro  string `json:"intro,omitempty" yaml:"intro,omitempty"`
	Nodes  []Node `json:"nodes" yaml:"nodes"`
	Edges  []Edge `json:"edges" yaml:"edges"`
}

type Node struct {
	ID      string   `json:"nodeId" yaml:"nodeId"`
	Type    NodeType `json:"flowNodeType" yaml:"flowNodeType"`
	Name    string   `json:"name" yaml:"name"`
	Intro   string   `json:"intro,omitempty" yaml:"intro,omitempty"`
	IsEntry bool     `json:"isEntry,omitempty" yaml:"isEntry,omitempty"`
	Inputs  []Input  `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs []Output `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// Input describes one input port. A nil Value means the port is filled
// from an incoming edge.
type Input struct {
	Key             string `json:"key" yaml:"key"`
	Value           any    `json:"value,omitempty" yaml:"value,omitempty"`
	Required        bool   `json:"required,omitempty" yaml:"required,omitempty"`
	ValueType       string `json:"valueType,omitempty" yaml:"valueType,omitempty"`
	ToolDescription string `json:"toolDescription,omitempty" yaml:"toolDescription,omitempty"`
}

type Output struct {
	Key       string `json:"key" yaml:"key"`
	ValueType string `json:"valueType,omitempty" yaml:"valueType,omitempty"`
}

// Input returns the port definition for key.
func (n *Node) Input(key string) (Input, bool) {
	for _, in := range n.Inputs {
		if in.Key == key {
			return in, true
		}
	}
	return Input{}, false
}

// Literal returns the configured value of an input port, or nil.
func (n *Node) Literal(key string) any {
	in, _ := n.Input(key)
	return in.Value
}

// Edge wires one output port of Source to one input port of Target.
// An empty TargetHandle makes it a control edge.
type Edge struct {
	Source       string `json:"source" yaml:"source"`
	SourceHandle string `json:"sourceHandle" yaml:"sourceHandle"`
	Target       string `json:"target" yaml:"target"`
	TargetHandle string `json:"targetHandle,omitempty" yaml:"targetHandle,omitempty"`
}

// Key identifies the edge inside one graph.
func (e Edge) Key() string {
	return e.Source + "/" + e.SourceHandle + "->" + e.Target + "/" + e.TargetHandle
}

type EdgeStatus string

const (
	EdgePending EdgeStatus = "pending"
	EdgeActive  EdgeStatus = "active"
	EdgeSkipped EdgeStatus = "skipped"
)

type NodeStatus string

const (
	NodeWaiting NodeStatus = "waiting"
	NodeRunning NodeStatus = "running"
	NodeDone    NodeStatus = "done"
	NodeSkipped NodeStatus = "skipped"
	NodePaused  NodeStatus = "paused"
)

// Quote is one retrieved knowledge-base item.
type Quote struct {
	ID         string  `json:"id"`
	DatasetID  string  `json:"datasetId"`
	SourceName string  `json:"sourceName,omitempty"`
	Q          string  `json:"q"`
	A          string  `json:"a,omitempty"`
	Score      float64 `json:"score"`
}

// Principal is the caller identity resolved by an Authorizer.
type Principal struct {
	TeamID     string `json:"teamId"`
	TmbID      string `json:"tmbId"`
	Permission string `json:"permission"`
}
