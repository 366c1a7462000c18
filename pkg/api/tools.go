package api

import "context"

// Tool defines the structural interface for any capability the AI can invoke
// mid-conversation. It includes metadata for prompt injection (name,
// description, parameter schema) and the execution logic itself.
type Tool interface {
	Name() string
	Description() string
	Parameters() []ParamSpec
	// Execute performs the actual tool logic using the provided argument map.
	Execute(ctx context.Context, params map[string]any, tc ToolContext) (*ToolResult, error)
}

// ParamSpec describes one parameter a tool accepts. The registry validates
// call-site argument bags against these specs before Execute runs.
type ParamSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "string", "number", "bool"
	Required    bool   `json:"required"`
	Description string `json:"description"`
}

// ToolContext carries the ambient state a tool may need: the channel it was
// invoked from, the conversation thread, and the sender.
type ToolContext struct {
	Client   ChannelClient
	Session  SessionContext
	ThreadID string
	SenderID string
}

// ToolResult encapsulates the outcome of a tool execution. Data is opaque to
// the engine; it is relayed back to the model verbatim.
type ToolResult struct {
	Success bool   `json:"success"`
	Data    string `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ToolRegistry defines the interface for managing and accessing tools.
type ToolRegistry interface {
	Register(tool Tool)
	Unregister(name string)
	Get(name string) (Tool, bool)
	GetAll() []Tool
}
