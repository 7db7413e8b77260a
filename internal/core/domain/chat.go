package domain

import "encoding/json"

type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
	RoleTool      ChatRole = "tool"
)

type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ChatMessage is a provider-neutral conversation turn. Assistant turns may
// carry tool calls; tool turns answer exactly one call by ToolCallID.
type ChatMessage struct {
	Role       ChatRole
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	ToolName   string
}

type ToolDefinition struct {
	Name        string
	Description string
	// Parameters is a JSON-schema object.
	Parameters map[string]any
}

// ToolChoice controls whether the model may call the offered tools.
type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = ""
	ToolChoiceNone ToolChoice = "none"
)

type ChatRequest struct {
	System     string
	Messages   []ChatMessage
	Tools      []ToolDefinition
	ToolChoice ToolChoice
	MaxTokens  int64
}

type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

func (u TokenUsage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

type ChatResponse struct {
	Text      string
	ToolCalls []ToolCall
	Usage     TokenUsage
}
