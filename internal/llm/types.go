// Package llm is the gateway to OpenAI-compatible chat completion
// endpoints. It owns request shaping, streaming reassembly, reply
// normalization, and the retry policy that keeps a conversation alive
// across flaky upstreams.
package llm

import (
	"errors"

	"github.com/halyardai/halyard/internal/stepfmt"
)

// Message roles on the chat completions wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one chat completions message.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`

	// ToolResult marks a message carrying tool output. Degraded tool
	// results ride the wire as plain user messages with no call ID, so
	// the flag, not the role, is what separates them from user input.
	ToolResult bool `json:"-"`
}

// ToolCall is a structured tool invocation attached to an assistant
// message. Arguments stays a raw JSON string: streaming deltas arrive
// as string fragments and are concatenated, never parsed in flight.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction names the tool and carries its argument JSON.
type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Usage is the provider-reported token accounting for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is one normalized completion: the assistant message as it
// should enter the conversation, plus the parsed step list the agent
// dispatches on.
type Result struct {
	Message Message
	Steps   []stepfmt.Step
	Usage   Usage
}

// Sentinel errors surfaced by the gateway.
var (
	// ErrBadFormat means the reply could not be normalized into steps
	// after repeated attempts. Retried without consuming retry budget.
	ErrBadFormat = errors.New("llm: malformed response")

	// ErrNoResponse means the provider returned neither content nor
	// tool calls.
	ErrNoResponse = errors.New("llm: no response")

	// ErrChatFailed means the retry budget is exhausted.
	ErrChatFailed = errors.New("llm: chat failed")
)
