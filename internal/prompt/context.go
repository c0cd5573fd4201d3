// Package prompt maintains the conversation context sent to the model:
// the protected header block, the rolling message history, growth
// thresholds, and the hook points other components observe.
package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/halyardai/halyard/internal/llm"
	"github.com/halyardai/halyard/internal/token"
)

// The protected header block at the front of the conversation: system
// prompt, environment info, and optionally the tool prompt. These are
// rebuilt, never archived.
const (
	headerLenBase      = 2
	headerLenWithTools = 3
)

// Hook observes a context lifecycle event. Hooks run in registration
// order; a failing hook is logged and skipped, never fatal.
type Hook struct {
	Name string
	Fn   func(ctx context.Context, c *Context) error
}

// AppendHook observes a message append when a session is bound.
type AppendHook struct {
	Name string
	Fn   func(ctx context.Context, sessionID string, msg llm.Message) error
}

// Slimmer offloads oversized steps out of the live message slice.
// Satisfied by the history archiver.
type Slimmer interface {
	Archive(ctx context.Context, sessionID string, msgs []llm.Message) (int, error)
}

// Context is the conversation state for one agent. It is not
// goroutine-safe: one conversation runs on one goroutine, and
// cross-agent state lives in the stores.
type Context struct {
	logger *slog.Logger

	systemPrompt string
	toolPrompt   string
	envExtra     string

	threshold Threshold
	slimmer   Slimmer

	sessionID string
	task      string
	messages  []llm.Message

	resetHooks   []Hook
	sessionHooks []Hook
	appendHooks  []AppendHook
}

// Option configures a Context.
type Option func(*Context)

// WithToolPrompt adds a third header message describing available
// tools (used when the provider has no native tool-call support).
func WithToolPrompt(p string) Option {
	return func(c *Context) { c.toolPrompt = p }
}

// WithEnvExtra adds extra environment text (inline or a file path) to
// the environment header.
func WithEnvExtra(extra string) Option {
	return func(c *Context) { c.envExtra = extra }
}

// WithThreshold overrides the growth threshold.
func WithThreshold(t Threshold) Option {
	return func(c *Context) { c.threshold = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Context) { c.logger = l }
}

// New builds a context. The system prompt is the identity of the
// agent; an empty one is a programming error and fails fast.
func New(systemPrompt string, opts ...Option) (*Context, error) {
	if systemPrompt == "" {
		return nil, errors.New("prompt: empty system prompt")
	}
	c := &Context{
		logger:       slog.Default(),
		systemPrompt: systemPrompt,
		threshold: Threshold{
			TokenRatio: DefaultTokenRatio,
			SlimLength: DefaultSlimLength,
		},
	}
	for _, o := range opts {
		o(c)
	}
	c.rebuildHeader()
	return c, nil
}

// rebuildHeader writes the protected header block and drops everything
// after it.
func (c *Context) rebuildHeader() {
	header := []llm.Message{
		{Role: llm.RoleSystem, Content: c.systemPrompt},
		{Role: llm.RoleSystem, Content: EnvInfo(c.envExtra)},
	}
	if c.toolPrompt != "" {
		header = append(header, llm.Message{Role: llm.RoleSystem, Content: c.toolPrompt})
	}
	c.messages = header
}

// HeaderLen returns the size of the protected header block.
func (c *Context) HeaderLen() int {
	if c.toolPrompt != "" {
		return headerLenWithTools
	}
	return headerLenBase
}

// Reset rebuilds the header and clears the conversation, keeping the
// bound session. Reset hooks run after.
func (c *Context) Reset(ctx context.Context) {
	c.rebuildHeader()
	c.runHooks(ctx, "reset", c.resetHooks)
}

// NewSession resets the conversation and starts a session for task.
// Session hooks run after the reset; one of them is expected to call
// BindSession with the new session ID.
func (c *Context) NewSession(ctx context.Context, task string) {
	c.sessionID = ""
	c.rebuildHeader()
	c.task = task
	c.runHooks(ctx, "new_session", c.sessionHooks)
}

// BindSession attaches the context to a durable session.
func (c *Context) BindSession(id string) {
	c.sessionID = id
}

// SessionID returns the bound session, or "".
func (c *Context) SessionID() string {
	return c.sessionID
}

// Task returns the task passed to the last NewSession.
func (c *Context) Task() string {
	return c.task
}

// Len returns the current message count.
func (c *Context) Len() int {
	return len(c.messages)
}

// Messages returns the live message slice. Callers that ship it over
// the wire must copy first; the gateway does.
func (c *Context) Messages() []llm.Message {
	return c.messages
}

// TokenCount sums the advisory token counts of all message contents.
func (c *Context) TokenCount() int {
	total := 0
	for _, m := range c.messages {
		total += token.Count(m.Content)
	}
	return total
}

// AppendUser appends user input. Structured content is serialized to
// canonical JSON.
func (c *Context) AppendUser(ctx context.Context, content any) error {
	text, err := contentText(content)
	if err != nil {
		return err
	}
	return c.append(ctx, llm.Message{Role: llm.RoleUser, Content: text})
}

// AppendAssistant appends a normalized assistant reply as-is,
// including any structured tool calls.
func (c *Context) AppendAssistant(ctx context.Context, msg llm.Message) error {
	msg.Role = llm.RoleAssistant
	return c.append(ctx, msg)
}

// AppendToolResult appends tool output. When callID matches a tool
// call on the latest assistant message it goes on the wire with role
// tool; otherwise it degrades to a user message. Either way the
// message is flagged as tool output, which keeps it eligible for
// archival.
func (c *Context) AppendToolResult(ctx context.Context, callID string, content any) error {
	text, err := contentText(content)
	if err != nil {
		return err
	}

	msg := llm.Message{Role: llm.RoleUser, Content: text, ToolCallID: callID, ToolResult: true}
	if callID != "" && c.lastAssistantHasCall(callID) {
		msg.Role = llm.RoleTool
	}
	return c.append(ctx, msg)
}

func (c *Context) lastAssistantHasCall(callID string) bool {
	for i := len(c.messages) - 1; i >= c.HeaderLen(); i-- {
		m := c.messages[i]
		if m.Role != llm.RoleAssistant {
			continue
		}
		for _, tc := range m.ToolCalls {
			if tc.ID == callID {
				return true
			}
		}
		return false
	}
	return false
}

func (c *Context) append(ctx context.Context, msg llm.Message) error {
	c.messages = append(c.messages, msg)

	if c.sessionID == "" {
		return nil
	}
	for _, h := range c.appendHooks {
		if err := h.Fn(ctx, c.sessionID, msg); err != nil {
			c.logger.Warn("append hook failed", "hook", h.Name, "error", err)
		}
	}
	return nil
}

// RefreshEnv regenerates the environment header in place.
func (c *Context) RefreshEnv() {
	c.messages[1] = llm.Message{Role: llm.RoleSystem, Content: EnvInfo(c.envExtra)}
}

// SetSlimmer installs the archiver used by SlimIfNeeded.
func (c *Context) SetSlimmer(s Slimmer) {
	c.slimmer = s
}

// SlimIfNeeded archives oversized steps when the growth threshold has
// fired. A no-op without a slimmer or a bound session.
func (c *Context) SlimIfNeeded(ctx context.Context) (int, error) {
	if c.slimmer == nil || c.sessionID == "" {
		return 0, nil
	}
	if !c.threshold.Exceeded(c.TokenCount(), len(c.messages)) {
		return 0, nil
	}
	n, err := c.slimmer.Archive(ctx, c.sessionID, c.messages)
	if err != nil {
		return n, fmt.Errorf("slim context: %w", err)
	}
	if n > 0 {
		c.logger.Info("context slimmed", "archived_steps", n, "messages", len(c.messages))
	}
	return n, nil
}

// OnReset registers a named hook run after every Reset.
func (c *Context) OnReset(name string, fn func(ctx context.Context, c *Context) error) {
	c.resetHooks = append(c.resetHooks, Hook{Name: name, Fn: fn})
}

// OnNewSession registers a named hook run after every NewSession.
func (c *Context) OnNewSession(name string, fn func(ctx context.Context, c *Context) error) {
	c.sessionHooks = append(c.sessionHooks, Hook{Name: name, Fn: fn})
}

// OnAppend registers a named hook run for every appended message while
// a session is bound.
func (c *Context) OnAppend(name string, fn func(ctx context.Context, sessionID string, msg llm.Message) error) {
	c.appendHooks = append(c.appendHooks, AppendHook{Name: name, Fn: fn})
}

func (c *Context) runHooks(ctx context.Context, event string, hooks []Hook) {
	for _, h := range hooks {
		if err := h.Fn(ctx, c); err != nil {
			c.logger.Warn("context hook failed", "event", event, "hook", h.Name, "error", err)
		}
	}
}

// contentText serializes structured content to canonical JSON; strings
// pass through.
func contentText(content any) (string, error) {
	if s, ok := content.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("serialize message content: %w", err)
	}
	return string(data), nil
}
