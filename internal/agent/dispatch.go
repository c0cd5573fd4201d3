package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/halyardai/halyard/internal/jsonx"
	"github.com/halyardai/halyard/internal/llm"
	"github.com/halyardai/halyard/internal/stepfmt"
	"github.com/halyardai/halyard/internal/tools"
)

// Code is a dispatch outcome.
type Code int

const (
	// CodeStepFinal means the iteration is done; loop again.
	CodeStepFinal Code = iota
	// CodeTaskFinal means the task produced its answer.
	CodeTaskFinal
	// CodeTaskFailed means the model declared the task unachievable.
	CodeTaskFailed
)

// StepResult is what one dispatch produced.
type StepResult struct {
	Code Code
	// Answer holds the final answer for CodeTaskFinal, or the failure
	// text for CodeTaskFailed.
	Answer string
	// FollowUp is the user-facing message appended ahead of the
	// observation, empty when nothing was executed.
	FollowUp string
	// Observation is the serialized observation step list to feed
	// back, empty when nothing was executed.
	Observation string
	// ToolCallID ties the observation to a structured tool call.
	ToolCallID string
}

// Request is one completion handed to a dispatcher.
type Request struct {
	RunCtx RunContext
	Result *llm.Result
}

// StepCall dispatches one completion's steps.
type StepCall interface {
	Execute(ctx context.Context, req Request) StepResult
}

// ReActCall is the default dispatcher: walk the steps in order and act
// on the first one that resolves to something — a final answer, a
// declared failure, or a tool call. At most one tool runs per
// completion.
type ReActCall struct {
	Registry *tools.Registry
	Logger   *slog.Logger
}

// Execute implements StepCall.
func (c *ReActCall) Execute(ctx context.Context, req Request) StepResult {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	res := req.Result

	for _, step := range res.Steps {
		switch step.StepName {
		case stepfmt.StepFinalAnswer:
			return StepResult{Code: CodeTaskFinal, Answer: step.RawText}
		case stepfmt.StepTaskFailed:
			logger.Warn("task declared failed",
				"agent", req.RunCtx.AgentName,
				"session_id", req.RunCtx.SessionID,
				"reason", step.RawText)
			return StepResult{Code: CodeTaskFailed, Answer: step.RawText}
		}

		name, args, callID, ok := extractToolCall(res, step)
		if !ok {
			continue
		}

		logger.Info("dispatching tool",
			"agent", req.RunCtx.AgentName,
			"tool", name,
			"depth", req.RunCtx.Depth)

		tool := c.Registry.Resolve(name)
		if tool == nil {
			return observationResult(callID, name, fmt.Sprintf("unknown tool %q; available: %v", name, c.Registry.Names()))
		}

		out, err := tool.Handler(ctx, args)
		if err != nil {
			logger.Warn("tool failed", "tool", tool.Name, "error", err)
			return observationResult(callID, tool.Name, fmt.Sprintf("tool %s failed: %v", tool.Name, err))
		}
		if tool.Terminal {
			return StepResult{Code: CodeTaskFinal, Answer: out}
		}
		return observationResult(callID, tool.Name, out)
	}

	// Nothing actionable: the loop's stagnation guard decides whether
	// the conversation is still going anywhere.
	return StepResult{Code: CodeStepFinal}
}

// observationResult wraps tool output (or a dispatch error) as a
// serialized observation step, the shape the archiver knows how to
// offload later, paired with the user follow-up announcing it.
func observationResult(callID, toolName, text string) StepResult {
	content, err := json.Marshal([]stepfmt.Step{
		{StepName: stepfmt.StepObservation, RawText: text},
	})
	if err != nil {
		content = []byte(text)
	}
	return StepResult{
		Code:        CodeStepFinal,
		FollowUp:    fmt.Sprintf("observation from %s follows", toolName),
		Observation: string(content),
		ToolCallID:  callID,
	}
}

// extractToolCall finds the tool invocation for a step, in priority
// order: the response's structured tool calls win, then the step's own
// tool_call fields, then a tool_call object parsed out of the raw
// text (a list there means its first element).
func extractToolCall(res *llm.Result, step stepfmt.Step) (name string, args map[string]any, callID string, ok bool) {
	if len(res.Message.ToolCalls) > 0 {
		tc := res.Message.ToolCalls[0]
		args = map[string]any{}
		if tc.Function.Arguments != "" {
			if v, err := jsonx.Decode(tc.Function.Arguments); err == nil {
				if m, isMap := v.(map[string]any); isMap {
					args = m
				}
			}
		}
		return tc.Function.Name, args, tc.ID, true
	}

	if step.ToolCall != "" {
		return step.ToolCall, step.ToolArgs, "", true
	}

	if step.RawText != "" {
		if v, err := jsonx.Decode(step.RawText); err == nil {
			if list := jsonx.ToList(v); len(list) > 0 {
				m := list[0]
				if call, isStr := m["tool_call"].(string); isStr && call != "" {
					callArgs, _ := m["tool_args"].(map[string]any)
					return call, callArgs, "", true
				}
			}
		}
	}

	return "", nil, "", false
}
