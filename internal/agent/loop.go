package agent

import (
	"context"
	"errors"
	"log/slog"

	"github.com/halyardai/halyard/internal/llm"
	"github.com/halyardai/halyard/internal/prompt"
)

// DefaultMaxIterations caps one task's reason-act cycles.
const DefaultMaxIterations = 100

// Gateway is the completion surface the loop drives. Satisfied by
// *llm.Model.
type Gateway interface {
	Chat(ctx context.Context, messages []llm.Message, sessionID string) (*llm.Result, error)
}

// Loop drives one agent: context in, completion out, dispatch,
// repeat.
type Loop struct {
	Ctx    *prompt.Context
	Model  Gateway
	Call   StepCall
	Logger *slog.Logger
	// MaxIterations caps the reason-act cycles per Run. Zero uses the
	// default.
	MaxIterations int
}

// Run executes one task. It returns the final answer, or "" when the
// task failed, stagnated, or hit the iteration cap; those outcomes are
// logged, not errors. Errors mean the run itself could not proceed
// (gateway exhaustion, cancellation).
func (l *Loop) Run(ctx context.Context, rc RunContext, input string) (string, error) {
	if input == "" {
		return "", errors.New("agent: empty input")
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if l.Ctx.SessionID() == "" {
		l.Ctx.NewSession(ctx, input)
	}
	rc = rc.WithSession(l.Ctx.SessionID())

	if err := l.Ctx.AppendUser(ctx, input); err != nil {
		return "", err
	}

	maxIter := l.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		res, err := l.Model.Chat(ctx, l.Ctx.Messages(), rc.SessionID)
		if err != nil {
			return "", err
		}
		if err := l.Ctx.AppendAssistant(ctx, res.Message); err != nil {
			return "", err
		}

		// Everything after this point must grow the context, or the
		// conversation is going in circles.
		ctxCount := l.Ctx.Len()

		sr := l.Call.Execute(ctx, Request{RunCtx: rc, Result: res})
		switch sr.Code {
		case CodeTaskFinal:
			logger.Info("task complete",
				"agent", rc.AgentName,
				"session_id", rc.SessionID,
				"iterations", iter+1)
			return sr.Answer, nil
		case CodeTaskFailed:
			return "", nil
		}

		// The follow-up rides ahead of the tool result so the model
		// reads the observation in its narrated place.
		if sr.FollowUp != "" {
			if err := l.Ctx.AppendUser(ctx, sr.FollowUp); err != nil {
				return "", err
			}
		}
		if sr.Observation != "" {
			if err := l.Ctx.AppendToolResult(ctx, sr.ToolCallID, sr.Observation); err != nil {
				return "", err
			}
		}

		if l.Ctx.Len() == ctxCount {
			logger.Error("context stagnated, aborting task",
				"agent", rc.AgentName,
				"session_id", rc.SessionID,
				"iteration", iter,
				"messages", ctxCount)
			return "", nil
		}

		if _, err := l.Ctx.SlimIfNeeded(ctx); err != nil {
			logger.Warn("context slimming failed", "error", err)
		}
		l.Ctx.RefreshEnv()
	}

	logger.Error("iteration cap reached, aborting task",
		"agent", rc.AgentName,
		"session_id", rc.SessionID,
		"max_iterations", maxIter)
	return "", nil
}
